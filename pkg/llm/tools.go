package llm

// ToolDefinition defines a tool that can be called by the LLM.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ParameterProperty defines a parameter property in JSON Schema format.
type ParameterProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// NewToolDefinition creates a new tool definition with standard JSON Schema parameters.
func NewToolDefinition(name, description string, properties map[string]ParameterProperty, required []string) ToolDefinition {
	props := make(map[string]any)
	for k, v := range properties {
		prop := map[string]any{
			"type":        v.Type,
			"description": v.Description,
		}
		if len(v.Enum) > 0 {
			prop["enum"] = v.Enum
		}
		props[k] = prop
	}
	if required == nil {
		required = []string{}
	}

	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// Tool names offered to the analytics chat.
const (
	ToolRunSQL     = "run_sql"
	ToolListTables = "list_tables"
)

// AnalyticsTools returns the tools the analytics chat exposes.
func AnalyticsTools() []ToolDefinition {
	return []ToolDefinition{
		NewToolDefinition(
			ToolRunSQL,
			"Run a single read-only SELECT against the warehouse and get the rows back as JSON. "+
				"Only the tables returned by list_tables can be queried.",
			map[string]ParameterProperty{
				"sql": {
					Type:        "string",
					Description: "The SELECT statement to run",
				},
			},
			[]string{"sql"},
		),
		NewToolDefinition(
			ToolListTables,
			"List the tables available for querying, with their descriptions and columns",
			nil,
			nil,
		),
	}
}
