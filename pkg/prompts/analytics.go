// Package prompts builds the system prompts sent to chat models.
package prompts

import (
	"fmt"
	"strings"
	"time"
)

// TableContext describes one relation the model may query.
type TableContext struct {
	Name        string
	Description string
	Columns     []string
}

// AnalyticsContext is everything the analytics prompt needs.
type AnalyticsContext struct {
	// Dialect is the warehouse SQL dialect, e.g. "bigquery".
	Dialect string
	Tables  []TableContext
	Today   time.Time
	// MaxResultRows is how many rows the model sees from each query.
	MaxResultRows int
}

// BuildAnalyticsSystemPrompt creates the system prompt for the analytics chat.
// The table list is the complete set of relations the gateway will execute
// against; anything else is rejected before it reaches the warehouse.
func BuildAnalyticsSystemPrompt(ac AnalyticsContext) string {
	var prompt strings.Builder

	prompt.WriteString("# Agency Analytics Assistant\n\n")
	prompt.WriteString("You answer questions about the agency's clients, employees, hours, costs, revenue and advertising performance. ")
	prompt.WriteString("Use the run_sql tool to query the warehouse and the list_tables tool to see what data exists. ")
	prompt.WriteString("Answer in the language the user writes in.\n\n")

	if !ac.Today.IsZero() {
		prompt.WriteString(fmt.Sprintf("Today is %s.\n\n", ac.Today.Format("2006-01-02")))
	}

	prompt.WriteString("## Available Tables\n\n")
	if len(ac.Tables) == 0 {
		prompt.WriteString("No tables are available.\n\n")
	}
	for _, table := range ac.Tables {
		prompt.WriteString(fmt.Sprintf("### %s\n", table.Name))
		if table.Description != "" {
			prompt.WriteString(table.Description + "\n")
		}
		if len(table.Columns) > 0 {
			prompt.WriteString(fmt.Sprintf("Columns: %s\n", strings.Join(table.Columns, ", ")))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("## Query Rules\n\n")
	dialect := ac.Dialect
	if dialect == "" {
		dialect = "standard"
	}
	prompt.WriteString(fmt.Sprintf("- Write a single read-only SELECT statement in %s SQL.\n", dialect))
	prompt.WriteString("- Always use the fully qualified table names listed above. Queries naming any other table are rejected.\n")
	prompt.WriteString("- Statements that modify data or schema are rejected.\n")
	prompt.WriteString("- Aggregate in SQL rather than fetching raw rows.\n")
	if ac.MaxResultRows > 0 {
		prompt.WriteString(fmt.Sprintf("- You will see at most %d rows of each result.\n", ac.MaxResultRows))
	}
	prompt.WriteString("- If a query is rejected or fails, read the error, fix the query and try again.\n\n")

	prompt.WriteString("## Answer Format\n\n")
	prompt.WriteString("Reply in Markdown. Lead with the answer, then show supporting figures in a table when there are several. ")
	prompt.WriteString("Amounts are in GBP. Do not invent numbers the queries did not return.\n")

	return prompt.String()
}
