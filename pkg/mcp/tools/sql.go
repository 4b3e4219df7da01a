package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// CandidateRunner validates and executes ad-hoc SQL.
type CandidateRunner interface {
	RunCandidate(ctx context.Context, query string) (*models.QueryResult, error)
}

type sqlResult struct {
	Columns   []models.ColumnInfo `json:"columns"`
	Rows      []map[string]any    `json:"rows"`
	RowCount  int                 `json:"row_count"`
	Truncated bool                `json:"truncated,omitempty"`
}

// RegisterSQLTool adds run_sql. Queries are checked by the access validator
// before they reach the warehouse; rejected queries come back as tool errors.
func RegisterSQLTool(s *server.MCPServer, runner CandidateRunner, maxRows int) {
	tool := mcp.NewTool(
		"run_sql",
		mcp.WithDescription("Runs a read-only SELECT against the allowed analytics tables."),
		mcp.WithString("sql", mcp.Required(), mcp.Description("A single SELECT statement")),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("sql")
		if err != nil {
			return NewErrorResult("invalid_parameter", err.Error()), nil
		}

		res, err := runner.RunCandidate(ctx, query)
		if err != nil {
			return resultForError(err)
		}

		out := sqlResult{Columns: res.Columns, Rows: res.Rows, RowCount: res.RowCount, Truncated: res.Truncated}
		if out.Rows == nil {
			out.Rows = []map[string]any{}
		}
		if maxRows > 0 && len(out.Rows) > maxRows {
			out.Rows = out.Rows[:maxRows]
			out.Truncated = true
		}

		jsonResult, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal query result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}
