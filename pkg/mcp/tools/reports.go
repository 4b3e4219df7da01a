package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/dashboard-gateway/pkg/catalog"
	"github.com/ekaya-inc/dashboard-gateway/pkg/jsonutil"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
	"github.com/ekaya-inc/dashboard-gateway/pkg/services"
)

// ReportRunner executes catalog endpoints.
type ReportRunner interface {
	Report(ctx context.Context, endpoint *models.Endpoint, params models.ParameterSet) (*services.ReportResult, error)
}

type reportInfo struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	Params      []models.ParamDef `json:"params"`
}

type reportResult struct {
	Report    string          `json:"report"`
	Cached    bool            `json:"cached"`
	Truncated bool            `json:"truncated,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// RegisterReportTools adds list_reports and run_report. run_report goes
// through the same template, cache and validation path as the HTTP routes.
func RegisterReportTools(s *server.MCPServer, cat *catalog.Catalog, runner ReportRunner) {
	registerListReportsTool(s, cat)
	registerRunReportTool(s, cat, runner)
}

func registerListReportsTool(s *server.MCPServer, cat *catalog.Catalog) {
	tool := mcp.NewTool(
		"list_reports",
		mcp.WithDescription("Lists the dashboard reports and the parameters each one accepts. "+
			"date_range parameters are passed as two keys, usually date_from and date_to."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out := make([]reportInfo, len(cat.Endpoints))
		for i, ep := range cat.Endpoints {
			params := ep.Params
			if params == nil {
				params = []models.ParamDef{}
			}
			out[i] = reportInfo{ID: ep.ID, Description: ep.Description, Params: params}
		}
		jsonResult, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal reports: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

func registerRunReportTool(s *server.MCPServer, cat *catalog.Catalog, runner ReportRunner) {
	tool := mcp.NewTool(
		"run_report",
		mcp.WithDescription("Runs a dashboard report by id and returns its JSON payload."),
		mcp.WithString("report", mcp.Required(), mcp.Description("Report id from list_reports")),
		mcp.WithObject("params", mcp.Description(`Request keys and values, e.g. {"date_from": "2025-01-01"}`)),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("report")
		if err != nil {
			return NewErrorResult("invalid_parameter", err.Error()), nil
		}
		ep, ok := cat.Endpoint(id)
		if !ok {
			return NewErrorResult("not_found", fmt.Sprintf("no report named %q; call list_reports", id)), nil
		}

		raw := jsonutil.FlexibleStringMap(req.GetArguments()["params"])
		params, err := ep.ParseParams(func(_ models.ParamDef, key string) string { return raw[key] })
		if err != nil {
			return resultForError(err)
		}

		res, err := runner.Report(ctx, ep, params)
		if err != nil {
			return resultForError(err)
		}

		jsonResult, err := json.Marshal(reportResult{
			Report:    ep.ID,
			Cached:    res.Cached,
			Truncated: res.Truncated,
			Data:      res.Payload,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal report result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}
