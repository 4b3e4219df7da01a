package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/catalog"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
	"github.com/ekaya-inc/dashboard-gateway/pkg/services"
)

type stubReports struct{}

func (stubReports) Report(context.Context, *models.Endpoint, models.ParameterSet) (*services.ReportResult, error) {
	return &services.ReportResult{Payload: []byte(`[]`)}, nil
}

type stubSQL struct{}

func (stubSQL) RunCandidate(context.Context, string) (*models.QueryResult, error) {
	return &models.QueryResult{}, nil
}

func TestNewServer(t *testing.T) {
	logger := zap.NewNop()
	s := NewServer("test-server", "1.0.0", logger)

	require.NotNil(t, s)
	require.NotNil(t, s.mcp)
	assert.Same(t, logger, s.logger)
	assert.Same(t, s.mcp, s.MCP())
}

func TestServer_RegisterGatewayTools(t *testing.T) {
	cat, err := catalog.Load("")
	require.NoError(t, err)

	s := NewServer("test-server", "1.0.0", zap.NewNop())
	s.RegisterGatewayTools("dashboard-gateway", "1.0.0", Deps{
		Catalog:       cat,
		Reports:       stubReports{},
		SQL:           stubSQL{},
		MaxResultRows: 10,
	})

	result := s.mcp.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	resultBytes, err := json.Marshal(result)
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))

	var names []string
	for _, tool := range response.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"health", "list_reports", "run_report", "run_sql"}, names)
}

func TestServer_RegisterTool(t *testing.T) {
	s := NewServer("test-server", "1.0.0", zap.NewNop())

	handlerCalled := false
	s.RegisterTool(mcp.NewTool("test-tool", mcp.WithDescription("A test tool")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			handlerCalled = true
			return mcp.NewToolResultText("success"), nil
		})

	assert.False(t, handlerCalled, "handler should not be called during registration")
}

func TestServer_NewStreamableHTTPServer(t *testing.T) {
	s := NewServer("test-server", "1.0.0", zap.NewNop())
	assert.NotNil(t, s.NewStreamableHTTPServer())
}
