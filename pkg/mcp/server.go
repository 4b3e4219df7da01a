// Package mcp exposes the gateway's reports and guarded SQL over the Model
// Context Protocol.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/catalog"
	"github.com/ekaya-inc/dashboard-gateway/pkg/mcp/tools"
)

// Deps are the gateway components the MCP tools call into.
type Deps struct {
	Catalog       *catalog.Catalog
	Reports       tools.ReportRunner
	SQL           tools.CandidateRunner
	MaxResultRows int
}

// Server wraps the mcp-go MCPServer.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates a new MCP server instance. Tool calls are logged through
// an AuditLogger.
func NewServer(name, version string, logger *zap.Logger) *Server {
	audit := NewAuditLogger(logger)
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithHooks(audit.Hooks()),
	)

	return &Server{
		mcp:    mcpServer,
		logger: logger,
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// RegisterGatewayTools registers health, list_reports, run_report and run_sql.
func (s *Server) RegisterGatewayTools(service, version string, deps Deps) {
	tools.RegisterHealthTool(s.mcp, service, version)
	tools.RegisterReportTools(s.mcp, deps.Catalog, deps.Reports)
	tools.RegisterSQLTool(s.mcp, deps.SQL, deps.MaxResultRows)
}

// NewStreamableHTTPServer creates an HTTP transport server wrapping this MCP server.
// The HTTP mux handles routing to /mcp, so no endpoint path is configured here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}

// RegisterTool is a convenience wrapper for registering a tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}
