package mcp

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/auth"
	"github.com/ekaya-inc/dashboard-gateway/pkg/logging"
	"github.com/ekaya-inc/dashboard-gateway/pkg/mcp/tools"
)

// Security levels attached to tool call log entries.
const (
	SecurityNormal   = "normal"
	SecurityWarning  = "warning"
	SecurityCritical = "critical"
)

// rejectionCodes are tool error codes raised by the access validator.
var rejectionCodes = map[string]bool{
	"unauthorized_relation": true,
	"forbidden_operation":   true,
}

// ToolCallEvent is one completed MCP tool call.
type ToolCallEvent struct {
	Tool          string
	UserEmail     string
	Params        map[string]any
	Duration      time.Duration
	WasSuccessful bool
	ErrorCode     string
	ErrorMessage  string
	SecurityLevel string
}

// AuditLogger logs MCP tool calls. Calls rejected by the access validator
// are logged at warn level so they surface next to the gateway's own
// security events.
type AuditLogger struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewAuditLogger creates an AuditLogger.
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.Named("mcp-audit")}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *AuditLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *AuditLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *AuditLogger) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	event := a.buildEvent(ctx, id, req)
	event.WasSuccessful = true

	if result != nil && result.IsError {
		event.WasSuccessful = false
		event.ErrorCode, event.ErrorMessage = toolErrorDetails(result)
	}
	event.SecurityLevel = classifySecurity(event)
	a.log(event)
}

func (a *AuditLogger) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	event := a.buildEvent(ctx, id, req)
	event.WasSuccessful = false
	event.ErrorMessage = logging.SanitizeError(err)
	event.SecurityLevel = classifySecurity(event)
	a.log(event)
}

func (a *AuditLogger) buildEvent(ctx context.Context, id any, req *mcplib.CallToolRequest) *ToolCallEvent {
	start, ok := a.startTimes.LoadAndDelete(id)
	duration := time.Duration(0)
	if ok {
		duration = time.Since(start.(time.Time))
	}

	return &ToolCallEvent{
		Tool:      req.Params.Name,
		UserEmail: auth.GetEmailFromContext(ctx),
		Params:    sanitizeParams(req.GetArguments()),
		Duration:  duration,
	}
}

func (a *AuditLogger) log(event *ToolCallEvent) {
	fields := []zap.Field{
		zap.String("tool", event.Tool),
		zap.String("user_email", event.UserEmail),
		zap.Duration("duration", event.Duration),
		zap.Bool("success", event.WasSuccessful),
		zap.String("security_level", event.SecurityLevel),
	}
	if len(event.Params) > 0 {
		fields = append(fields, zap.Any("params", event.Params))
	}
	if event.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", event.ErrorCode))
	}
	if event.ErrorMessage != "" {
		fields = append(fields, zap.String("error", event.ErrorMessage))
	}

	switch event.SecurityLevel {
	case SecurityCritical, SecurityWarning:
		a.logger.Warn("MCP tool call rejected", fields...)
	default:
		a.logger.Info("MCP tool call", fields...)
	}
}

// toolErrorDetails reads the structured error a tool returned.
func toolErrorDetails(res *mcplib.CallToolResult) (string, string) {
	for _, c := range res.Content {
		text, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		var resp tools.ErrorResponse
		if err := json.Unmarshal([]byte(text.Text), &resp); err == nil && resp.Error {
			return resp.Code, logging.TruncateString(resp.Message, logging.MaxClientMessageLength)
		}
		return "", logging.TruncateString(text.Text, logging.MaxClientMessageLength)
	}
	return "", ""
}

// classifySecurity marks validator rejections. A rejected run_sql is
// critical: it was an attempt to read outside the allow-list.
func classifySecurity(event *ToolCallEvent) string {
	if !rejectionCodes[event.ErrorCode] {
		return SecurityNormal
	}
	if event.Tool == "run_sql" {
		return SecurityCritical
	}
	return SecurityWarning
}

// maxParamSize bounds string parameters kept in the audit log.
const maxParamSize = 2048

// sqlStringLiteralPattern matches quoted SQL string literals, doubled quotes included.
var sqlStringLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)

// sanitizeParams keeps query structure for debugging while hiding literal
// values and bounding size.
func sanitizeParams(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = sanitizeValue(k, v)
	}
	return sanitized
}

func sanitizeValue(key string, value any) any {
	switch val := value.(type) {
	case string:
		if len(val) > maxParamSize {
			val = val[:maxParamSize] + "...[truncated]"
		}
		if isSQLParam(key) {
			val = sqlStringLiteralPattern.ReplaceAllString(val, "'***'")
		}
		return val
	case map[string]any:
		return sanitizeParams(val)
	default:
		return value
	}
}

func isSQLParam(key string) bool {
	lower := strings.ToLower(key)
	return lower == "sql" || lower == "query" || strings.HasSuffix(lower, "_sql")
}
