package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Returning it as a tool result keeps the details visible to the model
// instead of being swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the caller can act on (bad parameters, rejected
// queries). System failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// resultForError converts a gateway error into a tool result when the caller
// can act on it, and passes anything else through as a Go error.
func resultForError(err error) (*mcp.CallToolResult, error) {
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalidParameter,
		apperrors.KindUnauthorizedRelation,
		apperrors.KindForbiddenOperation,
		apperrors.KindQueryTimeout,
		apperrors.KindWarehouse:
		return NewErrorResult(apperrors.TypeName(err), err.Error()), nil
	}
	return nil, err
}
