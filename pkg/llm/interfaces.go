// Package llm talks to chat-completion providers with tool calling.
// OpenAI-compatible endpoints and Anthropic are supported behind one
// ChatModel interface.
package llm

import (
	"context"
)

// ChatModel produces the next assistant turn of a conversation.
// Use this interface for dependency injection to enable mocking in tests.
type ChatModel interface {
	// Complete returns either text or one or more tool calls. It never runs
	// tools itself; the caller executes them and appends the results.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// Model returns the configured model name.
	Model() string
}

// Message role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls are set on assistant turns that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool turn to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// IsError marks a tool turn whose tool failed.
	IsError bool `json:"is_error,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object
}

// CompletionRequest is one call to the model.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Temperature  float64
	MaxTokens    int
}

// Completion is the model's reply.
type Completion struct {
	Content   string
	ToolCalls []ToolCall

	PromptTokens     int
	CompletionTokens int
}

// Config holds provider settings.
type Config struct {
	Provider string // "openai" or "anthropic"
	Endpoint string // Base URL; empty uses the provider default
	Model    string
	APIKey   string
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	defaultMaxTokens = 4096
)
