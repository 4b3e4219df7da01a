package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicModel is a ChatModel backed by the Anthropic Messages API.
type AnthropicModel struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

var _ ChatModel = (*AnthropicModel)(nil)

// NewAnthropicModel creates a ChatModel for Anthropic.
func NewAnthropicModel(cfg Config, logger *zap.Logger) (*AnthropicModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	var opts []anthropic.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.Endpoint, "/")))
	}

	return &AnthropicModel{
		client: anthropic.NewClient(cfg.APIKey, opts...),
		model:  cfg.Model,
		logger: logger.Named("llm"),
	}, nil
}

func (m *AnthropicModel) Model() string {
	return m.model
}

func (m *AnthropicModel) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := float32(req.Temperature)

	start := time.Now()
	resp, err := m.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(m.model),
		System:      req.SystemPrompt,
		Messages:    buildAnthropicMessages(req.Messages),
		Tools:       buildAnthropicTools(req.Tools),
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		m.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		classified := ClassifyError(err)
		classified.Model = m.model
		return nil, classified
	}

	out := &Completion{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}
	var text []string
	for _, block := range resp.Content {
		switch {
		case block.Type == anthropic.MessagesContentTypeText && block.Text != nil:
			text = append(text, *block.Text)
		case block.Type == anthropic.MessagesContentTypeToolUse && block.MessageContentToolUse != nil:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.MessageContentToolUse.ID,
				Name:      block.MessageContentToolUse.Name,
				Arguments: string(block.MessageContentToolUse.Input),
			})
		}
	}
	out.Content = strings.TrimSpace(strings.Join(text, "\n"))

	m.logger.Debug("LLM request completed",
		zap.Int("prompt_tokens", out.PromptTokens),
		zap.Int("completion_tokens", out.CompletionTokens),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.Duration("elapsed", time.Since(start)))

	return out, nil
}

// buildAnthropicMessages converts the conversation. Tool results travel as
// tool_result blocks inside a user turn, and consecutive tool turns share one.
func buildAnthropicMessages(messages []Message) []anthropic.Message {
	var result []anthropic.Message
	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			block := anthropic.NewToolResultMessageContent(msg.ToolCallID, msg.Content, msg.IsError)
			if n := len(result); n > 0 && result[n-1].Role == anthropic.RoleUser && isToolResultTurn(result[n-1]) {
				result[n-1].Content = append(result[n-1].Content, block)
				continue
			}
			result = append(result, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{block},
			})
		case RoleAssistant:
			var content []anthropic.MessageContent
			if msg.Content != "" {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				content = append(content, anthropic.NewToolUseMessageContent(tc.ID, tc.Name, input))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
		default:
			result = append(result, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		}
	}
	return result
}

func isToolResultTurn(msg anthropic.Message) bool {
	for _, c := range msg.Content {
		if c.Type != anthropic.MessagesContentTypeToolResult {
			return false
		}
	}
	return len(msg.Content) > 0
}

func buildAnthropicTools(tools []ToolDefinition) []anthropic.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	result := make([]anthropic.ToolDefinition, len(tools))
	for i, tool := range tools {
		result[i] = anthropic.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		}
	}
	return result
}
