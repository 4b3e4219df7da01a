package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var (
	textToolCallPattern = regexp.MustCompile(`<tool_call>\s*(\{[\s\S]*?\})\s*</tool_call>`)
	toolCallBlock       = regexp.MustCompile(`<tool_call>[\s\S]*?</tool_call>`)
	thinkBlock          = regexp.MustCompile(`<think>[\s\S]*?</think>`)
	multiNewline        = regexp.MustCompile(`\n{3,}`)
)

// OpenAIModel is a ChatModel for OpenAI-compatible chat completion APIs.
type OpenAIModel struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

var _ ChatModel = (*OpenAIModel)(nil)

// NewOpenAIModel creates a ChatModel backed by an OpenAI-compatible endpoint.
func NewOpenAIModel(cfg Config, logger *zap.Logger) (*OpenAIModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}

	return &OpenAIModel{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger.Named("llm"),
	}, nil
}

func (m *OpenAIModel) Model() string {
	return m.model
}

// Complete sends one chat completion request. Models that emit tool calls
// as <tool_call> text instead of native tool calls are handled too.
func (m *OpenAIModel) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	start := time.Now()
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    buildOpenAIMessages(req.Messages, req.SystemPrompt),
		Tools:       buildOpenAITools(req.Tools),
		Temperature: float32(req.Temperature),
		MaxTokens:   maxTokens,
	})
	if err != nil {
		m.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		classified := ClassifyError(err)
		classified.Model = m.model
		return nil, classified
	}

	if len(resp.Choices) == 0 {
		return nil, NewError(ErrorTypeResponse, "no choices in response", false, nil)
	}

	choice := resp.Choices[0]
	out := &Completion{
		Content:          choice.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}

	if len(choice.Message.ToolCalls) > 0 {
		for _, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	} else if out.Content != "" {
		if calls := parseTextToolCalls(out.Content); len(calls) > 0 {
			out.ToolCalls = calls
			out.Content = cleanModelOutput(out.Content)
		}
	}
	if len(out.ToolCalls) == 0 {
		out.Content = cleanModelOutput(out.Content)
	}

	m.logger.Debug("LLM request completed",
		zap.Int("prompt_tokens", out.PromptTokens),
		zap.Int("completion_tokens", out.CompletionTokens),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.Duration("elapsed", time.Since(start)))

	return out, nil
}

// parseTextToolCalls extracts <tool_call>{"name": ..., "arguments": {...}}</tool_call> blocks.
func parseTextToolCalls(content string) []ToolCall {
	var toolCalls []ToolCall
	for i, match := range textToolCallPattern.FindAllStringSubmatch(content, -1) {
		var call struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(match[1]), &call); err != nil || call.Name == "" {
			continue
		}
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			continue
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:        fmt.Sprintf("text_tool_%d", i),
			Name:      call.Name,
			Arguments: string(args),
		})
	}
	return toolCalls
}

// cleanModelOutput strips reasoning and tool call markup from model text.
func cleanModelOutput(content string) string {
	content = thinkBlock.ReplaceAllString(content, "")
	content = toolCallBlock.ReplaceAllString(content, "")
	content = multiNewline.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

func buildOpenAIMessages(messages []Message, systemPrompt string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		result = append(result, oaiMsg)
	}
	return result
}

func buildOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		params, _ := json.Marshal(tool.Parameters)
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  json.RawMessage(params),
			},
		}
	}
	return result
}
