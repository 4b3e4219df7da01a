package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockChatModel replays scripted completions in order. Set CompleteFunc to
// take full control instead.
type MockChatModel struct {
	// Responses are returned one per call; an entry with Err set fails that call.
	Responses []MockResponse

	// CompleteFunc overrides Responses when set.
	CompleteFunc func(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// ModelName is returned by Model. Defaults to "mock-model".
	ModelName string

	mu       sync.Mutex
	requests []*CompletionRequest
}

// MockResponse is one scripted reply.
type MockResponse struct {
	Completion *Completion
	Err        error
}

var _ ChatModel = (*MockChatModel)(nil)

// NewMockChatModel scripts completions.
func NewMockChatModel(responses ...MockResponse) *MockChatModel {
	return &MockChatModel{Responses: responses}
}

// TextReply scripts a plain text answer.
func TextReply(text string) MockResponse {
	return MockResponse{Completion: &Completion{Content: text}}
}

// ToolReply scripts a single tool call.
func ToolReply(id, name, arguments string) MockResponse {
	return MockResponse{Completion: &Completion{
		ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: arguments}},
	}}
}

// ErrorReply scripts a failed call.
func ErrorReply(err error) MockResponse {
	return MockResponse{Err: err}
}

func (m *MockChatModel) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	m.mu.Lock()
	// Copy so later appends by the caller don't alter what the test inspects.
	snapshot := *req
	snapshot.Messages = append([]Message(nil), req.Messages...)
	m.requests = append(m.requests, &snapshot)
	n := len(m.requests)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	if n > len(m.Responses) {
		return nil, fmt.Errorf("mock chat model: no scripted response for call %d", n)
	}
	r := m.Responses[n-1]
	return r.Completion, r.Err
}

func (m *MockChatModel) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Requests returns every request received so far.
func (m *MockChatModel) Requests() []*CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*CompletionRequest(nil), m.requests...)
}

// CallCount returns the number of Complete calls.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
