package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/catalog"
	"github.com/ekaya-inc/dashboard-gateway/pkg/jsonutil"
	"github.com/ekaya-inc/dashboard-gateway/pkg/llm"
	"github.com/ekaya-inc/dashboard-gateway/pkg/logging"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
	"github.com/ekaya-inc/dashboard-gateway/pkg/prompts"
	"github.com/ekaya-inc/dashboard-gateway/pkg/repositories"
	"github.com/ekaya-inc/dashboard-gateway/pkg/retry"
)

// ChatState is a step of the chat loop.
type ChatState string

const (
	ChatStateAwaitingModelQuery ChatState = "awaiting_model_query"
	ChatStateValidating         ChatState = "validating"
	ChatStateExecuting          ChatState = "executing"
	ChatStateAwaitingSummary    ChatState = "awaiting_summary"
	ChatStateDone               ChatState = "done"
	ChatStateRejected           ChatState = "rejected"
)

const (
	DefaultMaxRejections     = 3
	DefaultMaxToolIterations = 10
	DefaultMaxResultRows     = 200
	DefaultMaxHistory        = 20

	maxTitleLength = 80
)

// ChatConfig bounds a chat session.
type ChatConfig struct {
	MaxRejections     int
	MaxToolIterations int
	MaxResultRows     int
	MaxHistory        int
	Temperature       float64
	MaxTokens         int

	// Retry governs model calls. Defaults to retry.LLMConfig().
	Retry *retry.Config
}

// CandidateRunner validates and executes model-authored SQL as two steps, so
// a query is only ever executed after it was approved.
type CandidateRunner interface {
	ApproveCandidate(ctx context.Context, query string) (ApprovedQuery, error)
	RunApproved(ctx context.Context, q ApprovedQuery) (*models.QueryResult, error)
}

var _ CandidateRunner = (*Gateway)(nil)

// ChatRequest is one user turn.
type ChatRequest struct {
	Message string
	// ConversationID continues a stored conversation. Unknown ids start a new one.
	ConversationID *uuid.UUID
	// History seeds a new conversation when the client kept its own transcript.
	History    []models.ConversationMessage
	OwnerEmail string
}

// ChatResult is the outcome of a completed turn.
type ChatResult struct {
	Response       string    `json:"response"`
	SQLExecuted    []string  `json:"sql_executed"`
	ConversationID uuid.UUID `json:"conversation_id"`
	State          ChatState `json:"state"`
}

// ChatService answers analytics questions by letting a model query the
// warehouse through the gateway's candidate path.
type ChatService interface {
	// Chat runs one user turn to completion.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// History lists the owner's conversations.
	History(ctx context.Context, ownerEmail string, limit int) ([]models.ConversationSummary, error)

	// Conversation returns a stored conversation the owner may read.
	Conversation(ctx context.Context, id uuid.UUID, ownerEmail string) (*models.Conversation, error)
}

type chatService struct {
	model   llm.ChatModel
	runner  CandidateRunner
	tables  []catalog.Table
	dialect models.Dialect
	repo    repositories.ConversationRepository
	cfg     ChatConfig
	now     func() time.Time
	logger  *zap.Logger
}

// NewChatService creates a ChatService. tables are the relations offered to
// the model; the runner enforces the real allow-list.
func NewChatService(
	model llm.ChatModel,
	runner CandidateRunner,
	cat *catalog.Catalog,
	repo repositories.ConversationRepository,
	cfg ChatConfig,
	logger *zap.Logger,
) ChatService {
	if cfg.MaxRejections <= 0 {
		cfg.MaxRejections = DefaultMaxRejections
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.MaxResultRows <= 0 {
		cfg.MaxResultRows = DefaultMaxResultRows
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.LLMConfig()
	}
	return &chatService{
		model:   model,
		runner:  runner,
		tables:  cat.Tables,
		dialect: cat.Dialect,
		repo:    repo,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.Named("chat"),
	}
}

var _ ChatService = (*chatService)(nil)

// session is the mutable state of one Chat call.
type session struct {
	state       ChatState
	messages    []llm.Message
	sqlExecuted []string
	rejections  int
	lastReject  error
}

func (s *chatService) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, apperrors.InvalidParameter("message", "message is required")
	}

	conv, history, isNew, err := s.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	sess := &session{
		state:    ChatStateAwaitingModelQuery,
		messages: append(toLLMMessages(history), llm.Message{Role: llm.RoleUser, Content: message}),
	}

	response, err := s.run(ctx, sess)
	if err != nil {
		s.logger.Warn("Chat turn failed",
			zap.String("state", string(sess.state)),
			zap.Int("rejections", sess.rejections),
			zap.Int("queries", len(sess.sqlExecuted)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}

	turn := []models.ConversationMessage{
		{Role: models.RoleUser, Content: message},
		{Role: models.RoleAssistant, Content: response, SQLExecuted: sess.sqlExecuted},
	}
	s.persist(ctx, conv, isNew, history, turn)

	sqlExecuted := sess.sqlExecuted
	if sqlExecuted == nil {
		sqlExecuted = []string{}
	}
	return &ChatResult{
		Response:       response,
		SQLExecuted:    sqlExecuted,
		ConversationID: conv.ID,
		State:          sess.state,
	}, nil
}

// resolveConversation loads the conversation the request continues, or
// prepares a new one seeded with the client's history.
func (s *chatService) resolveConversation(ctx context.Context, req *ChatRequest) (*models.Conversation, []models.ConversationMessage, bool, error) {
	if req.ConversationID != nil {
		conv, err := s.Conversation(ctx, *req.ConversationID, req.OwnerEmail)
		switch {
		case err == nil:
			return conv, s.trimHistory(conv.Messages), false, nil
		case !errors.Is(err, apperrors.ErrNotFound):
			return nil, nil, false, err
		}
		s.logger.Debug("Conversation not found, starting a new one",
			zap.String("conversation_id", req.ConversationID.String()))
	}

	conv := &models.Conversation{
		ID:         uuid.New(),
		Title:      conversationTitle(req.Message),
		OwnerEmail: req.OwnerEmail,
	}
	return conv, s.trimHistory(validHistory(req.History)), true, nil
}

func (s *chatService) trimHistory(msgs []models.ConversationMessage) []models.ConversationMessage {
	if len(msgs) > s.cfg.MaxHistory {
		msgs = msgs[len(msgs)-s.cfg.MaxHistory:]
	}
	return msgs
}

// run drives the state machine until the model answers in text or the
// session ends in a terminal error.
func (s *chatService) run(ctx context.Context, sess *session) (string, error) {
	systemPrompt := s.systemPrompt()
	tools := llm.AnalyticsTools()

	for iteration := 0; iteration < s.cfg.MaxToolIterations; iteration++ {
		s.transition(sess, ChatStateAwaitingModelQuery)

		completion, err := s.complete(ctx, &llm.CompletionRequest{
			SystemPrompt: systemPrompt,
			Messages:     sess.messages,
			Tools:        tools,
			Temperature:  s.cfg.Temperature,
			MaxTokens:    s.cfg.MaxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("failed to get model response: %w", err)
		}

		if len(completion.ToolCalls) == 0 {
			s.transition(sess, ChatStateDone)
			return completion.Content, nil
		}

		sess.messages = append(sess.messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})

		for _, call := range completion.ToolCalls {
			result, err := s.handleToolCall(ctx, sess, call)
			if err != nil {
				return "", err
			}
			sess.messages = append(sess.messages, result)
		}

		if sess.rejections >= s.cfg.MaxRejections {
			s.transition(sess, ChatStateRejected)
			s.logger.Info("Chat session rejected",
				zap.Int("rejections", sess.rejections),
				zap.String("fragment", rejectionFragment(sess.lastReject)))
			return "", sess.lastReject
		}
	}

	return "", apperrors.Warehouse(
		fmt.Sprintf("the assistant did not finish within %d tool iterations", s.cfg.MaxToolIterations), nil)
}

func (s *chatService) complete(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	return retry.DoIfRetryableWithResult(ctx, s.cfg.Retry, func() (*llm.Completion, error) {
		completion, err := s.model.Complete(ctx, req)
		if err != nil {
			s.logger.Warn("Model call failed",
				zap.String("model", s.model.Model()),
				zap.String("error_type", string(llm.GetErrorType(err))),
				zap.Error(err))
		}
		return completion, err
	})
}

func (s *chatService) transition(sess *session, to ChatState) {
	if sess.state == to {
		return
	}
	s.logger.Debug("Chat state changed", zap.String("from", string(sess.state)), zap.String("to", string(to)))
	sess.state = to
}

// handleToolCall answers one tool call. The returned error is terminal; every
// recoverable problem is reported back to the model as a tool error instead.
func (s *chatService) handleToolCall(ctx context.Context, sess *session, call llm.ToolCall) (llm.Message, error) {
	switch call.Name {
	case llm.ToolListTables:
		return toolMessage(call, s.listTables(), false), nil
	case llm.ToolRunSQL:
		return s.runSQL(ctx, sess, call)
	default:
		return toolMessage(call, fmt.Sprintf("unknown tool %q; available tools are run_sql and list_tables", call.Name), true), nil
	}
}

func (s *chatService) runSQL(ctx context.Context, sess *session, call llm.ToolCall) (llm.Message, error) {
	var args struct {
		SQL json.RawMessage `json:"sql"`
	}
	err := json.Unmarshal([]byte(call.Arguments), &args)
	query := jsonutil.FlexibleStringValue(args.SQL)
	if err != nil || strings.TrimSpace(query) == "" {
		return toolMessage(call, `run_sql needs a JSON argument {"sql": "<SELECT statement>"}`, true), nil
	}

	s.transition(sess, ChatStateValidating)
	s.logger.Debug("Validating candidate query", zap.String("query", logging.SanitizeQuery(query)))

	approved, err := s.runner.ApproveCandidate(ctx, query)
	if err != nil {
		if kind := apperrors.KindOf(err); kind == apperrors.KindUnauthorizedRelation || kind == apperrors.KindForbiddenOperation {
			sess.rejections++
			sess.lastReject = err
			return toolMessage(call, s.rejectionMessage(err), true), nil
		}
		return llm.Message{}, err
	}

	s.transition(sess, ChatStateExecuting)
	res, err := s.runner.RunApproved(ctx, approved)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindWarehouse {
			return toolMessage(call, "query failed: "+err.Error(), true), nil
		}
		return llm.Message{}, err
	}

	s.transition(sess, ChatStateAwaitingSummary)
	sess.sqlExecuted = append(sess.sqlExecuted, query)

	payload, err := s.serializeResult(res)
	if err != nil {
		return llm.Message{}, fmt.Errorf("failed to encode query result: %w", err)
	}
	return toolMessage(call, payload, false), nil
}

func (s *chatService) rejectionMessage(err error) string {
	var b strings.Builder
	b.WriteString("query rejected: ")
	b.WriteString(err.Error())
	b.WriteString(". Only these tables may be queried: ")
	names := make([]string, len(s.tables))
	for i, t := range s.tables {
		names[i] = t.Name
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(". Only read-only SELECT statements are allowed.")
	return b.String()
}

type toolResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated,omitempty"`
}

func (s *chatService) serializeResult(res *models.QueryResult) (string, error) {
	out := toolResult{
		Columns:  make([]string, len(res.Columns)),
		Rows:     res.Rows,
		RowCount: res.RowCount,
	}
	for i, c := range res.Columns {
		out.Columns[i] = c.Name
	}
	if out.Rows == nil {
		out.Rows = []map[string]any{}
	}
	if len(out.Rows) > s.cfg.MaxResultRows {
		out.Rows = out.Rows[:s.cfg.MaxResultRows]
		out.Truncated = true
	}
	out.Truncated = out.Truncated || res.Truncated

	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *chatService) listTables() string {
	var b strings.Builder
	for _, t := range s.tables {
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		if len(t.Columns) > 0 {
			b.WriteString(" (columns: ")
			b.WriteString(strings.Join(t.Columns, ", "))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (s *chatService) systemPrompt() string {
	tables := make([]prompts.TableContext, len(s.tables))
	for i, t := range s.tables {
		tables[i] = prompts.TableContext{Name: t.Name, Description: t.Description, Columns: t.Columns}
	}
	return prompts.BuildAnalyticsSystemPrompt(prompts.AnalyticsContext{
		Dialect:       string(s.dialect),
		Tables:        tables,
		Today:         s.now(),
		MaxResultRows: s.cfg.MaxResultRows,
	})
}

// persist stores the turn. History is best effort: a storage failure is
// logged and the answer is still returned.
func (s *chatService) persist(ctx context.Context, conv *models.Conversation, isNew bool, history, turn []models.ConversationMessage) {
	var err error
	if isNew {
		conv.Messages = append(append([]models.ConversationMessage{}, history...), turn...)
		err = s.repo.Create(ctx, conv)
	} else {
		err = s.repo.AppendMessages(ctx, conv.ID, turn...)
	}
	if err != nil {
		s.logger.Error("Failed to save conversation",
			zap.String("conversation_id", conv.ID.String()),
			zap.Error(err))
	}
}

func (s *chatService) History(ctx context.Context, ownerEmail string, limit int) ([]models.ConversationSummary, error) {
	return s.repo.List(ctx, ownerEmail, limit)
}

// Conversation hides conversations owned by someone else behind ErrNotFound.
func (s *chatService) Conversation(ctx context.Context, id uuid.UUID, ownerEmail string) (*models.Conversation, error) {
	conv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.OwnerEmail != ownerEmail {
		return nil, fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}
	return conv, nil
}

func toolMessage(call llm.ToolCall, content string, isError bool) llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		IsError:    isError,
	}
}

func toLLMMessages(history []models.ConversationMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// validHistory drops client-supplied turns with unknown roles or no content.
func validHistory(msgs []models.ConversationMessage) []models.ConversationMessage {
	var out []models.ConversationMessage
	for _, m := range msgs {
		if (m.Role == models.RoleUser || m.Role == models.RoleAssistant) && strings.TrimSpace(m.Content) != "" {
			out = append(out, models.ConversationMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func conversationTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxTitleLength-3]) + "..."
}

func rejectionFragment(err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.Fragment
	}
	return ""
}
