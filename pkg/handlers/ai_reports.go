package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/auth"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
	"github.com/ekaya-inc/dashboard-gateway/pkg/services"
)

// ChatRequest is the body of POST /api/ai-reports/chat.
type ChatRequest struct {
	Message        string               `json:"message"`
	ConversationID *string              `json:"conversation_id,omitempty"`
	History        []ChatHistoryMessage `json:"history,omitempty"`
}

// ChatHistoryMessage is one turn of a client-held transcript.
type ChatHistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse matches what the dashboard's chat panel reads.
type ChatResponse struct {
	Response       string   `json:"response"`
	SQLExecuted    []string `json:"sql_executed"`
	ConversationID string   `json:"conversation_id"`
}

// ConversationRequest names a conversation to export.
type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

// ShareRequest is the body of POST /api/ai-reports/share.
type ShareRequest struct {
	ConversationID string `json:"conversation_id"`
	HTML           string `json:"html,omitempty"`
}

// ShareResponse carries the signed link.
type ShareResponse struct {
	ShareURL  string `json:"share_url"`
	ExpiresAt string `json:"expires_at"`
}

// HistoryResponse wraps the conversation list.
type HistoryResponse struct {
	Conversations []models.ConversationSummary `json:"conversations"`
}

// AIReportsHandler serves the analytics chat and its exports.
type AIReportsHandler struct {
	chat    services.ChatService
	reports services.AIReportService
	logger  *zap.Logger
}

// NewAIReportsHandler creates a new AI reports handler.
func NewAIReportsHandler(chat services.ChatService, reports services.AIReportService, logger *zap.Logger) *AIReportsHandler {
	return &AIReportsHandler{
		chat:    chat,
		reports: reports,
		logger:  logger,
	}
}

// RegisterRoutes registers the AI report routes on the given mux.
func (h *AIReportsHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/ai-reports"
	mux.HandleFunc("POST "+base+"/chat", h.Chat)
	mux.HandleFunc("GET "+base+"/history", h.History)
	mux.HandleFunc("GET "+base+"/history/{id}", h.Conversation)
	mux.HandleFunc("POST "+base+"/export-html", h.ExportHTML)
	mux.HandleFunc("POST "+base+"/share", h.Share)
}

// Chat handles POST /api/ai-reports/chat.
func (h *AIReportsHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, w, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	chatReq := &services.ChatRequest{
		Message:    req.Message,
		OwnerEmail: auth.GetEmailFromContext(r.Context()),
	}
	if req.ConversationID != nil && *req.ConversationID != "" {
		id, err := parseConversationID(*req.ConversationID)
		if err != nil {
			WriteError(w, r, err, h.logger)
			return
		}
		chatReq.ConversationID = &id
	}
	for _, m := range req.History {
		chatReq.History = append(chatReq.History, models.ConversationMessage{Role: m.Role, Content: m.Content})
	}

	res, err := h.chat.Chat(r.Context(), chatReq)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	response := ChatResponse{
		Response:       res.Response,
		SQLExecuted:    res.SQLExecuted,
		ConversationID: res.ConversationID.String(),
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode chat response", zap.Error(err))
	}
}

// History handles GET /api/ai-reports/history.
func (h *AIReportsHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameter", "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := h.chat.History(r.Context(), auth.GetEmailFromContext(r.Context()), limit)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, HistoryResponse{Conversations: list}); err != nil {
		h.logger.Error("Failed to encode history response", zap.Error(err))
	}
}

// Conversation handles GET /api/ai-reports/history/{id}.
func (h *AIReportsHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	id, err := parseConversationID(r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	conv, err := h.chat.Conversation(r.Context(), id, auth.GetEmailFromContext(r.Context()))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, conv); err != nil {
		h.logger.Error("Failed to encode conversation", zap.Error(err))
	}
}

// ExportHTML handles POST /api/ai-reports/export-html.
func (h *AIReportsHandler) ExportHTML(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := decodeJSON(r, w, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	id, err := parseConversationID(req.ConversationID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	report, err := h.reports.Export(r.Context(), id, auth.GetEmailFromContext(r.Context()))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to encode export response", zap.Error(err))
	}
}

// Share handles POST /api/ai-reports/share.
func (h *AIReportsHandler) Share(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if err := decodeJSON(r, w, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	id, err := parseConversationID(req.ConversationID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	link, err := h.reports.Share(r.Context(), id, auth.GetEmailFromContext(r.Context()), req.HTML)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	response := ShareResponse{
		ShareURL:  link.URL,
		ExpiresAt: link.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode share response", zap.Error(err))
	}
}
