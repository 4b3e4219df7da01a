package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/auth"
	"github.com/ekaya-inc/dashboard-gateway/pkg/export"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
	"github.com/ekaya-inc/dashboard-gateway/pkg/services"
	"github.com/ekaya-inc/dashboard-gateway/pkg/share"
)

type fakeChatService struct {
	lastRequest *services.ChatRequest
	result      *services.ChatResult
	err         error

	historyOwner string
	summaries    []models.ConversationSummary
	conversation *models.Conversation
}

func (f *fakeChatService) Chat(_ context.Context, req *services.ChatRequest) (*services.ChatResult, error) {
	f.lastRequest = req
	return f.result, f.err
}

func (f *fakeChatService) History(_ context.Context, owner string, _ int) ([]models.ConversationSummary, error) {
	f.historyOwner = owner
	return f.summaries, nil
}

func (f *fakeChatService) Conversation(_ context.Context, id uuid.UUID, _ string) (*models.Conversation, error) {
	if f.conversation == nil || f.conversation.ID != id {
		return nil, apperrors.ErrNotFound
	}
	return f.conversation, nil
}

type fakeReportService struct {
	shareHTML string
	link      *share.Link
	err       error
}

func (f *fakeReportService) Export(_ context.Context, id uuid.UUID, _ string) (*export.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &export.Report{HTML: "<html>" + id.String() + "</html>", Filename: "mydigipal-ai-report-2025-02-01.html"}, nil
}

func (f *fakeReportService) Share(_ context.Context, _ uuid.UUID, _, html string) (*share.Link, error) {
	f.shareHTML = html
	return f.link, f.err
}

func newAIReportsMux(chat services.ChatService, reports services.AIReportService) *http.ServeMux {
	mux := http.NewServeMux()
	NewAIReportsHandler(chat, reports, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func serveAs(mux *http.ServeMux, email, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if email != "" {
		req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Email: email}))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAIReportsHandler_Chat(t *testing.T) {
	convID := uuid.New()
	chat := &fakeChatService{result: &services.ChatResult{
		Response:       "Acme made the most profit.",
		SQLExecuted:    []string{"SELECT 1"},
		ConversationID: convID,
	}}
	mux := newAIReportsMux(chat, &fakeReportService{})

	body := `{"message":"top client?","conversation_id":"` + convID.String() + `","history":[{"role":"user","content":"hi"}]}`
	rec := serveAs(mux, "Analyst@MyDigipal.com", http.MethodPost, "/api/ai-reports/chat", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Acme made the most profit.", resp.Response)
	assert.Equal(t, []string{"SELECT 1"}, resp.SQLExecuted)
	assert.Equal(t, convID.String(), resp.ConversationID)

	require.NotNil(t, chat.lastRequest)
	assert.Equal(t, "analyst@mydigipal.com", chat.lastRequest.OwnerEmail)
	require.NotNil(t, chat.lastRequest.ConversationID)
	assert.Equal(t, convID, *chat.lastRequest.ConversationID)
	require.Len(t, chat.lastRequest.History, 1)
	assert.Equal(t, "hi", chat.lastRequest.History[0].Content)
}

func TestAIReportsHandler_Chat_Rejected(t *testing.T) {
	chat := &fakeChatService{err: apperrors.UnauthorizedRelation("payroll.salaries")}
	mux := newAIReportsMux(chat, &fakeReportService{})

	rec := serveAs(mux, "a@b.com", http.MethodPost, "/api/ai-reports/chat", `{"message":"salaries?"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, "unauthorized_relation", body.Type)
	assert.Contains(t, body.Error, "payroll.salaries")
	assert.Nil(t, chat.lastRequest.ConversationID)
}

func TestAIReportsHandler_Chat_BadRequests(t *testing.T) {
	mux := newAIReportsMux(&fakeChatService{}, &fakeReportService{})

	for _, body := range []string{``, `{`, `{"message":"x","conversation_id":"nope"}`} {
		rec := serveAs(mux, "a@b.com", http.MethodPost, "/api/ai-reports/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "invalid_parameter", decodeError(t, rec).Type, body)
	}
}

func TestAIReportsHandler_History(t *testing.T) {
	chat := &fakeChatService{summaries: []models.ConversationSummary{{ID: uuid.New(), Title: "Top clients", MessageCount: 2}}}
	mux := newAIReportsMux(chat, &fakeReportService{})

	rec := serveAs(mux, "a@b.com", http.MethodGet, "/api/ai-reports/history", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "Top clients", resp.Conversations[0].Title)
	assert.Equal(t, "a@b.com", chat.historyOwner)

	rec = serveAs(mux, "a@b.com", http.MethodGet, "/api/ai-reports/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAIReportsHandler_Conversation(t *testing.T) {
	conv := &models.Conversation{ID: uuid.New(), Title: "Q1"}
	mux := newAIReportsMux(&fakeChatService{conversation: conv}, &fakeReportService{})

	rec := serveAs(mux, "a@b.com", http.MethodGet, "/api/ai-reports/history/"+conv.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Q1"`)

	rec = serveAs(mux, "a@b.com", http.MethodGet, "/api/ai-reports/history/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestAIReportsHandler_ExportHTML(t *testing.T) {
	id := uuid.New()
	mux := newAIReportsMux(&fakeChatService{}, &fakeReportService{})

	rec := serveAs(mux, "a@b.com", http.MethodPost, "/api/ai-reports/export-html", `{"conversation_id":"`+id.String()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var report export.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Contains(t, report.HTML, id.String())
	assert.Equal(t, "mydigipal-ai-report-2025-02-01.html", report.Filename)
}

func TestAIReportsHandler_Share(t *testing.T) {
	expires := time.Date(2025, 2, 8, 9, 0, 0, 0, time.UTC)
	reports := &fakeReportService{link: &share.Link{URL: "https://storage.example/signed", ExpiresAt: expires}}
	mux := newAIReportsMux(&fakeChatService{}, reports)

	rec := serveAs(mux, "a@b.com", http.MethodPost, "/api/ai-reports/share",
		`{"conversation_id":"`+uuid.NewString()+`","html":"<p>hi</p>"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ShareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://storage.example/signed", resp.ShareURL)
	assert.Equal(t, "2025-02-08T09:00:00Z", resp.ExpiresAt)
	assert.Equal(t, "<p>hi</p>", reports.shareHTML)
}

func TestAIReportsHandler_Share_Disabled(t *testing.T) {
	mux := newAIReportsMux(&fakeChatService{}, &fakeReportService{err: apperrors.ErrShareDisabled})

	rec := serveAs(mux, "a@b.com", http.MethodPost, "/api/ai-reports/share", `{"conversation_id":"`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "share_disabled", decodeError(t, rec).Type)
}
