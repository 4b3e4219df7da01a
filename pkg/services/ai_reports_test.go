package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/llm"
	"github.com/ekaya-inc/dashboard-gateway/pkg/share"
)

type recordingSink struct {
	published map[string][]byte
	err       error
}

func (s *recordingSink) Publish(_ context.Context, name string, html []byte) (*share.Link, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.published == nil {
		s.published = make(map[string][]byte)
	}
	s.published[name] = html
	return &share.Link{
		URL:        "https://example.test/" + name,
		ObjectName: "shared-reports/" + name,
		ExpiresAt:  time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC),
	}, nil
}

func newAIReportFixture(t *testing.T, sink share.Sink) (*chatFixture, AIReportService) {
	t.Helper()
	f := newChatFixture(t, GatewayConfig{}, ChatConfig{}, llm.TextReply("**42** clients"))
	svc := NewAIReportService(f.chat, f.repo, sink, zap.NewNop())
	return f, svc
}

func TestAIReportService_Export(t *testing.T) {
	f, svc := newAIReportFixture(t, share.Disabled{})
	ctx := context.Background()

	res, err := f.chat.Chat(ctx, &ChatRequest{Message: "How many clients?", OwnerEmail: owner})
	require.NoError(t, err)

	report, err := svc.Export(ctx, res.ConversationID, owner)
	require.NoError(t, err)
	assert.Contains(t, report.HTML, "<strong>42</strong>")
	assert.True(t, strings.HasPrefix(report.Filename, "mydigipal-ai-how-many-clients-"))

	_, err = svc.Export(ctx, res.ConversationID, "other@mydigipal.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAIReportService_ShareRendersWhenNoHTMLGiven(t *testing.T) {
	sink := &recordingSink{}
	f, svc := newAIReportFixture(t, sink)
	ctx := context.Background()

	res, err := f.chat.Chat(ctx, &ChatRequest{Message: "How many clients?", OwnerEmail: owner})
	require.NoError(t, err)

	link, err := svc.Share(ctx, res.ConversationID, owner, "")
	require.NoError(t, err)
	assert.Contains(t, link.URL, res.ConversationID.String())

	require.Len(t, sink.published, 1)
	for _, html := range sink.published {
		assert.Contains(t, string(html), "<strong>42</strong>")
	}
	assert.Equal(t, []string{link.ObjectName}, f.repo.Shares(res.ConversationID))
}

func TestAIReportService_ShareUsesClientHTML(t *testing.T) {
	sink := &recordingSink{}
	f, svc := newAIReportFixture(t, sink)
	ctx := context.Background()

	res, err := f.chat.Chat(ctx, &ChatRequest{Message: "q", OwnerEmail: owner})
	require.NoError(t, err)

	_, err = svc.Share(ctx, res.ConversationID, owner, "<html>client copy</html>")
	require.NoError(t, err)
	for _, html := range sink.published {
		assert.Equal(t, "<html>client copy</html>", string(html))
	}
}

func TestAIReportService_ShareErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		f, svc := newAIReportFixture(t, share.Disabled{})
		res, err := f.chat.Chat(ctx, &ChatRequest{Message: "q", OwnerEmail: owner})
		require.NoError(t, err)

		_, err = svc.Share(ctx, res.ConversationID, owner, "")
		assert.ErrorIs(t, err, apperrors.ErrShareDisabled)
	})

	t.Run("too large", func(t *testing.T) {
		_, svc := newAIReportFixture(t, &recordingSink{})
		_, err := svc.Share(ctx, uuid.New(), owner, strings.Repeat("x", MaxSharedReportBytes+1))
		assert.Equal(t, apperrors.KindInvalidParameter, apperrors.KindOf(err))
	})

	t.Run("unknown conversation", func(t *testing.T) {
		_, svc := newAIReportFixture(t, &recordingSink{})
		_, err := svc.Share(ctx, uuid.New(), owner, "")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("sink failure", func(t *testing.T) {
		f, svc := newAIReportFixture(t, &recordingSink{err: errors.New("bucket missing")})
		res, err := f.chat.Chat(ctx, &ChatRequest{Message: "q", OwnerEmail: owner})
		require.NoError(t, err)

		_, err = svc.Share(ctx, res.ConversationID, owner, "")
		assert.ErrorContains(t, err, "bucket missing")
	})
}
