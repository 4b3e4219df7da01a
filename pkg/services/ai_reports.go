package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/export"
	"github.com/ekaya-inc/dashboard-gateway/pkg/repositories"
	"github.com/ekaya-inc/dashboard-gateway/pkg/share"
)

// MaxSharedReportBytes bounds client-supplied report HTML.
const MaxSharedReportBytes = 5 << 20

// AIReportService exports and shares analytics conversations.
type AIReportService interface {
	// Export renders a conversation as a standalone HTML document.
	Export(ctx context.Context, id uuid.UUID, ownerEmail string) (*export.Report, error)

	// Share publishes a conversation's report and returns an expiring link.
	// When html is empty the report is rendered server-side.
	Share(ctx context.Context, id uuid.UUID, ownerEmail, html string) (*share.Link, error)
}

type aiReportService struct {
	chat   ChatService
	repo   repositories.ConversationRepository
	sink   share.Sink
	now    func() time.Time
	logger *zap.Logger
}

func NewAIReportService(chat ChatService, repo repositories.ConversationRepository, sink share.Sink, logger *zap.Logger) AIReportService {
	return &aiReportService{
		chat:   chat,
		repo:   repo,
		sink:   sink,
		now:    time.Now,
		logger: logger.Named("ai-reports"),
	}
}

var _ AIReportService = (*aiReportService)(nil)

func (s *aiReportService) Export(ctx context.Context, id uuid.UUID, ownerEmail string) (*export.Report, error) {
	conv, err := s.chat.Conversation(ctx, id, ownerEmail)
	if err != nil {
		return nil, err
	}
	return export.Render(conv, s.now())
}

func (s *aiReportService) Share(ctx context.Context, id uuid.UUID, ownerEmail, html string) (*share.Link, error) {
	if _, ok := s.sink.(share.Disabled); ok {
		return nil, apperrors.ErrShareDisabled
	}
	if len(html) > MaxSharedReportBytes {
		return nil, apperrors.InvalidParameter("html", "report exceeds %d bytes", MaxSharedReportBytes)
	}

	conv, err := s.chat.Conversation(ctx, id, ownerEmail)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(html) == "" {
		report, err := export.Render(conv, s.now())
		if err != nil {
			return nil, err
		}
		html = report.HTML
	}

	name := fmt.Sprintf("%s/%s.html", conv.ID, uuid.NewString())
	link, err := s.sink.Publish(ctx, name, []byte(html))
	if err != nil {
		return nil, err
	}

	if err := s.repo.RecordShare(ctx, conv.ID, link.ObjectName, link.ExpiresAt); err != nil {
		s.logger.Error("Failed to record shared report",
			zap.String("conversation_id", conv.ID.String()),
			zap.Error(err))
	}
	return link, nil
}
