package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// MemoryConversationRepository keeps chat history in process memory. It is
// used when no history database is configured; history is lost on restart.
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]*models.Conversation
	shares        map[uuid.UUID][]string
	now           func() time.Time
}

var _ ConversationRepository = (*MemoryConversationRepository)(nil)

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[uuid.UUID]*models.Conversation),
		shares:        make(map[uuid.UUID][]string),
		now:           time.Now,
	}
}

func (r *MemoryConversationRepository) Create(_ context.Context, conv *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if _, exists := r.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s: %w", conv.ID, apperrors.ErrConflict)
	}
	now := r.now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	stored := *conv
	stored.Messages = stampMessages(conv.Messages, now)
	r.conversations[conv.ID] = &stored
	return nil
}

func (r *MemoryConversationRepository) AppendMessages(_ context.Context, id uuid.UUID, msgs ...models.ConversationMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}
	now := r.now().UTC()
	conv.Messages = append(conv.Messages, stampMessages(msgs, now)...)
	conv.UpdatedAt = now
	return nil
}

func (r *MemoryConversationRepository) Get(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}
	out := *conv
	out.Messages = append([]models.ConversationMessage{}, conv.Messages...)
	return &out, nil
}

func (r *MemoryConversationRepository) List(_ context.Context, ownerEmail string, limit int) ([]models.ConversationSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := []models.ConversationSummary{}
	for _, conv := range r.conversations {
		if conv.OwnerEmail != ownerEmail {
			continue
		}
		summaries = append(summaries, models.ConversationSummary{
			ID:           conv.ID,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].ID.String() < summaries[j].ID.String()
		}
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (r *MemoryConversationRepository) RecordShare(_ context.Context, id uuid.UUID, objectName string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}
	r.shares[id] = append(r.shares[id], objectName)
	return nil
}

// Shares returns the object names recorded for a conversation.
func (r *MemoryConversationRepository) Shares(id uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.shares[id]...)
}

func stampMessages(msgs []models.ConversationMessage, now time.Time) []models.ConversationMessage {
	out := make([]models.ConversationMessage, len(msgs))
	for i, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		out[i] = m
	}
	return out
}
