package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
	"github.com/ekaya-inc/dashboard-gateway/pkg/database"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// ConversationRepository stores analytics chat history.
type ConversationRepository interface {
	// Create inserts conv with its messages, assigning an ID if it has none.
	Create(ctx context.Context, conv *models.Conversation) error
	// AppendMessages adds messages to an existing conversation.
	AppendMessages(ctx context.Context, id uuid.UUID, msgs ...models.ConversationMessage) error
	// Get returns a conversation with all its messages, or apperrors.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	// List returns the owner's conversations, most recently updated first.
	List(ctx context.Context, ownerEmail string, limit int) ([]models.ConversationSummary, error)
	// RecordShare notes that a conversation was published under objectName.
	RecordShare(ctx context.Context, id uuid.UUID, objectName string, expiresAt time.Time) error
}

const defaultListLimit = 50

type conversationRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewConversationRepository creates a Postgres-backed ConversationRepository.
func NewConversationRepository(db *database.DB) ConversationRepository {
	return &conversationRepository{db: db, now: time.Now}
}

var _ ConversationRepository = (*conversationRepository)(nil)

func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	now := r.now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO ai_conversations (id, title, owner_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		conv.ID, conv.Title, conv.OwnerEmail, now)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	if err := insertMessages(ctx, tx, conv.ID, now, conv.Messages); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	return nil
}

func (r *conversationRepository) AppendMessages(ctx context.Context, id uuid.UUID, msgs ...models.ConversationMessage) error {
	now := r.now().UTC()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE ai_conversations SET updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}

	if err := insertMessages(ctx, tx, id, now, msgs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

func insertMessages(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time, msgs []models.ConversationMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, msg := range msgs {
		sqlExecuted := msg.SQLExecuted
		if sqlExecuted == nil {
			sqlExecuted = []string{}
		}
		sqlJSON, err := json.Marshal(sqlExecuted)
		if err != nil {
			return fmt.Errorf("failed to marshal sql_executed: %w", err)
		}
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		batch.Queue(`
			INSERT INTO ai_conversation_messages (conversation_id, role, content, sql_executed, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			id, msg.Role, msg.Content, sqlJSON, createdAt)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert messages: %w", err)
	}
	return nil
}

func (r *conversationRepository) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{ID: id}
	err := r.db.QueryRow(ctx, `
		SELECT title, owner_email, created_at, updated_at
		FROM ai_conversations
		WHERE id = $1`, id).Scan(&conv.Title, &conv.OwnerEmail, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT role, content, sql_executed, created_at
		FROM ai_conversation_messages
		WHERE conversation_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = []models.ConversationMessage{}
	for rows.Next() {
		var msg models.ConversationMessage
		var sqlJSON []byte
		if err := rows.Scan(&msg.Role, &msg.Content, &sqlJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := json.Unmarshal(sqlJSON, &msg.SQLExecuted); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sql_executed: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return conv, nil
}

func (r *conversationRepository) List(ctx context.Context, ownerEmail string, limit int) ([]models.ConversationSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.db.Query(ctx, `
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM ai_conversation_messages m WHERE m.conversation_id = c.id)
		FROM ai_conversations c
		WHERE c.owner_email = $1
		ORDER BY c.updated_at DESC
		LIMIT $2`, ownerEmail, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	summaries := []models.ConversationSummary{}
	for rows.Next() {
		var s models.ConversationSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.CreatedAt, &s.UpdatedAt, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return summaries, nil
}

func (r *conversationRepository) RecordShare(ctx context.Context, id uuid.UUID, objectName string, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ai_shared_reports (conversation_id, object_name, expires_at)
		VALUES ($1, $2, $3)`, id, objectName, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to record share: %w", err)
	}
	return nil
}
