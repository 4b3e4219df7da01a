package models

import (
	"time"

	"github.com/google/uuid"
)

// Message roles stored in a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationMessage is one turn of an analytics chat.
type ConversationMessage struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	SQLExecuted []string  `json:"sql_executed,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation is a persisted analytics chat.
type Conversation struct {
	ID         uuid.UUID             `json:"id"`
	Title      string                `json:"title"`
	OwnerEmail string                `json:"owner_email,omitempty"`
	Messages   []ConversationMessage `json:"messages"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// ConversationSummary is the listing form returned by the history endpoint.
type ConversationSummary struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
