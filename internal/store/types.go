// Package store persists conversations and messages, including the state
// machine for answers computed asynchronously by the inference endpoint.
//
// Rows are owned by the database; this layer holds no authoritative copy
// and every read re-queries. A message's status only moves forward:
// pending to completed, or pending to failed, exactly once.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Status is the lifecycle state of a message's answer.
type Status string

const (
	// StatusPending marks an assistant message awaiting an asynchronous
	// answer, correlated by its query ID.
	StatusPending Status = "pending"

	// StatusCompleted marks a message whose content is final.
	StatusCompleted Status = "completed"

	// StatusFailed marks a message whose answer could not be produced.
	// Content, if present, is an error summary.
	StatusFailed Status = "failed"
)

// Conversation is a user's thread of messages.
type Conversation struct {
	ID     uuid.UUID
	UserID string

	// Title is derived from the conversation and mutable.
	Title string

	// MessageCount is populated on listing queries.
	MessageCount int

	CreatedAt time.Time
}

// Message is a single conversation turn. Content is nil while an
// assistant answer is pending; QueryID is set only for assistant messages
// created in the pending state.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        *string
	QueryID        *string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Text returns the message content, or empty while pending.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}
