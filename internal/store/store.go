package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ScottHMcKean/market-intelligence-app/internal/log"
)

// Store manages conversation and message persistence.
//
// Store is safe for concurrent use by multiple goroutines. Concurrent
// updates to the same pending message are serialized by the database's
// status guard: exactly one wins, the rest get ErrInvalidTransition.
type Store struct {
	querier Querier
	logger  log.Logger
}

// New creates a Store over the given querier.
func New(querier Querier, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{querier: querier, logger: logger}
}

// CreateConversation creates a new conversation for the given user and
// returns it with its generated ID.
func (s *Store) CreateConversation(ctx context.Context, userID string) (*Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("create conversation: user ID required")
	}

	c, err := s.querier.InsertConversation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", c.ID, "user_id", userID)
	return &c, nil
}

// AddMessage appends a completed message to a conversation. Role must be
// RoleUser or RoleAssistant, and content must be non-empty.
//
// Returns ErrConversationNotFound without inserting anything when the
// conversation does not exist.
func (s *Store) AddMessage(ctx context.Context, conversationID uuid.UUID, role, content string) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("add message: %w: %q", ErrInvalidRole, role)
	}
	if content == "" {
		return nil, fmt.Errorf("add message: %w", ErrEmptyContent)
	}

	m, err := s.querier.InsertMessage(ctx, InsertMessageParams{
		ConversationID: conversationID,
		Role:           role,
		Content:        &content,
		Status:         StatusCompleted,
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("add message: %w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("add message: %w", err)
	}

	s.logger.Debug("added message", "id", m.ID, "conversation_id", conversationID, "role", role)
	return &m, nil
}

// AddPendingMessage appends an assistant message with no content, in the
// pending state, correlated with an asynchronous query by its ID. The
// answer arrives later through UpdateMessage.
func (s *Store) AddPendingMessage(ctx context.Context, conversationID uuid.UUID, queryID string) (*Message, error) {
	if queryID == "" {
		return nil, fmt.Errorf("add pending message: query ID required")
	}

	m, err := s.querier.InsertMessage(ctx, InsertMessageParams{
		ConversationID: conversationID,
		Role:           RoleAssistant,
		QueryID:        &queryID,
		Status:         StatusPending,
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("add pending message: %w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("add pending message: %w", err)
	}

	s.logger.Debug("added pending message", "id", m.ID, "conversation_id", conversationID, "query_id", queryID)
	return &m, nil
}

// UpdateMessage resolves a pending message to completed or failed,
// recording its final content. Completion requires non-empty content;
// failure may carry an empty content, stored as null.
//
// A message that already left the pending state is never modified:
// UpdateMessage returns ErrInvalidTransition and the stored row keeps
// its first resolution.
func (s *Store) UpdateMessage(ctx context.Context, messageID uuid.UUID, status Status, content string) (*Message, error) {
	if status != StatusCompleted && status != StatusFailed {
		return nil, fmt.Errorf("update message: %w: %q", ErrInvalidStatus, status)
	}
	if status == StatusCompleted && content == "" {
		return nil, fmt.Errorf("update message: %w", ErrEmptyContent)
	}

	var contentPtr *string
	if content != "" {
		contentPtr = &content
	}

	m, err := s.querier.ResolveMessage(ctx, ResolveMessageParams{
		ID:      messageID,
		Status:  status,
		Content: contentPtr,
	})
	if err == nil {
		s.logger.Debug("resolved message", "id", messageID, "status", status)
		return &m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update message %s: %w", messageID, err)
	}

	// The guarded update matched nothing: either the message is gone or
	// it has already been resolved.
	current, lookupErr := s.querier.MessageByID(ctx, messageID)
	if lookupErr != nil {
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update message: %w: %s", ErrMessageNotFound, messageID)
		}
		return nil, fmt.Errorf("update message %s: %w", messageID, lookupErr)
	}
	return nil, fmt.Errorf("update message %s: %w: status is %s", messageID, ErrInvalidTransition, current.Status)
}

// ConversationMessages returns every message of a conversation in
// chronological order. A conversation with no messages yields an empty
// slice, whether or not the conversation exists.
func (s *Store) ConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	messages, err := s.querier.MessagesByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", conversationID, err)
	}

	s.logger.Debug("listed messages", "conversation_id", conversationID, "count", len(messages))
	return messages, nil
}

// UserConversations returns the user's conversations, newest first, each
// with its message count.
func (s *Store) UserConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("list conversations: user ID required")
	}

	conversations, err := s.querier.ConversationsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations for %s: %w", userID, err)
	}

	s.logger.Debug("listed conversations", "user_id", userID, "count", len(conversations))
	return conversations, nil
}

// MessageByQueryID finds the pending message correlated with the given
// asynchronous query. Returns ErrMessageNotFound when no pending message
// carries that ID, including after the message has been resolved.
func (s *Store) MessageByQueryID(ctx context.Context, queryID string) (*Message, error) {
	if queryID == "" {
		return nil, fmt.Errorf("lookup message: query ID required")
	}

	m, err := s.querier.PendingMessageByQueryID(ctx, queryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lookup message: %w: query %s", ErrMessageNotFound, queryID)
		}
		return nil, fmt.Errorf("lookup message for query %s: %w", queryID, err)
	}
	return &m, nil
}

// UpdateConversationTitle sets a conversation's title.
func (s *Store) UpdateConversationTitle(ctx context.Context, conversationID uuid.UUID, title string) error {
	err := s.querier.SetConversationTitle(ctx, conversationID, title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update title: %w: %s", ErrConversationNotFound, conversationID)
		}
		return fmt.Errorf("update title for %s: %w", conversationID, err)
	}

	s.logger.Debug("updated conversation title", "id", conversationID)
	return nil
}
