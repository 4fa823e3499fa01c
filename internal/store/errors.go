package store

import "errors"

var (
	// ErrConversationNotFound is returned when the referenced conversation
	// does not exist. Callers should present it as a stale-thread condition
	// rather than an infrastructure failure.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound is returned when the referenced message does not
	// exist, or when a query-ID lookup matches no pending message.
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidTransition is returned when updating a message that has
	// already left the pending state. The stored row is never modified.
	ErrInvalidTransition = errors.New("message already resolved")

	// ErrInvalidRole is returned for roles other than user or assistant.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrInvalidStatus is returned when a message update names a status
	// other than completed or failed.
	ErrInvalidStatus = errors.New("invalid message status")

	// ErrEmptyContent is returned when completing a message without content.
	ErrEmptyContent = errors.New("message content required")
)
