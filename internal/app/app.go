// Package app provides application initialization and dependency wiring.
//
// App is the container that assembles the workspace client, credential
// provider, database manager, and conversation store. Persistence is
// optional: when no database instance is configured, or the database
// cannot be reached at startup, the app still comes up and reports
// itself unavailable for storage.
package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/ScottHMcKean/market-intelligence-app/internal/config"
	"github.com/ScottHMcKean/market-intelligence-app/internal/credential"
	"github.com/ScottHMcKean/market-intelligence-app/internal/database"
	"github.com/ScottHMcKean/market-intelligence-app/internal/log"
	"github.com/ScottHMcKean/market-intelligence-app/internal/store"
	"github.com/ScottHMcKean/market-intelligence-app/internal/workspace"
)

// ConversationStore defines the persistence operations the rest of the
// application consumes. Interfaces are defined by the consumer.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID string) (*store.Conversation, error)
	AddMessage(ctx context.Context, conversationID uuid.UUID, role, content string) (*store.Message, error)
	AddPendingMessage(ctx context.Context, conversationID uuid.UUID, queryID string) (*store.Message, error)
	UpdateMessage(ctx context.Context, messageID uuid.UUID, status store.Status, content string) (*store.Message, error)
	ConversationMessages(ctx context.Context, conversationID uuid.UUID) ([]store.Message, error)
	UserConversations(ctx context.Context, userID string) ([]store.Conversation, error)
	MessageByQueryID(ctx context.Context, queryID string) (*store.Message, error)
	UpdateConversationTitle(ctx context.Context, conversationID uuid.UUID, title string) error
}

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Workspace   *workspace.Client
	Credentials *credential.Provider
	DB          *database.Manager

	store ConversationStore
}

// Available reports whether conversation persistence is usable.
func (a *App) Available() bool {
	return a.store != nil
}

// Store returns the conversation store, or nil when persistence is
// unavailable. Callers must check Available first.
func (a *App) Store() ConversationStore {
	return a.store
}

// Close releases the database pool. Safe to call on a degraded app.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.Logger.Info("database pool closed")
	}
}
