//go:build integration
// +build integration

package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ScottHMcKean/market-intelligence-app/internal/log"
	"github.com/ScottHMcKean/market-intelligence-app/internal/testutil"
)

func newIntegrationStore(t *testing.T) (*Store, func()) {
	t.Helper()
	testDB, cleanup := testutil.SetupTestDB(t)
	querier := NewPgxQuerier(&testutil.PoolRunner{Pool: testDB.Pool})
	return New(querier, log.NewNop()), cleanup
}

func TestStore_Lifecycle_Integration(t *testing.T) {
	s, cleanup := newIntegrationStore(t)
	defer cleanup()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "analyst@corp.com")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if conv.ID == uuid.Nil {
		t.Fatal("conversation ID is nil UUID")
	}

	if _, err := s.AddMessage(ctx, conv.ID, RoleUser, "summarize today's filings"); err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}
	pending, err := s.AddPendingMessage(ctx, conv.ID, "stmt-9f")
	if err != nil {
		t.Fatalf("AddPendingMessage() error = %v", err)
	}
	if pending.Content != nil {
		t.Errorf("pending Content = %q, want NULL", *pending.Content)
	}

	found, err := s.MessageByQueryID(ctx, "stmt-9f")
	if err != nil {
		t.Fatalf("MessageByQueryID() error = %v", err)
	}
	if found.ID != pending.ID {
		t.Fatalf("MessageByQueryID() = %s, want %s", found.ID, pending.ID)
	}

	if _, err := s.UpdateMessage(ctx, pending.ID, StatusCompleted, "three filings, all routine"); err != nil {
		t.Fatalf("UpdateMessage() error = %v", err)
	}

	messages, err := s.ConversationMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ConversationMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(messages))
	}
	if messages[1].Status != StatusCompleted || messages[1].Text() != "three filings, all routine" {
		t.Errorf("resolved message = %s %q", messages[1].Status, messages[1].Text())
	}

	conversations, err := s.UserConversations(ctx, "analyst@corp.com")
	if err != nil {
		t.Fatalf("UserConversations() error = %v", err)
	}
	if len(conversations) != 1 || conversations[0].MessageCount != 2 {
		t.Errorf("conversations = %+v, want one with 2 messages", conversations)
	}
}

func TestStore_ForeignKey_Integration(t *testing.T) {
	s, cleanup := newIntegrationStore(t)
	defer cleanup()

	_, err := s.AddMessage(context.Background(), uuid.New(), RoleUser, "hello")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("AddMessage() error = %v, want ErrConversationNotFound", err)
	}
}

func TestStore_ConcurrentResolve_Integration(t *testing.T) {
	s, cleanup := newIntegrationStore(t)
	defer cleanup()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "analyst@corp.com")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	pending, err := s.AddPendingMessage(ctx, conv.ID, "race-1")
	if err != nil {
		t.Fatalf("AddPendingMessage() error = %v", err)
	}

	// Exactly one of the concurrent resolutions wins; the database's
	// status guard turns the rest into ErrInvalidTransition.
	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range workers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			status := StatusCompleted
			if n%2 == 1 {
				status = StatusFailed
			}
			_, err := s.UpdateMessage(ctx, pending.ID, status, "answer")
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("UpdateMessage() error = %v, want ErrInvalidTransition", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
}

func TestStore_UpdateTitle_Integration(t *testing.T) {
	s, cleanup := newIntegrationStore(t)
	defer cleanup()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "analyst@corp.com")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if err := s.UpdateConversationTitle(ctx, conv.ID, "Q2 earnings digest"); err != nil {
		t.Fatalf("UpdateConversationTitle() error = %v", err)
	}

	conversations, err := s.UserConversations(ctx, "analyst@corp.com")
	if err != nil {
		t.Fatalf("UserConversations() error = %v", err)
	}
	if conversations[0].Title != "Q2 earnings digest" {
		t.Errorf("Title = %q", conversations[0].Title)
	}
}
