package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/ScottHMcKean/market-intelligence-app/internal/app"
	"github.com/ScottHMcKean/market-intelligence-app/internal/store"
)

func runConversations(ctx context.Context, a *app.App, userID string, w io.Writer) error {
	if !a.Available() {
		return fmt.Errorf("database not available")
	}

	conversations, err := a.Store().UserConversations(ctx, userID)
	if err != nil {
		return err
	}
	if len(conversations) == 0 {
		fmt.Fprintf(w, "no conversations for %s\n", userID)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tCREATED")
	for _, c := range conversations {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			c.ID, title, c.MessageCount, formatTime(c.CreatedAt))
	}
	return tw.Flush()
}

func runMessages(ctx context.Context, a *app.App, rawID string, w io.Writer) error {
	if !a.Available() {
		return fmt.Errorf("database not available")
	}

	conversationID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid conversation ID %q: %w", rawID, err)
	}

	messages, err := a.Store().ConversationMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		fmt.Fprintln(w, "no messages")
		return nil
	}

	for _, m := range messages {
		fmt.Fprintf(w, "[%s] %s (%s)\n", formatTime(m.CreatedAt), m.Role, m.Status)
		switch {
		case m.Status == store.StatusPending && m.QueryID != nil:
			fmt.Fprintf(w, "  awaiting query %s\n", *m.QueryID)
		case m.Content != nil:
			fmt.Fprintf(w, "  %s\n", *m.Content)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
