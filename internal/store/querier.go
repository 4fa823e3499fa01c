package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier defines the database operations the Store depends on.
// The interface is defined here, by the consumer, so tests can substitute
// a mock without a database.
type Querier interface {
	InsertConversation(ctx context.Context, userID string) (Conversation, error)
	ConversationsByUser(ctx context.Context, userID string) ([]Conversation, error)
	SetConversationTitle(ctx context.Context, id uuid.UUID, title string) error

	InsertMessage(ctx context.Context, arg InsertMessageParams) (Message, error)
	MessagesByConversation(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
	MessageByID(ctx context.Context, id uuid.UUID) (Message, error)
	PendingMessageByQueryID(ctx context.Context, queryID string) (Message, error)

	// ResolveMessage moves a pending message to its terminal status. It
	// returns pgx.ErrNoRows when the row is absent or no longer pending;
	// the caller distinguishes the two cases with MessageByID.
	ResolveMessage(ctx context.Context, arg ResolveMessageParams) (Message, error)
}

// InsertMessageParams carries one new message row.
type InsertMessageParams struct {
	ConversationID uuid.UUID
	Role           string
	Content        *string
	QueryID        *string
	Status         Status
}

// ResolveMessageParams carries a pending message's terminal state.
type ResolveMessageParams struct {
	ID      uuid.UUID
	Status  Status
	Content *string
}

// Runner executes a function against a pooled database connection.
// database.Manager satisfies it in production; tests use a plain pool.
type Runner interface {
	WithConn(ctx context.Context, fn func(ctx context.Context, conn *pgxpool.Conn) error) error
}

// PgxQuerier implements Querier with hand-written SQL over a Runner.
type PgxQuerier struct {
	runner Runner
}

// NewPgxQuerier creates a Querier backed by the given connection runner.
func NewPgxQuerier(runner Runner) *PgxQuerier {
	return &PgxQuerier{runner: runner}
}

const conversationCols = "id, user_id, title, created_at"

const messageCols = "id, conversation_id, role, content, query_id, status, created_at, updated_at"

func (q *PgxQuerier) InsertConversation(ctx context.Context, userID string) (Conversation, error) {
	var c Conversation
	err := q.runner.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx,
			`INSERT INTO conversations (user_id) VALUES ($1) RETURNING `+conversationCols,
			userID)
		return scanConversation(row, &c)
	})
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (q *PgxQuerier) ConversationsByUser(ctx context.Context, userID string) ([]Conversation, error) {
	var out []Conversation
	err := q.runner.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT c.id, c.user_id, c.title, c.created_at, count(m.id) AS message_count
			   FROM conversations c
			   LEFT JOIN messages m ON m.conversation_id = c.id
			  WHERE c.user_id = $1
			  GROUP BY c.id
			  ORDER BY c.created_at DESC, c.id DESC`,
			userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var (
				c     Conversation
				id    pgtype.UUID
				title pgtype.Text
				count int64
			)
			if err := rows.Scan(&id, &c.UserID, &title, &c.CreatedAt, &count); err != nil {
				return err
			}
			c.ID = pgUUIDToUUID(id)
			c.Title = title.String
			c.MessageCount = int(count)
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *PgxQuerier) SetConversationTitle(ctx context.Context, id uuid.UUID, title string) error {
	return q.runner.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx,
			`UPDATE conversations SET title = $2 WHERE id = $1`,
			uuidToPgUUID(id), title)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
}

func (q *PgxQuerier) InsertMessage(ctx context.Context, arg InsertMessageParams) (Message, error) {
	var m Message
	err := q.runner.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx,
			`INSERT INTO messages (conversation_id, role, content, query_id, status)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+messageCols,
			uuidToPgUUID(arg.ConversationID), arg.Role, arg.Content, arg.QueryID, string(arg.Status))
		return scanMessage(row, &m)
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func (q *PgxQuerier) MessagesByConversation(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	var out []Message
	err := q.runner.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+messageCols+`
			   FROM messages
			  WHERE conversation_id = $1
			  ORDER BY created_at ASC, id ASC`,
			uuidToPgUUID(conversationID))
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var m Message
			if err := scanMessage(rows, &m); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *PgxQuerier) MessageByID(ctx context.Context, id uuid.UUID) (Message, error) {
	var m Message
	err := q.runner.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx,
			`SELECT `+messageCols+` FROM messages WHERE id = $1`,
			uuidToPgUUID(id))
		return scanMessage(row, &m)
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func (q *PgxQuerier) PendingMessageByQueryID(ctx context.Context, queryID string) (Message, error) {
	var m Message
	err := q.runner.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx,
			`SELECT `+messageCols+`
			   FROM messages
			  WHERE query_id = $1 AND status = 'pending'
			  ORDER BY created_at DESC, id DESC
			  LIMIT 1`,
			queryID)
		return scanMessage(row, &m)
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func (q *PgxQuerier) ResolveMessage(ctx context.Context, arg ResolveMessageParams) (Message, error) {
	var m Message
	err := q.runner.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		// The status guard in the WHERE clause makes the transition
		// atomic: a message that already left pending is never touched.
		row := conn.QueryRow(ctx,
			`UPDATE messages
			    SET status = $2, content = $3, updated_at = now()
			  WHERE id = $1 AND status = 'pending'
			 RETURNING `+messageCols,
			uuidToPgUUID(arg.ID), string(arg.Status), arg.Content)
		return scanMessage(row, &m)
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner, c *Conversation) error {
	var (
		id    pgtype.UUID
		title pgtype.Text
	)
	if err := row.Scan(&id, &c.UserID, &title, &c.CreatedAt); err != nil {
		return err
	}
	c.ID = pgUUIDToUUID(id)
	c.Title = title.String
	return nil
}

func scanMessage(row scanner, m *Message) error {
	var (
		id      pgtype.UUID
		convID  pgtype.UUID
		content pgtype.Text
		queryID pgtype.Text
		status  string
	)
	if err := row.Scan(&id, &convID, &m.Role, &content, &queryID, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return err
	}
	m.ID = pgUUIDToUUID(id)
	m.ConversationID = pgUUIDToUUID(convID)
	m.Content = textToPtr(content)
	m.QueryID = textToPtr(queryID)
	m.Status = Status(status)
	return nil
}

func uuidToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgUUIDToUUID(id pgtype.UUID) uuid.UUID {
	return uuid.UUID(id.Bytes)
}

func textToPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

// isForeignKeyViolation reports whether err is a foreign-key constraint
// failure, raised when a message names a conversation that does not exist.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
