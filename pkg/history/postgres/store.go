package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/murmur/pkg/history"
)

var _ history.Store = (*Store)(nil)

// Store keeps conversations in PostgreSQL. Each session owns exactly one
// conversation row; entries are ordered by their serial id, so concurrent
// appends to the same conversation are serialised by the database.
//
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres history: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: %w", err)
	}
	return &Store{pool: pool}, nil
}

// GetOrCreateConversation implements [history.Store].
func (s *Store) GetOrCreateConversation(ctx context.Context, sessionID string) (string, error) {
	const insert = `
		INSERT INTO conversations (id, session_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, insert, uuid.NewString(), sessionID); err != nil {
		return "", fmt.Errorf("postgres history: create conversation: %w", err)
	}
	id, err := s.CurrentConversation(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return id, nil
}

// CurrentConversation implements [history.Store].
func (s *Store) CurrentConversation(ctx context.Context, sessionID string) (string, error) {
	const q = `SELECT id FROM conversations WHERE session_id = $1`

	var id string
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", history.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres history: current conversation: %w", err)
	}
	return id, nil
}

// AppendHistory implements [history.Store]. It returns [history.ErrNotFound]
// if conversationID does not belong to sessionID.
func (s *Store) AppendHistory(ctx context.Context, sessionID, conversationID string, entry history.Entry) error {
	if entry.Role == "" {
		return errors.New("postgres history: append: empty role")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const touch = `
			UPDATE conversations SET updated_at = now()
			WHERE  id = $1 AND session_id = $2`
		tag, err := tx.Exec(ctx, touch, conversationID, sessionID)
		if err != nil {
			return fmt.Errorf("postgres history: append: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres history: append to %q: %w", conversationID, history.ErrNotFound)
		}

		const insert = `
			INSERT INTO conversation_entries (conversation_id, role, content, created_at)
			VALUES ($1, $2, $3, $4)`
		if _, err := tx.Exec(ctx, insert, conversationID, entry.Role, entry.Content, createdAt); err != nil {
			return fmt.Errorf("postgres history: append: %w", err)
		}
		return nil
	})
}

// History implements [history.Store].
func (s *Store) History(ctx context.Context, sessionID, conversationID string, limit int) ([]history.Entry, error) {
	const q = `
		SELECT role, content, created_at FROM (
		    SELECT e.id, e.role, e.content, e.created_at
		    FROM   conversation_entries e
		    JOIN   conversations c ON c.id = e.conversation_id
		    WHERE  e.conversation_id = $1 AND c.session_id = $2
		    ORDER  BY e.id DESC
		    LIMIT  $3
		) recent
		ORDER BY id`

	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, q, conversationID, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("postgres history: history: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var e history.Entry
		err := row.Scan(&e.Role, &e.Content, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres history: scan history: %w", err)
	}
	return entries, nil
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [history.Store]. It releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
