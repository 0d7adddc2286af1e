// Package sqlite is an embedded [history.Store] backed by SQLite through
// github.com/mattn/go-sqlite3. It needs cgo.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/MrWong99/murmur/pkg/history"
)

var _ history.Store = (*Store)(nil)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT    PRIMARY KEY,
		session_id  TEXT    NOT NULL UNIQUE,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_entries (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id  TEXT    NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
		role             TEXT    NOT NULL,
		content          TEXT    NOT NULL,
		created_at       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_entries_conversation
		ON conversation_entries (conversation_id, id)`,
}

// Store keeps conversations in a SQLite database. Writes are serialised by a
// mutex so appends to one conversation keep their call order.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens the database at dsn and runs the migrations. Use ":memory:"
// for a throwaway database.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: open: %w", err)
	}
	// Every connection to an in-memory database sees its own empty database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite history: enable foreign keys: %w", err)
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite history: migrate: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// GetOrCreateConversation implements [history.Store].
func (s *Store) GetOrCreateConversation(ctx context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, session_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id) DO NOTHING`,
		uuid.NewString(), sessionID, now, now)
	if err != nil {
		return "", fmt.Errorf("sqlite history: create conversation: %w", err)
	}
	return s.current(ctx, sessionID)
}

// CurrentConversation implements [history.Store].
func (s *Store) CurrentConversation(ctx context.Context, sessionID string) (string, error) {
	return s.current(ctx, sessionID)
}

func (s *Store) current(ctx context.Context, sessionID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM conversations WHERE session_id = ?`, sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", history.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite history: current conversation: %w", err)
	}
	return id, nil
}

// AppendHistory implements [history.Store]. It returns [history.ErrNotFound]
// if conversationID does not belong to sessionID.
func (s *Store) AppendHistory(ctx context.Context, sessionID, conversationID string, entry history.Entry) error {
	if entry.Role == "" {
		return errors.New("sqlite history: append: empty role")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite history: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ? AND session_id = ?`,
		time.Now().UnixNano(), conversationID, sessionID)
	if err != nil {
		return fmt.Errorf("sqlite history: append: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("sqlite history: append: %w", err)
	} else if n == 0 {
		return fmt.Errorf("sqlite history: append to %q: %w", conversationID, history.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_entries (conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?)`,
		conversationID, entry.Role, entry.Content, createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite history: append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite history: commit: %w", err)
	}
	return nil
}

// History implements [history.Store].
func (s *Store) History(ctx context.Context, sessionID, conversationID string, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM (
		     SELECT e.id, e.role, e.content, e.created_at
		     FROM   conversation_entries e
		     JOIN   conversations c ON c.id = e.conversation_id
		     WHERE  e.conversation_id = ? AND c.session_id = ?
		     ORDER  BY e.id DESC
		     LIMIT  ?
		 ) ORDER BY id`,
		conversationID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: history: %w", err)
	}
	defer rows.Close()

	var entries []history.Entry
	for rows.Next() {
		var (
			e  history.Entry
			ns int64
		)
		if err := rows.Scan(&e.Role, &e.Content, &ns); err != nil {
			return nil, fmt.Errorf("sqlite history: scan: %w", err)
		}
		e.CreatedAt = time.Unix(0, ns)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite history: rows: %w", err)
	}
	return entries, nil
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [history.Store].
func (s *Store) Close() error {
	return s.db.Close()
}
