package history

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Store] and tracks whether the backend is failing.
//
// Writes keep returning their errors so callers can report them. Reads of
// conversation context are made non-fatal: on failure an empty slice is
// returned and a warning logged, because a reply can still be generated
// without prior turns. Every failed call marks the guard degraded; every
// successful call clears the flag.
type Guard struct {
	store    Store
	degraded atomic.Bool
}

// NewGuard wraps store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// GetOrCreateConversation delegates to the wrapped store.
func (g *Guard) GetOrCreateConversation(ctx context.Context, sessionID string) (string, error) {
	id, err := g.store.GetOrCreateConversation(ctx, sessionID)
	g.track(err)
	return id, err
}

// CurrentConversation delegates to the wrapped store. [ErrNotFound] does not
// count as a failure.
func (g *Guard) CurrentConversation(ctx context.Context, sessionID string) (string, error) {
	id, err := g.store.CurrentConversation(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		g.track(err)
	}
	return id, err
}

// AppendHistory delegates to the wrapped store.
func (g *Guard) AppendHistory(ctx context.Context, sessionID, conversationID string, entry Entry) error {
	err := g.store.AppendHistory(ctx, sessionID, conversationID, entry)
	g.track(err)
	return err
}

// History returns the conversation context, or an empty slice if the backend
// fails.
func (g *Guard) History(ctx context.Context, sessionID, conversationID string, limit int) ([]Entry, error) {
	entries, err := g.store.History(ctx, sessionID, conversationID, limit)
	if err != nil {
		g.track(err)
		slog.Warn("history guard: read failed, continuing without context",
			"session_id", sessionID,
			"conversation_id", conversationID,
			"err", err,
		)
		return []Entry{}, nil
	}
	g.track(nil)
	return entries, nil
}

// Ping checks the wrapped store and updates the degraded flag.
func (g *Guard) Ping(ctx context.Context) error {
	err := g.store.Ping(ctx)
	g.track(err)
	return err
}

// Close closes the wrapped store.
func (g *Guard) Close() error {
	return g.store.Close()
}

// Degraded reports whether the most recent backend call failed.
func (g *Guard) Degraded() bool {
	return g.degraded.Load()
}

func (g *Guard) track(err error) {
	g.degraded.Store(err != nil)
}

var _ Store = (*Guard)(nil)
