// Package history defines the conversation history store used to record
// transcribed voice messages and the replies they receive.
//
// History is append-only: entries are added to the end of a conversation and
// never rewritten or removed. Each session has at most one current
// conversation; [Store.GetOrCreateConversation] creates it on first use.
//
// Backends live in sub-packages (postgres, sqlite). Every implementation must
// be safe for concurrent use and must serialise appends to the same
// conversation.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session has no conversation yet.
var ErrNotFound = errors.New("history: conversation not found")

// Entry roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// VoicePrefix is prepended to the transcript of every recorded voice message.
const VoicePrefix = "[voice message] "

// Entry is one turn of a conversation.
type Entry struct {
	// Role is RoleUser or RoleAssistant.
	Role string `json:"role"`

	// Content is the text of the turn.
	Content string `json:"content"`

	// CreatedAt is set by the store when zero.
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// VoiceEntry returns the user entry recorded for a transcribed voice message.
func VoiceEntry(transcript string) Entry {
	return Entry{Role: RoleUser, Content: VoicePrefix + transcript}
}

// Store persists conversations keyed by session.
type Store interface {
	// GetOrCreateConversation returns the current conversation ID of
	// sessionID, creating a new conversation if there is none.
	GetOrCreateConversation(ctx context.Context, sessionID string) (string, error)

	// CurrentConversation returns the current conversation ID of sessionID or
	// [ErrNotFound].
	CurrentConversation(ctx context.Context, sessionID string) (string, error)

	// AppendHistory adds entry to the end of the conversation.
	AppendHistory(ctx context.Context, sessionID, conversationID string, entry Entry) error

	// History returns up to limit of the most recent entries of the
	// conversation in chronological order. limit <= 0 returns all entries.
	History(ctx context.Context, sessionID, conversationID string, limit int) ([]Entry, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
