// Package decision implements the probabilistic reply decision engine and the
// per-session TTL store that tracks when each session was last evaluated.
//
// The store is the only shared mutable state touched by concurrent pipeline
// runs. Every operation takes the store's mutex for the duration of a map
// access and nothing else; callers never hold it across I/O.
package decision

import (
	"maps"
	"sync"
	"time"
)

// DefaultSessionMaxAge is the age after which an idle session entry is swept.
const DefaultSessionMaxAge = time.Hour

// SessionStore maps a session identifier to the time its last reply decision
// was made. It is safe for concurrent use.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]time.Time
}

// NewSessionStore returns an empty, ready-to-use [SessionStore].
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]time.Time)}
}

// Touch records now as the last decision time for sessionID, replacing any
// previous value. An empty sessionID is ignored.
//
// A timestamp older than the stored one is dropped so that the per-session
// value never moves backwards when concurrent runs race.
func (s *SessionStore) Touch(sessionID string, now time.Time) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.sessions[sessionID]; ok && now.Before(prev) {
		return
	}
	s.sessions[sessionID] = now
}

// Sweep removes every entry whose age at now is strictly greater than maxAge
// and returns the number of entries removed. A non-positive maxAge falls back
// to [DefaultSessionMaxAge].
func (s *SessionStore) Sweep(now time.Time, maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, at := range s.sessions {
		if now.Sub(at) > maxAge {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Lookup returns the last decision time recorded for sessionID.
func (s *SessionStore) Lookup(sessionID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.sessions[sessionID]
	return at, ok
}

// Len returns the number of tracked sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Snapshot returns a copy of all tracked sessions.
func (s *SessionStore) Snapshot() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.sessions)
}
