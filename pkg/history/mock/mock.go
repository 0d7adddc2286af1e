// Package mock provides an in-memory, call-recording implementation of
// history.Store for unit tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/murmur/pkg/history"
)

// AppendCall records a single invocation of AppendHistory.
type AppendCall struct {
	SessionID      string
	ConversationID string
	Entry          history.Entry
}

// Store is a mock implementation of history.Store. Conversations are kept in
// memory so reads observe earlier writes. Set the Err fields to inject
// failures.
type Store struct {
	mu sync.Mutex

	// GetOrCreateErr, if non-nil, is returned by GetOrCreateConversation.
	GetOrCreateErr error

	// AppendErr, if non-nil, is returned by AppendHistory.
	AppendErr error

	// HistoryErr, if non-nil, is returned by History.
	HistoryErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// AppendCalls records every invocation of AppendHistory in order.
	AppendCalls []AppendCall

	// GetOrCreateCalls records the session IDs passed to GetOrCreateConversation.
	GetOrCreateCalls []string

	// HistoryCalls counts History invocations.
	HistoryCalls int

	// Closed is set by Close.
	Closed bool

	current map[string]string
	entries map[string][]history.Entry
	seq     int
}

// Seed makes conversationID the current conversation of sessionID with the
// given entries.
func (s *Store) Seed(sessionID, conversationID string, entries ...history.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.current[sessionID] = conversationID
	s.entries[conversationID] = append(s.entries[conversationID], entries...)
}

// GetOrCreateConversation implements history.Store.
func (s *Store) GetOrCreateConversation(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.GetOrCreateCalls = append(s.GetOrCreateCalls, sessionID)
	if s.GetOrCreateErr != nil {
		return "", s.GetOrCreateErr
	}
	if id, ok := s.current[sessionID]; ok {
		return id, nil
	}
	s.seq++
	id := fmt.Sprintf("conv-%d", s.seq)
	s.current[sessionID] = id
	return id, nil
}

// CurrentConversation implements history.Store.
func (s *Store) CurrentConversation(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	id, ok := s.current[sessionID]
	if !ok {
		return "", history.ErrNotFound
	}
	return id, nil
}

// AppendHistory implements history.Store.
func (s *Store) AppendHistory(_ context.Context, sessionID, conversationID string, entry history.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.AppendCalls = append(s.AppendCalls, AppendCall{SessionID: sessionID, ConversationID: conversationID, Entry: entry})
	if s.AppendErr != nil {
		return s.AppendErr
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries[conversationID] = append(s.entries[conversationID], entry)
	return nil
}

// History implements history.Store.
func (s *Store) History(_ context.Context, _, conversationID string, limit int) ([]history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.HistoryCalls++
	if s.HistoryErr != nil {
		return nil, s.HistoryErr
	}
	all := s.entries[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]history.Entry, len(all))
	copy(out, all)
	return out, nil
}

// Ping implements history.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements history.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// AppendCount returns the number of AppendHistory calls.
func (s *Store) AppendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.AppendCalls)
}

func (s *Store) init() {
	if s.current == nil {
		s.current = make(map[string]string)
		s.entries = make(map[string][]history.Entry)
	}
}

var _ history.Store = (*Store)(nil)
