// Package historytest holds behaviour tests shared by every history.Store
// backend.
package historytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/murmur/pkg/history"
)

// Run exercises store against the [history.Store] contract. newStore must
// return an empty store; it is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) history.Store) {
	t.Helper()

	t.Run("GetOrCreateIsStable", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if _, err := s.CurrentConversation(ctx, "s1"); !errors.Is(err, history.ErrNotFound) {
			t.Fatalf("CurrentConversation before create: got %v, want ErrNotFound", err)
		}
		id1, err := s.GetOrCreateConversation(ctx, "s1")
		if err != nil {
			t.Fatalf("GetOrCreateConversation: %v", err)
		}
		id2, err := s.GetOrCreateConversation(ctx, "s1")
		if err != nil {
			t.Fatalf("GetOrCreateConversation again: %v", err)
		}
		if id1 == "" || id1 != id2 {
			t.Errorf("conversation ids: %q then %q", id1, id2)
		}
		cur, err := s.CurrentConversation(ctx, "s1")
		if err != nil || cur != id1 {
			t.Errorf("CurrentConversation: got %q, %v", cur, err)
		}
		other, err := s.GetOrCreateConversation(ctx, "s2")
		if err != nil {
			t.Fatal(err)
		}
		if other == id1 {
			t.Error("sessions must not share a conversation")
		}
	})

	t.Run("AppendAndRead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id, err := s.GetOrCreateConversation(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		want := []history.Entry{
			history.VoiceEntry("hello"),
			{Role: history.RoleAssistant, Content: "hi!", CreatedAt: at},
			history.VoiceEntry("how are you"),
		}
		for _, e := range want {
			if err := s.AppendHistory(ctx, "s1", id, e); err != nil {
				t.Fatalf("AppendHistory: %v", err)
			}
		}

		got, err := s.History(ctx, "s1", id, 0)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(got) != len(want) {
			t.Fatalf("entries: got %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].Role != want[i].Role || got[i].Content != want[i].Content {
				t.Errorf("entry %d: got %+v, want %+v", i, got[i], want[i])
			}
			if got[i].CreatedAt.IsZero() {
				t.Errorf("entry %d: CreatedAt should be set", i)
			}
		}
		if !got[1].CreatedAt.Equal(at) {
			t.Errorf("explicit CreatedAt: got %v, want %v", got[1].CreatedAt, at)
		}

		recent, err := s.History(ctx, "s1", id, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(recent) != 2 || recent[0].Content != "hi!" || recent[1].Content != history.VoicePrefix+"how are you" {
			t.Errorf("limited history: %+v", recent)
		}
	})

	t.Run("AppendToForeignConversation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id, err := s.GetOrCreateConversation(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if err := s.AppendHistory(ctx, "s2", id, history.VoiceEntry("x")); !errors.Is(err, history.ErrNotFound) {
			t.Errorf("append with wrong session: got %v, want ErrNotFound", err)
		}
		if err := s.AppendHistory(ctx, "s1", "missing", history.VoiceEntry("x")); !errors.Is(err, history.ErrNotFound) {
			t.Errorf("append to unknown conversation: got %v, want ErrNotFound", err)
		}
		if err := s.AppendHistory(ctx, "s1", id, history.Entry{Content: "no role"}); err == nil {
			t.Error("entry without role should be rejected")
		}
		got, err := s.History(ctx, "s2", id, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("another session must not read the conversation, got %d entries", len(got))
		}
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id, err := s.GetOrCreateConversation(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}

		const n = 20
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.AppendHistory(ctx, "s1", id, history.VoiceEntry(fmt.Sprint(i))); err != nil {
					t.Errorf("AppendHistory %d: %v", i, err)
				}
			}()
		}
		wg.Wait()

		got, err := s.History(ctx, "s1", id, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != n {
			t.Errorf("entries: got %d, want %d", len(got), n)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		if err := s.Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
