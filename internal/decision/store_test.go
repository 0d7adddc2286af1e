package decision_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/decision"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSessionStore_TouchAndLookup(t *testing.T) {
	t.Parallel()
	s := decision.NewSessionStore()

	if _, ok := s.Lookup("s1"); ok {
		t.Fatal("Lookup on empty store: want not found")
	}

	s.Touch("s1", t0)
	got, ok := s.Lookup("s1")
	if !ok {
		t.Fatal("Lookup after Touch: want found")
	}
	if !got.Equal(t0) {
		t.Errorf("Lookup: got %v, want %v", got, t0)
	}

	later := t0.Add(time.Minute)
	s.Touch("s1", later)
	got, _ = s.Lookup("s1")
	if !got.Equal(later) {
		t.Errorf("Lookup after second Touch: got %v, want %v", got, later)
	}
}

func TestSessionStore_TouchEmptyIDIsNoop(t *testing.T) {
	t.Parallel()
	s := decision.NewSessionStore()
	s.Touch("", t0)
	if n := s.Len(); n != 0 {
		t.Errorf("Len: got %d, want 0", n)
	}
}

func TestSessionStore_TouchNeverMovesBackwards(t *testing.T) {
	t.Parallel()
	s := decision.NewSessionStore()
	s.Touch("s1", t0)
	s.Touch("s1", t0.Add(-time.Second))
	got, _ := s.Lookup("s1")
	if !got.Equal(t0) {
		t.Errorf("Lookup: got %v, want %v", got, t0)
	}
}

func TestSessionStore_Sweep(t *testing.T) {
	t.Parallel()
	maxAge := time.Hour

	tests := []struct {
		name        string
		now         time.Time
		wantRemoved int
		wantFound   bool
	}{
		{name: "past max age", now: t0.Add(maxAge + time.Second), wantRemoved: 1, wantFound: false},
		{name: "before max age", now: t0.Add(maxAge - time.Second), wantRemoved: 0, wantFound: true},
		{name: "exactly max age", now: t0.Add(maxAge), wantRemoved: 0, wantFound: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := decision.NewSessionStore()
			s.Touch("s1", t0)

			if got := s.Sweep(tc.now, maxAge); got != tc.wantRemoved {
				t.Errorf("Sweep removed: got %d, want %d", got, tc.wantRemoved)
			}
			if _, ok := s.Lookup("s1"); ok != tc.wantFound {
				t.Errorf("Lookup after Sweep: got found=%v, want %v", ok, tc.wantFound)
			}
		})
	}
}

func TestSessionStore_SweepDefaultMaxAge(t *testing.T) {
	t.Parallel()
	s := decision.NewSessionStore()
	s.Touch("old", t0)
	s.Touch("fresh", t0.Add(59*time.Minute))

	removed := s.Sweep(t0.Add(decision.DefaultSessionMaxAge+time.Second), 0)
	if removed != 1 {
		t.Fatalf("Sweep removed: got %d, want 1", removed)
	}
	if _, ok := s.Lookup("fresh"); !ok {
		t.Error("fresh session should survive the sweep")
	}
}

func TestSessionStore_Snapshot(t *testing.T) {
	t.Parallel()
	s := decision.NewSessionStore()
	s.Touch("a", t0)
	s.Touch("b", t0)

	snap := s.Snapshot()
	delete(snap, "a")
	if s.Len() != 2 {
		t.Error("mutating a snapshot must not affect the store")
	}
}

func TestSessionStore_Concurrent(t *testing.T) {
	t.Parallel()
	s := decision.NewSessionStore()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%10)
			for j := range 100 {
				s.Touch(id, t0.Add(time.Duration(j)*time.Second))
				s.Lookup(id)
				if j%25 == 0 {
					s.Sweep(t0, time.Hour)
				}
			}
		}()
	}
	wg.Wait()

	if n := s.Len(); n != 10 {
		t.Errorf("Len: got %d, want 10", n)
	}
	for i := range 10 {
		got, ok := s.Lookup(fmt.Sprintf("s%d", i))
		if !ok {
			t.Fatalf("session s%d missing", i)
		}
		if want := t0.Add(99 * time.Second); !got.Equal(want) {
			t.Errorf("s%d: got %v, want %v", i, got, want)
		}
	}
}
