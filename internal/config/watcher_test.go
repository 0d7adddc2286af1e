package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
discord:
  token: t
providers:
  stt:
    name: whisper
`

const watcherUpdatedYAML = `
server:
  log_level: debug
discord:
  token: t
providers:
  stt:
    name: whisper
Chat_Reply:
  Reply_Probability: 0.8
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime moves the file's mtime forward so the watcher sees a change
// regardless of filesystem timestamp granularity.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	ts := time.Now().Add(by)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

type recorder struct {
	mu    sync.Mutex
	calls [][2]*config.Config
}

func (r *recorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]*config.Config{old, new})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newWatcher(t *testing.T, content string, rec *recorder) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "murmur.yaml")
	writeFile(t, path, content)
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := newWatcher(t, watcherValidYAML, &recorder{})

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	w, path := newWatcher(t, watcherValidYAML, rec)

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path, time.Second)
	w.Check()

	if rec.count() != 1 {
		t.Fatalf("callback calls: got %d, want 1", rec.count())
	}
	old, cur := rec.calls[0][0], rec.calls[0][1]
	if old.Server.LogLevel != config.LogInfo || cur.Server.LogLevel != config.LogDebug {
		t.Errorf("callback configs: old=%q new=%q", old.Server.LogLevel, cur.Server.LogLevel)
	}
	if w.Current().ChatReply.ReplyProbability != 0.8 {
		t.Errorf("Current() not updated: %+v", w.Current().ChatReply)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	w, path := newWatcher(t, watcherValidYAML, rec)

	writeFile(t, path, watcherInvalidYAML)
	bumpMtime(t, path, time.Second)
	w.Check()

	if rec.count() != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", rec.count())
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	w, path := newWatcher(t, watcherValidYAML, rec)

	bumpMtime(t, path, time.Second)
	w.Check()

	if rec.count() != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", rec.count())
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	w, path := newWatcher(t, watcherValidYAML, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path, time.Second)

	deadline := time.After(2 * time.Second)
	for rec.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("callback was not invoked within timeout")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
