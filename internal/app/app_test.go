package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	discordmock "github.com/MrWong99/murmur/internal/discord/mock"
	"github.com/MrWong99/murmur/pkg/history"
	historymock "github.com/MrWong99/murmur/pkg/history/mock"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	llmmock "github.com/MrWong99/murmur/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/murmur/pkg/provider/stt/mock"
	"github.com/MrWong99/murmur/pkg/types"
)

// testConfig returns a valid config whose temp files live under t.TempDir().
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ListenAddr = ""
	cfg.Discord.Token = "test-token"
	cfg.Providers.STT.Name = "mock"
	cfg.Providers.LLM.Name = "mock"
	cfg.Processing.TempDir = t.TempDir()
	cfg.Output.ConsoleOutput = false
	return cfg
}

type fixture struct {
	app     *app.App
	store   *historymock.Store
	sender  *discordmock.Sender
	llm     *llmmock.Provider
	stt     *sttmock.Provider
	cfg     *config.Config
	level   *slog.LevelVar
	tempDir string
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	f := &fixture{
		store:  &historymock.Store{},
		sender: &discordmock.Sender{},
		llm: &llmmock.Provider{StreamChunks: []llm.Chunk{
			{Text: "Hi "},
			{Text: "there!"},
			{FinishReason: "stop"},
		}},
		stt:   &sttmock.Provider{Transcript: types.Transcript{Text: "hello bot"}},
		cfg:   testConfig(t),
		level: new(slog.LevelVar),
	}
	if mutate != nil {
		mutate(f.cfg)
	}
	f.tempDir = f.cfg.Processing.TempDir

	a, err := app.New(context.Background(), f.cfg,
		&app.Providers{LLM: f.llm, STT: f.stt},
		app.WithHistoryStore(f.store),
		app.WithSender(f.sender),
		app.WithLogLevel(f.level),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	f.app = a
	return f
}

func TestNew_RequiresSTT(t *testing.T) {
	t.Parallel()
	_, err := app.New(context.Background(), testConfig(t), &app.Providers{})
	if err == nil {
		t.Fatal("expected error without STT provider")
	}
}

func TestNew_RegistersHandlersAndCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	var names []string
	for _, c := range f.app.Router().ApplicationCommands() {
		names = append(names, c.Name)
	}
	want := map[string]bool{"voice_status": true, "voice_test": true, "voice_debug": true}
	if len(names) != len(want) {
		t.Fatalf("commands = %v", names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected command %q", n)
		}
	}
	if f.app.Admin() != nil {
		t.Error("admin server should not be built without listen address")
	}
}

func TestNew_SQLiteBackend(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.History.Backend = config.HistorySQLite
	cfg.History.DSN = filepath.Join(t.TempDir(), "history.db")

	a, err := app.New(context.Background(), cfg,
		&app.Providers{STT: &sttmock.Provider{}},
		app.WithSender(&discordmock.Sender{}),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if _, err := os.Stat(cfg.History.DSN); err != nil {
		t.Errorf("database file should exist: %v", err)
	}
}

func TestTextMessage_RoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	ran := f.app.Chain().Dispatch(context.Background(), &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   "how are you?",
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	})
	if len(ran) != 2 || ran[0] != "voice" || ran[1] != "text" {
		t.Errorf("handlers ran = %v, want [voice text]", ran)
	}

	if got := f.sender.Contents(); len(got) != 1 || got[0] != "Hi there!" {
		t.Fatalf("sent = %q, want one reply %q", got, "Hi there!")
	}
	if n := f.store.AppendCount(); n != 2 {
		t.Fatalf("appends = %d, want user + assistant", n)
	}
	if c := f.store.AppendCalls[1]; c.Entry.Role != history.RoleAssistant || c.SessionID != "discord:dm:c1" {
		t.Errorf("second append = %+v", c)
	}
}

func TestVoiceMessage_RoundTrip(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ID3\x04fake-mp3"))
	}))
	defer srv.Close()
	f := newFixture(t, nil)

	ran := f.app.Chain().Dispatch(context.Background(), &discordgo.Message{
		ID:        "m2",
		ChannelID: "c2",
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
		Attachments: []*discordgo.MessageAttachment{{
			ID:          "a1",
			URL:         srv.URL + "/memo.mp3",
			Filename:    "memo.mp3",
			ContentType: "audio/mpeg",
		}},
	})
	if len(ran) != 1 || ran[0] != "voice" {
		t.Errorf("handlers ran = %v, want only voice", ran)
	}

	if got := f.sender.Contents(); len(got) != 1 || got[0] != "Hi there!" {
		t.Fatalf("sent = %q", got)
	}
	if len(f.stt.Calls) != 1 {
		t.Fatalf("transcribe calls = %d", len(f.stt.Calls))
	}
	if n := f.store.AppendCount(); n != 2 {
		t.Fatalf("appends = %d, want voice transcript + assistant", n)
	}
	if got := f.store.AppendCalls[0].Entry; got != history.VoiceEntry("hello bot") {
		t.Errorf("first entry = %+v", got)
	}
	if len(f.llm.StreamCalls) != 1 {
		t.Errorf("llm calls = %d", len(f.llm.StreamCalls))
	}
	if st, ok := f.app.Decisions().SessionStatistics("discord:dm:c2"); !ok || st.SessionID != "discord:dm:c2" {
		t.Error("decision engine should track the session")
	}
}

func TestRecordOnlyWithoutLLM(t *testing.T) {
	t.Parallel()
	store := &historymock.Store{}
	sender := &discordmock.Sender{}
	a, err := app.New(context.Background(), testConfig(t),
		&app.Providers{STT: &sttmock.Provider{}},
		app.WithHistoryStore(store),
		app.WithSender(sender),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.Pipeline().Options().ChatReplyEnabled {
		t.Error("chat reply should be off without an LLM provider")
	}
	a.Chain().Dispatch(context.Background(), &discordgo.Message{
		ID: "m1", ChannelID: "c1", Content: "hi",
		Author: &discordgo.User{ID: "u1"},
	})
	if got := sender.Contents(); len(got) != 0 {
		t.Errorf("no reply expected without an LLM, got %q", got)
	}
}

func TestReload(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	next := *f.cfg
	next.Server.LogLevel = config.LogDebug
	next.ChatReply.EnableProbabilisticReply = true
	next.ChatReply.ReplyProbability = 0.5
	next.GroupVoice.EnableRecognition = true
	next.GroupVoice.RecognitionWhitelist = []string{"g1"}
	next.Output.ConsoleOutput = true
	next.History.ContextLimit = 7
	next.Providers.STT.Name = "whisper"

	d := f.app.Reload(f.cfg, &next)

	if !d.PolicyChanged || !d.PermissionsChanged || !d.RestartRequired {
		t.Errorf("diff = %+v", d)
	}
	if info := f.app.Decisions().StrategyInfo(); !info.Enabled || info.Probability != 0.5 {
		t.Errorf("strategy = %+v", info)
	}
	if st := f.app.Gate().Status("g1"); !st.RecognitionEnabled || !st.GroupAllowed {
		t.Errorf("gate status = %+v", st)
	}
	if o := f.app.Pipeline().Options(); !o.ConsoleOutput || o.HistoryContextLimit != 7 {
		t.Errorf("options = %+v", o)
	}
	if f.level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", f.level.Level())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *config.Config) { c.Server.ListenAddr = "127.0.0.1:0" })
	if f.app.Admin() == nil {
		t.Fatal("admin server should be built")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestShutdown_ClosesResources(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !f.store.Closed {
		t.Error("history store should be closed")
	}
	entries, err := os.ReadDir(f.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("voice temp dir should be removed, found %d entries", len(entries))
	}
	// Idempotent.
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestShutdown_RespectsDeadline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.app.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
}
