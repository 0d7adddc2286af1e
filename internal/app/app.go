// Package app wires all murmur subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves Discord, the admin API and the config watcher
// until the context ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithSender). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/admin"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/decision"
	"github.com/MrWong99/murmur/internal/discord"
	"github.com/MrWong99/murmur/internal/discord/commands"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/permission"
	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/internal/reply"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/internal/voicefile"
	"github.com/MrWong99/murmur/pkg/history"
	"github.com/MrWong99/murmur/pkg/history/postgres"
	"github.com/MrWong99/murmur/pkg/history/sqlite"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// DefaultSweepInterval is how often idle decision sessions are swept when
// WithSweepInterval is not given.
const DefaultSweepInterval = 10 * time.Minute

// Providers holds the provider instances built by main.go via the config
// registry. A nil LLM runs murmur in record-only mode.
type Providers struct {
	LLM          llm.Provider
	STT          stt.Provider
	STTFallbacks []stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	configPath    string
	logLevel      *slog.LevelVar
	telemetry     *observe.Telemetry
	metrics       *observe.Metrics
	sweepInterval time.Duration

	// Subsystems, initialised in New and torn down in Shutdown.
	store     history.Store
	guard     *history.Guard
	stt       *resilience.STTFallback
	replies   *reply.Generator
	files     *voicefile.Processor
	decisions *decision.Engine
	gate      *permission.Gate
	pipeline  *pipeline.Pipeline
	stats     *discord.PipelineStats
	chain     *discord.Chain
	router    *discord.CommandRouter
	sender    discord.Sender
	bot       *discord.Bot
	admin     *admin.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithHistoryStore injects a history store instead of opening the
// configured backend. The app takes ownership and closes it on Shutdown.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSender injects the Discord message sender. When set, New does not
// create a Discord bot.
func WithSender(s discord.Sender) Option {
	return func(a *App) { a.sender = s }
}

// WithConfigPath enables hot reload: Run watches path and applies changes
// through [App.Reload].
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevel sets the level variable updated when server.log_level is
// reloaded.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithTelemetry exposes t's Prometheus registry on /metrics.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithSweepInterval sets how often idle decision sessions are removed.
func WithSweepInterval(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.sweepInterval = d
		}
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It does not connect
// to Discord or open the admin listener; Run does.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: an STT provider is required")
	}
	a := &App{
		cfg:           cfg,
		providers:     providers,
		logLevel:      new(slog.LevelVar),
		metrics:       observe.DefaultMetrics(),
		sweepInterval: DefaultSweepInterval,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. History store ─────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Providers ─────────────────────────────────────────────────────
	a.initProviders()

	// ── 3. Voice file processor ──────────────────────────────────────────
	files, err := voicefile.New(voicefile.Config{
		TempDir:         cfg.Processing.TempDir,
		MaxBytes:        cfg.Processing.MaxFileSizeBytes(),
		DownloadTimeout: cfg.Processing.DownloadTimeout,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init voice files: %w", err)
	}
	a.files = files
	a.closers = append([]func() error{files.Close}, a.closers...)

	// ── 4. Decision engine, gates, pipeline ──────────────────────────────
	a.decisions = decision.New(cfg.DecisionPolicy())
	a.gate = permission.NewGate(cfg.PermissionSettings())
	a.pipeline, err = pipeline.New(pipeline.Collaborators{
		Files:       a.files,
		Transcriber: a.stt,
		History:     a.guard,
		Replies:     a.replies,
		Gate:        a.gate,
		Decider:     a.decisions,
	}, a.pipelineOptions(cfg), pipeline.WithMetrics(a.metrics))
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}

	reg, err := a.metrics.RegisterActiveSessions(a.decisions.Store().Len)
	if err != nil {
		slog.Warn("active sessions gauge unavailable", "err", err)
	} else {
		a.closers = append(a.closers, reg.Unregister)
	}

	// ── 5. Discord transport ─────────────────────────────────────────────
	if err := a.initDiscord(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init discord: %w", err)
	}

	// ── 6. Admin server ──────────────────────────────────────────────────
	a.initAdmin()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory opens the configured history backend unless one was injected
// and wraps it in a [history.Guard].
func (a *App) initHistory(ctx context.Context) error {
	if a.store == nil {
		var err error
		switch a.cfg.History.Backend {
		case config.HistoryPostgres:
			a.store, err = postgres.NewStore(ctx, a.cfg.History.DSN)
		case config.HistorySQLite, "":
			a.store, err = sqlite.NewStore(a.cfg.History.DSN)
		default:
			err = fmt.Errorf("unknown backend %q", a.cfg.History.Backend)
		}
		if err != nil {
			return err
		}
		slog.Info("history store opened", "backend", a.cfg.History.Backend)
	}
	a.guard = history.NewGuard(a.store)
	a.closers = append(a.closers, a.guard.Close)
	return nil
}

// initProviders builds the STT fallback chain and the reply generator.
func (a *App) initProviders() {
	a.stt = resilience.NewSTTFallback(a.providers.STT, resilience.FallbackConfig{})
	for _, fb := range a.providers.STTFallbacks {
		a.stt.AddFallback(fb)
	}

	a.replies = reply.New(a.providers.LLM,
		reply.WithSystemPrompt(a.cfg.EffectiveSystemPrompt()),
		reply.WithRecorder(a.guard),
		reply.WithProviderName(a.cfg.Providers.LLM.Name),
	)
	if !a.replies.Available() {
		slog.Info("no LLM provider configured, running in record-only mode")
	}
}

// initDiscord builds the message chain and slash commands, and creates the
// bot unless a sender was injected.
func (a *App) initDiscord(ctx context.Context) error {
	a.stats = discord.NewPipelineStats(100)
	a.chain = discord.NewChain()
	a.router = discord.NewCommandRouter()

	if a.sender == nil {
		bot, err := discord.New(ctx, discord.Config{
			Token:   a.cfg.Discord.Token,
			GuildID: a.cfg.Discord.GuildID,
		}, a.chain, a.router)
		if err != nil {
			return err
		}
		a.bot = bot
		a.sender = bot.Session()
	}

	// The voice handler runs first and stops propagation once it has
	// answered, so the text responder never replies to a voice message.
	a.chain.Use("voice", discord.NewVoiceHandler(a.pipeline, a.sender, a.stats))
	a.chain.Use("text", discord.NewTextResponder(a.replies, a.guard, a.sender, a.chain.SelfID, a.textConfig))

	vc := &commands.VoiceCommands{
		STT:       a.stt,
		Replies:   a.replies,
		Decisions: a.decisions,
		Gate:      a.gate,
		Files:     a.files,
		Options:   a.pipeline.Options,
		Stats:     a.stats,
	}
	vc.Register(a.router)
	return nil
}

// initAdmin builds the admin HTTP server. It is skipped when no listen
// address is configured.
func (a *App) initAdmin() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}
	probes := health.New(
		health.PingChecker("history", a.guard),
		health.AvailabilityChecker("stt", a.stt.Available),
	)
	opts := []admin.Option{admin.WithHealth(probes), admin.WithMetrics(a.metrics)}
	if a.telemetry != nil {
		opts = append(opts, admin.WithMetricsHandler(a.telemetry.Handler()))
	}
	a.admin = admin.New(admin.Sources{
		Decisions: a.decisions,
		Gate:      a.gate,
		Files:     a.files,
		Stats:     a.stats,
		Options:   a.pipeline.Options,
		Breakers:  a.stt.Breakers,
	}, opts...)
}

// textConfig feeds the text responder the live reply settings.
func (a *App) textConfig() (bool, int) {
	o := a.pipeline.Options()
	return o.ChatReplyEnabled, o.HistoryContextLimit
}

// pipelineOptions derives the hot-reloadable pipeline options from cfg.
// Without an LLM provider replies stay off and voice messages are recorded
// only.
func (a *App) pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		ChatReplyEnabled:    cfg.ChatReply.EnableChatReply && a.replies.Available(),
		ConsoleOutput:       cfg.Output.ConsoleOutput,
		SessionMaxAge:       cfg.Decision.SessionMaxAge,
		HistoryContextLimit: cfg.History.ContextLimit,
		Language:            cfg.Processing.Language,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the voice message pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Chain returns the Discord message handler chain.
func (a *App) Chain() *discord.Chain { return a.chain }

// Router returns the slash command router.
func (a *App) Router() *discord.CommandRouter { return a.router }

// Decisions returns the reply decision engine.
func (a *App) Decisions() *decision.Engine { return a.decisions }

// Gate returns the permission gate.
func (a *App) Gate() *permission.Gate { return a.gate }

// Admin returns the admin server, or nil when server.listen_addr is empty.
func (a *App) Admin() *admin.Server { return a.admin }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves until ctx is cancelled or a component fails. It runs the
// Discord bot, the admin server, the config watcher and the idle session
// sweep. When ctx is done, Run returns context.Canceled (or the underlying
// cause).
func (a *App) Run(ctx context.Context) error {
	var watcher *config.Watcher
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(old, new *config.Config) { a.Reload(old, new) })
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		watcher = w
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.bot != nil {
		g.Go(func() error { return a.bot.Run(gctx) })
	}
	if a.admin != nil {
		var tls *admin.TLS
		if t := a.cfg.Server.TLS; t != nil {
			tls = &admin.TLS{CertFile: t.CertFile, KeyFile: t.KeyFile}
		}
		g.Go(func() error { return a.admin.Serve(gctx, a.cfg.Server.ListenAddr, tls) })
	}
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		a.sweep(gctx)
		return nil
	})

	slog.Info("app running",
		"discord", a.bot != nil,
		"admin_addr", a.cfg.Server.ListenAddr,
		"hot_reload", watcher != nil,
	)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// sweep periodically drops decision state of idle sessions.
func (a *App) sweep(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			maxAge := a.pipeline.Options().SessionMaxAge
			if n := a.decisions.CleanupExpired(maxAge); n > 0 {
				slog.Debug("swept idle sessions", "removed", n, "max_age", maxAge)
			}
		}
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new and
// returns the diff. Changes that need a restart are logged and ignored.
func (a *App) Reload(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)

	if d.PolicyChanged {
		a.decisions.ReloadPolicy(new.DecisionPolicy())
	}
	if d.PermissionsChanged {
		a.gate.Update(new.PermissionSettings())
		slog.Info("group voice permissions updated")
	}
	if d.ChatReplyChanged || d.ConsoleOutputChanged || d.OptionsChanged {
		a.pipeline.SetOptions(a.pipelineOptions(new))
		slog.Info("pipeline options updated",
			"chat_reply", new.ChatReply.EnableChatReply,
			"console_output", new.Output.ConsoleOutput,
		)
	}
	if d.LogLevelChanged {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RestartRequired {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartReasons)
	}
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Disconnect from Discord first so no new messages arrive.
		if a.bot != nil {
			if err := a.bot.Close(); err != nil {
				slog.Warn("discord close error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
