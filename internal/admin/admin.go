// Package admin serves the operator HTTP surface of murmur: probes,
// Prometheus metrics, and JSON snapshots of the reply machinery.
//
//	GET /healthz           liveness
//	GET /readyz            readiness (history store, speech-to-text breakers)
//	GET /metrics           Prometheus exposition
//	GET /v1/status         decision strategy, gates, options, pipeline stats
//	GET /v1/sessions/{id}  decision statistics of one session
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/murmur/internal/decision"
	"github.com/MrWong99/murmur/internal/discord"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/permission"
	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/internal/voicefile"
)

const shutdownTimeout = 5 * time.Second

// Decisions is the part of the decision engine the admin API reports on.
type Decisions interface {
	Status() decision.ServiceStatus
	SessionStatistics(sessionID string) (decision.SessionStats, bool)
}

// Gate reports the group voice gates.
type Gate interface {
	Settings() permission.Settings
	Status(groupID string) permission.Status
}

// Sources are the components whose state the API exposes. Nil fields are
// omitted from /v1/status.
type Sources struct {
	Decisions Decisions
	Gate      Gate
	Files     interface{ Status() voicefile.Status }
	Stats     interface{ Snapshot() discord.Snapshot }
	Options   func() pipeline.Options
	Breakers  func() []resilience.Counts
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth sets the probe handler. Without it /readyz has no checkers.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.health = h
		}
	}
}

// WithMetricsHandler sets the /metrics handler. Without it the route is not
// mounted.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Server is the admin HTTP server.
type Server struct {
	src            Sources
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
}

// New creates a Server reporting on src.
func New(src Sources, opts ...Option) *Server {
	s := &Server{
		src:     src,
		health:  health.New(),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router returns the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	s.health.Register(r)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/sessions/{id}", s.handleSession)
	})
	return r
}

// TLS holds certificate paths for serving HTTPS.
type TLS struct {
	CertFile string
	KeyFile  string
}

// Serve listens on addr and serves [Server.Router] until ctx is cancelled,
// then shuts down gracefully. tls may be nil.
func (s *Server) Serve(ctx context.Context, addr string, tls *TLS) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln, tls)
}

// ServeListener is [Server.Serve] on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener, tls *TLS) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin server listening", "addr", ln.Addr().String(), "tls", tls != nil)
		if tls != nil {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	return nil
}

// Status is the body of GET /v1/status.
type Status struct {
	Decision    *decision.ServiceStatus `json:"decision,omitempty"`
	Permissions *Permissions            `json:"permissions,omitempty"`
	Options     *OptionsView            `json:"options,omitempty"`
	Pipeline    *discord.Snapshot       `json:"pipeline,omitempty"`
	Files       *voicefile.Status       `json:"files,omitempty"`
	STT         []resilience.Counts     `json:"stt_breakers,omitempty"`
}

// Permissions is the gate section of [Status]. Group is present when the
// request names a group with ?group_id=.
type Permissions struct {
	RecognitionEnabled   bool               `json:"recognition_enabled"`
	ReplyEnabled         bool               `json:"reply_enabled"`
	RecognitionAllowList []string           `json:"recognition_allow_list"`
	ReplyAllowList       []string           `json:"reply_allow_list"`
	Group                *permission.Status `json:"group,omitempty"`
}

// OptionsView is the JSON form of [pipeline.Options].
type OptionsView struct {
	ChatReplyEnabled    bool   `json:"chat_reply_enabled"`
	ConsoleOutput       bool   `json:"console_output"`
	SessionMaxAge       string `json:"session_max_age"`
	HistoryContextLimit int    `json:"history_context_limit"`
	Language            string `json:"language,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var st Status
	if s.src.Decisions != nil {
		ds := s.src.Decisions.Status()
		st.Decision = &ds
	}
	if s.src.Gate != nil {
		set := s.src.Gate.Settings()
		p := &Permissions{
			RecognitionEnabled:   set.RecognitionEnabled,
			ReplyEnabled:         set.ReplyEnabled,
			RecognitionAllowList: nonNil(set.RecognitionAllowList),
			ReplyAllowList:       nonNil(set.ReplyAllowList),
		}
		if g := strings.TrimSpace(r.URL.Query().Get("group_id")); g != "" {
			gs := s.src.Gate.Status(g)
			p.Group = &gs
		}
		st.Permissions = p
	}
	if s.src.Options != nil {
		o := s.src.Options()
		st.Options = &OptionsView{
			ChatReplyEnabled:    o.ChatReplyEnabled,
			ConsoleOutput:       o.ConsoleOutput,
			SessionMaxAge:       o.SessionMaxAge.String(),
			HistoryContextLimit: o.HistoryContextLimit,
			Language:            o.Language,
		}
	}
	if s.src.Stats != nil {
		snap := s.src.Stats.Snapshot()
		st.Pipeline = &snap
	}
	if s.src.Files != nil {
		fs := s.src.Files.Status()
		st.Files = &fs
	}
	if s.src.Breakers != nil {
		st.STT = s.src.Breakers()
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if s.src.Decisions == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "decision engine not configured")
		return
	}
	stats, ok := s.src.Decisions.SessionStatistics(id)
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
