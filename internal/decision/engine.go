package decision

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// Policy governs the verdicts of an [Engine].
type Policy struct {
	// Enabled turns on the random draw. When false every call replies.
	Enabled bool

	// Probability is the chance of replying when Enabled is set, in [0, 1].
	Probability float64
}

// Clamp returns a copy of p with Probability forced into [0, 1].
// NaN is treated as 0.
func (p Policy) Clamp() Policy {
	switch {
	case p.Probability != p.Probability, p.Probability < 0:
		p.Probability = 0
	case p.Probability > 1:
		p.Probability = 1
	}
	return p
}

// Rand is the source of uniformly distributed draws in [0, 1).
type Rand interface {
	Float64() float64
}

// StrategyInfo is a human-readable summary of the active policy.
type StrategyInfo struct {
	Enabled     bool    `json:"enabled"`
	Probability float64 `json:"probability"`
	Description string  `json:"description"`
}

// ServiceStatus reports the engine's policy together with its session count.
type ServiceStatus struct {
	Strategy       StrategyInfo `json:"strategy"`
	ActiveSessions int          `json:"active_sessions"`
}

// SessionStats describes the decision history of one session.
type SessionStats struct {
	SessionID      string        `json:"session_id"`
	LastDecisionAt time.Time     `json:"last_decision_at"`
	SinceLast      time.Duration `json:"since_last"`
}

// Option configures an [Engine].
type Option func(*Engine)

// WithRand replaces the random source. Tests use this to make verdicts
// deterministic.
func WithRand(r Rand) Option {
	return func(e *Engine) {
		if r != nil {
			e.rand = r
		}
	}
}

// WithClock replaces the time source used to stamp sessions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithStore injects the session store. By default the engine owns a fresh one.
func WithStore(s *SessionStore) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

// WithLogger sets the logger used for policy reload messages.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine decides whether a transcribed voice message gets a generated reply.
//
// Decisions are independent draws; the session store only records when each
// session was last evaluated so that idle sessions can be swept. Engine is
// safe for concurrent use.
type Engine struct {
	policy atomic.Pointer[Policy]
	store  *SessionStore
	rand   Rand
	now    func() time.Time
	log    *slog.Logger
}

// New creates an Engine with the given policy. The probability is clamped.
func New(p Policy, opts ...Option) *Engine {
	e := &Engine{
		store: NewSessionStore(),
		rand:  globalRand{},
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	clamped := p.Clamp()
	e.policy.Store(&clamped)
	return e
}

// Policy returns the active policy.
func (e *Engine) Policy() Policy {
	return *e.policy.Load()
}

// Store returns the session store backing the engine.
func (e *Engine) Store() *SessionStore {
	return e.store
}

// ShouldReply reports whether a reply should be generated for sessionID.
//
// With the policy disabled it always returns true. Otherwise it draws r in
// [0, 1) and returns r <= probability. A non-empty sessionID is stamped in the
// session store on every call, whatever the verdict.
func (e *Engine) ShouldReply(sessionID string) bool {
	p := e.policy.Load()
	verdict := true
	if p.Enabled {
		verdict = e.rand.Float64() <= p.Probability
	}
	e.store.Touch(sessionID, e.now())
	if p.Enabled {
		e.log.Debug("reply decision",
			"session_id", sessionID,
			"probability", p.Probability,
			"reply", verdict,
		)
	}
	return verdict
}

// StrategyInfo summarises the active policy.
func (e *Engine) StrategyInfo() StrategyInfo {
	p := e.policy.Load()
	return StrategyInfo{
		Enabled:     p.Enabled,
		Probability: p.Probability,
		Description: describe(*p),
	}
}

// ReloadPolicy atomically replaces the active policy. The new probability is
// clamped again. A log line is written only when something changed.
func (e *Engine) ReloadPolicy(p Policy) {
	next := p.Clamp()
	prev := e.policy.Swap(&next)
	if *prev == next {
		return
	}
	e.log.Info("reply policy reloaded",
		"enabled_before", prev.Enabled,
		"enabled_after", next.Enabled,
		"probability_before", prev.Probability,
		"probability_after", next.Probability,
	)
}

// CleanupExpired sweeps sessions idle for longer than maxAge and returns how
// many were removed.
func (e *Engine) CleanupExpired(maxAge time.Duration) int {
	n := e.store.Sweep(e.now(), maxAge)
	if n > 0 {
		e.log.Debug("expired reply sessions swept", "removed", n)
	}
	return n
}

// Status reports the active strategy and the number of tracked sessions.
func (e *Engine) Status() ServiceStatus {
	return ServiceStatus{
		Strategy:       e.StrategyInfo(),
		ActiveSessions: e.store.Len(),
	}
}

// SessionStatistics returns the decision history of sessionID.
func (e *Engine) SessionStatistics(sessionID string) (SessionStats, bool) {
	at, ok := e.store.Lookup(sessionID)
	if !ok {
		return SessionStats{SessionID: sessionID}, false
	}
	return SessionStats{
		SessionID:      sessionID,
		LastDecisionAt: at,
		SinceLast:      e.now().Sub(at),
	}, true
}

func describe(p Policy) string {
	if !p.Enabled {
		return "always reply"
	}
	return fmt.Sprintf("probabilistic (%.1f%%)", p.Probability*100)
}

// globalRand draws from the math/rand/v2 top-level source, which is safe for
// concurrent use.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
