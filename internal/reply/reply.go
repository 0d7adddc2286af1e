// Package reply turns a prompt and its conversation context into a streamed
// LLM answer for the pipeline and the text responder.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/pkg/history"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/types"
)

// ErrNoProvider is returned when no LLM provider is configured.
var ErrNoProvider = pipeline.ErrNoReplyProvider

// Recorder stores the finished assistant turn. [history.Store] satisfies it.
type Recorder interface {
	AppendHistory(ctx context.Context, sessionID, conversationID string, entry history.Entry) error
}

// Option configures a [Generator].
type Option func(*Generator)

// WithSystemPrompt sets the system prompt sent with every request.
func WithSystemPrompt(s string) Option {
	return func(g *Generator) { g.systemPrompt = s }
}

// WithMaxTokens caps the reply length. Zero uses the provider default.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithTemperature sets the sampling temperature. Zero uses the provider default.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithRecorder appends each completed reply to the conversation it answers.
func WithRecorder(r Recorder) Option {
	return func(g *Generator) { g.recorder = r }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

// WithProviderName sets the name used in metrics and status output. An
// empty name keeps the default "llm".
func WithProviderName(name string) Option {
	return func(g *Generator) {
		if name != "" {
			g.name = name
		}
	}
}

// Generator implements [pipeline.ReplyGenerator] on top of an [llm.Provider].
// A nil provider is allowed; every request then fails with [ErrNoProvider].
type Generator struct {
	provider     llm.Provider
	name         string
	systemPrompt string
	maxTokens    int
	temperature  float64
	recorder     Recorder
	log          *slog.Logger
	metrics      *observe.Metrics
}

var _ pipeline.ReplyGenerator = (*Generator)(nil)

// New returns a Generator using p.
func New(p llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		provider: p,
		name:     "llm",
		log:      slog.Default(),
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Available reports whether a provider is configured.
func (g *Generator) Available() bool { return g != nil && g.provider != nil }

// ProviderName returns the configured provider name, or "" without a provider.
func (g *Generator) ProviderName() string {
	if !g.Available() {
		return ""
	}
	return g.name
}

// GenerateReply starts a completion and returns the fragment stream. The
// channel is closed when the answer is complete; a failure mid-stream is sent
// as the last fragment.
func (g *Generator) GenerateReply(ctx context.Context, req pipeline.ReplyRequest) (<-chan pipeline.Fragment, error) {
	if !g.Available() {
		return nil, ErrNoProvider
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("reply: empty prompt")
	}

	creq := llm.CompletionRequest{
		SystemPrompt: g.systemPrompt,
		Messages:     g.messages(req),
		MaxTokens:    g.maxTokens,
		Temperature:  g.temperature,
	}
	start := time.Now()
	chunks, err := g.provider.StreamCompletion(ctx, creq)
	if err != nil {
		g.metrics.RecordProviderError(ctx, g.name, "llm")
		g.metrics.RecordProviderRequest(ctx, g.name, "llm", "error")
		return nil, fmt.Errorf("reply: start completion: %w", err)
	}

	out := make(chan pipeline.Fragment, 16)
	go g.forward(ctx, req, chunks, out, start)
	return out, nil
}

// forward copies chunk text to out and records the finished reply.
func (g *Generator) forward(ctx context.Context, req pipeline.ReplyRequest, chunks <-chan llm.Chunk, out chan<- pipeline.Fragment, start time.Time) {
	defer close(out)

	var full strings.Builder
	status := "ok"
	defer func() {
		g.metrics.RecordProviderRequest(ctx, g.name, "llm", status)
		g.log.Debug("reply stream finished",
			"session_id", req.SessionID, "status", status,
			"chars", full.Len(), "duration", time.Since(start))
	}()

	send := func(f pipeline.Fragment) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for c := range chunks {
		if c.FinishReason == llm.FinishReasonError {
			status = "error"
			g.metrics.RecordProviderError(ctx, g.name, "llm")
			send(pipeline.Fragment{Err: fmt.Errorf("reply: stream: %s", c.Text)})
			for range chunks {
			}
			return
		}
		if c.Text == "" {
			continue
		}
		full.WriteString(c.Text)
		if !send(pipeline.Fragment{Text: c.Text}) {
			status = "cancelled"
			for range chunks {
			}
			return
		}
	}
	if err := ctx.Err(); err != nil {
		status = "cancelled"
		return
	}

	text := strings.TrimSpace(full.String())
	if g.recorder == nil || req.ConversationID == "" || text == "" {
		return
	}
	entry := history.Entry{Role: history.RoleAssistant, Content: text}
	if err := g.recorder.AppendHistory(ctx, req.SessionID, req.ConversationID, entry); err != nil {
		g.log.Warn("failed to record reply", "session_id", req.SessionID, "conversation_id", req.ConversationID, "err", err)
	}
}

// messages maps the conversation context and the prompt to LLM messages.
// Oldest context entries are dropped until the request fits the model's
// context window.
func (g *Generator) messages(req pipeline.ReplyRequest) []types.Message {
	ctxMsgs := make([]types.Message, 0, len(req.Context))
	for _, e := range req.Context {
		if e.Content == "" {
			continue
		}
		ctxMsgs = append(ctxMsgs, types.Message{Role: e.Role, Content: e.Content})
	}
	prompt := types.Message{Role: history.RoleUser, Content: req.Prompt}

	caps := g.provider.Capabilities()
	budget := caps.ContextWindow - max(caps.MaxOutputTokens, g.maxTokens)
	if caps.ContextWindow > 0 && budget > 0 {
		system := types.Message{Role: "system", Content: g.systemPrompt}
		for len(ctxMsgs) > 0 {
			n, err := g.provider.CountTokens(append([]types.Message{system, prompt}, ctxMsgs...))
			if err != nil || n <= budget {
				break
			}
			ctxMsgs = ctxMsgs[1:]
		}
	}
	return append(ctxMsgs, prompt)
}
