// Package pipeline orchestrates the handling of one incoming voice message:
// permission check, file preparation, transcription, history recording, the
// group record-only gate, the reply decision, and reply emission, followed by
// an unconditional cleanup.
//
// Each invocation of [Pipeline.Process] is an independent unit of work and
// may run concurrently with any number of others. Stages run strictly in
// order. A failure or panic inside a stage is caught at that stage's boundary,
// logged, and mapped to the stage's failure [Outcome]; it never skips
// cleanup and never escapes Process.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/murmur/internal/decision"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/history"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/types"
)

// PromptPrefix starts every prompt sent to the reply generator.
const PromptPrefix = "The user said via voice: "

// ReplyPrompt builds the reply prompt for a transcript.
func ReplyPrompt(transcript string) string {
	return PromptPrefix + transcript
}

// Options are the hot-reloadable settings of a [Pipeline].
type Options struct {
	// ChatReplyEnabled gates whether replies are ever attempted.
	ChatReplyEnabled bool

	// ConsoleOutput logs every transcript at info level.
	ConsoleOutput bool

	// SessionMaxAge is passed to the decision sweep run during cleanup.
	SessionMaxAge time.Duration

	// HistoryContextLimit caps how many prior entries are sent as reply
	// context. Zero sends the whole conversation.
	HistoryContextLimit int

	// Language is the transcription language hint.
	Language string
}

// Collaborators are the components a [Pipeline] delegates to. Replies may be
// nil, in which case reply emission ends with [OutcomeError].
type Collaborators struct {
	Files       FileProcessor
	Transcriber Transcriber
	History     HistoryStore
	Replies     ReplyGenerator
	Gate        Gate
	Decider     Decider
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Pipeline processes voice events. It is safe for concurrent use.
type Pipeline struct {
	c       Collaborators
	opts    atomic.Pointer[Options]
	metrics *observe.Metrics
}

// New validates the collaborators and returns a ready Pipeline.
func New(c Collaborators, o Options, opts ...Option) (*Pipeline, error) {
	var errs []error
	if c.Files == nil {
		errs = append(errs, errors.New("file processor is required"))
	}
	if c.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if c.History == nil {
		errs = append(errs, errors.New("history store is required"))
	}
	if c.Gate == nil {
		errs = append(errs, errors.New("permission gate is required"))
	}
	if c.Decider == nil {
		errs = append(errs, errors.New("decider is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{c: c, metrics: observe.DefaultMetrics()}
	for _, opt := range opts {
		opt(p)
	}
	p.SetOptions(o)
	return p, nil
}

// SetOptions atomically replaces the pipeline options. Runs already in
// progress keep the options they started with.
func (p *Pipeline) SetOptions(o Options) {
	if o.SessionMaxAge <= 0 {
		o.SessionMaxAge = decision.DefaultSessionMaxAge
	}
	p.opts.Store(&o)
}

// Options returns the active options.
func (p *Pipeline) Options() Options {
	return *p.opts.Load()
}

// Result describes one finished invocation.
type Result struct {
	// Outcome is how far the invocation progressed.
	Outcome Outcome

	// Transcript is the trimmed transcription, empty if the run stopped earlier.
	Transcript string

	// ConversationID is the conversation the transcript was recorded into.
	ConversationID string

	// Replies streams the generated reply. Non-nil only for
	// [OutcomeReplyEmitted]; the transport must drain it.
	Replies <-chan Fragment

	// Err joins every [StageError] captured during the run, including
	// non-terminal history failures.
	Err error

	// Duration is the wall time of the invocation including cleanup.
	Duration time.Duration
}

// Process runs the pipeline for ev. ctl may be nil when the transport has no
// downstream responders to suppress. Process never panics and always runs
// cleanup exactly once.
func (p *Pipeline) Process(ctx context.Context, ev types.VoiceEvent, ctl EventControl) (res Result) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("session_id", ev.SessionID),
		attribute.String("message_type", string(ev.Type)),
	))

	r := &run{
		p:    p,
		ev:   ev,
		ctl:  ctl,
		opts: p.Options(),
	}
	r.log = observe.Logger(ctx).With("session_id", ev.SessionID, "message_type", string(ev.Type))

	defer func() {
		if v := recover(); v != nil {
			r.fail(StageError{Stage: StageCleanup, Kind: KindReplyGeneration, Err: panicError{value: v}}, OutcomeError)
		}
		r.cleanup(ctx)

		res = Result{
			Outcome:        r.outcome,
			Transcript:     r.transcript,
			ConversationID: r.conversationID,
			Replies:        r.replies,
			Err:            errors.Join(r.errs...),
			Duration:       time.Since(start),
		}
		span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
		var spanErr error
		if res.Outcome == OutcomeError {
			spanErr = res.Err
		}
		observe.EndSpan(span, spanErr)
		p.metrics.RecordPipelineRun(ctx, string(res.Outcome), string(ev.Type))
		r.log.Debug("voice pipeline finished", "outcome", res.Outcome, "duration", res.Duration)
	}()

	r.execute(ctx)
	return res
}

// run is the state of a single invocation.
type run struct {
	p    *Pipeline
	ev   types.VoiceEvent
	ctl  EventControl
	opts Options
	log  *slog.Logger

	outcome        Outcome
	path           string
	transcript     string
	conversationID string
	replies        <-chan Fragment
	errs           []error
}

func (r *run) execute(ctx context.Context) {
	var allowed bool
	if !r.stage(ctx, StagePermissionCheck, func(context.Context) error {
		allowed = r.p.c.Gate.CanProcessVoice(r.ev)
		return nil
	}) {
		return
	}
	if !allowed {
		r.outcome = OutcomePermissionDenied
		r.log.Debug("voice message not permitted", "group_id", r.ev.GroupID)
		return
	}

	if !r.stage(ctx, StageFilePrep, r.prepareFile) {
		return
	}
	if !r.stage(ctx, StageTranscribe, r.transcribe) {
		return
	}
	if r.opts.ConsoleOutput {
		r.log.Info("voice transcript", "sender", r.ev.SenderName, "text", r.transcript)
	}

	// A history failure is logged and does not stop the run.
	r.stage(ctx, StageRecord, r.record)

	if r.ev.IsGroup() {
		var recordOnly bool
		if !r.stage(ctx, StageGroupGate, func(context.Context) error {
			st := r.p.c.Gate.Status(r.ev.GroupID)
			if st.RecognitionEnabled && !st.ReplyEnabled && r.p.c.Gate.CanProcessVoice(r.ev) {
				recordOnly = true
				if r.ctl != nil {
					r.ctl.StopPropagation()
				}
			}
			return nil
		}) {
			return
		}
		if recordOnly {
			r.outcome = OutcomeRecordedOnly
			r.log.Debug("group voice message recorded without reply", "group_id", r.ev.GroupID)
			return
		}
	}

	var eligible, reply bool
	if !r.stage(ctx, StageReplyDecision, func(ctx context.Context) error {
		if !r.opts.ChatReplyEnabled || !r.p.c.Gate.CanGenerateReply(r.ev) {
			return nil
		}
		eligible = true
		reply = r.p.c.Decider.ShouldReply(r.ev.SessionID)
		r.p.metrics.RecordDecision(ctx, reply)
		return nil
	}) {
		return
	}
	if !eligible {
		r.outcome = OutcomeRecordedOnly
		return
	}
	if !reply {
		r.outcome = OutcomeReplySkipped
		r.log.Debug("reply skipped by decision policy")
		return
	}

	if !r.stage(ctx, StageReplyEmit, r.emit) {
		return
	}
	r.outcome = OutcomeReplyEmitted
}

func (r *run) prepareFile(ctx context.Context) error {
	path, err := r.p.c.Files.ProcessVoiceFile(ctx, r.ev.Attachment)
	r.path = path
	if err != nil {
		return err
	}
	if path == "" {
		return errNoUsableFile
	}
	return nil
}

func (r *run) transcribe(ctx context.Context) error {
	tr, err := r.p.c.Transcriber.Transcribe(ctx, stt.Request{Path: r.path, Language: r.opts.Language})
	if err != nil {
		return err
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return &StageError{Stage: StageTranscribe, Kind: KindTranscriptionEmpty, Err: errEmptyTranscript}
	}
	r.transcript = text
	return nil
}

func (r *run) record(ctx context.Context) error {
	convID, err := r.p.c.History.GetOrCreateConversation(ctx, r.ev.SessionID)
	if err != nil {
		r.p.metrics.RecordHistoryAppend(ctx, err)
		return fmt.Errorf("get or create conversation: %w", err)
	}
	r.conversationID = convID
	err = r.p.c.History.AppendHistory(ctx, r.ev.SessionID, convID, history.VoiceEntry(r.transcript))
	r.p.metrics.RecordHistoryAppend(ctx, err)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (r *run) emit(ctx context.Context) error {
	if r.p.c.Replies == nil {
		return ErrNoReplyProvider
	}

	convID := r.conversationID
	if convID == "" {
		id, err := r.p.c.History.GetOrCreateConversation(ctx, r.ev.SessionID)
		if err != nil {
			r.log.Warn("no conversation for reply context", "err", err)
		}
		convID = id
	}

	var prior []history.Entry
	if convID != "" {
		entries, err := r.p.c.History.History(ctx, r.ev.SessionID, convID, r.opts.HistoryContextLimit)
		if err != nil {
			r.log.Warn("failed to load reply context", "conversation_id", convID, "err", err)
		}
		prior = trimCurrent(entries, r.transcript)
	}

	start := time.Now()
	ch, err := r.p.c.Replies.GenerateReply(ctx, ReplyRequest{
		Prompt:         ReplyPrompt(r.transcript),
		SessionID:      r.ev.SessionID,
		ConversationID: convID,
		Context:        prior,
	})
	r.p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	if ch == nil {
		return errors.New("reply generator returned no stream")
	}
	r.replies = ch
	return nil
}

// trimCurrent drops the entry recorded for the message being answered, which
// the prompt already carries.
func trimCurrent(entries []history.Entry, transcript string) []history.Entry {
	if n := len(entries); n > 0 {
		last := entries[n-1]
		cur := history.VoiceEntry(transcript)
		if last.Role == cur.Role && last.Content == cur.Content {
			return entries[:n-1]
		}
	}
	return entries
}

// cleanup releases the prepared file and sweeps expired decision sessions.
// Errors are logged only.
func (r *run) cleanup(ctx context.Context) {
	start := time.Now()
	if r.path != "" {
		if err := r.call(StageCleanup, func() error { return r.p.c.Files.Release(r.path) }); err != nil {
			r.log.Warn("failed to release voice file", "path", r.path, "err", err)
		}
	}
	if err := r.call(StageCleanup, func() error {
		if n := r.p.c.Decider.CleanupExpired(r.opts.SessionMaxAge); n > 0 {
			r.p.metrics.SessionsSwept.Add(ctx, int64(n))
		}
		return nil
	}); err != nil {
		r.log.Warn("session sweep failed", "err", err)
	}
	r.p.metrics.RecordStage(ctx, string(StageCleanup), time.Since(start))
}

// stage runs fn as stage s and reports whether it succeeded. On failure the
// run's outcome is set to the stage's failure outcome.
func (r *run) stage(ctx context.Context, s Stage, fn func(context.Context) error) bool {
	start := time.Now()
	err := r.call(s, func() error { return fn(ctx) })
	r.p.metrics.RecordStage(ctx, string(s), time.Since(start))
	if err == nil {
		return true
	}

	outcome, kind := s.failure()
	se := StageError{Stage: s, Kind: kind, Err: err}
	var inner *StageError
	if errors.As(err, &inner) {
		se = *inner
	}
	r.fail(se, outcome)
	return false
}

// fail records se and, unless the stage is non-terminal, the outcome.
func (r *run) fail(se StageError, outcome Outcome) {
	r.errs = append(r.errs, &se)

	var pe panicError
	switch {
	case errors.As(se.Err, &pe):
		r.log.Error("pipeline stage panicked", "stage", se.Stage, "err", se.Err)
	case errors.Is(se.Err, ErrNoReplyProvider):
		r.log.Warn("no reply provider configured, skipping reply", "stage", se.Stage)
	case se.Kind == KindTranscriptionEmpty:
		r.log.Info("transcription produced no text", "stage", se.Stage)
	default:
		r.log.Warn("pipeline stage failed", "stage", se.Stage, "kind", se.Kind, "err", se.Err)
	}

	if outcome != "" {
		r.outcome = outcome
	}
}

// call invokes fn and converts a panic into an error.
func (r *run) call(s Stage, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = panicError{value: v}
			r.log.Debug("recovered stage panic", "stage", s, "stack", string(debug.Stack()))
		}
	}()
	return fn()
}
