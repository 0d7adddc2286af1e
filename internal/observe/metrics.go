// Package observe provides application-wide observability primitives for
// murmur: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider], so they can be scraped from /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all murmur metrics.
const meterName = "github.com/MrWong99/murmur"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// PipelineRuns counts finished pipeline invocations. Attributes:
	//   attribute.String("outcome", ...), attribute.String("message_type", ...)
	PipelineRuns metric.Int64Counter

	// StageDuration tracks the latency of each pipeline stage. Attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// STTDuration tracks transcription latency per provider.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks time until the reply stream is handed back.
	LLMDuration metric.Float64Histogram

	// ReplyDecisions counts decision engine verdicts. Attribute:
	//   attribute.String("verdict", "reply"|"skip")
	ReplyDecisions metric.Int64Counter

	// SessionsSwept counts session entries evicted by TTL sweeps.
	SessionsSwept metric.Int64Counter

	// HistoryAppends counts history writes. Attribute:
	//   attribute.String("status", "ok"|"error")
	HistoryAppends metric.Int64Counter

	// ProviderRequests counts provider API calls. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// HTTPRequestDuration tracks admin HTTP request time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	meter metric.Meter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// downloading, decoding, and transcribing short voice messages.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.PipelineRuns, err = m.Int64Counter("murmur.pipeline.runs",
		metric.WithDescription("Voice pipeline invocations by outcome and message type."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("murmur.pipeline.stage.duration",
		metric.WithDescription("Latency of each voice pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("murmur.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("murmur.llm.duration",
		metric.WithDescription("Latency until the LLM reply stream is available."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReplyDecisions, err = m.Int64Counter("murmur.reply.decisions",
		metric.WithDescription("Reply decisions by verdict."),
	); err != nil {
		return nil, err
	}
	if met.SessionsSwept, err = m.Int64Counter("murmur.sessions.swept",
		metric.WithDescription("Idle reply sessions removed by TTL sweeps."),
	); err != nil {
		return nil, err
	}
	if met.HistoryAppends, err = m.Int64Counter("murmur.history.appends",
		metric.WithDescription("Conversation history appends by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("murmur.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("murmur.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("murmur.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RegisterActiveSessions registers an observable gauge that reports the
// number of sessions tracked by the decision engine. count is called on every
// collection.
func (m *Metrics) RegisterActiveSessions(count func() int) (metric.Registration, error) {
	g, err := m.meter.Int64ObservableGauge("murmur.sessions.active",
		metric.WithDescription("Sessions with a reply decision inside the TTL window."),
	)
	if err != nil {
		return nil, err
	}
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(g, int64(count()))
		return nil
	}, g)
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPipelineRun counts one finished pipeline invocation.
func (m *Metrics) RecordPipelineRun(ctx context.Context, outcome, messageType string) {
	m.PipelineRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("message_type", messageType),
	))
}

// RecordStage records how long one pipeline stage took.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordDecision counts one decision engine verdict.
func (m *Metrics) RecordDecision(ctx context.Context, reply bool) {
	verdict := "skip"
	if reply {
		verdict = "reply"
	}
	m.ReplyDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}

// RecordHistoryAppend counts one history write.
func (m *Metrics) RecordHistoryAppend(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.HistoryAppends.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
