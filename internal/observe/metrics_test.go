package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the counter data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestPipelineRunsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPipelineRun(ctx, "reply-emitted", "direct")
	m.RecordPipelineRun(ctx, "reply-emitted", "direct")
	m.RecordPipelineRun(ctx, "recorded-only", "group")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "murmur.pipeline.runs", "outcome", "reply-emitted"); got != 2 {
		t.Errorf("reply-emitted = %d, want 2", got)
	}
	if got := sumFor(t, rm, "murmur.pipeline.runs", "outcome", "recorded-only"); got != 1 {
		t.Errorf("recorded-only = %d, want 1", got)
	}
}

func TestStageDurationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, "transcribe", 1200*time.Millisecond)
	m.RecordStage(ctx, "transcribe", 800*time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "murmur.pipeline.stage.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestDecisionAndHistoryCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDecision(ctx, true)
	m.RecordDecision(ctx, false)
	m.RecordDecision(ctx, false)
	m.RecordHistoryAppend(ctx, nil)
	m.RecordHistoryAppend(ctx, errors.New("boom"))

	rm := collect(t, reader)
	if got := sumFor(t, rm, "murmur.reply.decisions", "verdict", "skip"); got != 2 {
		t.Errorf("skip = %d, want 2", got)
	}
	if got := sumFor(t, rm, "murmur.history.appends", "status", "error"); got != 1 {
		t.Errorf("history errors = %d, want 1", got)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "whisper", "stt", "ok")
	m.RecordProviderError(ctx, "whisper", "stt")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "murmur.provider.requests", "status", "ok"); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	if got := sumFor(t, rm, "murmur.provider.errors", "provider", "whisper"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestRegisterActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)

	n := 3
	reg, err := m.RegisterActiveSessions(func() int { return n })
	if err != nil {
		t.Fatalf("RegisterActiveSessions: %v", err)
	}
	defer reg.Unregister()

	rm := collect(t, reader)
	met := findMetric(rm, "murmur.sessions.active")
	if met == nil {
		t.Fatal("metric not found")
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatal("metric is not a gauge")
	}
	if len(g.DataPoints) == 0 || g.DataPoints[0].Value != 3 {
		t.Errorf("gauge = %+v, want 3", g.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
