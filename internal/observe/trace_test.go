package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	useTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "pipeline.process")
		cid := CorrelationID(ctx)
		span.End()

		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not 32 hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestStartSpan_NestsStages(t *testing.T) {
	exp := useTestTracer(t)

	ctx, root := StartSpan(context.Background(), "pipeline.process")
	_, child := StartSpan(ctx, "pipeline.transcribe")
	child.End()
	root.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	transcribe, process := spans[0], spans[1]
	if transcribe.Name != "pipeline.transcribe" || process.Name != "pipeline.process" {
		t.Fatalf("span names = %q, %q", transcribe.Name, process.Name)
	}
	if transcribe.Parent.SpanID() != process.SpanContext.SpanID() {
		t.Error("transcribe span should be a child of process")
	}
	if transcribe.SpanContext.TraceID() != process.SpanContext.TraceID() {
		t.Error("stages should share one trace")
	}
}

func TestEndSpan(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   codes.Code
		wantEvents bool
	}{
		{name: "success", wantCode: codes.Unset},
		{name: "failure", err: errors.New("transcription failed"), wantCode: codes.Error, wantEvents: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exp := useTestTracer(t)
			_, span := StartSpan(context.Background(), "pipeline.transcribe")
			EndSpan(span, tc.err)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if spans[0].Status.Code != tc.wantCode {
				t.Errorf("status = %v, want %v", spans[0].Status.Code, tc.wantCode)
			}
			if got := len(spans[0].Events) > 0; got != tc.wantEvents {
				t.Errorf("error event recorded = %v, want %v", got, tc.wantEvents)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	t.Run("with span", func(t *testing.T) {
		buf := captureLogs(t)
		ctx, span := StartSpan(context.Background(), "pipeline.reply")
		defer span.End()

		Logger(ctx).Info("reply sent")
		out := buf.String()
		if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) {
			t.Errorf("log missing trace_id: %s", out)
		}
		if !strings.Contains(out, "span_id=") {
			t.Errorf("log missing span_id: %s", out)
		}
	})

	t.Run("without span", func(t *testing.T) {
		buf := captureLogs(t)
		Logger(context.Background()).Info("reply sent")
		if strings.Contains(buf.String(), "trace_id") {
			t.Errorf("log should not carry trace_id: %s", buf)
		}
	})
}
