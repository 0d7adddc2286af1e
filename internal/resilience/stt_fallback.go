package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/types"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
	names []string
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
		names: []string{primary.Name()},
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(provider stt.Provider) {
	f.group.AddFallback(provider.Name(), provider)
	f.names = append(f.names, provider.Name())
}

// Name lists the backends in failover order, e.g. "whisper>deepgram".
func (f *STTFallback) Name() string { return strings.Join(f.names, ">") }

// Transcribe sends the request to the first healthy backend. Each attempt is
// counted in the provider request metrics.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	m := observe.DefaultMetrics()
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (types.Transcript, error) {
		tr, err := p.Transcribe(ctx, req)
		status := "ok"
		if err != nil {
			status = "error"
			m.RecordProviderError(ctx, p.Name(), "stt")
		}
		m.RecordProviderRequest(ctx, p.Name(), "stt", status)
		return tr, err
	})
}

// Available reports whether any backend's breaker admits calls.
func (f *STTFallback) Available() bool { return f.group.Available() }

// Breakers returns a snapshot of every backend's breaker.
func (f *STTFallback) Breakers() []Counts { return f.group.Breakers() }
