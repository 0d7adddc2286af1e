// Package mock provides test doubles for the stt package interfaces.
//
// Example:
//
//	p := &mock.Provider{Transcript: types.Transcript{Text: "hello"}}
//	tr, _ := p.Transcribe(ctx, stt.Request{Path: "/tmp/a.wav"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/types"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Transcript is returned by Transcribe when Err is nil.
	Transcript types.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if set, overrides Transcript and Err.
	TranscribeFunc func(ctx context.Context, req stt.Request) (types.Transcript, error)

	// Calls records every request passed to Transcribe.
	Calls []stt.Request
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn, tr, err := p.TranscribeFunc, p.Transcript, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return types.Transcript{}, err
	}
	return tr, nil
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
