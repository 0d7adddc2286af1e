package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/murmur/pkg/provider/stt"
	sttmock "github.com/MrWong99/murmur/pkg/provider/stt/mock"
	"github.com/MrWong99/murmur/pkg/types"
)

func TestSTTFallback_Transcribe(t *testing.T) {
	tests := []struct {
		name          string
		primaryErr    error
		secondaryErr  error
		wantText      string
		wantAllFailed bool
	}{
		{name: "primary success", wantText: "from whisper"},
		{name: "failover", primaryErr: errTest, wantText: "from deepgram"},
		{name: "all fail", primaryErr: errTest, secondaryErr: errTest, wantAllFailed: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			primary := &sttmock.Provider{ProviderName: "whisper", Transcript: types.Transcript{Text: "from whisper"}, Err: tc.primaryErr}
			secondary := &sttmock.Provider{ProviderName: "deepgram", Transcript: types.Transcript{Text: "from deepgram"}, Err: tc.secondaryErr}
			fb := NewSTTFallback(primary, FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
			fb.AddFallback(secondary)

			req := stt.Request{Path: "/tmp/voice.wav", Language: "en"}
			tr, err := fb.Transcribe(context.Background(), req)
			if tc.wantAllFailed {
				if !errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want ErrAllFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tr.Text != tc.wantText {
				t.Errorf("text = %q, want %q", tr.Text, tc.wantText)
			}
			if primary.CallCount() != 1 || primary.Calls[0] != req {
				t.Errorf("primary calls = %v", primary.Calls)
			}
		})
	}
}

func TestSTTFallback_NameAndAvailability(t *testing.T) {
	primary := &sttmock.Provider{ProviderName: "whisper", Err: errTest}
	fb := NewSTTFallback(primary, FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}})
	fb.AddFallback(&sttmock.Provider{ProviderName: "openai", Err: errTest})

	if fb.Name() != "whisper>openai" {
		t.Errorf("Name = %q", fb.Name())
	}
	if !fb.Available() {
		t.Fatal("should be available before any failure")
	}
	_, _ = fb.Transcribe(context.Background(), stt.Request{Path: "a.wav"})
	if fb.Available() {
		t.Error("should be unavailable once every breaker is open")
	}
	if got := len(fb.Breakers()); got != 2 {
		t.Errorf("breakers = %d, want 2", got)
	}
}
