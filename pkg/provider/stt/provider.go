// Package stt defines the Provider interface for speech-to-text backends.
//
// A Provider transcribes one complete audio file per call. Voice messages are
// short, fully recorded clips, so every backend (a local whisper.cpp server,
// the in-process whisper.cpp bindings, Deepgram, OpenAI) is driven in batch
// mode even when its wire protocol is a stream.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/murmur/pkg/types"
)

// ErrEmptyTranscript is returned by helpers that require non-empty text.
var ErrEmptyTranscript = errors.New("stt: empty transcript")

// Request describes one transcription call.
type Request struct {
	// Path is the local file holding the audio. WAV (16-bit PCM) is accepted by
	// every provider; other containers depend on the backend.
	Path string

	// Language is a BCP-47 language hint (e.g., "en", "de"). Empty lets the
	// provider auto-detect when it supports that.
	Language string

	// Prompt is optional context text that biases recognition toward expected
	// vocabulary. Providers without prompt support ignore it.
	Prompt string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts the audio at req.Path into text. A successful call
	// with no recognisable speech returns a Transcript with empty Text and a
	// nil error.
	Transcribe(ctx context.Context, req Request) (types.Transcript, error)

	// Name identifies the backend in logs, metrics, and status output.
	Name() string
}
