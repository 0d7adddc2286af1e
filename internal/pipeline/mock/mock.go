// Package mock provides test doubles for the pipeline collaborators.
//
// Every mock records its calls under a mutex and returns the values
// configured in its exported fields. Set a Panic field to make the method
// panic, which exercises the pipeline's stage isolation.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/types"
)

// FileProcessor is a mock implementation of pipeline.FileProcessor.
type FileProcessor struct {
	mu sync.Mutex

	// Path is returned by ProcessVoiceFile.
	Path string

	// Err is returned by ProcessVoiceFile.
	Err error

	// ReleaseErr is returned by Release.
	ReleaseErr error

	// Panic, if non-nil, is raised by ProcessVoiceFile.
	Panic any

	// ProcessCalls records the attachments passed to ProcessVoiceFile.
	ProcessCalls []types.Attachment

	// ReleaseCalls records the paths passed to Release.
	ReleaseCalls []string
}

// ProcessVoiceFile implements pipeline.FileProcessor.
func (f *FileProcessor) ProcessVoiceFile(_ context.Context, att types.Attachment) (string, error) {
	f.mu.Lock()
	f.ProcessCalls = append(f.ProcessCalls, att)
	path, err, p := f.Path, f.Err, f.Panic
	f.mu.Unlock()
	if p != nil {
		panic(p)
	}
	return path, err
}

// Release implements pipeline.FileProcessor.
func (f *FileProcessor) Release(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReleaseCalls = append(f.ReleaseCalls, path)
	return f.ReleaseErr
}

// CallCount returns the number of calls to method ("ProcessVoiceFile" or "Release").
func (f *FileProcessor) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch method {
	case "ProcessVoiceFile":
		return len(f.ProcessCalls)
	case "Release":
		return len(f.ReleaseCalls)
	}
	return 0
}

// Transcriber is a mock implementation of pipeline.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned as the transcript text.
	Text string

	// Err is returned by Transcribe.
	Err error

	// Panic, if non-nil, is raised by Transcribe.
	Panic any

	// Calls records every request.
	Calls []stt.Request
}

// Transcribe implements pipeline.Transcriber.
func (t *Transcriber) Transcribe(_ context.Context, req stt.Request) (types.Transcript, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, req)
	text, err, p := t.Text, t.Err, t.Panic
	t.mu.Unlock()
	if p != nil {
		panic(p)
	}
	if err != nil {
		return types.Transcript{}, err
	}
	return types.Transcript{Text: text}, nil
}

// CallCount returns the number of Transcribe calls.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// ReplyGenerator is a mock implementation of pipeline.ReplyGenerator.
type ReplyGenerator struct {
	mu sync.Mutex

	// Fragments are sent on the returned channel, which is then closed.
	Fragments []pipeline.Fragment

	// Err is returned by GenerateReply.
	Err error

	// Calls records every request.
	Calls []pipeline.ReplyRequest
}

// GenerateReply implements pipeline.ReplyGenerator.
func (g *ReplyGenerator) GenerateReply(_ context.Context, req pipeline.ReplyRequest) (<-chan pipeline.Fragment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, req)
	if g.Err != nil {
		return nil, g.Err
	}
	ch := make(chan pipeline.Fragment, len(g.Fragments))
	for _, f := range g.Fragments {
		ch <- f
	}
	close(ch)
	return ch, nil
}

// CallCount returns the number of GenerateReply calls.
func (g *ReplyGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// Decider is a mock implementation of pipeline.Decider.
type Decider struct {
	mu sync.Mutex

	// Reply is returned by ShouldReply.
	Reply bool

	// Swept is returned by CleanupExpired.
	Swept int

	// ShouldReplyCalls records the session IDs passed to ShouldReply.
	ShouldReplyCalls []string

	// CleanupCalls records the max ages passed to CleanupExpired.
	CleanupCalls []time.Duration
}

// ShouldReply implements pipeline.Decider.
func (d *Decider) ShouldReply(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ShouldReplyCalls = append(d.ShouldReplyCalls, sessionID)
	return d.Reply
}

// CleanupExpired implements pipeline.Decider.
func (d *Decider) CleanupExpired(maxAge time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CleanupCalls = append(d.CleanupCalls, maxAge)
	return d.Swept
}

// CallCount returns the number of calls to method ("ShouldReply" or "CleanupExpired").
func (d *Decider) CallCount(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch method {
	case "ShouldReply":
		return len(d.ShouldReplyCalls)
	case "CleanupExpired":
		return len(d.CleanupCalls)
	}
	return 0
}

// Control is a mock implementation of pipeline.EventControl.
type Control struct {
	mu      sync.Mutex
	stopped int
}

// StopPropagation implements pipeline.EventControl.
func (c *Control) StopPropagation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
}

// StopCount returns how often StopPropagation was called.
func (c *Control) StopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

var (
	_ pipeline.FileProcessor  = (*FileProcessor)(nil)
	_ pipeline.Transcriber    = (*Transcriber)(nil)
	_ pipeline.ReplyGenerator = (*ReplyGenerator)(nil)
	_ pipeline.Decider        = (*Decider)(nil)
	_ pipeline.EventControl   = (*Control)(nil)
)
