// Package voicefile turns chat voice attachments into WAV files that every
// transcription backend accepts.
//
// A [Processor] owns a private temporary directory. Each call to
// [Processor.ProcessVoiceFile] produces one file that belongs to the caller
// until it is handed back with [Processor.Release]. [Processor.Close] removes
// the whole directory at shutdown.
package voicefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/types"
)

var (
	// ErrTooLarge is returned when an attachment exceeds the size limit.
	ErrTooLarge = errors.New("voicefile: attachment exceeds size limit")

	// ErrNoSource is returned for attachments with neither data nor URL.
	ErrNoSource = errors.New("voicefile: attachment has no data or url")

	// ErrClosed is returned after [Processor.Close].
	ErrClosed = errors.New("voicefile: processor closed")
)

// DefaultMaxBytes is the attachment size limit used when Config.MaxBytes is zero.
const DefaultMaxBytes = 25 << 20

// Config configures a [Processor].
type Config struct {
	// TempDir is the parent of the processor's private directory. Empty uses
	// the system temp directory.
	TempDir string

	// MaxBytes rejects larger attachments.
	MaxBytes int64

	// DownloadTimeout bounds one download. Zero means no extra bound beyond ctx.
	DownloadTimeout time.Duration
}

// Option configures a [Processor].
type Option func(*Processor)

// WithHTTPClient sets the client used to download attachments.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Processor) {
		if c != nil {
			p.client = c
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// Status is a reporting snapshot of a [Processor].
type Status struct {
	TempDir     string `json:"temp_dir"`
	MaxBytes    int64  `json:"max_bytes"`
	Outstanding int    `json:"outstanding_files"`
	Closed      bool   `json:"closed"`
}

// Processor downloads, decodes, and stores voice attachments. It is safe for
// concurrent use.
type Processor struct {
	dir      string
	maxBytes int64
	timeout  time.Duration
	client   *http.Client
	log      *slog.Logger

	mu     sync.Mutex
	files  map[string]struct{}
	closed bool
}

// New creates the processor's private temp directory.
func New(cfg Config, opts ...Option) (*Processor, error) {
	dir, err := os.MkdirTemp(cfg.TempDir, "murmur-voice-")
	if err != nil {
		return nil, fmt.Errorf("voicefile: create temp dir: %w", err)
	}
	p := &Processor{
		dir:      dir,
		maxBytes: cfg.MaxBytes,
		timeout:  cfg.DownloadTimeout,
		client:   http.DefaultClient,
		log:      slog.Default(),
		files:    make(map[string]struct{}),
	}
	if p.maxBytes <= 0 {
		p.maxBytes = DefaultMaxBytes
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ProcessVoiceFile fetches att, converts Ogg/Opus and WAV input to 16 kHz
// mono WAV, and returns the path of the stored file. Other formats are
// stored unchanged. On error no file is left behind.
func (p *Processor) ProcessVoiceFile(ctx context.Context, att types.Attachment) (path string, err error) {
	ctx, span := observe.StartSpan(ctx, "voicefile.process", trace.WithAttributes(
		attribute.String("filename", att.Filename),
		attribute.Int("size", att.Size),
	))
	defer func() { observe.EndSpan(span, err) }()

	if p.isClosed() {
		return "", ErrClosed
	}
	if int64(att.Size) > p.maxBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, att.Size, p.maxBytes)
	}

	data := att.Data
	if len(data) == 0 {
		if att.URL == "" {
			return "", ErrNoSource
		}
		data, err = p.download(ctx, att.URL)
		if err != nil {
			return "", err
		}
	}
	if int64(len(data)) > p.maxBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), p.maxBytes)
	}

	out, ext, err := convert(data, att)
	if err != nil {
		return "", err
	}
	return p.store(out, ext)
}

// Release deletes a file returned by ProcessVoiceFile. Releasing a path that
// is not owned by the processor is an error; releasing one twice is not.
func (p *Processor) Release(path string) error {
	p.mu.Lock()
	_, owned := p.files[path]
	delete(p.files, path)
	p.mu.Unlock()

	if !owned {
		if filepath.Dir(path) == p.dir {
			return nil
		}
		return fmt.Errorf("voicefile: release %q: not owned by processor", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("voicefile: release %q: %w", path, err)
	}
	return nil
}

// Close removes the temp directory and every file still in it. Further
// calls to ProcessVoiceFile fail with [ErrClosed].
func (p *Processor) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	n := len(p.files)
	clear(p.files)
	p.mu.Unlock()

	if n > 0 {
		p.log.Info("voicefile: removing unreleased files", "count", n)
	}
	if err := os.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("voicefile: remove temp dir: %w", err)
	}
	return nil
}

// Status returns a snapshot for diagnostics.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		TempDir:     p.dir,
		MaxBytes:    p.maxBytes,
		Outstanding: len(p.files),
		Closed:      p.closed,
	}
}

func (p *Processor) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Processor) download(ctx context.Context, url string) ([]byte, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("voicefile: create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voicefile: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voicefile: download returned HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > p.maxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, resp.ContentLength, p.maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("voicefile: read body: %w", err)
	}
	return data, nil
}

// store writes data into the temp dir and registers the file as owned.
func (p *Processor) store(data []byte, ext string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}

	f, err := os.CreateTemp(p.dir, "voice-*"+ext)
	if err != nil {
		return "", fmt.Errorf("voicefile: create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("voicefile: write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("voicefile: close file: %w", err)
	}
	p.files[f.Name()] = struct{}{}
	return f.Name(), nil
}

// convert normalises known containers to speech WAV. It returns the bytes to
// store and the file extension.
func convert(data []byte, att types.Attachment) ([]byte, string, error) {
	switch {
	case bytes.HasPrefix(data, []byte("OggS")):
		pcm, f, err := decodeOggOpus(data)
		if err != nil {
			return nil, "", err
		}
		return toSpeechWAV(pcm, f)
	case bytes.HasPrefix(data, []byte("RIFF")):
		pcm, f, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, "", fmt.Errorf("voicefile: %w", err)
		}
		return toSpeechWAV(pcm, f)
	default:
		ext := strings.ToLower(filepath.Ext(att.Filename))
		if ext == "" {
			ext = ".bin"
		}
		return data, ext, nil
	}
}

func toSpeechWAV(pcm []byte, f audio.Format) ([]byte, string, error) {
	speech, err := audio.ToSpeech(pcm, f)
	if err != nil {
		return nil, "", fmt.Errorf("voicefile: %w", err)
	}
	if len(speech) == 0 {
		return nil, "", errors.New("voicefile: attachment contains no audio")
	}
	return audio.EncodeWAV(speech, audio.SpeechFormat), ".wav", nil
}
