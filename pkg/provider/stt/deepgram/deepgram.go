// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. A voice file is streamed in full, the stream is
// closed, and every final result is joined into one transcript.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkSize is the number of bytes sent per binary frame.
	chunkSize = 8 << 10
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		if language != "" {
			p.language = language
		}
	}
}

// WithEndpoint overrides the streaming endpoint. Useful for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		if endpoint != "" {
			p.endpoint = endpoint
		}
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "deepgram" }

// Transcribe streams the file at req.Path to Deepgram. WAV files are sent as
// raw linear16 PCM; any other container is forwarded as-is and detected by
// the service.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error) {
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: read audio: %w", err)
	}

	var format audio.Format
	if bytes.HasPrefix(data, []byte("RIFF")) {
		pcm, f, err := audio.DecodeWAV(data)
		if err != nil {
			return types.Transcript{}, fmt.Errorf("deepgram: %w", err)
		}
		data, format = pcm, f
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	wsURL, err := p.buildURL(lang, format)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	var col collector
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return send(gctx, conn, data) })
	g.Go(func() error { return col.receive(gctx, conn) })
	if err := g.Wait(); err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: %w", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	tr := col.transcript()
	tr.Language = lang
	if tr.Duration == 0 && format.SampleRate > 0 {
		tr.Duration = format.Duration(data)
	}
	return tr, nil
}

// buildURL constructs the Deepgram streaming endpoint URL. A non-zero format
// declares raw linear16 audio.
func (p *Provider) buildURL(lang string, format audio.Format) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if format.SampleRate > 0 {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(format.SampleRate))
		q.Set("channels", strconv.Itoa(format.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// send writes the payload in binary frames and then asks the service to
// flush and close the stream.
func send(ctx context.Context, conn *websocket.Conn, data []byte) error {
	for len(data) > 0 {
		n := min(chunkSize, len(data))
		if err := conn.Write(ctx, websocket.MessageBinary, data[:n]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		data = data[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}

// deepgramResponse is the JSON structure returned by Deepgram for Results
// and Metadata events.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// collector accumulates final results until the stream ends.
type collector struct {
	finals   []types.Transcript
	duration time.Duration
}

func (c *collector) receive(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Type == "Metadata" {
			c.duration = seconds(resp.Duration)
			return nil
		}
		if t, final, ok := parseDeepgramResponse(msg); ok && final {
			c.finals = append(c.finals, t)
		}
	}
}

func (c *collector) transcript() types.Transcript {
	var (
		texts []string
		conf  float64
		words []types.WordDetail
	)
	for _, f := range c.finals {
		if f.Text == "" {
			continue
		}
		texts = append(texts, f.Text)
		conf += f.Confidence
		words = append(words, f.Words...)
	}
	tr := types.Transcript{
		Text:     strings.Join(texts, " "),
		Words:    words,
		Duration: c.duration,
	}
	if len(texts) > 0 {
		tr.Confidence = conf / float64(len(texts))
	}
	return tr
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a
// Transcript. ok is false if the message should be ignored.
func parseDeepgramResponse(data []byte) (t types.Transcript, final, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, false, false
	}
	if resp.Type != "Results" {
		return types.Transcript{}, false, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return types.Transcript{}, false, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]types.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, types.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}

	return types.Transcript{
		Text:       strings.TrimSpace(alt.Transcript),
		Confidence: alt.Confidence,
		Words:      words,
	}, resp.IsFinal, true
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
