package openai_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/provider/stt/openai"
)

type seen struct {
	mu       sync.Mutex
	auth     string
	fields   map[string]string
	filename string
}

func newServer(t *testing.T, status int, body string, s *seen) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if s != nil && r.ParseMultipartForm(1<<20) == nil {
			s.mu.Lock()
			s.auth = r.Header.Get("Authorization")
			s.fields = make(map[string]string)
			for k, v := range r.MultipartForm.Value {
				s.fields[k] = v[0]
			}
			if fh := r.MultipartForm.File["file"]; len(fh) > 0 {
				s.filename = fh[0].Filename
			}
			s.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func audioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice-1.wav")
	if err := os.WriteFile(path, []byte("RIFF...."), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()
	var s seen
	srv := newServer(t, http.StatusOK, `{"text":" Guten Tag "}`, &s)
	p, err := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithLanguage("de"))
	if err != nil {
		t.Fatal(err)
	}

	tr, err := p.Transcribe(context.Background(), stt.Request{Path: audioFile(t), Prompt: "Greeting"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Guten Tag" || tr.Language != "de" {
		t.Errorf("got %+v", tr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auth != "Bearer sk-test" {
		t.Errorf("auth: got %q", s.auth)
	}
	if s.fields["model"] != "whisper-1" || s.fields["language"] != "de" || s.fields["prompt"] != "Greeting" {
		t.Errorf("fields: %v", s.fields)
	}
	if s.filename != "voice-1.wav" {
		t.Errorf("filename: got %q", s.filename)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()
	srv := newServer(t, http.StatusBadRequest, `{"error":{"message":"bad audio"}}`, nil)
	p, _ := openai.New("sk", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithMaxRetries(0))

	if _, err := p.Transcribe(context.Background(), stt.Request{Path: audioFile(t)}); err == nil {
		t.Error("expected error for HTTP 400")
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{Path: "/does/not/exist.wav"}); err == nil {
		t.Error("expected error for missing file")
	}
	if p.Name() != "openai" {
		t.Errorf("Name: got %q", p.Name())
	}
}
