package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every error [Validate] returns. A config that
// fails validation prevents startup.
var ErrInvalid = errors.New("config: invalid configuration")

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "deepgram", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], expands
// ${ENV} references in secret fields, clamps the reply probability, and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	clampProbability(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandSecrets replaces ${VAR} and $VAR references in credential and
// endpoint fields with the environment values.
func expandSecrets(cfg *Config) {
	cfg.Discord.Token = os.ExpandEnv(cfg.Discord.Token)
	cfg.History.DSN = os.ExpandEnv(cfg.History.DSN)
	expandEntry(&cfg.Providers.LLM)
	expandEntry(&cfg.Providers.STT)
	for i := range cfg.Providers.STTFallbacks {
		expandEntry(&cfg.Providers.STTFallbacks[i])
	}
}

func expandEntry(e *ProviderEntry) {
	e.APIKey = os.ExpandEnv(e.APIKey)
	e.BaseURL = os.ExpandEnv(e.BaseURL)
}

func clampProbability(cfg *Config) {
	p := cfg.ChatReply.ReplyProbability
	clamped := cfg.DecisionPolicy().Probability
	if p == clamped {
		return
	}
	if math.IsNaN(p) {
		slog.Warn("Chat_Reply.Reply_Probability is not a number; using 0")
	} else {
		slog.Warn("Chat_Reply.Reply_Probability out of range; clamped", "value", p, "clamped", clamped)
	}
	cfg.ChatReply.ReplyProbability = clamped
}

// Validate checks that cfg contains a coherent set of values. It returns
// [ErrInvalid] joined with every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" && cfg.ChatReply.EnableChatReply {
		slog.Warn("no LLM provider configured; voice messages will be transcribed and recorded without replies")
	}

	// History
	if !cfg.History.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: sqlite, postgres", cfg.History.Backend))
	}
	if cfg.History.DSN == "" {
		errs = append(errs, errors.New("history.dsn is required"))
	}
	if cfg.History.ContextLimit < 0 {
		errs = append(errs, fmt.Errorf("history.context_limit %d must not be negative", cfg.History.ContextLimit))
	}

	// Processing
	if cfg.Processing.MaxFileSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("processing.max_file_size_mb %d must be positive", cfg.Processing.MaxFileSizeMB))
	}
	if cfg.Processing.DownloadTimeout < 0 {
		errs = append(errs, fmt.Errorf("processing.download_timeout %s must not be negative", cfg.Processing.DownloadTimeout))
	}

	// Decision
	if cfg.Decision.SessionMaxAge < 0 {
		errs = append(errs, fmt.Errorf("Decision.session_max_age %s must not be negative", cfg.Decision.SessionMaxAge))
	}

	// Group voice
	if len(cfg.GroupVoice.ReplyWhitelist) > 0 && !cfg.GroupVoice.EnableReply {
		slog.Warn("Group_Voice.Group_Reply_Whitelist is set but Enable_Group_Voice_Reply is false; the whitelist has no effect")
	}
	if cfg.GroupVoice.EnableReply && !cfg.GroupVoice.EnableRecognition {
		slog.Warn("Group_Voice.Enable_Group_Voice_Reply is true but recognition is disabled; group voice messages will be ignored")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
