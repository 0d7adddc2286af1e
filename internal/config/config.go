// Package config provides the configuration schema, loader, file watcher,
// and provider registry for murmur.
//
// The reply-behaviour sections keep the capitalised key names used by
// existing deployments (Chat_Reply, Output_Settings, Group_Voice); the
// infrastructure sections use lower_snake keys.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/murmur/internal/decision"
	"github.com/MrWong99/murmur/internal/permission"
)

// LogLevel controls log verbosity for the murmur server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HistoryBackend selects the conversation history store implementation.
type HistoryBackend string

const (
	// HistorySQLite stores history in an embedded SQLite database.
	HistorySQLite HistoryBackend = "sqlite"

	// HistoryPostgres stores history in PostgreSQL.
	HistoryPostgres HistoryBackend = "postgres"
)

// IsValid reports whether b is a recognised history backend.
func (b HistoryBackend) IsValid() bool {
	return b == HistorySQLite || b == HistoryPostgres
}

// Config is the root configuration structure for murmur.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Discord    DiscordConfig    `yaml:"discord"`
	Providers  ProvidersConfig  `yaml:"providers"`
	History    HistoryConfig    `yaml:"history"`
	Processing ProcessingConfig `yaml:"processing"`
	ChatReply  ChatReplyConfig  `yaml:"Chat_Reply"`
	Output     OutputConfig     `yaml:"Output_Settings"`
	GroupVoice GroupVoiceConfig `yaml:"Group_Voice"`
	Decision   DecisionConfig   `yaml:"Decision"`
}

// ServerConfig holds the admin HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the admin server listens on (e.g., ":8080").
	// Empty disables the admin server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the admin server. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DiscordConfig holds the bot credentials.
type DiscordConfig struct {
	// Token is the bot token. Usually given as ${DISCORD_TOKEN}.
	Token string `yaml:"token"`

	// GuildID registers slash commands for a single guild instead of globally.
	// Guild commands update instantly, which is convenient during development.
	GuildID string `yaml:"guild_id"`
}

// ProvidersConfig declares which provider implementations murmur uses. Each
// entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// LLM generates replies. Leave empty to run in record-only mode.
	LLM ProviderEntry `yaml:"llm"`

	// STT transcribes voice messages. Required.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary STT provider fails or
	// its circuit breaker is open.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// HistoryConfig selects and configures the conversation history store.
type HistoryConfig struct {
	// Backend is "sqlite" (default) or "postgres".
	Backend HistoryBackend `yaml:"backend"`

	// DSN is the backend connection string. For sqlite this is a file path or
	// ":memory:"; for postgres a libpq URL.
	DSN string `yaml:"dsn"`

	// ContextLimit caps how many prior entries are sent to the LLM as reply
	// context. Zero sends the whole conversation.
	ContextLimit int `yaml:"context_limit"`
}

// ProcessingConfig controls voice file handling and transcription.
type ProcessingConfig struct {
	// MaxFileSizeMB rejects attachments larger than this many megabytes.
	MaxFileSizeMB int `yaml:"max_file_size_mb"`

	// TempDir is the parent directory for per-process temporary files.
	// Empty uses the system temp directory.
	TempDir string `yaml:"temp_dir"`

	// Language is a BCP-47 language hint passed to the STT provider.
	Language string `yaml:"language"`

	// DownloadTimeout bounds a single attachment download.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// MaxFileSizeBytes returns the attachment size cap in bytes.
func (p ProcessingConfig) MaxFileSizeBytes() int64 {
	return int64(p.MaxFileSizeMB) << 20
}

// ChatReplyConfig controls automatic replies to voice messages.
type ChatReplyConfig struct {
	// EnableChatReply gates whether replies are ever attempted.
	EnableChatReply bool `yaml:"Enable_Chat_Reply"`

	// EnableProbabilisticReply makes replies a random draw instead of always.
	EnableProbabilisticReply bool `yaml:"Enable_Probabilistic_Reply"`

	// ReplyProbability is the chance of replying, clamped into [0, 1] at load.
	ReplyProbability float64 `yaml:"Reply_Probability"`

	// SystemPrompt is sent to the LLM ahead of the conversation.
	SystemPrompt string `yaml:"System_Prompt"`
}

// OutputConfig holds diagnostic output settings.
type OutputConfig struct {
	// ConsoleOutput logs every transcript. It has no behavioural effect.
	ConsoleOutput bool `yaml:"Console_Output"`
}

// GroupVoiceConfig holds the per-deployment gates for voice messages in
// guild channels. Direct messages are not affected.
type GroupVoiceConfig struct {
	EnableRecognition    bool     `yaml:"Enable_Group_Voice_Recognition"`
	EnableReply          bool     `yaml:"Enable_Group_Voice_Reply"`
	RecognitionWhitelist []string `yaml:"Group_Recognition_Whitelist"`
	ReplyWhitelist       []string `yaml:"Group_Reply_Whitelist"`
}

// DecisionConfig tunes the reply decision engine.
type DecisionConfig struct {
	// SessionMaxAge is how long an idle session's decision state is kept.
	SessionMaxAge time.Duration `yaml:"session_max_age"`
}

// DefaultSystemPrompt is used when Chat_Reply.System_Prompt is empty.
const DefaultSystemPrompt = "You are a friendly assistant in a chat. Users talk to you with voice messages which are transcribed for you. Reply briefly and conversationally."

// Default returns a Config populated with the built-in defaults. The loader
// decodes YAML on top of it so absent keys keep these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		History: HistoryConfig{
			Backend: HistorySQLite,
			DSN:     "murmur.db",
		},
		Processing: ProcessingConfig{
			MaxFileSizeMB:   25,
			DownloadTimeout: 30 * time.Second,
		},
		ChatReply: ChatReplyConfig{
			EnableChatReply:  true,
			ReplyProbability: 0.3,
		},
		Output: OutputConfig{
			ConsoleOutput: true,
		},
		Decision: DecisionConfig{
			SessionMaxAge: decision.DefaultSessionMaxAge,
		},
	}
}

// DecisionPolicy returns the reply decision policy described by c.
func (c *Config) DecisionPolicy() decision.Policy {
	return decision.Policy{
		Enabled:     c.ChatReply.EnableProbabilisticReply,
		Probability: c.ChatReply.ReplyProbability,
	}.Clamp()
}

// PermissionSettings returns the group voice gates described by c.
func (c *Config) PermissionSettings() permission.Settings {
	return permission.Settings{
		RecognitionEnabled:   c.GroupVoice.EnableRecognition,
		ReplyEnabled:         c.GroupVoice.EnableReply,
		RecognitionAllowList: c.GroupVoice.RecognitionWhitelist,
		ReplyAllowList:       c.GroupVoice.ReplyWhitelist,
	}
}

// EffectiveSystemPrompt returns the configured system prompt or
// [DefaultSystemPrompt].
func (c *Config) EffectiveSystemPrompt() string {
	if c.ChatReply.SystemPrompt != "" {
		return c.ChatReply.SystemPrompt
	}
	return DefaultSystemPrompt
}
