package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/config"
)

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.Discord.Token = "t"
	cfg.Providers.STT.Name = "whisper"
	cfg.GroupVoice.RecognitionWhitelist = []string{"g1"}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.HotReloadable() || d.RestartRequired {
		t.Errorf("identical configs should produce an empty diff, got %+v", d)
	}
}

func TestDiff_HotReloadableFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{
			name:   "probability",
			mutate: func(c *config.Config) { c.ChatReply.ReplyProbability = 0.9 },
			check:  func(d config.ConfigDiff) bool { return d.PolicyChanged },
		},
		{
			name:   "probabilistic toggle",
			mutate: func(c *config.Config) { c.ChatReply.EnableProbabilisticReply = true },
			check:  func(d config.ConfigDiff) bool { return d.PolicyChanged },
		},
		{
			name:   "chat reply",
			mutate: func(c *config.Config) { c.ChatReply.EnableChatReply = false },
			check:  func(d config.ConfigDiff) bool { return d.ChatReplyChanged },
		},
		{
			name:   "console output",
			mutate: func(c *config.Config) { c.Output.ConsoleOutput = false },
			check:  func(d config.ConfigDiff) bool { return d.ConsoleOutputChanged },
		},
		{
			name:   "group whitelist",
			mutate: func(c *config.Config) { c.GroupVoice.RecognitionWhitelist = []string{"g1", "g2"} },
			check:  func(d config.ConfigDiff) bool { return d.PermissionsChanged },
		},
		{
			name:   "group reply",
			mutate: func(c *config.Config) { c.GroupVoice.EnableReply = true },
			check:  func(d config.ConfigDiff) bool { return d.PermissionsChanged },
		},
		{
			name:   "session max age",
			mutate: func(c *config.Config) { c.Decision.SessionMaxAge = 10 * time.Minute },
			check:  func(d config.ConfigDiff) bool { return d.OptionsChanged },
		},
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check:  func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogDebug },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tc.mutate(next)
			d := config.Diff(baseConfig(), next)
			if !tc.check(d) {
				t.Errorf("expected change flag, got %+v", d)
			}
			if !d.HotReloadable() {
				t.Error("HotReloadable should be true")
			}
			if d.RestartRequired {
				t.Errorf("no restart expected, reasons: %v", d.RestartReasons)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		reason string
	}{
		{name: "token", mutate: func(c *config.Config) { c.Discord.Token = "other" }, reason: "discord"},
		{name: "stt provider", mutate: func(c *config.Config) { c.Providers.STT.Name = "deepgram" }, reason: "providers"},
		{name: "history dsn", mutate: func(c *config.Config) { c.History.DSN = "other.db" }, reason: "history.backend"},
		{name: "listen addr", mutate: func(c *config.Config) { c.Server.ListenAddr = ":1" }, reason: "server.listen_addr"},
		{name: "file size", mutate: func(c *config.Config) { c.Processing.MaxFileSizeMB = 5 }, reason: "processing"},
		{name: "system prompt", mutate: func(c *config.Config) { c.ChatReply.SystemPrompt = "x" }, reason: "Chat_Reply.System_Prompt"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tc.mutate(next)
			d := config.Diff(baseConfig(), next)
			if !d.RestartRequired {
				t.Fatal("RestartRequired should be true")
			}
			if !slices.Contains(d.RestartReasons, tc.reason) {
				t.Errorf("reasons %v should contain %q", d.RestartReasons, tc.reason)
			}
		})
	}
}
