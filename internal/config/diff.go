package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable sections are reported individually; everything else that
// changed is listed in RestartReasons.
type ConfigDiff struct {
	PolicyChanged        bool // Chat_Reply probability settings
	PermissionsChanged   bool // Group_Voice gates or whitelists
	ChatReplyChanged     bool // Enable_Chat_Reply
	ConsoleOutputChanged bool
	OptionsChanged       bool // session max age, context limit, language
	LogLevelChanged      bool
	NewLogLevel          LogLevel

	// RestartRequired is true when a change only takes effect after restart.
	RestartRequired bool
	RestartReasons  []string
}

// HotReloadable reports whether d contains any change that can be applied
// without restart.
func (d ConfigDiff) HotReloadable() bool {
	return d.PolicyChanged || d.PermissionsChanged || d.ChatReplyChanged ||
		d.ConsoleOutputChanged || d.OptionsChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.ChatReply.EnableProbabilisticReply != new.ChatReply.EnableProbabilisticReply ||
		old.ChatReply.ReplyProbability != new.ChatReply.ReplyProbability {
		d.PolicyChanged = true
	}
	d.ChatReplyChanged = old.ChatReply.EnableChatReply != new.ChatReply.EnableChatReply
	d.ConsoleOutputChanged = old.Output.ConsoleOutput != new.Output.ConsoleOutput

	og, ng := old.GroupVoice, new.GroupVoice
	if og.EnableRecognition != ng.EnableRecognition ||
		og.EnableReply != ng.EnableReply ||
		!slices.Equal(og.RecognitionWhitelist, ng.RecognitionWhitelist) ||
		!slices.Equal(og.ReplyWhitelist, ng.ReplyWhitelist) {
		d.PermissionsChanged = true
	}

	if old.Decision.SessionMaxAge != new.Decision.SessionMaxAge ||
		old.History.ContextLimit != new.History.ContextLimit ||
		old.Processing.Language != new.Processing.Language {
		d.OptionsChanged = true
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = true
			d.RestartReasons = append(d.RestartReasons, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("discord", old.Discord != new.Discord)
	restart("providers", !reflect.DeepEqual(old.Providers, new.Providers))
	restart("history.backend", old.History.Backend != new.History.Backend || old.History.DSN != new.History.DSN)
	restart("processing", old.Processing.MaxFileSizeMB != new.Processing.MaxFileSizeMB ||
		old.Processing.TempDir != new.Processing.TempDir ||
		old.Processing.DownloadTimeout != new.Processing.DownloadTimeout)
	restart("Chat_Reply.System_Prompt", old.ChatReply.SystemPrompt != new.ChatReply.SystemPrompt)

	return d
}
