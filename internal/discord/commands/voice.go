// Package commands implements the /voice_* diagnostic slash commands.
package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/decision"
	"github.com/MrWong99/murmur/internal/discord"
	"github.com/MrWong99/murmur/internal/permission"
	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/internal/voicefile"
)

// Embed colours.
const (
	colorOK   = 0x2ecc71
	colorWarn = 0xf1c40f
	colorInfo = 0x3498db
)

// Transcriber describes the speech-to-text backend.
type Transcriber interface {
	Name() string
	Available() bool
}

// Replier describes the reply generator.
type Replier interface {
	Available() bool
	ProviderName() string
}

// Decisions is the part of the decision engine the commands report on.
type Decisions interface {
	StrategyInfo() decision.StrategyInfo
	Status() decision.ServiceStatus
	SessionStatistics(sessionID string) (decision.SessionStats, bool)
}

// Gate reports the group voice gates.
type Gate interface {
	Status(groupID string) permission.Status
}

// Files reports the voice file processor.
type Files interface {
	Status() voicefile.Status
}

// VoiceCommands holds the dependencies of /voice_status, /voice_test and
// /voice_debug.
type VoiceCommands struct {
	STT       Transcriber
	Replies   Replier
	Decisions Decisions
	Gate      Gate
	Files     Files
	Options   func() pipeline.Options
	Stats     *discord.PipelineStats
}

// Register registers the commands with the router.
func (vc *VoiceCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("voice_status", &discordgo.ApplicationCommand{
		Name:        "voice_status",
		Description: "Show voice message configuration",
	}, func(r discord.InteractionResponder, i *discordgo.InteractionCreate) {
		discord.RespondEmbed(r, i, vc.StatusEmbed(i.GuildID))
	})
	router.RegisterCommand("voice_test", &discordgo.ApplicationCommand{
		Name:        "voice_test",
		Description: "Check that voice processing is ready here",
	}, func(r discord.InteractionResponder, i *discordgo.InteractionCreate) {
		discord.RespondEmbed(r, i, vc.TestEmbed(i.GuildID))
	})
	router.RegisterCommand("voice_debug", &discordgo.ApplicationCommand{
		Name:        "voice_debug",
		Description: "Show voice pipeline debug information for this channel",
	}, func(r discord.InteractionResponder, i *discordgo.InteractionCreate) {
		discord.RespondEmbed(r, i, vc.DebugEmbed(i.GuildID, i.ChannelID, discord.InteractionUserID(i)))
	})
}

// StatusEmbed describes the configuration as seen from guildID ("" for a
// direct message).
func (vc *VoiceCommands) StatusEmbed(guildID string) *discordgo.MessageEmbed {
	opts := vc.Options()
	fields := []*discordgo.MessageEmbedField{
		inline("STT provider", fmt.Sprintf("%s (%s)", vc.STT.Name(), availability(vc.STT.Available()))),
		inline("LLM provider", llmName(vc.Replies)),
		inline("Chat reply", onOff(opts.ChatReplyEnabled)),
		inline("Reply strategy", vc.Decisions.StrategyInfo().Description),
		inline("Console output", onOff(opts.ConsoleOutput)),
		inline("Max file size", fmt.Sprintf("%d MB", vc.Files.Status().MaxBytes>>20)),
	}
	if guildID != "" {
		st := vc.Gate.Status(guildID)
		fields = append(fields,
			inline("Group recognition", onOff(st.RecognitionEnabled)),
			inline("Group reply", onOff(st.ReplyEnabled)),
			inline("This server allowed", yesNo(st.GroupAllowed)),
		)
	}
	return &discordgo.MessageEmbed{
		Title:  "Voice message status",
		Color:  colorInfo,
		Fields: fields,
	}
}

// TestEmbed checks readiness for voice messages sent in guildID.
func (vc *VoiceCommands) TestEmbed(guildID string) *discordgo.MessageEmbed {
	files := vc.Files.Status()
	ready := vc.STT.Available() && !files.Closed

	fields := []*discordgo.MessageEmbedField{
		inline("Speech to text", availability(vc.STT.Available())),
		inline("Reply generation", availability(vc.Replies != nil && vc.Replies.Available())),
		inline("File processor", fileState(files)),
		inline("Reply strategy", vc.Decisions.StrategyInfo().Description),
	}
	if guildID == "" {
		fields = append(fields, inline("Permissions", "direct message, always allowed"))
	} else {
		st := vc.Gate.Status(guildID)
		recognition := st.RecognitionEnabled && st.GroupAllowed
		fields = append(fields,
			inline("Recognition here", yesNo(recognition)),
			inline("Replies here", yesNo(recognition && st.ReplyEnabled)),
		)
		ready = ready && recognition
	}

	color, title := colorOK, "Voice processing ready"
	if !ready {
		color, title = colorWarn, "Voice processing not ready"
	}
	return &discordgo.MessageEmbed{Title: title, Color: color, Fields: fields}
}

// DebugEmbed shows the decision state of the channel's session and recent
// pipeline statistics.
func (vc *VoiceCommands) DebugEmbed(guildID, channelID, userID string) *discordgo.MessageEmbed {
	sessionID := discord.SessionID(&discordgo.Message{GuildID: guildID, ChannelID: channelID})
	msgType, group := "direct", "none"
	if guildID != "" {
		msgType, group = "group", guildID
	}

	session := "no decisions yet"
	if st, ok := vc.Decisions.SessionStatistics(sessionID); ok {
		session = fmt.Sprintf("last decision %s ago", st.SinceLast.Truncate(time.Second))
	}
	svc := vc.Decisions.Status()

	fields := []*discordgo.MessageEmbedField{
		inline("Message type", msgType),
		inline("Group ID", group),
		inline("Sender", "<@"+userID+">"),
		{Name: "Session", Value: fmt.Sprintf("`%s`\n%s", sessionID, session)},
		inline("Decision service", fmt.Sprintf("%s, %d active sessions", svc.Strategy.Description, svc.ActiveSessions)),
	}
	if vc.Stats != nil {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Pipeline", Value: statsText(vc.Stats.Snapshot())})
	}
	return &discordgo.MessageEmbed{Title: "Voice debug", Color: colorInfo, Fields: fields}
}

func statsText(s discord.Snapshot) string {
	if s.Runs == 0 {
		return "no voice messages processed yet"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d runs, %d with errors\n", s.Runs, s.Errors)
	fmt.Fprintf(&sb, "latency p50 %s, p95 %s\n", s.Pipeline.P50.Round(time.Millisecond), s.Pipeline.P95.Round(time.Millisecond))
	for _, o := range s.SortedOutcomes() {
		fmt.Fprintf(&sb, "%s: %d\n", o, s.Outcomes[o])
	}
	return strings.TrimSpace(sb.String())
}

func inline(name, value string) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: true}
}

func llmName(r Replier) string {
	if r == nil || !r.Available() {
		return "not configured (record only)"
	}
	return r.ProviderName()
}

func fileState(s voicefile.Status) string {
	if s.Closed {
		return "closed"
	}
	return fmt.Sprintf("ready, %d files in use", s.Outstanding)
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
