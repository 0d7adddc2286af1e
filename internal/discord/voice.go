package discord

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/pkg/types"
)

// Processor runs the voice pipeline. *pipeline.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, ev types.VoiceEvent, ctl pipeline.EventControl) pipeline.Result
}

// audioExtensions are accepted when an attachment has no audio content type.
var audioExtensions = map[string]bool{
	".ogg": true, ".oga": true, ".opus": true, ".wav": true,
	".mp3": true, ".m4a": true, ".webm": true, ".flac": true,
}

// SessionID returns the conversation key of a message:
// "discord:<guild id or dm>:<channel id>".
func SessionID(m *discordgo.Message) string {
	scope := m.GuildID
	if scope == "" {
		scope = "dm"
	}
	return "discord:" + scope + ":" + m.ChannelID
}

// VoiceAttachment returns the first audio attachment of m, or nil.
func VoiceAttachment(m *discordgo.Message) *discordgo.MessageAttachment {
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		if strings.HasPrefix(a.ContentType, "audio/") || audioExtensions[strings.ToLower(filepath.Ext(a.Filename))] {
			return a
		}
	}
	return nil
}

// VoiceEvent builds the pipeline event for a message and its audio attachment.
func VoiceEvent(m *discordgo.Message, a *discordgo.MessageAttachment) types.VoiceEvent {
	ev := types.VoiceEvent{
		MessageID: m.ID,
		SessionID: SessionID(m),
		Type:      types.MessageDirect,
		ChannelID: m.ChannelID,
		Attachment: types.Attachment{
			ID:          a.ID,
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		},
		ReceivedAt: m.Timestamp,
	}
	if m.Author != nil {
		ev.SenderID = m.Author.ID
		ev.SenderName = m.Author.DisplayName()
	}
	if m.GuildID != "" {
		ev.Type = types.MessageGroup
		ev.GroupID = m.GuildID
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	return ev
}

// VoiceHandler is the first handler of the chain. It runs every message with
// an audio attachment through the pipeline and posts the streamed reply.
type VoiceHandler struct {
	proc   Processor
	sender Sender
	stats  *PipelineStats
	log    *slog.Logger
}

// NewVoiceHandler returns a handler that feeds proc. stats may be nil.
func NewVoiceHandler(proc Processor, sender Sender, stats *PipelineStats) *VoiceHandler {
	return &VoiceHandler{
		proc:   proc,
		sender: sender,
		stats:  stats,
		log:    slog.Default(),
	}
}

// HandleMessage implements [MessageHandler]. The pipeline runs synchronously
// in the calling goroutine.
func (h *VoiceHandler) HandleMessage(ctx context.Context, m *discordgo.Message, ctl *Control) {
	att := VoiceAttachment(m)
	if att == nil {
		return
	}
	ev := VoiceEvent(m, att)
	log := h.log.With("session_id", ev.SessionID, "message_id", m.ID)

	res := h.proc.Process(ctx, ev, ctl)
	if h.stats != nil {
		h.stats.Record(res)
	}
	if res.Err != nil {
		log.Warn("voice pipeline reported errors", "outcome", res.Outcome, "err", res.Err)
	}
	if res.Replies == nil {
		return
	}

	// The message is answered here; later responders must not answer again.
	ctl.StopPropagation()

	start := time.Now()
	if err := h.sender.ChannelTyping(m.ChannelID); err != nil {
		log.Debug("typing indicator failed", "err", err)
	}
	text, err := Collect(ctx, res.Replies)
	if err != nil {
		log.Error("reply stream failed", "err", err)
	}
	if err := SendReply(h.sender, m, text); err != nil {
		log.Error("failed to send reply", "err", err)
	}
	if h.stats != nil {
		h.stats.RecordReply(time.Since(start))
	}
}

// Collect drains a reply stream and returns its text. It stops at the first
// fragment error, returning the text received so far together with it.
func Collect(ctx context.Context, replies <-chan pipeline.Fragment) (string, error) {
	var sb strings.Builder
	for {
		select {
		case f, ok := <-replies:
			if !ok {
				return sb.String(), nil
			}
			if f.Err != nil {
				return sb.String(), f.Err
			}
			sb.WriteString(f.Text)
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		}
	}
}
