package discord

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/pkg/history"
)

// TextConfig returns the live settings of a [TextResponder].
type TextConfig func() (enabled bool, contextLimit int)

// TextResponder answers text messages in direct messages and messages that
// mention the bot. It shares conversations with the voice pipeline, so a
// voice message and a typed follow-up land in the same history.
type TextResponder struct {
	replies pipeline.ReplyGenerator
	history pipeline.HistoryStore
	sender  Sender
	selfID  func() string
	config  TextConfig
	log     *slog.Logger
}

// NewTextResponder returns a responder. selfID reports the bot's user ID.
func NewTextResponder(replies pipeline.ReplyGenerator, store pipeline.HistoryStore, sender Sender, selfID func() string, cfg TextConfig) *TextResponder {
	if cfg == nil {
		cfg = func() (bool, int) { return true, 0 }
	}
	return &TextResponder{
		replies: replies,
		history: store,
		sender:  sender,
		selfID:  selfID,
		config:  cfg,
		log:     slog.Default(),
	}
}

// HandleMessage implements [MessageHandler].
func (t *TextResponder) HandleMessage(ctx context.Context, m *discordgo.Message, ctl *Control) {
	enabled, limit := t.config()
	if !enabled || t.replies == nil {
		return
	}
	prompt, ok := t.prompt(m)
	if !ok {
		return
	}

	sessionID := SessionID(m)
	log := t.log.With("session_id", sessionID, "message_id", m.ID)

	convID, err := t.history.GetOrCreateConversation(ctx, sessionID)
	if err != nil {
		log.Error("text reply: conversation unavailable", "err", err)
		return
	}
	prior, err := t.history.History(ctx, sessionID, convID, limit)
	if err != nil {
		log.Warn("text reply: continuing without context", "err", err)
		prior = nil
	}
	if err := t.history.AppendHistory(ctx, sessionID, convID, history.Entry{Role: history.RoleUser, Content: prompt}); err != nil {
		log.Warn("text reply: failed to record message", "err", err)
	}

	if err := t.sender.ChannelTyping(m.ChannelID); err != nil {
		log.Debug("typing indicator failed", "err", err)
	}
	stream, err := t.replies.GenerateReply(ctx, pipeline.ReplyRequest{
		Prompt:         prompt,
		SessionID:      sessionID,
		ConversationID: convID,
		Context:        prior,
	})
	if err != nil {
		log.Error("text reply: generation failed", "err", err)
		return
	}
	ctl.StopPropagation()

	text, err := Collect(ctx, stream)
	if err != nil {
		log.Error("text reply: stream failed", "err", err)
	}
	if err := SendReply(t.sender, m, text); err != nil {
		log.Error("text reply: send failed", "err", err)
	}
}

// prompt returns the text to answer, with bot mentions removed, and whether
// the message is addressed to the bot at all.
func (t *TextResponder) prompt(m *discordgo.Message) (string, bool) {
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return "", false
	}
	if m.GuildID == "" {
		return content, true
	}

	self := t.selfID()
	if self == "" {
		return "", false
	}
	mentioned := false
	for _, u := range m.Mentions {
		if u != nil && u.ID == self {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return "", false
	}
	content = strings.NewReplacer("<@"+self+">", "", "<@!"+self+">", "").Replace(content)
	content = strings.TrimSpace(content)
	return content, content != ""
}
