package discord

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// MaxMessageLength is the Discord limit for one message's content.
const MaxMessageLength = 2000

// Sender posts messages to a channel. *discordgo.Session satisfies it.
type Sender interface {
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// SendReply posts text as one or more replies to m, split so that no part
// exceeds [MaxMessageLength]. Blank text sends nothing.
func SendReply(s Sender, m *discordgo.Message, text string) error {
	for i, part := range SplitMessage(text, MaxMessageLength) {
		if _, err := s.ChannelMessageSendReply(m.ChannelID, part, m.SoftReference()); err != nil {
			return fmt.Errorf("discord: send reply part %d: %w", i+1, err)
		}
	}
	return nil
}

// SplitMessage breaks text into parts of at most limit characters. It
// prefers to break after a newline, then after a space, and only cuts
// inside a word when a single word is longer than limit.
func SplitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = MaxMessageLength
	}

	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		head := text[:cut]
		if i := strings.LastIndexByte(head, '\n'); i > 0 {
			cut = i + 1
		} else if i := strings.LastIndexByte(head, ' '); i > 0 {
			cut = i + 1
		}
		if part := strings.TrimSpace(text[:cut]); part != "" {
			parts = append(parts, part)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// byteOffset returns the byte index of the n-th rune of s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
