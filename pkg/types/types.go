// Package types defines the shared types used across murmur packages.
//
// These types are the common vocabulary between the transport, the pipeline,
// the providers, and the history backends. Each package keeps its own domain
// types; only cross-cutting data structures live here to avoid import cycles.
package types

import "time"

// MessageType distinguishes one-to-one conversations from group conversations.
type MessageType string

const (
	// MessageDirect is a private conversation between one user and the bot.
	MessageDirect MessageType = "direct"

	// MessageGroup is a conversation in a shared space with many members.
	MessageGroup MessageType = "group"
)

// IsValid reports whether t is a recognised message type.
func (t MessageType) IsValid() bool {
	return t == MessageDirect || t == MessageGroup
}

// Attachment references the raw audio attached to an incoming message.
type Attachment struct {
	// ID is the transport-specific attachment identifier.
	ID string

	// URL is where the audio can be downloaded from. Empty when Data is set.
	URL string

	// Filename is the original file name as uploaded (e.g., "voice-message.ogg").
	Filename string

	// ContentType is the MIME type reported by the transport (e.g., "audio/ogg").
	ContentType string

	// Size is the reported size in bytes. Zero if unknown.
	Size int

	// Duration is the reported playback length for voice messages. Zero if unknown.
	Duration time.Duration

	// Data holds the audio bytes when the transport delivers them inline.
	Data []byte
}

// VoiceEvent is an incoming message carrying a voice attachment. It is
// created by the transport and is read-only to everything downstream.
type VoiceEvent struct {
	// MessageID identifies the message on the transport.
	MessageID string

	// SenderID and SenderName identify the author.
	SenderID   string
	SenderName string

	// SessionID correlates the conversation across events, decisions, and history.
	SessionID string

	// Type is MessageDirect or MessageGroup.
	Type MessageType

	// GroupID identifies the group. Set if and only if Type is MessageGroup.
	GroupID string

	// ChannelID is the transport channel the message arrived in.
	ChannelID string

	// Attachment is the voice payload.
	Attachment Attachment

	// ReceivedAt is when the transport received the message.
	ReceivedAt time.Time
}

// IsGroup reports whether the event originated in a group conversation.
func (e VoiceEvent) IsGroup() bool {
	return e.Type == MessageGroup
}

// Transcript is the result of transcribing one audio file.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected or requested BCP-47 language, if reported.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero if not reported.
	Confidence float64

	// Duration is the length of the transcribed audio, if reported.
	Duration time.Duration

	// Words contains per-word detail when available.
	Words []WordDetail
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Message is a single turn in a conversation sent to an LLM.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	// Content is the text of the message.
	Content string

	// Name optionally identifies the speaker within a role.
	Name string
}

// ModelCapabilities describes what a given LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum number of tokens the model accepts.
	ContextWindow int

	// MaxOutputTokens is the maximum number of tokens the model can produce.
	MaxOutputTokens int

	// SupportsStreaming indicates whether the model can stream its output.
	SupportsStreaming bool
}
