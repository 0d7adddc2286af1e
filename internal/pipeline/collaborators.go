package pipeline

import (
	"context"
	"time"

	"github.com/MrWong99/murmur/internal/permission"
	"github.com/MrWong99/murmur/pkg/history"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/types"
)

// FileProcessor turns a voice attachment into a local file a transcriber can
// read. The returned file is owned by the invocation that requested it and is
// handed back through Release.
type FileProcessor interface {
	// ProcessVoiceFile stores or converts the attachment and returns its path.
	// An empty path with a nil error means no usable file could be produced.
	ProcessVoiceFile(ctx context.Context, att types.Attachment) (string, error)

	// Release deletes a file previously returned by ProcessVoiceFile.
	Release(path string) error
}

// Transcriber converts an audio file into text. [stt.Provider] satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, req stt.Request) (types.Transcript, error)
}

// HistoryStore is the subset of [history.Store] the pipeline needs.
type HistoryStore interface {
	GetOrCreateConversation(ctx context.Context, sessionID string) (string, error)
	AppendHistory(ctx context.Context, sessionID, conversationID string, entry history.Entry) error
	History(ctx context.Context, sessionID, conversationID string, limit int) ([]history.Entry, error)
}

// Fragment is one piece of a streamed reply. A fragment with a non-nil Err is
// the last one sent on its channel.
type Fragment struct {
	Text string
	Err  error
}

// ReplyRequest asks the reply generator for an answer to a voice message.
type ReplyRequest struct {
	Prompt         string
	SessionID      string
	ConversationID string
	Context        []history.Entry
}

// ReplyGenerator produces a reply stream. The channel is closed when the
// reply is complete. Implementations without a configured provider return
// [ErrNoReplyProvider].
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, req ReplyRequest) (<-chan Fragment, error)
}

// Gate answers the permission questions for an event.
// [permission.Gate] satisfies it.
type Gate interface {
	CanProcessVoice(ev types.VoiceEvent) bool
	CanGenerateReply(ev types.VoiceEvent) bool
	Status(groupID string) permission.Status
}

// Decider makes reply decisions and owns per-session decision state.
// [decision.Engine] satisfies it.
type Decider interface {
	ShouldReply(sessionID string) bool
	CleanupExpired(maxAge time.Duration) int
}

// EventControl is the transport's handle on the event being processed.
type EventControl interface {
	// StopPropagation prevents the event from reaching downstream automatic
	// responders.
	StopPropagation()
}
