package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure inside one invocation.
type ErrorKind string

const (
	KindPermissionDenied      ErrorKind = "permission_denied"
	KindFileProcessing        ErrorKind = "file_processing"
	KindTranscriptionProvider ErrorKind = "transcription_provider"
	KindTranscriptionEmpty    ErrorKind = "transcription_empty"
	KindHistoryRecord         ErrorKind = "history_record"
	KindReplyGeneration       ErrorKind = "reply_generation"
)

// ErrNoReplyProvider is returned by a [ReplyGenerator] that has no LLM
// provider configured.
var ErrNoReplyProvider = errors.New("pipeline: no reply provider configured")

// errNoUsableFile is reported when the file processor returns an empty path.
var errNoUsableFile = errors.New("no usable file produced")

// errEmptyTranscript is reported when transcription succeeds without text.
var errEmptyTranscript = errors.New("empty transcription")

// StageError is a failure captured at a stage boundary.
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// panicError wraps a value recovered from a panicking stage.
type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
