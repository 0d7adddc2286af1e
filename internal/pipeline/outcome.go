package pipeline

// Outcome describes how far one pipeline invocation progressed.
type Outcome string

const (
	OutcomePermissionDenied   Outcome = "permission-denied"
	OutcomeFileError          Outcome = "file-error"
	OutcomeTranscriptionEmpty Outcome = "transcription-empty"
	OutcomeRecordedOnly       Outcome = "recorded-only"
	OutcomeReplySkipped       Outcome = "reply-skipped"
	OutcomeReplyEmitted       Outcome = "reply-emitted"
	OutcomeError              Outcome = "error"
)

// Stage names one ordered step of an invocation.
type Stage string

const (
	StagePermissionCheck Stage = "permission_check"
	StageFilePrep        Stage = "file_prep"
	StageTranscribe      Stage = "transcribe"
	StageRecord          Stage = "record"
	StageGroupGate       Stage = "group_gate"
	StageReplyDecision   Stage = "reply_decision"
	StageReplyEmit       Stage = "reply_emit"
	StageCleanup         Stage = "cleanup"
)

// failure returns the outcome an invocation ends with when s fails, and the
// error kind reported for it. Record failures do not end the run.
func (s Stage) failure() (Outcome, ErrorKind) {
	switch s {
	case StagePermissionCheck:
		return OutcomePermissionDenied, KindPermissionDenied
	case StageFilePrep:
		return OutcomeFileError, KindFileProcessing
	case StageTranscribe:
		return OutcomeTranscriptionEmpty, KindTranscriptionProvider
	case StageRecord:
		return "", KindHistoryRecord
	case StageReplyDecision:
		return OutcomeReplySkipped, KindReplyGeneration
	default:
		return OutcomeError, KindReplyGeneration
	}
}
