// Package permission decides which voice events may be transcribed and which
// may receive a generated reply.
//
// All predicates are pure reads of the current [Settings] snapshot and fail
// safe: a missing gate, missing settings, or a malformed event yields false.
package permission

import (
	"slices"
	"sync/atomic"

	"github.com/MrWong99/murmur/pkg/types"
)

// Settings holds the group voice gates for a deployment.
type Settings struct {
	// RecognitionEnabled allows voice messages in groups to be transcribed.
	RecognitionEnabled bool

	// ReplyEnabled allows transcribed group voice messages to receive replies.
	ReplyEnabled bool

	// RecognitionAllowList restricts recognition to the listed group IDs.
	// When both allow-lists are empty every group is allowed.
	RecognitionAllowList []string

	// ReplyAllowList restricts replies to the listed group IDs. Empty means
	// every group with replies enabled.
	ReplyAllowList []string
}

// Status is a reporting snapshot of the gates for one group.
type Status struct {
	GroupID            string `json:"group_id,omitempty"`
	RecognitionEnabled bool   `json:"recognition_enabled"`
	ReplyEnabled       bool   `json:"reply_enabled"`
	GroupAllowed       bool   `json:"group_allowed"`
}

// Gate answers permission questions against an atomically swappable
// [Settings] snapshot. The zero value denies every group event.
type Gate struct {
	settings atomic.Pointer[Settings]
}

// NewGate returns a Gate initialised with s.
func NewGate(s Settings) *Gate {
	g := &Gate{}
	g.Update(s)
	return g
}

// Update atomically replaces the active settings.
func (g *Gate) Update(s Settings) {
	s.RecognitionAllowList = slices.Clone(s.RecognitionAllowList)
	s.ReplyAllowList = slices.Clone(s.ReplyAllowList)
	g.settings.Store(&s)
}

// Settings returns a copy of the active settings.
func (g *Gate) Settings() Settings {
	s := g.load()
	if s == nil {
		return Settings{}
	}
	out := *s
	out.RecognitionAllowList = slices.Clone(s.RecognitionAllowList)
	out.ReplyAllowList = slices.Clone(s.ReplyAllowList)
	return out
}

// CanProcessVoice reports whether ev may be transcribed. Direct messages are
// always allowed. Group messages need recognition enabled and the group to be
// allowed by a configured allow-list.
func (g *Gate) CanProcessVoice(ev types.VoiceEvent) bool {
	switch ev.Type {
	case types.MessageDirect:
		return g != nil
	case types.MessageGroup:
		s := g.load()
		if s == nil || ev.GroupID == "" {
			return false
		}
		return s.RecognitionEnabled && s.groupAllowed(ev.GroupID)
	default:
		return false
	}
}

// CanGenerateReply reports whether ev may receive a generated reply. It is
// independent of [Gate.CanProcessVoice].
func (g *Gate) CanGenerateReply(ev types.VoiceEvent) bool {
	switch ev.Type {
	case types.MessageDirect:
		return g != nil
	case types.MessageGroup:
		s := g.load()
		if s == nil || ev.GroupID == "" {
			return false
		}
		return s.ReplyEnabled && (len(s.ReplyAllowList) == 0 || slices.Contains(s.ReplyAllowList, ev.GroupID))
	default:
		return false
	}
}

// Status returns the gate flags as they apply to groupID. An empty groupID
// reports the deployment-wide flags.
func (g *Gate) Status(groupID string) Status {
	s := g.load()
	if s == nil {
		return Status{GroupID: groupID}
	}
	return Status{
		GroupID:            groupID,
		RecognitionEnabled: s.RecognitionEnabled,
		ReplyEnabled:       s.ReplyEnabled,
		GroupAllowed:       groupID != "" && s.groupAllowed(groupID),
	}
}

func (g *Gate) load() *Settings {
	if g == nil {
		return nil
	}
	return g.settings.Load()
}

// groupAllowed reports whether groupID is admitted by any configured
// allow-list. With no allow-lists configured every group is admitted.
func (s *Settings) groupAllowed(groupID string) bool {
	if len(s.RecognitionAllowList) == 0 && len(s.ReplyAllowList) == 0 {
		return true
	}
	return slices.Contains(s.RecognitionAllowList, groupID) || slices.Contains(s.ReplyAllowList, groupID)
}
