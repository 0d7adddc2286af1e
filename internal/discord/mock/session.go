// Package mock provides test doubles for the Discord transport.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records interaction responses for test assertions.
type InteractionResponder struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// Err is returned by InteractionRespond when non-nil.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// LastResponse returns the most recently recorded response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// SentReply is one recorded ChannelMessageSendReply call.
type SentReply struct {
	ChannelID string
	Content   string
	Reference *discordgo.MessageReference
}

// Sender records outgoing channel messages.
type Sender struct {
	mu sync.Mutex

	// Replies records every ChannelMessageSendReply call in order.
	Replies []SentReply

	// Typing records the channel of every ChannelTyping call.
	Typing []string

	// SendErr is returned by ChannelMessageSendReply when non-nil.
	SendErr error
}

// ChannelMessageSendReply records the message.
func (s *Sender) ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Replies = append(s.Replies, SentReply{ChannelID: channelID, Content: content, Reference: reference})
	if s.SendErr != nil {
		return nil, s.SendErr
	}
	return &discordgo.Message{ID: "mock-reply", ChannelID: channelID, Content: content}, nil
}

// ChannelTyping records the call.
func (s *Sender) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Typing = append(s.Typing, channelID)
	return nil
}

// Contents returns the content of every recorded reply.
func (s *Sender) Contents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Replies))
	for i, r := range s.Replies {
		out[i] = r.Content
	}
	return out
}
