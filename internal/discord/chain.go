package discord

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
)

// Control is the per-message handle a handler uses to stop the message from
// reaching the handlers after it. It satisfies pipeline.EventControl.
type Control struct {
	stopped atomic.Bool
}

// StopPropagation prevents later handlers from seeing the message.
func (c *Control) StopPropagation() { c.stopped.Store(true) }

// Stopped reports whether StopPropagation was called.
func (c *Control) Stopped() bool { return c.stopped.Load() }

// MessageHandler handles one incoming message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, m *discordgo.Message, ctl *Control)
}

// MessageHandlerFunc adapts a function to [MessageHandler].
type MessageHandlerFunc func(ctx context.Context, m *discordgo.Message, ctl *Control)

// HandleMessage calls f.
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, m *discordgo.Message, ctl *Control) {
	f(ctx, m, ctl)
}

type namedHandler struct {
	name string
	h    MessageHandler
}

// Chain passes messages to handlers in registration order until one of them
// stops propagation. Messages written by bots, including this one, are
// ignored.
type Chain struct {
	mu       sync.RWMutex
	handlers []namedHandler
	selfID   atomic.Value // string
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	c := &Chain{}
	c.selfID.Store("")
	return c
}

// Use appends h to the chain.
func (c *Chain) Use(name string, h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, namedHandler{name: name, h: h})
}

// SetSelfID records the bot's own user ID once the gateway is ready.
func (c *Chain) SetSelfID(id string) { c.selfID.Store(id) }

// SelfID returns the bot's own user ID, or "" before the gateway is ready.
func (c *Chain) SelfID() string { return c.selfID.Load().(string) }

// Dispatch runs the handlers for m and returns the names of those that saw
// it. A panicking handler is logged and skipped.
func (c *Chain) Dispatch(ctx context.Context, m *discordgo.Message) []string {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == c.SelfID() {
		return nil
	}

	c.mu.RLock()
	handlers := make([]namedHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	ctl := &Control{}
	var ran []string
	for _, nh := range handlers {
		if ctl.Stopped() {
			break
		}
		ran = append(ran, nh.name)
		c.run(ctx, nh, m, ctl)
	}
	return ran
}

func (c *Chain) run(ctx context.Context, nh namedHandler, m *discordgo.Message, ctl *Control) {
	defer func() {
		if v := recover(); v != nil {
			slog.Error("discord: message handler panicked",
				"handler", nh.name,
				"message_id", m.ID,
				"panic", v,
				"stack", string(debug.Stack()),
			)
		}
	}()
	nh.h.HandleMessage(ctx, m, ctl)
}
