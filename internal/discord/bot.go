// Package discord is the chat transport of murmur. It owns the
// discordgo.Session lifecycle, passes every incoming message through an
// ordered [Chain] of handlers, and routes slash command interactions to
// registered handlers.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID registers slash commands for one guild. Empty registers them
	// globally.
	GuildID string
}

// Bot owns the Discord gateway connection. Messages go to the [Chain],
// interactions to the [CommandRouter].
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	router    *CommandRouter
	chain     *Chain
	guildID   string
	commands  []*discordgo.ApplicationCommand
	opened    bool
	closeOnce sync.Once
}

// New creates a Bot and registers its event handlers. It does not connect;
// [Bot.Run] opens the gateway. ctx is the parent of every per-message
// context and should live as long as the bot.
func New(ctx context.Context, cfg Config, chain *Chain, router *CommandRouter) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	if chain == nil {
		chain = NewChain()
	}
	if router == nil {
		router = NewCommandRouter()
	}
	b := &Bot{
		session: session,
		router:  router,
		chain:   chain,
		guildID: cfg.GuildID,
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	// discordgo runs each handler call in its own goroutine, so messages are
	// processed concurrently.
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.chain.Dispatch(ctx, m.Message)
	})
	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		if r.User == nil {
			return
		}
		b.chain.SetSelfID(r.User.ID)
		slog.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	return b, nil
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Chain returns the message handler chain.
func (b *Bot) Chain() *Chain {
	return b.chain
}

// Run opens the gateway, registers slash commands with the Discord API and
// blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	if err := b.session.Open(); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("discord: open session: %w", err)
	}
	b.opened = true
	appID := b.session.State.User.ID
	b.mu.Unlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return nil
}

// Close unregisters guild commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if !b.opened {
			return
		}
		// Global commands take up to an hour to propagate, so only guild
		// commands are removed.
		if b.guildID != "" && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
