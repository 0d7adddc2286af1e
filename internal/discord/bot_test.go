package discord_test

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/discord"
)

func TestNew_RequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := discord.New(context.Background(), discord.Config{}, nil, nil); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestNew_DoesNotConnect(t *testing.T) {
	t.Parallel()
	chain := discord.NewChain()
	router := discord.NewCommandRouter()

	bot, err := discord.New(context.Background(), discord.Config{Token: "test-token", GuildID: "g1"}, chain, router)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if bot.Chain() != chain || bot.Router() != router {
		t.Error("bot should keep the given chain and router")
	}

	s := bot.Session()
	if s.Token != "Bot test-token" {
		t.Errorf("token = %q", s.Token)
	}
	want := discordgo.IntentsGuilds | discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	if s.Identify.Intents != want {
		t.Errorf("intents = %b, want %b", s.Identify.Intents, want)
	}

	// Closing a bot that never opened is a no-op.
	if err := bot.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNew_DefaultsChainAndRouter(t *testing.T) {
	t.Parallel()
	bot, err := discord.New(context.Background(), discord.Config{Token: "x"}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if bot.Chain() == nil || bot.Router() == nil {
		t.Error("nil chain or router should be replaced with empty ones")
	}
}
