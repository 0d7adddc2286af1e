package discord_test

import (
	"context"
	"slices"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/discord"
)

func message(author string) *discordgo.Message {
	return &discordgo.Message{ID: "m1", ChannelID: "c1", Author: &discordgo.User{ID: author}}
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	c := discord.NewChain()
	var seen []string
	record := func(name string) discord.MessageHandlerFunc {
		return func(context.Context, *discordgo.Message, *discord.Control) { seen = append(seen, name) }
	}
	c.Use("voice", record("voice"))
	c.Use("text", record("text"))

	ran := c.Dispatch(context.Background(), message("u1"))
	if !slices.Equal(seen, []string{"voice", "text"}) || !slices.Equal(ran, seen) {
		t.Errorf("seen %v, ran %v", seen, ran)
	}
}

func TestChain_StopPropagation(t *testing.T) {
	t.Parallel()

	c := discord.NewChain()
	downstream := false
	c.Use("voice", discord.MessageHandlerFunc(func(_ context.Context, _ *discordgo.Message, ctl *discord.Control) {
		ctl.StopPropagation()
	}))
	c.Use("text", discord.MessageHandlerFunc(func(context.Context, *discordgo.Message, *discord.Control) {
		downstream = true
	}))

	ran := c.Dispatch(context.Background(), message("u1"))
	if downstream {
		t.Error("handler after StopPropagation must not run")
	}
	if !slices.Equal(ran, []string{"voice"}) {
		t.Errorf("ran = %v", ran)
	}
}

func TestChain_IgnoresBotsAndSelf(t *testing.T) {
	t.Parallel()

	c := discord.NewChain()
	calls := 0
	c.Use("count", discord.MessageHandlerFunc(func(context.Context, *discordgo.Message, *discord.Control) { calls++ }))
	c.SetSelfID("me")

	bot := message("other-bot")
	bot.Author.Bot = true
	for _, m := range []*discordgo.Message{nil, {ID: "no-author"}, bot, message("me")} {
		c.Dispatch(context.Background(), m)
	}
	if calls != 0 {
		t.Errorf("handler ran %d times for ignored messages", calls)
	}
	if c.SelfID() != "me" {
		t.Errorf("SelfID = %q", c.SelfID())
	}
}

func TestChain_RecoversPanics(t *testing.T) {
	t.Parallel()

	c := discord.NewChain()
	after := false
	c.Use("boom", discord.MessageHandlerFunc(func(context.Context, *discordgo.Message, *discord.Control) { panic("boom") }))
	c.Use("after", discord.MessageHandlerFunc(func(context.Context, *discordgo.Message, *discord.Control) { after = true }))

	c.Dispatch(context.Background(), message("u1"))
	if !after {
		t.Error("a panicking handler should not stop the chain")
	}
}
