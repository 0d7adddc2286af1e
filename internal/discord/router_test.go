package discord_test

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/discord"
	"github.com/MrWong99/murmur/internal/discord/mock"
)

func commandInteraction(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Data: discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}}
}

func TestCommandRouter_ApplicationCommands_Dedup(t *testing.T) {
	t.Parallel()

	r := discord.NewCommandRouter()
	cmd := &discordgo.ApplicationCommand{Name: "voice"}
	noop := func(discord.InteractionResponder, *discordgo.InteractionCreate) {}
	r.RegisterCommand("voice/a", cmd, noop)
	r.RegisterCommand("voice/b", cmd, noop)
	r.RegisterCommand("other", &discordgo.ApplicationCommand{Name: "other"}, noop)

	if got := len(r.ApplicationCommands()); got != 2 {
		t.Errorf("commands = %d, want 2", got)
	}
}

func TestCommandRouter_Handle(t *testing.T) {
	t.Parallel()

	r := discord.NewCommandRouter()
	var hits []string
	r.RegisterCommand("voice_status", &discordgo.ApplicationCommand{Name: "voice_status"},
		func(discord.InteractionResponder, *discordgo.InteractionCreate) { hits = append(hits, "status") })
	r.RegisterCommand("group/sub", &discordgo.ApplicationCommand{Name: "group"},
		func(discord.InteractionResponder, *discordgo.InteractionCreate) { hits = append(hits, "sub") })

	resp := &mock.InteractionResponder{}
	r.Handle(resp, commandInteraction("voice_status"))
	r.Handle(resp, commandInteraction("group", &discordgo.ApplicationCommandInteractionDataOption{
		Name: "sub", Type: discordgo.ApplicationCommandOptionSubCommand,
	}))
	if len(hits) != 2 || hits[0] != "status" || hits[1] != "sub" {
		t.Errorf("hits = %v", hits)
	}

	r.Handle(resp, commandInteraction("missing"))
	last := resp.LastResponse()
	if last == nil || last.Data.Content != "Unknown command." || last.Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Errorf("unknown command response = %+v", last)
	}

	before := len(resp.Responses)
	r.Handle(resp, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing}})
	if len(resp.Responses) != before {
		t.Error("non-command interactions should be ignored")
	}
}

func TestInteractionUserID(t *testing.T) {
	t.Parallel()

	guild := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Member: &discordgo.Member{User: &discordgo.User{ID: "m"}}}}
	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: &discordgo.User{ID: "u"}}}
	none := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}
	if discord.InteractionUserID(guild) != "m" || discord.InteractionUserID(dm) != "u" || discord.InteractionUserID(none) != "" {
		t.Error("InteractionUserID mismatch")
	}
}
