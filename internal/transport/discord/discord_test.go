package discord

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberbot/internal/transport"
	logx "memberbot/pkg/logx"
)

func TestParseWebhookURL(t *testing.T) {
	id, token, err := parseWebhookURL("https://discord.com/api/webhooks/123/abc-DEF")
	require.NoError(t, err)
	assert.Equal(t, "123", id)
	assert.Equal(t, "abc-DEF", token)

	id, token, err = parseWebhookURL("https://discordapp.com/api/v10/webhooks/9/tok/")
	require.NoError(t, err)
	assert.Equal(t, "9", id)
	assert.Equal(t, "tok", token)

	for _, bad := range []string{"", "https://discord.com/api/webhooks/123", "https://example.com/hook"} {
		_, _, err := parseWebhookURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestToEmbed(t *testing.T) {
	ts := time.Date(2025, 6, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	e := toEmbed(transport.Embed{
		Title:     "t",
		Color:     0xe5aa74,
		Fields:    []transport.EmbedField{{Name: "a", Value: "1", Inline: true}},
		Footer:    "f",
		Timestamp: ts,
	})
	assert.Equal(t, "t", e.Title)
	assert.Equal(t, 0xe5aa74, e.Color)
	require.Len(t, e.Fields, 1)
	assert.True(t, e.Fields[0].Inline)
	assert.Equal(t, "f", e.Footer.Text)
	assert.Equal(t, "2025-06-01T12:00:00Z", e.Timestamp)

	assert.Nil(t, toEmbed(transport.Embed{}).Footer)
}

func TestToApplicationCommands(t *testing.T) {
	cmds := toApplicationCommands([]transport.Command{{
		Name:        "addelite",
		Description: "d",
		Options: []transport.CommandOption{
			{Name: "user", Type: transport.OptionUser, Required: true},
			{Name: "time", Type: transport.OptionString, Choices: []transport.OptionChoice{{Name: "1 Tag", Value: "1d"}}},
			{Name: "locked", Type: transport.OptionBool},
		},
	}})
	require.Len(t, cmds, 1)
	opts := cmds[0].Options
	require.Len(t, opts, 3)
	assert.Equal(t, discordgo.ApplicationCommandOptionUser, opts[0].Type)
	assert.True(t, opts[0].Required)
	assert.Equal(t, discordgo.ApplicationCommandOptionString, opts[1].Type)
	assert.Equal(t, "1d", opts[1].Choices[0].Value)
	assert.Equal(t, discordgo.ApplicationCommandOptionBoolean, opts[2].Type)
}

func TestToInteraction(t *testing.T) {
	ic := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        "i1",
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g",
		ChannelID: "c",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "actor"}, Roles: []string{"100"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "addelite",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "42"},
				{Name: "time", Type: discordgo.ApplicationCommandOptionString, Value: "1d"},
				{Name: "locked", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
			},
		},
	}}

	in, ok := toInteraction(ic)
	require.True(t, ok)
	assert.Equal(t, "addelite", in.Command)
	assert.Equal(t, "actor", in.UserID)
	assert.Equal(t, []string{"100"}, in.MemberRoles)
	assert.Equal(t, map[string]string{"user": "42", "time": "1d", "locked": "true"}, in.Options)

	_, ok = toInteraction(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing}})
	assert.False(t, ok)
}

func TestRestCode(t *testing.T) {
	rerr := &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage}}
	assert.Equal(t, discordgo.ErrCodeUnknownMessage, restCode(fmt.Errorf("wrapped: %w", rerr)))
	assert.Equal(t, 0, restCode(errors.New("plain")))
	assert.Equal(t, 0, restCode(nil))
	assert.Equal(t, 0, restCode(&discordgo.RESTError{}))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	require.Error(t, err)

	a, err := New(Config{Token: "t", GuildID: "g"}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, discordgo.IntentsGuilds|discordgo.IntentsGuildMembers|discordgo.IntentsDirectMessages, a.s.Identify.Intents)
	assert.Empty(t, a.AvatarURL())
}
