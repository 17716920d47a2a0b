// Package discord implements transport.Adapter on a discordgo session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"memberbot/internal/transport"
	logx "memberbot/pkg/logx"
)

const membersPageSize = 1000

type Config struct {
	Token   string
	GuildID string
	// AppID is the application id used to register commands. Empty means
	// the bot user id from the Ready event.
	AppID string
}

type Adapter struct {
	s       *discordgo.Session
	guildID string
	log     logx.Logger

	mu       sync.Mutex
	appID    string
	ctx      context.Context
	out      chan<- transport.Request
	commands []*discordgo.ApplicationCommand
	remove   []func()
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" || strings.TrimSpace(cfg.GuildID) == "" {
		return nil, errors.New("discord: token and guild id are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsDirectMessages
	return &Adapter{s: s, guildID: cfg.GuildID, appID: cfg.AppID, log: log}, nil
}

// Start opens the gateway. Slash commands are registered for the guild on
// every Ready and invocations are delivered to out until ctx ends.
func (a *Adapter) Start(ctx context.Context, cmds []transport.Command, out chan<- transport.Request) error {
	a.mu.Lock()
	a.ctx = ctx
	a.out = out
	a.commands = toApplicationCommands(cmds)
	a.remove = append(a.remove, a.s.AddHandler(a.onReady), a.s.AddHandler(a.onInteraction))
	a.mu.Unlock()

	if err := a.s.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	for _, rm := range a.remove {
		rm()
	}
	a.remove = nil
	a.mu.Unlock()
	return a.s.Close()
}

func (a *Adapter) AvatarURL() string {
	if a.s.State == nil || a.s.State.User == nil {
		return ""
	}
	return a.s.State.User.AvatarURL("")
}

func (a *Adapter) onReady(s *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	if a.appID == "" && r.User != nil {
		a.appID = r.User.ID
	}
	appID, cmds := a.appID, a.commands
	a.mu.Unlock()

	a.log.Info("discord ready", logx.String("app", appID), logx.Int("guilds", len(r.Guilds)))
	if _, err := s.ApplicationCommandBulkOverwrite(appID, a.guildID, cmds); err != nil {
		a.log.Error("registering slash commands failed", logx.Err(err))
		return
	}
	a.log.Info("slash commands registered", logx.Int("count", len(cmds)))
}

func (a *Adapter) onInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	in, ok := toInteraction(ic)
	if !ok {
		return
	}
	a.mu.Lock()
	ctx, out := a.ctx, a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	req := transport.Request{Interaction: in, Responder: &responder{s: s, i: ic.Interaction}}
	select {
	case out <- req:
	case <-ctx.Done():
	}
}

func toInteraction(ic *discordgo.InteractionCreate) (transport.Interaction, bool) {
	if ic == nil || ic.Interaction == nil || ic.Type != discordgo.InteractionApplicationCommand {
		return transport.Interaction{}, false
	}
	data := ic.ApplicationCommandData()
	in := transport.Interaction{
		ID:        ic.ID,
		Command:   data.Name,
		GuildID:   ic.GuildID,
		ChannelID: ic.ChannelID,
		Options:   map[string]string{},
	}
	switch {
	case ic.Member != nil && ic.Member.User != nil:
		in.UserID = ic.Member.User.ID
		in.MemberRoles = ic.Member.Roles
	case ic.User != nil:
		in.UserID = ic.User.ID
	}
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionUser:
			in.Options[opt.Name] = opt.UserValue(nil).ID
		case discordgo.ApplicationCommandOptionString:
			in.Options[opt.Name] = opt.StringValue()
		case discordgo.ApplicationCommandOptionBoolean:
			in.Options[opt.Name] = strconv.FormatBool(opt.BoolValue())
		default:
			in.Options[opt.Name] = fmt.Sprint(opt.Value)
		}
	}
	return in, true
}

type responder struct {
	s *discordgo.Session
	i *discordgo.Interaction

	mu       sync.Mutex
	deferred bool
	replied  bool
}

func (r *responder) Defer(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deferred || r.replied {
		return nil
	}
	err := r.s.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err == nil {
		r.deferred = true
	}
	return err
}

// Reply answers ephemerally, as a follow-up once the interaction was
// deferred or already answered.
func (r *responder) Reply(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deferred || r.replied {
		_, err := r.s.FollowupMessageCreate(r.i, true, &discordgo.WebhookParams{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		}, discordgo.WithContext(ctx))
		return err
	}
	err := r.s.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text, Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err == nil {
		r.replied = true
	}
	return err
}

func (a *Adapter) AddRole(ctx context.Context, userID, roleID string) error {
	err := a.s.GuildMemberRoleAdd(a.guildID, userID, roleID, discordgo.WithContext(ctx))
	if restCode(err) == discordgo.ErrCodeUnknownMember {
		return fmt.Errorf("%w: %s", transport.ErrUnknownMember, userID)
	}
	return err
}

func (a *Adapter) RemoveRole(ctx context.Context, userID, roleID string) error {
	err := a.s.GuildMemberRoleRemove(a.guildID, userID, roleID, discordgo.WithContext(ctx))
	switch restCode(err) {
	case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownRole:
		a.log.Debug("role removal skipped", logx.String("user", userID), logx.String("role", roleID), logx.Err(err))
		return nil
	}
	return err
}

func (a *Adapter) RoleName(ctx context.Context, roleID string) (string, bool, error) {
	if a.s.State != nil {
		if r, err := a.s.State.Role(a.guildID, roleID); err == nil && r != nil {
			return r.Name, true, nil
		}
	}
	roles, err := a.s.GuildRoles(a.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", false, err
	}
	for _, r := range roles {
		if r.ID == roleID {
			return r.Name, true, nil
		}
	}
	return "", false, nil
}

// CountRoleMembers pages through the guild member list.
func (a *Adapter) CountRoleMembers(ctx context.Context, roleID string) (int, error) {
	count := 0
	after := ""
	for {
		page, err := a.s.GuildMembers(a.guildID, after, membersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return 0, err
		}
		for _, m := range page {
			for _, r := range m.Roles {
				if r == roleID {
					count++
					break
				}
			}
		}
		if len(page) < membersPageSize {
			return count, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (a *Adapter) SendDirect(ctx context.Context, userID string, e transport.Embed) error {
	ch, err := a.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	_, err = a.s.ChannelMessageSendEmbed(ch.ID, toEmbed(e), discordgo.WithContext(ctx))
	if restCode(err) == discordgo.ErrCodeCannotSendMessagesToThisUser {
		return fmt.Errorf("%w: %s", transport.ErrDMClosed, userID)
	}
	return err
}

func (a *Adapter) SendEmbed(ctx context.Context, channelID string, e transport.Embed) (string, error) {
	msg, err := a.s.ChannelMessageSendEmbed(channelID, toEmbed(e), discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (a *Adapter) EditEmbed(ctx context.Context, channelID, messageID string, e transport.Embed) error {
	_, err := a.s.ChannelMessageEditEmbed(channelID, messageID, toEmbed(e), discordgo.WithContext(ctx))
	if restCode(err) == discordgo.ErrCodeUnknownMessage {
		return fmt.Errorf("%w: %s", transport.ErrUnknownMessage, messageID)
	}
	return err
}

func (a *Adapter) ExecuteWebhook(ctx context.Context, rawURL string, m transport.WebhookMessage) error {
	id, token, err := parseWebhookURL(rawURL)
	if err != nil {
		return err
	}
	params := &discordgo.WebhookParams{
		Content:   m.Content,
		Username:  m.Username,
		AvatarURL: m.AvatarURL,
	}
	for _, e := range m.Embeds {
		params.Embeds = append(params.Embeds, toEmbed(e))
	}
	_, err = a.s.WebhookExecute(id, token, false, params, discordgo.WithContext(ctx))
	return err
}

// parseWebhookURL extracts id and token from
// https://discord.com/api/webhooks/<id>/<token>.
func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "webhooks" && i+2 < len(parts) && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url: expected .../webhooks/<id>/<token>, got %q", u.Path)
}

func toEmbed(e transport.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return out
}

func toApplicationCommands(cmds []transport.Command) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(cmds))
	for _, c := range cmds {
		ac := &discordgo.ApplicationCommand{Name: c.Name, Description: c.Description}
		for _, o := range c.Options {
			opt := &discordgo.ApplicationCommandOption{
				Name:        o.Name,
				Description: o.Description,
				Required:    o.Required,
				Type:        optionType(o.Type),
			}
			for _, ch := range o.Choices {
				opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: ch.Name, Value: ch.Value})
			}
			ac.Options = append(ac.Options, opt)
		}
		out = append(out, ac)
	}
	return out
}

func optionType(t transport.OptionType) discordgo.ApplicationCommandOptionType {
	switch t {
	case transport.OptionUser:
		return discordgo.ApplicationCommandOptionUser
	case transport.OptionBool:
		return discordgo.ApplicationCommandOptionBoolean
	default:
		return discordgo.ApplicationCommandOptionString
	}
}

// restCode returns the Discord JSON error code of err, or 0.
func restCode(err error) int {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil {
		return rerr.Message.Code
	}
	return 0
}
