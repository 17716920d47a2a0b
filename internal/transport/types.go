package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownMessage reports that an edited message no longer exists.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrUnknownMember reports that the user is not a guild member.
	ErrUnknownMember = errors.New("unknown member")
	// ErrDMClosed reports that the user does not accept direct messages.
	ErrDMClosed = errors.New("direct messages closed")
)

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a platform-neutral rich message.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
	Timestamp   time.Time
}

// WebhookMessage is posted to the log webhook.
type WebhookMessage struct {
	Username  string
	AvatarURL string
	Content   string
	Embeds    []Embed
}

type OptionType int

const (
	OptionString OptionType = iota + 1
	OptionUser
	OptionBool
)

type OptionChoice struct {
	Name  string
	Value string
}

type CommandOption struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
	Choices     []OptionChoice
}

// Command describes a slash command to register.
type Command struct {
	Name        string
	Description string
	Options     []CommandOption
}

// Interaction is one invocation of a slash command.
type Interaction struct {
	ID        string
	Command   string
	GuildID   string
	ChannelID string
	// UserID is the invoker; MemberRoles are the invoker's role ids.
	UserID      string
	MemberRoles []string
	// Options holds option values by name. User options carry the user id,
	// booleans "true" or "false".
	Options map[string]string
}

func (i Interaction) Option(name string) (string, bool) {
	v, ok := i.Options[name]
	return v, ok
}

// Responder answers one interaction. Replies are only visible to the
// invoker.
type Responder interface {
	Defer(ctx context.Context) error
	Reply(ctx context.Context, text string) error
}

// Request pairs an interaction with its responder.
type Request struct {
	Interaction Interaction
	Responder   Responder
}

// Roles mutates and inspects guild roles.
type Roles interface {
	// AddRole gives the user the role.
	AddRole(ctx context.Context, userID, roleID string) error
	// RemoveRole is a no-op when the member or role is gone.
	RemoveRole(ctx context.Context, userID, roleID string) error
	// RoleName returns the role's display name; ok is false when the guild
	// has no such role.
	RoleName(ctx context.Context, roleID string) (name string, ok bool, err error)
	CountRoleMembers(ctx context.Context, roleID string) (int, error)
}

// Messenger sends bot messages.
type Messenger interface {
	SendDirect(ctx context.Context, userID string, e Embed) error
	SendEmbed(ctx context.Context, channelID string, e Embed) (messageID string, err error)
	// EditEmbed returns ErrUnknownMessage when the message was deleted.
	EditEmbed(ctx context.Context, channelID, messageID string, e Embed) error
}

type WebhookPoster interface {
	ExecuteWebhook(ctx context.Context, url string, m WebhookMessage) error
}

// Adapter is a connected chat platform.
type Adapter interface {
	Roles
	Messenger
	WebhookPoster

	Start(ctx context.Context, cmds []Command, out chan<- Request) error
	Stop(ctx context.Context) error
	AvatarURL() string
}
