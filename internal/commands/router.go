// Package commands implements the slash commands that grant, revoke and
// inspect memberships.
package commands

import (
	"context"
	"errors"
	"sync"
	"time"

	"memberbot/internal/eventbus"
	"memberbot/internal/membership"
	"memberbot/internal/messages"
	"memberbot/internal/metrics"
	"memberbot/internal/state"
	"memberbot/internal/storage"
	"memberbot/internal/transport"
	logx "memberbot/pkg/logx"
)

const (
	CmdAddElite     = "addelite"
	CmdRemoveElite  = "removeelite"
	CmdMembership   = "membership"
	CmdLockCommands = "lockcommands"
)

// Settings are read for every command so config reloads apply at once.
type Settings struct {
	AllowedRoles []string
	RoleID       string
	// RoleName is the fallback display name of the managed role.
	RoleName  string
	Signature string
	Timeout   time.Duration
}

type DirectMessenger interface {
	SendDirect(ctx context.Context, userID string, e transport.Embed) error
}

type EventLogger interface {
	LogEvent(ctx context.Context, e transport.Embed) error
}

// Deps are the router's collaborators. Audit, Bus and Metrics are optional.
type Deps struct {
	Store    *membership.Store
	Roles    transport.Roles
	DM       DirectMessenger
	Events   EventLogger
	Locks    *state.Locks
	Audit    storage.Store
	Bus      eventbus.Bus
	Metrics  *metrics.Metrics
	Log      logx.Logger
	Settings func() Settings
}

type Request struct {
	Interaction transport.Interaction
	Responder   transport.Responder
	Logger      logx.Logger
}

func (r *Request) logger(def logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return def
}

func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Responder.Reply(ctx, text)
}

type Router struct {
	d        Deps
	handlers map[string]HandlerFunc
}

func NewRouter(d Deps) (*Router, error) {
	if d.Store == nil || d.Roles == nil || d.DM == nil || d.Events == nil || d.Locks == nil || d.Settings == nil {
		return nil, errors.New("commands: store, roles, dm, events, locks and settings are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	r := &Router{d: d}
	chain := []Middleware{
		MWRecover(d.Log),
		MWRequestLog(d.Log),
		MWTimeout(func() time.Duration { return d.Settings().Timeout }),
		MWRequireRoles(func() []string { return d.Settings().AllowedRoles }),
		MWLock(d.Locks.Locked, CmdAddElite, CmdRemoveElite),
	}
	r.handlers = map[string]HandlerFunc{
		CmdAddElite:     Chain(r.addElite, chain...),
		CmdRemoveElite:  Chain(r.removeElite, chain...),
		CmdMembership:   Chain(r.membership, chain...),
		CmdLockCommands: Chain(r.lockCommands, chain...),
	}
	return r, nil
}

// Definitions lists the slash commands to register.
func Definitions() []transport.Command {
	return []transport.Command{
		{
			Name:        CmdAddElite,
			Description: "Fügt einem User die Elite-Mitgliedschaft hinzu",
			Options: []transport.CommandOption{
				{Name: "user", Description: "User", Type: transport.OptionUser, Required: true},
				{Name: "time", Description: "Dauer (z.B. 1d, 12h, 30m)", Type: transport.OptionString, Required: true},
			},
		},
		{
			Name:        CmdRemoveElite,
			Description: "Entfernt die Elite-Mitgliedschaft von einem User",
			Options: []transport.CommandOption{
				{Name: "user", Description: "User", Type: transport.OptionUser, Required: true},
			},
		},
		{
			Name:        CmdMembership,
			Description: "Zeigt die Mitgliedschaft eines Users",
			Options: []transport.CommandOption{
				{Name: "user", Description: "User", Type: transport.OptionUser, Required: true},
			},
		},
		{
			Name:        CmdLockCommands,
			Description: "Sperrt oder entsperrt die Mitgliedschafts-Befehle",
			Options: []transport.CommandOption{
				{Name: "locked", Description: "Gesperrt", Type: transport.OptionBool, Required: true},
			},
		},
	}
}

// Dispatch defers the interaction, runs the command and sends the reply
// for rejected or failed commands.
func (r *Router) Dispatch(ctx context.Context, tr transport.Request) {
	in := tr.Interaction
	req := &Request{
		Interaction: in,
		Responder:   tr.Responder,
		Logger:      r.d.Log.With(logx.String("cmd", in.Command), logx.String("interaction", in.ID)),
	}
	h, ok := r.handlers[in.Command]
	if !ok {
		_ = req.Reply(ctx, messages.UnknownCommand)
		r.d.Metrics.Command(in.Command, "unknown")
		return
	}
	if err := req.Responder.Defer(ctx); err != nil {
		req.Logger.Warn("defer failed", logx.Err(err))
	}

	err := h(ctx, req)
	outcome := "ok"
	var rerr *ReplyError
	switch {
	case err == nil:
	case errors.As(err, &rerr):
		outcome = "rejected"
		if rerr.Err != nil {
			outcome = "error"
		}
		err = req.Reply(ctx, rerr.Text)
	default:
		outcome = "error"
		err = req.Reply(ctx, messages.InternalError)
	}
	if err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
	r.d.Metrics.Command(in.Command, outcome)
}

// Run dispatches requests from in until ctx ends, at most workers at a
// time, then waits for in-flight commands.
func (r *Router) Run(ctx context.Context, in <-chan transport.Request, workers int) error {
	if workers <= 0 {
		workers = 4
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-in:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				// Commands already accepted finish even during shutdown.
				r.Dispatch(context.WithoutCancel(ctx), req)
			}()
		}
	}
}
