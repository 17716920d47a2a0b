// Package sweeper expires memberships on a cron schedule.
//
// Every tick drains membership.Store.SweepExpired. For each expired record
// the role is removed, the user is told by direct message and the event is
// written to the log webhook. Entries are isolated from each other: a
// failure or panic in one never stops the rest. A tick that fires while the
// previous sweep is still running is skipped.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"memberbot/internal/config"
	"memberbot/internal/eventbus"
	"memberbot/internal/membership"
	"memberbot/internal/messages"
	"memberbot/internal/metrics"
	"memberbot/internal/storage"
	"memberbot/internal/transport"
	logx "memberbot/pkg/logx"
)

type RoleRevoker interface {
	// RemoveRole must be a no-op when the member or the role is gone.
	RemoveRole(ctx context.Context, userID, roleID string) error
	RoleName(ctx context.Context, roleID string) (string, bool, error)
}

type DirectMessenger interface {
	SendDirect(ctx context.Context, userID string, e transport.Embed) error
}

type EventLogger interface {
	LogEvent(ctx context.Context, e transport.Embed) error
}

// Deps are the sweeper's collaborators. Audit, Bus and Metrics are
// optional.
type Deps struct {
	Store   *membership.Store
	Roles   RoleRevoker
	DM      DirectMessenger
	Events  EventLogger
	Audit   storage.Store
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	Log     logx.Logger
	Now     func() time.Time

	// Schedule is a cron spec; empty means every minute.
	Schedule string
	// RoleName is shown when the role's live name cannot be resolved.
	RoleName  string
	Signature string
	// CallTimeout bounds each platform call; default 15s.
	CallTimeout time.Duration
}

// Result summarizes one sweep.
type Result struct {
	Expired    int
	RoleErrors int
	Panics     int

	// Interrupted is set when ctx ended before every due record was taken.
	Interrupted bool
}

type Sweeper struct {
	d        Deps
	schedule cron.Schedule
	running  atomic.Bool
}

func New(d Deps) (*Sweeper, error) {
	if d.Store == nil || d.Roles == nil || d.DM == nil || d.Events == nil {
		return nil, errors.New("sweeper: store, roles, dm and events are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.CallTimeout <= 0 {
		d.CallTimeout = 15 * time.Second
	}
	if d.Schedule == "" {
		d.Schedule = config.DefaultSweepSchedule
	}
	sched, err := config.CronParser.Parse(d.Schedule)
	if err != nil {
		return nil, fmt.Errorf("sweeper: schedule %q: %w", d.Schedule, err)
	}
	return &Sweeper{d: d, schedule: sched}, nil
}

// Run triggers Tick on the schedule until ctx ends, then waits for a
// running sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(config.CronParser))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.Tick(ctx) }))
	c.Start()
	s.d.Log.Info("sweeper started", logx.String("schedule", s.d.Schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	s.d.Log.Info("sweeper stopped")
	return nil
}

// Tick runs one sweep unless another is in progress. It reports whether a
// sweep ran.
func (s *Sweeper) Tick(ctx context.Context) (Result, bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.d.Metrics.SweepSkipped()
		s.d.Log.Warn("sweep still running; tick skipped")
		return Result{}, false
	}
	defer s.running.Store(false)
	return s.Sweep(ctx), true
}

// Sweep expires every record due at the current time.
//
// Once ctx ends no further records are taken; the ones left stay in the
// store for the next run. A record already taken is finished on a
// detached context so its role is not left behind.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	start := time.Now()
	now := s.d.Now()
	var (
		res     Result
		changes []eventbus.MembershipChange
	)
	if ctx.Err() != nil {
		return res
	}
	callCtx := context.WithoutCancel(ctx)
	for userID, rec := range s.d.Store.SweepExpired(now) {
		res.Expired++
		changes = append(changes, eventbus.MembershipChange{UserID: userID, RoleID: rec.RoleID, ExpireAt: rec.ExpireAt})

		roleErr, panicked := s.expire(callCtx, userID, rec)
		if roleErr != nil {
			res.RoleErrors++
		}
		if panicked {
			res.Panics++
		}
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
	}
	s.d.Metrics.SweepDone(time.Since(start))
	if res.Interrupted {
		s.d.Log.Info("sweep interrupted; remaining records kept", logx.Int("expired", res.Expired))
	}

	if res.Expired > 0 {
		s.d.Log.Info("memberships expired", logx.Int("count", res.Expired), logx.Int("role_errors", res.RoleErrors))
		if s.d.Bus != nil {
			s.d.Bus.Publish(eventbus.Event{Type: eventbus.MembershipExpired, Data: changes})
		}
	}
	return res
}

// expire handles one expired record. The record is already gone from the
// store.
func (s *Sweeper) expire(ctx context.Context, userID string, rec membership.Record) (roleErr error, panicked bool) {
	log := s.d.Log.With(logx.String("user", userID), logx.String("role", rec.RoleID))
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			log.Error("expiring membership panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	s.d.Metrics.Change(string(storage.ActionExpire))

	roleName := s.roleName(ctx, rec.RoleID)

	cctx, cancel := context.WithTimeout(ctx, s.d.CallTimeout)
	roleErr = s.d.Roles.RemoveRole(cctx, userID, rec.RoleID)
	cancel()
	if roleErr != nil {
		s.d.Metrics.RoleError("remove")
		log.Warn("removing expired role failed", logx.Err(roleErr))
	}

	cctx, cancel = context.WithTimeout(ctx, s.d.CallTimeout)
	if err := s.d.DM.SendDirect(cctx, userID, messages.EndedDM(userID, roleName, s.d.Signature)); err != nil {
		log.Info("expiry dm not delivered", logx.Err(err))
	}
	cancel()

	if err := s.d.Events.LogEvent(ctx, messages.ExpiredLog(roleName, userID)); err != nil {
		log.Info("expiry log not queued", logx.Err(err))
	}

	if s.d.Audit != nil {
		e := storage.AuditEntry{Action: storage.ActionExpire, UserID: userID, RoleID: rec.RoleID, ExpireAt: rec.ExpireAt}
		if roleErr != nil {
			e.Error = roleErr.Error()
		}
		if err := s.d.Audit.AppendAudit(ctx, e); err != nil {
			log.Warn("audit append failed", logx.Err(err))
		}
	}
	return roleErr, false
}

func (s *Sweeper) roleName(ctx context.Context, roleID string) string {
	cctx, cancel := context.WithTimeout(ctx, s.d.CallTimeout)
	defer cancel()
	name, ok, err := s.d.Roles.RoleName(cctx, roleID)
	if err != nil || !ok || name == "" {
		if s.d.RoleName != "" {
			return s.d.RoleName
		}
		return "Elite"
	}
	return name
}
