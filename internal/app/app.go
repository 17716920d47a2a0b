// Package app wires the membership bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"memberbot/internal/commands"
	"memberbot/internal/config"
	"memberbot/internal/eventbus"
	"memberbot/internal/membership"
	"memberbot/internal/metrics"
	"memberbot/internal/notifier"
	"memberbot/internal/ops"
	"memberbot/internal/runtime/supervisor"
	"memberbot/internal/state"
	"memberbot/internal/stats"
	"memberbot/internal/storage"
	"memberbot/internal/sweeper"
	"memberbot/internal/transport"
	"memberbot/internal/transport/discord"
	logx "memberbot/pkg/logx"
)

const commandWorkers = 4

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	metrics *metrics.Metrics
	bus     eventbus.Bus
	audit   storage.Store

	store    *membership.Store
	locks    *state.Locks
	statsMsg *state.StatsMessage

	adapter transport.Adapter
	notif   *notifier.Service
	sweep   *sweeper.Sweeper
	stats   *stats.Service
	router  *commands.Router
	ops     *ops.Service

	settings atomic.Pointer[commands.Settings]
	requests chan transport.Request
}

type Option func(*options)

type options struct {
	adapter transport.Adapter
	lookup  func(string) (string, bool)
}

// WithAdapter replaces the Discord adapter.
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithEnvLookup replaces os.LookupEnv for config overrides.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(o *options) { o.lookup = fn }
}

// New loads the config and builds every component without starting any.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	if o.lookup != nil {
		cfgm.WithLookup(o.lookup)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logs, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		metrics:  metrics.New(),
		bus:      eventbus.New(),
		requests: make(chan transport.Request, 64),
	}
	a.settings.Store(ptr(commandSettings(cfg)))

	ad := o.adapter
	if ad == nil {
		ad, err = discord.New(discord.Config{
			Token:   cfg.Discord.Token,
			GuildID: cfg.Discord.GuildID,
			AppID:   cfg.Discord.ClientID,
		}, comp("discord"))
		if err != nil {
			return nil, err
		}
	}
	a.adapter = ad

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.audit, err = storage.Open(sc, comp("storage")); err != nil {
		return nil, err
	}
	if a.audit != nil {
		log.Info("audit storage enabled", logx.String("driver", sc.Driver))
	}

	if a.store, err = membership.Open(cfg.StorePath(), membership.WithLogger(comp("membership"))); err != nil {
		return nil, a.abort(err)
	}
	a.metrics.SetStoreRecords(a.store.Len())
	if a.locks, err = state.OpenLocks(cfg.StatePath()); err != nil {
		return nil, a.abort(err)
	}
	if a.statsMsg, err = state.OpenStatsMessage(cfg.StatsMessagePath()); err != nil {
		return nil, a.abort(err)
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.notif = notifier.New(ncfg, cfg.Discord.WebhookURL, ad, comp("notifier"), a.metrics)
	a.notif.SetAvatar(ad.AvatarURL)
	logs.SetSink(a.notif)

	role, _ := cfg.ManagedRole()
	a.sweep, err = sweeper.New(sweeper.Deps{
		Store:     a.store,
		Roles:     ad,
		DM:        ad,
		Events:    a.notif,
		Audit:     a.audit,
		Bus:       a.bus,
		Metrics:   a.metrics,
		Log:       comp("sweeper"),
		Schedule:  cfg.SweepSchedule(),
		RoleName:  role.Name,
		Signature: cfg.Membership.Signature,
	})
	if err != nil {
		return nil, a.abort(err)
	}

	a.stats = stats.New(stats.SettingsFrom(cfg), cfg.StatsSchedule(), ad, ad, a.statsMsg, a.bus, a.metrics, comp("stats"))

	a.router, err = commands.NewRouter(commands.Deps{
		Store:    a.store,
		Roles:    ad,
		DM:       ad,
		Events:   a.notif,
		Locks:    a.locks,
		Audit:    a.audit,
		Bus:      a.bus,
		Metrics:  a.metrics,
		Log:      comp("commands"),
		Settings: func() commands.Settings { return *a.settings.Load() },
	})
	if err != nil {
		return nil, a.abort(err)
	}

	deps := ops.Deps{
		Metrics: a.metrics.Handler(),
		Members: a.store.Len,
		Extra: func() map[string]any {
			return map[string]any{
				"commands_locked":   a.locks.Locked(),
				"log_lines_dropped": logs.Dropped(),
				"webhook_history":   len(a.notif.History()),
			}
		},
	}
	if a.audit != nil {
		deps.Audit = a.audit
	}
	a.ops = ops.New(ops.ConfigFrom(cfg.Ops), deps, comp("ops"))

	return a, nil
}

func (a *App) abort(err error) error {
	if a.audit != nil {
		_ = a.audit.Close()
	}
	return err
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.ops.SetSupervisor(a.sup)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapNotifierConfig(cfg)
		return err
	})

	c := a.sup.Context()
	// Stop drains the notifier after the supervisor is done.
	a.notif.Start(context.WithoutCancel(c))
	if err := a.adapter.Start(c, commands.Definitions(), a.requests); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.requests, commandWorkers)
	})
	a.sup.Go("sweeper", a.sweep.Run)
	a.sup.Go("stats", a.stats.Run)
	if a.ops.Enabled() {
		a.ops.Start(c)
	}

	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				a.metrics.SetStoreRecords(a.store.Len())
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, cfg)
				last = cfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("members", a.store.Len()),
		logx.Bool("stats", a.stats.Enabled()),
		logx.Bool("webhook", a.notif.Enabled()),
	)
	return nil
}

// applyConfig pushes the hot-reloadable parts of cfg into running
// components.
func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(prev, cfg); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(cfg))
	a.settings.Store(ptr(commandSettings(cfg)))
	a.stats.Apply(stats.SettingsFrom(cfg))

	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg, cfg.Discord.WebhookURL)
		switch {
		case wasEnabled && !a.notif.Enabled():
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && a.notif.Enabled():
			a.notif.Start(context.WithoutCancel(ctx))
		}
	}

	a.ops.Reconfigure(ctx, ops.ConfigFrom(cfg.Ops))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The gateway goes first so no new commands arrive.
	step("adapter", 2*time.Second, a.adapter.Stop)
	// Running commands and a running sweep still post to the notifier.
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.audit != nil {
			return a.audit.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	if err := a.sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return errors.Join(errs...)
}

func ptr[T any](v T) *T { return &v }
