// Package stats keeps the live membership statistics message up to date.
package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"memberbot/internal/config"
	"memberbot/internal/eventbus"
	"memberbot/internal/messages"
	"memberbot/internal/metrics"
	"memberbot/internal/transport"
	logx "memberbot/pkg/logx"
)

type MemberCounter interface {
	CountRoleMembers(ctx context.Context, roleID string) (int, error)
}

type EmbedPoster interface {
	SendEmbed(ctx context.Context, channelID string, e transport.Embed) (string, error)
	EditEmbed(ctx context.Context, channelID, messageID string, e transport.Embed) error
}

// MessageIDStore remembers the posted message between restarts.
type MessageIDStore interface {
	ID() string
	SetID(id string) error
}

// Settings are the hot-reloadable parts of the stats config.
type Settings struct {
	ChannelID string
	RoleID    string
	Price     int
	Currency  string
	Title     string
}

func SettingsFrom(cfg *config.Config) Settings {
	role, _ := cfg.ManagedRole()
	return Settings{
		ChannelID: cfg.Stats.ChannelID,
		RoleID:    role.Value,
		Price:     cfg.Stats.Price,
		Currency:  cfg.Stats.Currency,
		Title:     cfg.Stats.Title,
	}
}

type Service struct {
	counter  MemberCounter
	poster   EmbedPoster
	ids      MessageIDStore
	bus      eventbus.Bus
	metrics  *metrics.Metrics
	log      logx.Logger
	now      func() time.Time
	schedule string

	mu       sync.RWMutex
	settings Settings

	sf singleflight.Group
}

func New(s Settings, schedule string, counter MemberCounter, poster EmbedPoster, ids MessageIDStore, bus eventbus.Bus, m *metrics.Metrics, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if schedule == "" {
		schedule = config.DefaultStatsSchedule
	}
	return &Service{
		counter:  counter,
		poster:   poster,
		ids:      ids,
		bus:      bus,
		metrics:  m,
		log:      log,
		now:      time.Now,
		schedule: schedule,
		settings: s,
	}
}

func (s *Service) Apply(st Settings) {
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.ChannelID != ""
}

// Refresh counts the members and sends or edits the message. Concurrent
// calls share one run.
func (s *Service) Refresh(ctx context.Context) error {
	_, err, _ := s.sf.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *Service) refresh(ctx context.Context) error {
	s.mu.RLock()
	st := s.settings
	s.mu.RUnlock()
	if st.ChannelID == "" {
		return nil
	}

	count, err := s.counter.CountRoleMembers(ctx, st.RoleID)
	if err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	s.metrics.SetRoleMembers(count)
	embed := messages.Stats(st.Title, count, st.Price, st.Currency, s.now())

	if id := s.ids.ID(); id != "" {
		err := s.poster.EditEmbed(ctx, st.ChannelID, id, embed)
		if err == nil {
			s.log.Debug("stats message updated", logx.Int("members", count))
			return nil
		}
		if !errors.Is(err, transport.ErrUnknownMessage) {
			return fmt.Errorf("edit stats message: %w", err)
		}
		s.log.Info("stats message gone; sending a new one", logx.String("message", id))
	}

	id, err := s.poster.SendEmbed(ctx, st.ChannelID, embed)
	if err != nil {
		return fmt.Errorf("send stats message: %w", err)
	}
	if err := s.ids.SetID(id); err != nil {
		return fmt.Errorf("store stats message id: %w", err)
	}
	s.log.Info("stats message sent", logx.String("message", id), logx.Int("members", count))
	return nil
}

// Run refreshes at start, on the schedule and after every membership
// event until ctx ends. Refresh errors are logged.
func (s *Service) Run(ctx context.Context) error {
	sched, err := config.CronParser.Parse(s.schedule)
	if err != nil {
		return fmt.Errorf("stats schedule %q: %w", s.schedule, err)
	}
	refresh := func(reason string) {
		if !s.Enabled() {
			return
		}
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("stats refresh failed", logx.String("reason", reason), logx.Err(err))
		}
	}

	var events <-chan eventbus.Event
	if s.bus != nil {
		ch, unsub := s.bus.Subscribe(16)
		defer unsub()
		events = ch
	}

	c := cron.New(cron.WithParser(config.CronParser))
	c.Schedule(sched, cron.FuncJob(func() { refresh("schedule") }))
	c.Start()
	defer func() { <-c.Stop().Done() }()

	refresh("start")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if eventbus.IsMembership(e) {
				go refresh(e.Type)
			}
		}
	}
}
