package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"memberbot/internal/messages"
	"memberbot/internal/metrics"
	rtsup "memberbot/internal/runtime/supervisor"
	"memberbot/internal/transport"
	logx "memberbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const sendTimeout = 10 * time.Second

// Service is the webhook post pipeline. It is safe for concurrent use.
type Service struct {
	log     logx.Logger
	poster  transport.WebhookPoster
	metrics *metrics.Metrics

	mu        sync.Mutex
	cfg       Config
	url       string
	avatar    func() string
	limiter   *rate.Limiter
	accepting bool
	queue     chan transport.WebhookMessage
	sup       *rtsup.Supervisor
	sendWG    sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, url string, poster transport.WebhookPoster, log logx.Logger, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{poster: poster, log: log, metrics: m, url: strings.TrimSpace(url)}
	s.applyLocked(cfg)
	return s
}

// SetAvatar sets the source of the avatar shown on posts.
func (s *Service) SetAvatar(fn func() string) {
	s.mu.Lock()
	s.avatar = fn
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.url != ""
}

// Apply updates rate and retry settings. Workers and queue size only
// change on restart.
func (s *Service) Apply(cfg Config, url string) {
	s.mu.Lock()
	s.url = strings.TrimSpace(url)
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	s.cfg = cfg
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
}

// Start launches the workers. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled || s.url == "" || s.poster == nil {
		return
	}
	s.queue = make(chan transport.WebhookMessage, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
}

// Stop closes intake and drains the queue until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	s.sendWG.Wait()
	close(q)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Wait(context.Background())
	}()
	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		<-done
	}

	s.mu.Lock()
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
}

// LogEvent queues one log embed.
func (s *Service) LogEvent(ctx context.Context, e transport.Embed) error {
	return s.Post(ctx, transport.WebhookMessage{Embeds: []transport.Embed{e}})
}

// PostLog queues a plain text line. It implements logx.Sink.
func (s *Service) PostLog(ctx context.Context, text string) error {
	return s.Post(ctx, transport.WebhookMessage{Content: "```\n" + text + "\n```"})
}

// Post queues m without blocking.
func (s *Service) Post(ctx context.Context, m transport.WebhookMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled || s.url == "" {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	if m.Username == "" {
		m.Username = messages.WebhookUsername
	}
	if m.AvatarURL == "" && s.avatar != nil {
		m.AvatarURL = s.avatar()
	}
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- m:
		return nil
	default:
		s.metrics.Webhook("dropped")
		return ErrQueueFull
	}
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) workerLoop(ctx context.Context, q <-chan transport.WebhookMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-q:
			if !ok {
				return
			}
			s.send(ctx, m)
		}
	}
}

func (s *Service) send(ctx context.Context, m transport.WebhookMessage) {
	s.mu.Lock()
	cfg, url, lim := s.cfg, s.url, s.limiter
	s.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryBase
	bo.MaxInterval = cfg.RetryMaxDelay
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		if err := lim.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		err := s.poster.ExecuteWebhook(callCtx, url, m)
		if err != nil {
			// Kept at debug: warnings are mirrored to this same webhook.
			s.log.Debug("webhook post failed", logx.Int("attempt", attempt), logx.Err(err))
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.RetryMax)), ctx))

	item := HistoryItem{At: time.Now(), Title: title(m)}
	if err != nil {
		item.Err = err.Error()
		s.metrics.Webhook("failed")
	} else {
		s.metrics.Webhook("sent")
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}

func title(m transport.WebhookMessage) string {
	if len(m.Embeds) > 0 {
		return m.Embeds[0].Title
	}
	return "log"
}
