package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberbot/internal/messages"
	"memberbot/internal/transport"
	logx "memberbot/pkg/logx"
)

type fakePoster struct {
	mu       sync.Mutex
	failures int
	got      []transport.WebhookMessage
	urls     []string
	block    chan struct{}
}

func (p *fakePoster) ExecuteWebhook(ctx context.Context, url string, m transport.WebhookMessage) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("503")
	}
	p.got = append(p.got, m)
	p.urls = append(p.urls, url)
	return nil
}

func (p *fakePoster) sent() []transport.WebhookMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]transport.WebhookMessage(nil), p.got...)
}

func testConfig() Config {
	return Config{Enabled: true, Workers: 1, QueueSize: 4, RatePerSec: 100, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func TestPostDeliversWithDefaults(t *testing.T) {
	p := &fakePoster{}
	s := New(testConfig(), "https://hook", p, logx.Nop(), nil)
	s.SetAvatar(func() string { return "https://avatar" })
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.LogEvent(context.Background(), messages.ExpiredLog("Elite", "1")))

	require.Eventually(t, func() bool { return len(p.sent()) == 1 }, time.Second, 5*time.Millisecond)
	m := p.sent()[0]
	assert.Equal(t, messages.WebhookUsername, m.Username)
	assert.Equal(t, "https://avatar", m.AvatarURL)
	assert.Equal(t, "Mitgliedschaft abgelaufen", m.Embeds[0].Title)
}

func TestPostRetriesTransientFailures(t *testing.T) {
	p := &fakePoster{failures: 2}
	s := New(testConfig(), "https://hook", p, logx.Nop(), nil)
	s.Start(context.Background())

	require.NoError(t, s.PostLog(context.Background(), "[WARN] x"))
	require.Eventually(t, func() bool { return len(p.sent()) == 1 }, time.Second, 5*time.Millisecond)
	s.Stop(context.Background())

	h := s.History()
	require.Len(t, h, 1)
	assert.Empty(t, h[0].Err)
	assert.Contains(t, p.sent()[0].Content, "[WARN] x")
}

func TestPostGivesUpAfterRetryMax(t *testing.T) {
	p := &fakePoster{failures: 10}
	cfg := testConfig()
	cfg.RetryMax = 1
	s := New(cfg, "https://hook", p, logx.Nop(), nil)
	s.Start(context.Background())

	require.NoError(t, s.LogEvent(context.Background(), messages.RevokedLog("Elite", "1", "2")))
	require.Eventually(t, func() bool { return len(s.History()) == 1 }, time.Second, 5*time.Millisecond)
	s.Stop(context.Background())

	assert.NotEmpty(t, s.History()[0].Err)
	assert.Empty(t, p.sent())
}

func TestPostQueueFull(t *testing.T) {
	p := &fakePoster{block: make(chan struct{})}
	cfg := testConfig()
	cfg.QueueSize = 1
	s := New(cfg, "https://hook", p, logx.Nop(), nil)
	s.Start(context.Background())

	var full bool
	for i := 0; i < 5; i++ {
		if err := s.PostLog(context.Background(), "x"); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	assert.True(t, full)
	close(p.block)
	s.Stop(context.Background())
}

func TestDisabledAndStopped(t *testing.T) {
	s := New(Config{}, "https://hook", &fakePoster{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.PostLog(context.Background(), "x"), ErrDisabled)

	s = New(testConfig(), "", &fakePoster{}, logx.Nop(), nil)
	assert.False(t, s.Enabled())
	assert.ErrorIs(t, s.PostLog(context.Background(), "x"), ErrDisabled)

	s = New(testConfig(), "https://hook", &fakePoster{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.PostLog(context.Background(), "x"), ErrStopped)
	s.Start(context.Background())
	s.Stop(context.Background())
	assert.ErrorIs(t, s.PostLog(context.Background(), "x"), ErrStopped)
}
