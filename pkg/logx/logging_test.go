package logx

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureSink) PostLog(_ context.Context, text string) error {
	c.mu.Lock()
	c.lines = append(c.lines, text)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestFormatSinkLine(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"role removal failed","user":"42","comp":"sweeper"}`)
	got := formatSinkLine(line)
	assert.Equal(t, "[WARN] role removal failed\n- comp=sweeper\n- user=42", got)

	raw := formatSinkLine([]byte("  not json  "))
	assert.Equal(t, "not json", raw)
}

func TestSinkForwardsOnlyAboveMinLevel(t *testing.T) {
	svc, log := New(Config{
		Level:   "debug",
		Webhook: WebhookConfig{Enabled: true, MinLevel: "warn", RatePerSec: 50},
	})
	t.Cleanup(func() { _ = svc.Close() })

	sink := &captureSink{}
	svc.SetSink(sink)

	log.Info("ignored")
	log.Warn("forwarded", String("user", "1"))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := sink.snapshot()[0]
	assert.True(t, strings.HasPrefix(got, "[WARN] forwarded"), got)
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "store"))
	log.Debug("saved", Int("records", 3))

	out := buf.String()
	assert.Contains(t, out, `"comp":"store"`)
	assert.Contains(t, out, `"records":3`)
	assert.Contains(t, out, `"message":"saved"`)
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Error("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestFileSinkCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "bot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log.Info("hello")
	require.NoError(t, svc.Close())
	require.FileExists(t, path)
}
