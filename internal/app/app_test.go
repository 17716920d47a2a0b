package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberbot/internal/commands"
	"memberbot/internal/config"
	"memberbot/internal/messages"
	"memberbot/internal/ops"
	"memberbot/internal/transport"
)

type fakeAdapter struct {
	mu       sync.Mutex
	out      chan<- transport.Request
	cmds     []transport.Command
	roles    map[string]bool
	dms      []string
	embeds   []string
	webhooks []transport.WebhookMessage
	stopped  bool
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{roles: map[string]bool{}} }

func (f *fakeAdapter) Start(_ context.Context, cmds []transport.Command, out chan<- transport.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds, f.out = cmds, out
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeAdapter) AvatarURL() string { return "https://cdn.example/avatar.png" }

func (f *fakeAdapter) AddRole(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[userID] = true
	return nil
}

func (f *fakeAdapter) RemoveRole(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.roles, userID)
	return nil
}

func (f *fakeAdapter) RoleName(context.Context, string) (string, bool, error) {
	return "Elite", true, nil
}

func (f *fakeAdapter) CountRoleMembers(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.roles), nil
}

func (f *fakeAdapter) SendDirect(_ context.Context, userID string, _ transport.Embed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, userID)
	return nil
}

func (f *fakeAdapter) SendEmbed(_ context.Context, _ string, e transport.Embed) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeds = append(f.embeds, e.Title)
	return fmt.Sprintf("m%d", len(f.embeds)), nil
}

func (f *fakeAdapter) EditEmbed(context.Context, string, string, transport.Embed) error { return nil }

func (f *fakeAdapter) ExecuteWebhook(_ context.Context, _ string, m transport.WebhookMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks = append(f.webhooks, m)
	return nil
}

func (f *fakeAdapter) webhookCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.webhooks)
}

func (f *fakeAdapter) send(req transport.Request) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- req
}

type replies struct {
	mu   sync.Mutex
	list []string
}

func (r *replies) Defer(context.Context) error { return nil }

func (r *replies) Reply(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, text)
	return nil
}

func (r *replies) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) == 0 {
		return ""
	}
	return r.list[len(r.list)-1]
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	body := fmt.Sprintf(`
discord:
  allowed_roles: ["100"]
membership:
  data_dir: %q
  roles:
    - name: Elite
      value: "300"
stats:
  channel_id: "400"
  price: 50
storage:
  driver: file
logging:
  level: debug
  console: false
  file: { enabled: true, path: %q }
  webhook: { enabled: false, min_level: warn, rate_per_sec: 1 }
`, filepath.Join(dir, "data"), filepath.Join(dir, "bot.log"))
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func env(k string) (string, bool) {
	v, ok := map[string]string{
		config.EnvToken:      "tok",
		config.EnvGuildID:    "g",
		config.EnvWebhookURL: "https://discord.com/api/webhooks/1/abc",
	}[k]
	return v, ok
}

func TestAppGrantsThroughWiredComponents(t *testing.T) {
	dir := t.TempDir()
	ad := newFakeAdapter()
	a, err := New(writeConfig(t, dir), WithAdapter(ad), WithEnvLookup(env))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	assert.Len(t, ad.cmds, len(commands.Definitions()))

	resp := &replies{}
	ad.send(transport.Request{
		Interaction: transport.Interaction{
			ID:          "i1",
			Command:     commands.CmdAddElite,
			UserID:      "mod",
			MemberRoles: []string{"100"},
			Options:     map[string]string{"user": "42", "time": "1d"},
		},
		Responder: resp,
	})
	require.Eventually(t, func() bool { return resp.last() == messages.Granted }, 3*time.Second, 10*time.Millisecond)

	_, ok := a.store.Lookup("42")
	assert.True(t, ok)
	assert.FileExists(t, filepath.Join(dir, "data", "data.json"))
	assert.FileExists(t, filepath.Join(dir, "data", "audit.jsonl"))

	// grant log on the webhook
	require.Eventually(t, func() bool { return ad.webhookCount() > 0 }, 3*time.Second, 10*time.Millisecond)

	entries, err := a.audit.Recent(context.Background(), "42", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mod", entries[0].ActorID)

	// The ops server reads the same audit store.
	rec := httptest.NewRecorder()
	a.ops.Handler(ops.Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?user=42", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"actor_id":"mod"`)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		a.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		body, _ := io.ReadAll(rec.Body)
		return strings.Contains(string(body), "memberbot_store_records 1")
	}, 3*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSIGTERM))
	assert.True(t, ad.stopped)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("discord: {}\n"), 0o600))

	_, err := New(p, WithAdapter(newFakeAdapter()), WithEnvLookup(env))
	require.Error(t, err)
}

func TestCommandSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Discord:    config.DiscordConfig{AllowedRoles: []string{"1"}, CommandTimeout: "3s"},
		Membership: config.MembershipConfig{Roles: []config.RoleChoice{{Name: "elite", Value: "9"}}, Signature: "Team"},
	}
	st := commandSettings(cfg)
	assert.Equal(t, []string{"1"}, st.AllowedRoles)
	assert.Equal(t, "9", st.RoleID)
	assert.Equal(t, 3*time.Second, st.Timeout)
	assert.Equal(t, "Team", st.Signature)

	cfg.Discord.CommandTimeout = ""
	assert.Equal(t, defaultCommandTimeout, commandSettings(cfg).Timeout)
}

func TestMapStorageConfig(t *testing.T) {
	sc, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Empty(t, sc.Driver)

	_, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}})
	require.Error(t, err)

	sc, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite3", Path: "a.db", BusyTimeout: "2s"}})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, 2*time.Second, sc.BusyTimeout)

	_, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "redis"}})
	require.Error(t, err)
}
