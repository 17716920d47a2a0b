package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberbot/internal/metrics"
	"memberbot/internal/storage"
	rtsup "memberbot/internal/runtime/supervisor"
	logx "memberbot/pkg/logx"
)

func TestHealthz(t *testing.T) {
	sup := rtsup.New(context.Background())
	defer sup.Cancel()
	s := New(Config{}, Deps{Supervisor: sup, Members: func() int { return 3 }}, logx.Nop())

	rec := httptest.NewRecorder()
	s.Handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var h Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 3, h.Members)
}

func TestHealthzDegradedAfterTaskError(t *testing.T) {
	sup := rtsup.New(context.Background())
	sup.Go("broken", func(context.Context) error { return errors.New("gateway lost") })
	require.Eventually(t, func() bool { return sup.Err() != nil }, time.Second, 5*time.Millisecond)

	s := New(Config{}, Deps{Supervisor: sup}, logx.Nop())
	rec := httptest.NewRecorder()
	s.Handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "gateway lost")
}

func TestTokenAuth(t *testing.T) {
	s := New(Config{}, Deps{}, logx.Nop())
	h := s.Handler(Config{Token: "sekret"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=sekret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsAndPprofRoutes(t *testing.T) {
	m := metrics.New()
	m.SetRoleMembers(5)
	s := New(Config{}, Deps{Metrics: m.Handler()}, logx.Nop())

	rec := httptest.NewRecorder()
	s.Handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "memberbot_role_members 5")

	rec = httptest.NewRecorder()
	s.Handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler(Config{Pprof: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":9464"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9464"))
	assert.False(t, isLoopbackAddr("garbage"))
}

func TestStartServesAndStops(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{}, logx.Nop())
	s.Start(context.Background())

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Empty(t, s.Addr())
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	err := s.serveOnce(context.Background())
	require.Error(t, err)
}

type fakeAudit struct {
	entries []storage.AuditEntry
	user    string
	limit   int
	err     error
}

func (f *fakeAudit) Recent(_ context.Context, userID string, limit int) ([]storage.AuditEntry, error) {
	f.user, f.limit = userID, limit
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func TestAuditEndpoint(t *testing.T) {
	fa := &fakeAudit{entries: []storage.AuditEntry{{ID: "01J", Action: storage.ActionGrant, UserID: "42", ActorID: "mod"}}}
	h := New(Config{}, Deps{Audit: fa}, logx.Nop()).Handler(Config{Token: "sekret"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?user=42", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?user=42&token=sekret", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got []storage.AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "mod", got[0].ActorID)
	assert.Equal(t, "42", fa.user)
	assert.Equal(t, defaultAuditLimit, fa.limit)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?limit=5000&token=sekret", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, fa.user)
	assert.Equal(t, maxAuditLimit, fa.limit)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?limit=-1&token=sekret", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fa.err = errors.New("disk gone")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?token=sekret", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAuditEndpointWithoutStore(t *testing.T) {
	rec := httptest.NewRecorder()
	New(Config{}, Deps{}, logx.Nop()).Handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
