package membership

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *fakeClock, string) {
	t.Helper()
	clock := &fakeClock{now: t0}
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := Open(path, WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock, path
}

func collect(s *Store, now time.Time) map[string]Record {
	out := map[string]Record{}
	for id, rec := range s.SweepExpired(now) {
		out[id] = rec
	}
	return out
}

func TestParseDurationValid(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"1d", 86400000 * time.Millisecond},
		{"30m", 1800000 * time.Millisecond},
		{"12h", 43200000 * time.Millisecond},
		{"45s", 45000 * time.Millisecond},
		{"007m", 7 * time.Minute},
		{"365d", 365 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDurationInvalid(t *testing.T) {
	for _, in := range []string{"1x", "d1", "-5m", "", "1.5h", "0m", "m", "12", " 1d", "1d ", "1dd", "+5m", "1D", "１d"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseDuration(in)
			require.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestParseDurationSaturates(t *testing.T) {
	for _, in := range []string{"99999999999999999999999d", "106752d", "9223372036854775807s"} {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, time.Duration(math.MaxInt64), got, in)
	}
}

func TestGrantTwiceRejected(t *testing.T) {
	s, _, _ := newStore(t)

	exp, err := s.Grant("U1", "R1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), exp)

	_, err = s.Grant("U1", "R2", 2*time.Hour)
	require.ErrorIs(t, err, ErrAlreadyMember)

	rec, ok := s.Lookup("U1")
	require.True(t, ok)
	assert.Equal(t, Record{RoleID: "R1", ExpireAt: t0.Add(time.Hour)}, rec)
	assert.Equal(t, 1, s.Len())
}

func TestGrantRejectsNonPositiveDuration(t *testing.T) {
	s, _, path := newStore(t)
	_, err := s.Grant("U1", "R1", 0)
	require.ErrorIs(t, err, ErrInvalidDuration)
	_, err = s.Grant("", "R1", time.Hour)
	require.ErrorIs(t, err, ErrEmptyUserID)
	assert.NoFileExists(t, path)
}

func TestRevoke(t *testing.T) {
	s, _, path := newStore(t)

	_, err := s.Revoke("nobody")
	require.ErrorIs(t, err, ErrNotMember)
	assert.NoFileExists(t, path)

	_, err = s.Grant("U1", "R1", time.Minute)
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = s.Revoke("nobody")
	require.ErrorIs(t, err, ErrNotMember)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	rec, err := s.Revoke("U1")
	require.NoError(t, err)
	assert.Equal(t, "R1", rec.RoleID)
	_, ok := s.Lookup("U1")
	assert.False(t, ok)
	assert.JSONEq(t, `{}`, readFile(t, path))
}

func TestRoundTrip(t *testing.T) {
	s, clock, path := newStore(t)
	_, err := s.Grant("U1", "R1", 24*time.Hour)
	require.NoError(t, err)
	clock.Set(t0.Add(1234567 * time.Microsecond))
	_, err = s.Grant("U2", "R1", 30*time.Minute)
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	for _, id := range []string{"U1", "U2"} {
		want, _ := s.Lookup(id)
		got, ok := reopened.Lookup(id)
		require.True(t, ok, id)
		assert.True(t, want.ExpireAt.Equal(got.ExpireAt), id)
		assert.Equal(t, want.RoleID, got.RoleID)
	}
}

func TestDocumentShape(t *testing.T) {
	s, _, path := newStore(t)
	_, err := s.Grant("U1", "R1", 24*time.Hour)
	require.NoError(t, err)

	assert.JSONEq(t, `{"U1":{"roleId":"R1","expireDate":"2025-06-02T12:00:00.000Z"}}`, readFile(t, path))
}

func TestLoadsExistingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	doc := `{
  "111": { "roleId": "R", "expireDate": "2025-06-01T11:00:00.500Z" },
  "222": { "roleId": "R", "expireDate": "2025-06-03T00:00:00+02:00" },
  "333": { "roleId": "R" }
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())

	rec, _ := s.Lookup("222")
	assert.True(t, rec.ExpireAt.Equal(time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC)))

	// 333 has no expiry and never expires.
	got := collect(s, t0.Add(1000*24*time.Hour))
	assert.Len(t, got, 2)
	assert.Contains(t, got, "111")
	assert.Contains(t, got, "222")
	_, ok := s.Lookup("333")
	assert.True(t, ok)
}

func TestOpenRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"1":`), 0o644))
	_, err := Open(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestSweepScenario(t *testing.T) {
	s, _, path := newStore(t)
	d, err := ParseDuration("1d")
	require.NoError(t, err)
	_, err = s.Grant("U1", "R1", d)
	require.NoError(t, err)

	assert.Empty(t, collect(s, t0.Add(23*time.Hour)))
	_, ok := s.Lookup("U1")
	require.True(t, ok)

	got := collect(s, t0.Add(25*time.Hour))
	assert.Equal(t, map[string]Record{"U1": {RoleID: "R1", ExpireAt: t0.Add(24 * time.Hour)}}, got)
	_, ok = s.Lookup("U1")
	assert.False(t, ok)

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, reopened.Len())
}

func TestSweepBoundaryIsInclusive(t *testing.T) {
	s, _, _ := newStore(t)
	_, err := s.Grant("U1", "R1", time.Minute)
	require.NoError(t, err)
	assert.Len(t, collect(s, t0.Add(time.Minute)), 1)
}

func TestSweepIsIdempotent(t *testing.T) {
	s, _, _ := newStore(t)
	for _, id := range []string{"A", "B", "C"} {
		_, err := s.Grant(id, "R", time.Minute)
		require.NoError(t, err)
	}
	_, err := s.Grant("D", "R", time.Hour)
	require.NoError(t, err)

	now := t0.Add(2 * time.Minute)
	first := collect(s, now)
	assert.Len(t, first, 3)
	assert.NotContains(t, first, "D")
	assert.Empty(t, collect(s, now))
	assert.Equal(t, 1, s.Len())
}

func TestSweepStopsWhenConsumerBreaks(t *testing.T) {
	s, _, _ := newStore(t)
	for _, id := range []string{"A", "B"} {
		_, err := s.Grant(id, "R", time.Minute)
		require.NoError(t, err)
	}
	for range s.SweepExpired(t0.Add(time.Hour)) {
		break
	}
	assert.Equal(t, 1, s.Len())
	assert.Len(t, collect(s, t0.Add(time.Hour)), 1)
}

func TestSweepSkipsRecordsRevokedMidSweep(t *testing.T) {
	s, _, _ := newStore(t)
	for _, id := range []string{"A", "B"} {
		_, err := s.Grant(id, "R", time.Minute)
		require.NoError(t, err)
	}
	seen := 0
	for id := range s.SweepExpired(t0.Add(time.Hour)) {
		seen++
		other := "A"
		if id == "A" {
			other = "B"
		}
		_, err := s.Revoke(other)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, seen)
	assert.Equal(t, 0, s.Len())
}

func TestPersistFailureRollsBack(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	path := filepath.Join(dir, "data.json")
	clock := &fakeClock{now: t0}
	s, err := Open(path, WithClock(clock.Now))
	require.NoError(t, err)
	_, err = s.Grant("U1", "R1", time.Minute)
	require.NoError(t, err)

	// Replace the data directory with a plain file so every write fails.
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o644))

	_, err = s.Grant("U2", "R1", time.Minute)
	require.Error(t, err)
	_, ok := s.Lookup("U2")
	assert.False(t, ok)

	_, err = s.Revoke("U1")
	require.Error(t, err)
	_, ok = s.Lookup("U1")
	assert.True(t, ok)

	assert.Empty(t, collect(s, t0.Add(time.Hour)))
	_, ok = s.Lookup("U1")
	assert.True(t, ok, "record must survive a failed sweep write")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}
