package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocksCreatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "state.json")
	l, err := OpenLocks(path)
	require.NoError(t, err)
	assert.False(t, l.Locked())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"commandsLocked":false}`, string(b))

	require.NoError(t, l.SetLocked(true))
	reopened, err := OpenLocks(path)
	require.NoError(t, err)
	assert.True(t, reopened.Locked())
}

func TestLocksReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"commandsLocked":true}`), 0o644))
	l, err := OpenLocks(path)
	require.NoError(t, err)
	assert.True(t, l.Locked())
}

func TestStatsMessageNullAndID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statsMessage.json")
	s, err := OpenStatsMessage(path)
	require.NoError(t, err)
	assert.Empty(t, s.ID())

	require.NoError(t, s.SetID("12345"))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"messageId":"12345"}`, string(b))

	reopened, err := OpenStatsMessage(path)
	require.NoError(t, err)
	assert.Equal(t, "12345", reopened.ID())

	require.NoError(t, reopened.SetID(""))
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"messageId":null}`, string(b))
}

func TestCorruptStateFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err := OpenLocks(path)
	require.Error(t, err)
}
