// Package state persists small bot flags next to the membership store.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"

	json "github.com/goccy/go-json"

	"memberbot/internal/storage"
)

// Flags is kept in state.json.
type Flags struct {
	CommandsLocked bool `json:"commandsLocked"`
}

// Locks holds the command lock flag.
type Locks struct {
	path string

	mu    sync.RWMutex
	flags Flags
}

// OpenLocks loads path, creating it with defaults when missing.
func OpenLocks(path string) (*Locks, error) {
	l := &Locks{path: path}
	ok, err := readJSON(path, &l.flags)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := writeJSON(path, l.flags); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Locks) Locked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.flags.CommandsLocked
}

// SetLocked persists the flag. The old value is kept when the write fails.
func (l *Locks) SetLocked(locked bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.flags
	next.CommandsLocked = locked
	if err := writeJSON(l.path, next); err != nil {
		return err
	}
	l.flags = next
	return nil
}

type statsMessage struct {
	MessageID *string `json:"messageId"`
}

// StatsMessage remembers the id of the live statistics message
// (statsMessage.json).
type StatsMessage struct {
	path string

	mu sync.Mutex
	id string
}

func OpenStatsMessage(path string) (*StatsMessage, error) {
	var doc statsMessage
	if _, err := readJSON(path, &doc); err != nil {
		return nil, err
	}
	s := &StatsMessage{path: path}
	if doc.MessageID != nil {
		s.id = *doc.MessageID
	}
	return s, nil
}

// ID returns the stored message id, or "" when none is known.
func (s *StatsMessage) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// SetID stores id; "" is written as null.
func (s *StatsMessage) SetID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var doc statsMessage
	if id != "" {
		doc.MessageID = &id
	}
	if err := writeJSON(s.path, doc); err != nil {
		return err
	}
	s.id = id
	return nil
}

// readJSON decodes path into v. It reports false when the file is missing
// or empty.
func readJSON(path string, v any) (bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(path, b, 0o644)
}
