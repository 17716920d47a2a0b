package membership

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"memberbot/internal/storage"
	logx "memberbot/pkg/logx"
)

// Store is the on-disk map of user id to membership record.
//
// Every mutation rewrites the whole document before returning; a failed
// write rolls the in-memory change back. One mutex covers the whole
// load-mutate-persist cycle.
type Store struct {
	path string
	log  logx.Logger
	now  func() time.Time

	mu      sync.Mutex
	records map[string]Record
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Store) {
		if !log.IsZero() {
			s.log = log
		}
	}
}

// Open loads the document at path. A missing or empty file yields an
// empty store; the file is only created by the first mutation.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("membership store path is required")
	}
	s := &Store{
		path:    path,
		log:     logx.Nop(),
		now:     time.Now,
		records: map[string]Record{},
	}
	for _, o := range opts {
		o(s)
	}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read membership store: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.records); err != nil {
		return nil, fmt.Errorf("decode membership store %s: %w", path, err)
	}
	if s.records == nil {
		s.records = map[string]Record{}
	}
	s.log.Debug("membership store loaded", logx.String("path", path), logx.Int("records", len(s.records)))
	return s, nil
}

// Grant inserts a record expiring d from now and persists it.
func (s *Store) Grant(userID, roleID string, d time.Duration) (time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return time.Time{}, ErrEmptyUserID
	}
	if d <= 0 {
		return time.Time{}, ErrInvalidDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[userID]; ok {
		return time.Time{}, ErrAlreadyMember
	}
	expireAt := expiry(s.now(), d)
	s.records[userID] = Record{RoleID: roleID, ExpireAt: expireAt}
	if err := s.saveLocked(); err != nil {
		delete(s.records, userID)
		return time.Time{}, err
	}
	return expireAt, nil
}

// Revoke removes the user's record, persists, and returns the removed record.
func (s *Store) Revoke(userID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return Record{}, ErrNotMember
	}
	delete(s.records, userID)
	if err := s.saveLocked(); err != nil {
		s.records[userID] = rec
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) Lookup(userID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	return rec, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// SweepExpired yields every record with ExpireAt <= now. Each record is
// removed and the removal persisted before it is yielded, so no later scan
// sees it again. Order is unspecified.
//
// The candidates are fixed when iteration starts; records are taken one at
// a time so grants and revokes may interleave with a running sweep. If a
// removal cannot be persisted the record is restored and the sequence ends.
func (s *Store) SweepExpired(now time.Time) iter.Seq2[string, Record] {
	return func(yield func(string, Record) bool) {
		for _, id := range s.expiredIDs(now) {
			rec, ok, err := s.take(id, now)
			if err != nil {
				s.log.Error("persisting expiry failed; record kept for next sweep",
					logx.String("user", id), logx.Err(err))
				return
			}
			if !ok {
				continue
			}
			if !yield(id, rec) {
				return
			}
		}
	}
}

func (s *Store) expiredIDs(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, rec := range s.records {
		if rec.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Store) take(id string, now time.Time) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || !rec.Expired(now) {
		return Record{}, false, nil
	}
	delete(s.records, id)
	if err := s.saveLocked(); err != nil {
		s.records[id] = rec
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode membership store: %w", err)
	}
	if err := storage.WriteFileAtomic(s.path, b, 0o644); err != nil {
		return fmt.Errorf("save membership store: %w", err)
	}
	return nil
}

// expiry computes now+d at the millisecond precision of the document.
func expiry(now time.Time, d time.Duration) time.Time {
	return now.UTC().Add(d).Truncate(time.Millisecond)
}
