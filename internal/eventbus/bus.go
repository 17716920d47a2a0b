package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Membership event types.
const (
	MembershipGranted = "membership.granted"
	MembershipRevoked = "membership.revoked"
	MembershipExpired = "membership.expired"
)

// Event is an in-memory signal between components.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// MembershipChange is the Data of granted and revoked events. Expired
// events carry a []MembershipChange for the whole sweep.
type MembershipChange struct {
	UserID   string    `json:"user_id"`
	RoleID   string    `json:"role_id"`
	ActorID  string    `json:"actor_id,omitempty"`
	ExpireAt time.Time `json:"expire_at"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under
			// the write lock never races a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// IsMembership reports whether e is one of the membership.* events.
func IsMembership(e Event) bool {
	switch e.Type {
	case MembershipGranted, MembershipRevoked, MembershipExpired:
		return true
	}
	return false
}
