// Package events is the in-process notification bus. Events are published
// exactly once per committed state change; subscribers with full buffers are
// skipped rather than blocking the write path.
package events

import (
	"sync"
	"time"
)

// Event names, one per committed mutation.
const (
	StakeChanged    = "stake.changed"
	ArgumentCreated = "argument.created"
	TopicClaimed    = "topic.claimed"
)

// Event carries the minimum a consumer needs to react to a commit. Payload
// keys are documented per event name; values are already-serialized strings.
type Event struct {
	Name       string
	TopicID    string
	Identity   string
	Payload    map[string]string
	OccurredAt time.Time
}

const subscriberBuffer = 16

// Bus fans committed events out to subscribers. The zero value is not usable;
// call NewBus.
type Bus struct {
	mu     sync.Mutex
	seq    int
	subs   map[int]chan Event
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer and returns its channel plus a cancel
// function. Cancel is idempotent and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.seq
	b.seq++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber that has buffer room. Slow
// subscribers lose events; the ledger is the source of truth, the bus is a
// hint.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close drops all subscribers and closes their channels. Publish after Close
// is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
