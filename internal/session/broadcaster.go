package session

import (
	"fmt"
	"sync"

	"github.com/driftworks/conduit/internal/ues"
)

// DefaultBroadcasterCapacity bounds the number of concurrent live
// subscribers a session's broadcaster accepts, per spec.md section 4.6.
// internal/pty reuses this same shape for its raw-byte attach streams.
const DefaultBroadcasterCapacity = 256

// subscriberQueueSize bounds each subscriber's pending-event queue. A
// subscriber that falls behind is dropped rather than stalling Publish,
// per spec.md section 4.6 "delivery is best-effort live."
const subscriberQueueSize = 64

// BroadcastEvent is delivered to a live subscriber. Overflow is set
// instead of Event when the subscriber's queue was full and it has just
// been dropped; the subscriber must reconnect via get_events using its
// last-seen offset, per spec.md section 7's Overflow error kind.
type BroadcastEvent struct {
	Event    *ues.Event
	Overflow bool
}

// Broadcaster fans out newly recorded events to a bounded set of live
// subscribers without ever blocking the publisher. It is the generalized
// form of the teacher's ActiveSession.NotifyEvent MCP push, stripped of
// any MCP-specific transport and made reusable by any per-session log.
type Broadcaster struct {
	mu       sync.Mutex
	capacity int
	subs     map[int]chan BroadcastEvent
	nextID   int
	closed   bool
}

// NewBroadcaster creates a broadcaster accepting up to capacity live
// subscribers. capacity <= 0 falls back to DefaultBroadcasterCapacity.
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultBroadcasterCapacity
	}
	return &Broadcaster{capacity: capacity, subs: make(map[int]chan BroadcastEvent)}
}

// Subscribe registers a new live subscriber, returning its id (used with
// Unsubscribe) and its receive channel. Fails once capacity subscribers
// are already registered, or once the broadcaster has been closed.
func (b *Broadcaster) Subscribe() (id int, ch <-chan BroadcastEvent, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, nil, fmt.Errorf("session: broadcaster closed")
	}
	if len(b.subs) >= b.capacity {
		return 0, nil, fmt.Errorf("session: broadcaster at capacity (%d subscribers)", b.capacity)
	}

	b.nextID++
	id = b.nextID
	c := make(chan BroadcastEvent, subscriberQueueSize)
	b.subs[id] = c
	return id, c, nil
}

// Unsubscribe removes a subscriber and frees its slot. Safe to call more
// than once for the same id.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers ev to every live subscriber without blocking. A
// subscriber whose queue is already full receives a best-effort overflow
// marker and is dropped; others are unaffected.
func (b *Broadcaster) Publish(ev ues.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := ev
	for id, ch := range b.subs {
		select {
		case ch <- BroadcastEvent{Event: &e}:
		default:
			select {
			case ch <- BroadcastEvent{Overflow: true}:
			default:
			}
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Close shuts down the broadcaster and every live subscriber channel.
// Idempotent.
func (b *Broadcaster) Close() {
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

// SubscriberCount returns the number of currently live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
