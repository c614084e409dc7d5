package pty

import (
	"sync"

	"github.com/driftworks/conduit/internal/apierr"
)

var (
	errClosed     = apierr.New(apierr.KindConflict, "pty: broadcaster closed")
	errAtCapacity = apierr.New(apierr.KindOverflow, "pty: broadcaster at capacity")
)

// DefaultBroadcasterCapacity bounds concurrent attach_terminal subscribers
// per process, per spec.md section 4.2's "at most 256 concurrent broadcast
// subscribers per PTY" invariant. Mirrors session.DefaultBroadcasterCapacity.
const DefaultBroadcasterCapacity = 256

const subscriberQueueSize = 64

// Chunk is a slice of raw process output delivered to a live attach
// subscriber. Overflow is set instead of Data when the subscriber's queue
// filled and it has just been dropped.
type Chunk struct {
	Data     []byte
	Overflow bool
}

// byteBroadcaster fans out raw output bytes to a bounded set of live
// attach_terminal subscribers without ever blocking the writer producing
// them. Same shape as session.Broadcaster (bounded capacity, best-effort
// delivery, drop-on-overflow), specialized to raw []byte chunks instead of
// ues.Event since a PTY's output has no event structure to preserve.
type byteBroadcaster struct {
	mu       sync.Mutex
	capacity int
	subs     map[int]chan Chunk
	nextID   int
	closed   bool
}

func newByteBroadcaster(capacity int) *byteBroadcaster {
	if capacity <= 0 {
		capacity = DefaultBroadcasterCapacity
	}
	return &byteBroadcaster{capacity: capacity, subs: make(map[int]chan Chunk)}
}

func (b *byteBroadcaster) Subscribe() (id int, ch <-chan Chunk, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, nil, errClosed
	}
	if len(b.subs) >= b.capacity {
		return 0, nil, errAtCapacity
	}

	b.nextID++
	id = b.nextID
	c := make(chan Chunk, subscriberQueueSize)
	b.subs[id] = c
	return id, c, nil
}

func (b *byteBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *byteBroadcaster) Publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	for id, ch := range b.subs {
		select {
		case ch <- Chunk{Data: cp}:
		default:
			select {
			case ch <- Chunk{Overflow: true}:
			default:
			}
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *byteBroadcaster) Close() {
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

func (b *byteBroadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
