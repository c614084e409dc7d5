package session

import (
	"testing"

	"github.com/driftworks/conduit/internal/ues"
)

func TestBroadcasterDeliversToLiveSubscriber(t *testing.T) {
	b := NewBroadcaster(4)
	_, ch, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Publish(ues.Event{Type: ues.EventTurnStarted})

	got := <-ch
	if got.Overflow || got.Event == nil || got.Event.Type != ues.EventTurnStarted {
		t.Errorf("got = %+v, want turn.started delivery", got)
	}
}

func TestBroadcasterCapacityRejectsOverflow(t *testing.T) {
	b := NewBroadcaster(2)
	if _, _, err := b.Subscribe(); err != nil {
		t.Fatalf("Subscribe 1: %v", err)
	}
	if _, _, err := b.Subscribe(); err != nil {
		t.Fatalf("Subscribe 2: %v", err)
	}
	if _, _, err := b.Subscribe(); err == nil {
		t.Fatal("expected third Subscribe to fail at capacity")
	}
}

func TestBroadcasterSlowSubscriberDroppedWithOverflowMarker(t *testing.T) {
	b := NewBroadcaster(4)
	_, ch, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Flood past the subscriber's queue without reading.
	for i := 0; i < subscriberQueueSize+10; i++ {
		b.Publish(ues.Event{Type: ues.EventItemDelta})
	}

	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0 after overflow drop", b.SubscriberCount())
	}

	var sawOverflow bool
	for ev := range ch {
		if ev.Overflow {
			sawOverflow = true
		}
	}
	if !sawOverflow {
		t.Error("expected an overflow marker in the dropped subscriber's channel")
	}
}

func TestBroadcasterUnsubscribeFreesSlot(t *testing.T) {
	b := NewBroadcaster(1)
	id, _, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.Unsubscribe(id)

	if _, _, err := b.Subscribe(); err != nil {
		t.Fatalf("expected freed slot to accept a new subscriber: %v", err)
	}
}

func TestBroadcasterCloseClosesAllSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	_, ch1, _ := b.Subscribe()
	_, ch2, _ := b.Subscribe()

	b.Close()

	if _, ok := <-ch1; ok {
		t.Error("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Error("expected ch2 closed")
	}

	if _, _, err := b.Subscribe(); err == nil {
		t.Fatal("expected Subscribe to fail after Close")
	}
}
