package session

import (
	"context"
	"testing"
	"time"

	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/agent/mock"
	"github.com/driftworks/conduit/internal/clock"
	"github.com/driftworks/conduit/internal/ues"
)

func newTestActiveSession(t *testing.T) (*activeSession, agent.Adapter, context.CancelFunc) {
	t.Helper()
	ad := mock.New(agent.Config{}, clock.New())
	sess := &Session{SessionID: "sess-1", Kind: agent.KindMock, Status: StatusActive, CreatedAt: time.Now()}
	ctx, cancel := context.WithCancel(context.Background())
	as := newActiveSession(sess, ad, 32, 1000, 1000, cancel)
	return as, ad, cancel
}

func TestActiveSessionRecordAssignsDenseSequence(t *testing.T) {
	as, _, cancel := newTestActiveSession(t)
	defer cancel()

	e0 := as.record(ues.Event{Type: ues.EventTurnStarted})
	e1 := as.record(ues.Event{Type: ues.EventTurnEnded})

	if e0.Seq != 0 || e1.Seq != 1 {
		t.Errorf("Seq = %d, %d, want 0, 1", e0.Seq, e1.Seq)
	}
	if as.events.Len() != 2 {
		t.Errorf("events.Len() = %d, want 2", as.events.Len())
	}
}

func TestActiveSessionRecordPublishesToBroadcaster(t *testing.T) {
	as, _, cancel := newTestActiveSession(t)
	defer cancel()

	_, ch, err := as.broadcaster.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	as.record(ues.Event{Type: ues.EventTurnStarted})

	select {
	case got := <-ch:
		if got.Event == nil || got.Event.Type != ues.EventTurnStarted {
			t.Errorf("got = %+v, want turn.started", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestActiveSessionRegisterAndResolvePending(t *testing.T) {
	as, _, cancel := newTestActiveSession(t)
	defer cancel()

	if err := as.registerPending("req-1", pendingQuestion); err != nil {
		t.Fatalf("registerPending: %v", err)
	}
	if err := as.registerPending("req-1", pendingQuestion); err == nil {
		t.Error("expected error re-registering the same request id")
	}
	if err := as.resolvePending("req-1", pendingPermission); err == nil {
		t.Error("expected error resolving as the wrong kind")
	}
	if err := as.resolvePending("req-1", pendingQuestion); err != nil {
		t.Fatalf("resolvePending: %v", err)
	}
	if err := as.resolvePending("req-1", pendingQuestion); err == nil {
		t.Error("expected error resolving an already-resolved request id")
	}
}

func TestActiveSessionFinishIsIdempotent(t *testing.T) {
	as, _, cancel := newTestActiveSession(t)
	defer cancel()

	as.finish(ues.EndCompleted, nil)
	n := as.events.Len()
	as.finish(ues.EndError, nil)

	if as.events.Len() != n {
		t.Errorf("finish recorded a second session.ended: events.Len() = %d, want %d", as.events.Len(), n)
	}
}

func TestActiveSessionPumpForwardsAdapterEnded(t *testing.T) {
	as, ad, cancel := newTestActiveSession(t)
	defer cancel()

	var endedReason ues.EndReason
	done := make(chan struct{})
	go func() {
		as.pump(context.Background(), func(reason ues.EndReason) { endedReason = reason })
		close(done)
	}()

	// The mock adapter's Terminate emits session.ended itself before
	// closing its channel, so pump should record that (not synthesize a
	// second one).
	_ = ad.Terminate(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not return after adapter channel closed")
	}

	if endedReason != ues.EndTerminated {
		t.Errorf("endedReason = %q, want %q", endedReason, ues.EndTerminated)
	}

	events, err := as.events.After(-1)
	if err != nil {
		t.Fatalf("After: %v", err)
	}
	var endedCount int
	for _, be := range events {
		if be.Event.Type == ues.EventSessionEnded {
			endedCount++
		}
	}
	if endedCount != 1 {
		t.Errorf("session.ended count = %d, want exactly 1", endedCount)
	}
}

func TestActiveSessionSynthesizeUngracefulExit(t *testing.T) {
	as, _, cancel := newTestActiveSession(t)
	defer cancel()

	var endedReason ues.EndReason
	as.synthesizeUngracefulExit(func(reason ues.EndReason) { endedReason = reason })

	if endedReason != ues.EndAgentExited {
		t.Errorf("endedReason = %q, want %q", endedReason, ues.EndAgentExited)
	}

	events, err := as.events.After(-1)
	if err != nil {
		t.Fatalf("After: %v", err)
	}
	if len(events) != 1 || events[0].Event.Type != ues.EventSessionEnded {
		t.Fatalf("events = %+v, want exactly one session.ended", events)
	}
}

func TestActiveSessionPumpDropsEventsAfterEnded(t *testing.T) {
	as, ad, cancel := newTestActiveSession(t)
	defer cancel()

	as.finish(ues.EndCompleted, nil)
	before := as.events.Len()

	// Queue a full mock turn followed by the mock's own session.ended, all
	// arriving after the session was already finalized, then let pump
	// drain them: none of them may reach the log.
	if err := ad.Start(context.Background(), &agent.StartRequest{SessionID: "sess-1", Prompt: "late"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = ad.Terminate(context.Background())

	done := make(chan struct{})
	go func() {
		as.pump(context.Background(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not return after adapter channel closed")
	}

	if as.events.Len() != before {
		t.Errorf("events.Len() = %d, want %d: pump recorded events after the session ended", as.events.Len(), before)
	}
}

func TestNewManagerDefaults(t *testing.T) {
	reg := agent.NewRegistry()
	mgr := NewManager(reg, 0, 0, 0, 0)

	if mgr.eventBufferSize != DefaultEventBufferSize {
		t.Errorf("eventBufferSize = %d, want %d", mgr.eventBufferSize, DefaultEventBufferSize)
	}
	if mgr.idleTimeout != DefaultSessionIdleTimeout {
		t.Errorf("idleTimeout = %v, want %v", mgr.idleTimeout, DefaultSessionIdleTimeout)
	}
}
