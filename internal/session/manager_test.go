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

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	reg := agent.NewRegistry()
	mock.Register(reg, clock.New())
	return NewManager(reg, 32, 1000, 1000, time.Hour)
}

// mockOpeningEvents is how many events the mock adapter's Start records
// when Create launches it with no prompt: session.started plus one turn
// (turn.started, item.started, item.delta, item.completed, turn.ended).
const mockOpeningEvents = 6

// waitForEvents blocks until as's log holds at least n events, so a test
// can work from a known position after Create's background Start.
func waitForEvents(t *testing.T, as *activeSession, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for as.events.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d events, have %d", n, as.events.Len())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManagerCreateRegistersSession(t *testing.T) {
	mgr := newTestManager(t)
	id := NewSessionID()

	sess, err := mgr.Create(context.Background(), id, agent.Config{}, StartOptions{Kind: agent.KindMock, Prompt: "hello"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.SessionID != id {
		t.Errorf("SessionID = %q, want %q", sess.SessionID, id)
	}
	if mgr.Count() != 1 {
		t.Errorf("Count() = %d, want 1", mgr.Count())
	}
}

func TestManagerCreateRejectsDuplicateID(t *testing.T) {
	mgr := newTestManager(t)
	id := NewSessionID()

	if _, err := mgr.Create(context.Background(), id, agent.Config{}, StartOptions{Kind: agent.KindMock}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := mgr.Create(context.Background(), id, agent.Config{}, StartOptions{Kind: agent.KindMock}); err == nil {
		t.Fatal("expected error creating a session with a duplicate id")
	}
}

func TestManagerCreateRejectsInvalidID(t *testing.T) {
	mgr := newTestManager(t)
	if _, err := mgr.Create(context.Background(), "not-a-uuid", agent.Config{}, StartOptions{Kind: agent.KindMock}); err == nil {
		t.Fatal("expected error for a non-UUID, non-child session id")
	}
}

func TestManagerChildSessionID(t *testing.T) {
	mgr := newTestManager(t)
	parentID := NewSessionID()
	childID := ChildSessionID(parentID, 1)

	if _, err := mgr.Create(context.Background(), parentID, agent.Config{}, StartOptions{Kind: agent.KindMock, Depth: 0}); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if _, err := mgr.Create(context.Background(), childID, agent.Config{}, StartOptions{Kind: agent.KindMock, ParentSessionID: parentID, Depth: 1}); err != nil {
		t.Fatalf("create child: %v", err)
	}

	if err := mgr.AddChildSession(parentID, childID); err != nil {
		t.Fatalf("AddChildSession: %v", err)
	}

	info, err := mgr.GetInfo(parentID)
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if len(info.ChildSessions) != 1 || info.ChildSessions[0] != childID {
		t.Errorf("ChildSessions = %v, want [%s]", info.ChildSessions, childID)
	}
}

func TestManagerAddChildSessionRejectsWrongDepth(t *testing.T) {
	mgr := newTestManager(t)
	parentID := NewSessionID()
	childID := NewSessionID()

	if _, err := mgr.Create(context.Background(), parentID, agent.Config{}, StartOptions{Kind: agent.KindMock, Depth: 0}); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if _, err := mgr.Create(context.Background(), childID, agent.Config{}, StartOptions{Kind: agent.KindMock, Depth: 5}); err != nil {
		t.Fatalf("create child: %v", err)
	}

	if err := mgr.AddChildSession(parentID, childID); err == nil {
		t.Fatal("expected error for a child whose depth doesn't match parent+1")
	}
}

func TestManagerTerminateIsIdempotent(t *testing.T) {
	mgr := newTestManager(t)
	id := NewSessionID()
	if _, err := mgr.Create(context.Background(), id, agent.Config{}, StartOptions{Kind: agent.KindMock}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := mgr.Terminate(context.Background(), id, "test"); err != nil {
		t.Fatalf("first Terminate: %v", err)
	}
	if err := mgr.Terminate(context.Background(), id, "test"); err != nil {
		t.Fatalf("second Terminate should also succeed: %v", err)
	}

	info, err := mgr.GetInfo(id)
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.Status != StatusEnded {
		t.Errorf("Status = %q, want %q", info.Status, StatusEnded)
	}
}

func TestManagerDeleteRequiresEndedSession(t *testing.T) {
	mgr := newTestManager(t)
	id := NewSessionID()
	if _, err := mgr.Create(context.Background(), id, agent.Config{}, StartOptions{Kind: agent.KindMock}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := mgr.Delete(id); err == nil {
		t.Fatal("expected error deleting a still-active session")
	}

	if err := mgr.Terminate(context.Background(), id, "test"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := mgr.Delete(id); err != nil {
		t.Fatalf("Delete after terminate: %v", err)
	}
	if mgr.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after delete", mgr.Count())
	}
}

func TestManagerListReflectsSessions(t *testing.T) {
	mgr := newTestManager(t)
	id1, id2 := NewSessionID(), NewSessionID()
	if _, err := mgr.Create(context.Background(), id1, agent.Config{}, StartOptions{Kind: agent.KindMock}); err != nil {
		t.Fatalf("Create 1: %v", err)
	}
	if _, err := mgr.Create(context.Background(), id2, agent.Config{}, StartOptions{Kind: agent.KindMock}); err != nil {
		t.Fatalf("Create 2: %v", err)
	}

	list := mgr.List()
	if len(list) != 2 {
		t.Errorf("len(List()) = %d, want 2", len(list))
	}
}

func TestManagerReplyQuestionResolvesOnce(t *testing.T) {
	mgr := newTestManager(t)
	id := NewSessionID()
	if _, err := mgr.Create(context.Background(), id, agent.Config{}, StartOptions{Kind: agent.KindMock}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	as, err := mgr.get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := as.registerPending("req-1", pendingQuestion); err != nil {
		t.Fatalf("registerPending: %v", err)
	}

	as.mu.Lock()
	_, stillPending := as.pending["req-1"]
	as.mu.Unlock()
	if !stillPending {
		t.Fatal("expected req-1 to still be pending before resolution")
	}

	// The mock adapter's ResolveHITL looks the request up in its own
	// pending map, which this synthetic request id was never registered
	// in, so the first reply's error comes from the adapter; the Manager
	// has already removed its own pending entry by then, and a second
	// reply for the same id is refused.
	_ = mgr.ReplyQuestion(context.Background(), id, "req-1", []string{"yes"})
	as.mu.Lock()
	_, stillPending = as.pending["req-1"]
	as.mu.Unlock()
	if stillPending {
		t.Error("expected req-1 to be resolved after the first ReplyQuestion")
	}
	if err := mgr.ReplyQuestion(context.Background(), id, "req-1", []string{"yes"}); err == nil {
		t.Error("expected error replying to an already-resolved request id")
	}
}

func TestManagerGetEventsRespectsOffsetAndLimit(t *testing.T) {
	mgr := newTestManager(t)
	id := NewSessionID()
	if _, err := mgr.Create(context.Background(), id, agent.Config{}, StartOptions{Kind: agent.KindMock}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	as, err := mgr.get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	waitForEvents(t, as, mockOpeningEvents)
	as.record(ues.Event{Type: ues.EventTurnStarted})
	as.record(ues.Event{Type: ues.EventItemDelta})
	as.record(ues.Event{Type: ues.EventTurnEnded})

	events, err := mgr.GetEvents(id, mockOpeningEvents, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}

	limited, err := mgr.GetEvents(id, mockOpeningEvents, 2)
	if err != nil {
		t.Fatalf("GetEvents limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("len(limited) = %d, want 2", len(limited))
	}
}

func TestManagerSubscribeReplaysThenLive(t *testing.T) {
	mgr := newTestManager(t)
	id := NewSessionID()
	if _, err := mgr.Create(context.Background(), id, agent.Config{}, StartOptions{Kind: agent.KindMock}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	as, err := mgr.get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	waitForEvents(t, as, mockOpeningEvents)
	as.record(ues.Event{Type: ues.EventTurnStarted})

	sub, err := mgr.Subscribe(id, mockOpeningEvents)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if len(sub.Replay) != 1 {
		t.Fatalf("len(Replay) = %d, want 1", len(sub.Replay))
	}

	as.record(ues.Event{Type: ues.EventTurnEnded})

	select {
	case got := <-sub.Live:
		if got.Event == nil || got.Event.Type != ues.EventTurnEnded {
			t.Errorf("got = %+v, want turn.ended live delivery", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event after subscribe")
	}
}

func TestManagerSweepIdleSessionsTerminatesStale(t *testing.T) {
	mgr := newTestManager(t)
	mgr.idleTimeout = time.Millisecond

	id := NewSessionID()
	if _, err := mgr.Create(context.Background(), id, agent.Config{}, StartOptions{Kind: agent.KindMock}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	as, err := mgr.get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Every recorded event refreshes UpdatedAt, so let the mock's opening
	// events land before backdating it.
	waitForEvents(t, as, mockOpeningEvents)
	as.mu.Lock()
	as.session.UpdatedAt = time.Now().Add(-time.Hour)
	as.mu.Unlock()

	mgr.sweepIdleSessions()

	info, err := mgr.GetInfo(id)
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.Status != StatusEnded {
		t.Errorf("Status = %q, want %q after idle sweep", info.Status, StatusEnded)
	}
}

func TestManagerGetInfoNotFound(t *testing.T) {
	mgr := newTestManager(t)
	if _, err := mgr.GetInfo(NewSessionID()); err == nil {
		t.Fatal("expected error for unknown session id")
	}
}
