package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/apierr"
	"github.com/driftworks/conduit/internal/logger"
	"github.com/driftworks/conduit/internal/metrics"
	"github.com/driftworks/conduit/internal/ues"
)

// pendingKind distinguishes a question from a permission request so
// reply_question/reply_permission are rejected against the wrong kind of
// pending request, per spec.md section 7's Conflict error kind.
type pendingKind int

const (
	pendingQuestion pendingKind = iota
	pendingPermission
)

// errorTail is an optional capability an Adapter can implement to report
// recent error context (e.g. a subprocess's stderr tail) for the error
// event synthesized ahead of an ungraceful-exit session.ended, per
// spec.md section 8 scenario 6. subprocess.Adapter implements it; other
// adapters can opt in without changing this contract.
type errorTail interface {
	LastError() string
}

// exitCoder is an optional capability an Adapter can implement to report
// the supervised process's exit code, threaded into the session.ended
// synthesized for an ungraceful exit, per spec.md section 8 scenario 6.
type exitCoder interface {
	LastExitCode() (code int, ok bool)
}

// activeSession is the Session Manager's per-session unit of live state:
// the Session record, its adapter, its append-only event log, its
// broadcaster, and its pending HITL requests. Generalizes the teacher's
// ActiveSession, with the MCP session/caller-tool relay fields dropped
// (out of scope transport) and agent.StreamingExecutor/StreamEvent
// replaced by agent.Adapter/ues.Event.
type activeSession struct {
	session *Session
	adapter agent.Adapter
	events  *EventBuffer
	broadcaster *Broadcaster

	limiter *rate.Limiter

	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]pendingKind

	appendMu sync.Mutex // spec.md section 4.5's "per-session append lock"
	nextSeq  int
	sawEnded bool
}

func newActiveSession(sess *Session, ad agent.Adapter, bufSize int, unparsedRate float64, unparsedBurst int, cancel context.CancelFunc) *activeSession {
	if unparsedRate <= 0 {
		unparsedRate = 1
	}
	if unparsedBurst <= 0 {
		unparsedBurst = 5
	}
	return &activeSession{
		session:     sess,
		adapter:     ad,
		events:      NewEventBuffer(sess.SessionID, bufSize),
		broadcaster: NewBroadcaster(DefaultBroadcasterCapacity),
		limiter:     rate.NewLimiter(rate.Limit(unparsedRate), unparsedBurst),
		cancel:      cancel,
		pending:     make(map[string]pendingKind),
	}
}

// record appends ev to the log under the append lock, assigns the next
// dense sequence number, and publishes it on the broadcaster. Mirrors
// spec.md section 4.5's event-recording algorithm exactly.
func (a *activeSession) record(ev ues.Event) *ues.Event {
	a.appendMu.Lock()
	defer a.appendMu.Unlock()

	ev.Seq = a.nextSeq
	a.nextSeq++
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	stored := ev
	a.events.Append(&stored)
	a.broadcaster.Publish(stored)
	a.mu.Lock()
	a.session.UpdatedAt = stored.Timestamp
	a.mu.Unlock()

	metrics.EventsEmitted.WithLabelValues(string(a.session.Kind), string(ev.Type)).Inc()
	if ev.Type == ues.EventAgentUnparsed {
		metrics.UnparsedEvents.WithLabelValues(string(a.session.Kind)).Inc()
	}
	return &stored
}

func (a *activeSession) registerPending(requestID string, kind pendingKind) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.pending[requestID]; exists {
		return apierr.New(apierr.KindConflict, fmt.Sprintf("session: request id %q already pending", requestID))
	}
	a.pending[requestID] = kind
	return nil
}

func (a *activeSession) resolvePending(requestID string, kind pendingKind) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	got, ok := a.pending[requestID]
	if !ok {
		return apierr.New(apierr.KindConflict, fmt.Sprintf("session: no pending request %q", requestID))
	}
	if got != kind {
		return apierr.New(apierr.KindConflict, fmt.Sprintf("session: request %q is not pending as that kind", requestID))
	}
	delete(a.pending, requestID)
	return nil
}

// pump reads the adapter's event channel for the lifetime of the session,
// recording every event and tracking HITL requests as they arrive. It
// applies the AdapterFatal escalation rule (spec.md section 7): once the
// agent.unparsed rate limiter is exhausted, the session is force-ended.
// If the adapter's channel closes without a session.ended having been
// recorded, one is synthesized with reason=agent-exited (spec.md section
// 8 scenario 6).
func (a *activeSession) pump(ctx context.Context, onEnded func(reason ues.EndReason)) {
	for ev := range a.adapter.Events() {
		if ev.Type == ues.EventSessionEnded {
			// tryMarkEnded races against finish() (e.g. a concurrent
			// Manager.Terminate): only the side that wins the race
			// records the event, which is what keeps session.ended
			// exactly-once-as-the-last-entry even when the adapter emits
			// its own session.ended at the same moment the daemon is
			// independently ending the session.
			if !a.tryMarkEnded() {
				continue
			}
			a.record(ev)
			var reason ues.EndReason
			if p, ok := ev.Payload.(ues.SessionEndedPayload); ok {
				reason = p.Reason
			}
			if onEnded != nil {
				onEnded(reason)
			}
			continue
		}

		a.mu.Lock()
		ended := a.sawEnded
		a.mu.Unlock()
		if ended {
			// The session was already finalized (normally or via the
			// AdapterFatal escalation below); drop any further events so
			// the log keeps exactly one session.ended as its last entry.
			continue
		}

		switch p := ev.Payload.(type) {
		case ues.QuestionRequestedPayload:
			_ = a.registerPending(p.RequestID, pendingQuestion)
		case ues.PermissionRequestedPayload:
			_ = a.registerPending(p.RequestID, pendingPermission)
		}

		a.record(ev)

		if ev.Type == ues.EventAgentUnparsed && !a.limiter.Allow() {
			a.record(ues.Event{
				SessionID: a.session.SessionID,
				AgentKind: string(a.session.Kind),
				Type:      ues.EventError,
				Payload: ues.ErrorPayload{
					Kind:    ues.ErrorInternal,
					Message: "agent.unparsed rate exceeded; terminating session",
				},
				Source:    ues.SourceDaemon,
				Synthetic: true,
			})
			a.finish(ues.EndError, nil)
			_ = a.adapter.Terminate(ctx)
			if onEnded != nil {
				onEnded(ues.EndError)
			}
		}
	}

	a.mu.Lock()
	seen := a.sawEnded
	a.mu.Unlock()
	if !seen {
		a.synthesizeUngracefulExit(onEnded)
	}
}

func (a *activeSession) synthesizeUngracefulExit(onEnded func(reason ues.EndReason)) {
	if tail, ok := a.adapter.(errorTail); ok {
		if msg := tail.LastError(); msg != "" {
			a.record(ues.Event{
				SessionID: a.session.SessionID,
				AgentKind: string(a.session.Kind),
				Type:      ues.EventError,
				Payload:   ues.ErrorPayload{Kind: ues.ErrorInternal, Message: msg},
				Source:    ues.SourceDaemon,
				Synthetic: true,
			})
		}
	}

	var exitCode *int
	if ec, ok := a.adapter.(exitCoder); ok {
		if code, has := ec.LastExitCode(); has {
			exitCode = &code
		}
	}

	a.record(ues.Event{
		SessionID: a.session.SessionID,
		AgentKind: string(a.session.Kind),
		Type:      ues.EventSessionEnded,
		Payload:   ues.SessionEndedPayload{Reason: ues.EndAgentExited, ExitCode: exitCode},
		Source:    ues.SourceDaemon,
		Synthetic: true,
	})
	logger.With("session_id", a.session.SessionID).Info("session ended ungracefully without a session.ended event")
	if onEnded != nil {
		onEnded(ues.EndAgentExited)
	}
}

// tryMarkEnded atomically transitions the session to ended, returning
// whether this call was the one to do so. Used to arbitrate between
// concurrent end paths (the adapter's own session.ended arriving through
// pump, finish() being called directly, and synthesizeUngracefulExit) so
// exactly one of them records the session's terminal event.
func (a *activeSession) tryMarkEnded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sawEnded {
		return false
	}
	a.sawEnded = true
	return true
}

func (a *activeSession) finish(reason ues.EndReason, exitCode *int) {
	if !a.tryMarkEnded() {
		return
	}
	a.record(ues.Event{
		SessionID: a.session.SessionID,
		AgentKind: string(a.session.Kind),
		Type:      ues.EventSessionEnded,
		Payload:   ues.SessionEndedPayload{Reason: reason, ExitCode: exitCode},
		Source:    ues.SourceDaemon,
		Synthetic: true,
	})
}
