// Package session implements the Session Manager and Event Broadcaster
// (spec.md sections 4.5/4.6): the authoritative in-memory store of agent
// sessions, their append-only event logs, their pending human-in-the-loop
// requests, and the live subscribers watching them.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/apierr"
	"github.com/driftworks/conduit/internal/logger"
	"github.com/driftworks/conduit/internal/metrics"
	"github.com/driftworks/conduit/internal/ues"
	"github.com/driftworks/conduit/internal/validation"
)

// Manager holds every live session and is the sole owner of session state
// and event logs (spec.md section 3's ownership rule). Adapters only ever
// get a narrow "append event, mark ended" capability through activeSession;
// nothing else may mutate a session's log.
type Manager struct {
	registry *agent.Registry

	mu       sync.RWMutex
	sessions map[string]*activeSession
	index    *SessionIndex
	locks    *SessionLockMap

	eventBufferSize  int
	unparsedRate     float64
	unparsedBurst    int
	idleTimeout      time.Duration
}

// NewManager creates an empty Session Manager. eventBufferSize, unparsedRate
// and unparsedBurst come from config.DaemonSection; idleTimeout governs the
// idle sweep run by SweepIdleSessionsOnce.
func NewManager(registry *agent.Registry, eventBufferSize int, unparsedRate float64, unparsedBurst int, idleTimeout time.Duration) *Manager {
	if eventBufferSize <= 0 {
		eventBufferSize = DefaultEventBufferSize
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultSessionIdleTimeout
	}
	return &Manager{
		registry:        registry,
		sessions:        make(map[string]*activeSession),
		index:           NewSessionIndex(),
		locks:           NewSessionLockMap(),
		eventBufferSize: eventBufferSize,
		unparsedRate:    unparsedRate,
		unparsedBurst:   unparsedBurst,
		idleTimeout:     idleTimeout,
	}
}

// NewSessionID generates a fresh session identifier. Sub-agent sessions
// spawned for a tool call get a "child_<parent>_<n>" id instead (see
// validation.ValidateSessionID); top-level sessions get a UUID.
func NewSessionID() string {
	return uuid.NewString()
}

// ChildSessionID derives a child session id for the n-th sub-agent session
// spawned by parentID.
func ChildSessionID(parentID string, n int) string {
	return fmt.Sprintf("child_%s_%d", parentID, n)
}

// Create implements create_session: resolves the adapter for opts.Kind,
// starts it, and registers the resulting session. Fails if id already
// exists.
func (m *Manager) Create(ctx context.Context, id string, cfg agent.Config, opts StartOptions) (*Session, error) {
	if err := validation.ValidateSessionID(id); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "session: invalid id", err)
	}

	// Serializes the whole create/terminate/delete lifecycle for this id,
	// distinct from mu (which only guards the sessions map itself) and
	// from activeSession.mu (which only guards one already-registered
	// session's fields).
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, apierr.New(apierr.KindConflict, fmt.Sprintf("session: %q already exists", id))
	}
	// Reserve the slot before releasing the lock so two concurrent
	// create_session calls for the same id can't both proceed.
	m.sessions[id] = nil
	m.mu.Unlock()

	ad, err := m.registry.New(opts.Kind, cfg)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		metrics.AdapterStarts.WithLabelValues(string(opts.Kind), "error").Inc()
		return nil, apierr.Wrap(apierr.KindAdapterStart, "session: adapter start failed", err)
	}

	now := time.Now()
	sess := &Session{
		SessionID:       id,
		Kind:            opts.Kind,
		WorkingDir:      opts.WorkingDir,
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
		Model:           opts.Model,
		AutonomyLevel:   opts.AutonomyLevel,
		ReasoningLevel:  opts.ReasoningLevel,
		ParentSessionID: opts.ParentSessionID,
		Depth:           opts.Depth,
		ToolsAllowed:    opts.ToolsAllowed,
		ToolsDisallowed: opts.ToolsDisallowed,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	as := newActiveSession(sess, ad, m.eventBufferSize, m.unparsedRate, m.unparsedBurst, cancel)

	m.mu.Lock()
	m.sessions[id] = as
	m.mu.Unlock()
	m.index.Add(id, StatusActive)
	metrics.SessionsActive.WithLabelValues(string(opts.Kind)).Inc()
	metrics.AdapterStarts.WithLabelValues(string(opts.Kind), "ok").Inc()

	go as.pump(runCtx, func(reason ues.EndReason) { m.onSessionEnded(as, reason) })

	req := &agent.StartRequest{
		SessionID:      id,
		WorkingDir:     opts.WorkingDir,
		Model:          opts.Model,
		AutonomyLevel:  opts.AutonomyLevel,
		ReasoningLevel: opts.ReasoningLevel,
		SystemPrompt:   opts.SystemPrompt,
		Prompt:         opts.Prompt,
		EnabledTools:   opts.ToolsAllowed,
		DisabledTools:  opts.ToolsDisallowed,
		Depth:          opts.Depth,
	}

	// Start runs in its own goroutine: per agent.Adapter's contract it
	// returns once the backend has acknowledged the session, but the mock
	// adapter (intentionally, for deterministic tests) blocks for the
	// whole first turn including any HITL round-trip, so create_session
	// must not block the caller on it.
	go func() {
		if err := ad.Start(runCtx, req); err != nil {
			as.record(ues.Event{
				SessionID: id,
				AgentKind: string(opts.Kind),
				Type:      ues.EventError,
				Payload:   ues.ErrorPayload{Kind: ues.ErrorSpawn, Message: err.Error()},
				Source:    ues.SourceDaemon,
				Synthetic: true,
			})
			as.finish(ues.EndError, nil)
			m.onSessionEnded(as, ues.EndError)
		}
	}()

	return sess, nil
}

func (m *Manager) onSessionEnded(as *activeSession, reason ues.EndReason) {
	as.mu.Lock()
	already := as.session.Status == StatusEnded
	as.session.Status = StatusEnded
	now := time.Now()
	as.session.EndedAt = &now
	as.session.EndReason = reason
	as.session.UpdatedAt = now
	as.mu.Unlock()
	if already {
		return
	}
	m.index.UpdateStatus(as.session.SessionID, StatusEnded)
	metrics.SessionsActive.WithLabelValues(string(as.session.Kind)).Dec()
	metrics.SessionDuration.WithLabelValues(string(as.session.Kind), string(reason)).
		Observe(now.Sub(as.session.CreatedAt).Seconds())
}

func (m *Manager) get(id string) (*activeSession, error) {
	m.mu.RLock()
	as, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || as == nil {
		return nil, apierr.New(apierr.KindNotFound, fmt.Sprintf("session: %q not found", id))
	}
	return as, nil
}

// PostMessage implements post_message. Fails if the session has ended.
func (m *Manager) PostMessage(ctx context.Context, id, message string) error {
	as, err := m.get(id)
	if err != nil {
		return err
	}
	as.mu.Lock()
	ended := as.session.Status == StatusEnded
	as.mu.Unlock()
	if ended {
		return apierr.New(apierr.KindPreconditionFailed, fmt.Sprintf("session: %q has ended", id))
	}
	return as.adapter.SendMessage(ctx, message)
}

// ReplyQuestion implements reply_question.
func (m *Manager) ReplyQuestion(ctx context.Context, id, requestID string, answers []string) error {
	return m.resolveHITL(ctx, id, requestID, pendingQuestion, agent.HITLResolution{Answers: answers})
}

// RejectQuestion implements reject_question.
func (m *Manager) RejectQuestion(ctx context.Context, id, requestID string) error {
	return m.resolveHITL(ctx, id, requestID, pendingQuestion, agent.HITLResolution{Rejected: true})
}

// ReplyPermission implements reply_permission. reply is one of
// ues.PermissionOnce, ues.PermissionAlways, ues.PermissionReject.
func (m *Manager) ReplyPermission(ctx context.Context, id, requestID string, reply ues.PermissionReply) error {
	return m.resolveHITL(ctx, id, requestID, pendingPermission, agent.HITLResolution{Reply: reply})
}

func (m *Manager) resolveHITL(ctx context.Context, id, requestID string, kind pendingKind, res agent.HITLResolution) error {
	as, err := m.get(id)
	if err != nil {
		return err
	}
	// resolvePending enforces both "exists" and "is the right kind,"
	// giving reply_question/reply_permission their idempotence law:
	// the first call succeeds and removes the pending entry, so a second
	// call for the same request id always hits the "no pending request"
	// branch and returns Conflict.
	if err := as.resolvePending(requestID, kind); err != nil {
		return apierr.Wrap(apierr.KindConflict, "session: resolve HITL", err)
	}
	if err := as.adapter.ResolveHITL(ctx, requestID, res); err != nil {
		return apierr.Wrap(apierr.KindInternal, "session: resolve HITL", err)
	}
	return nil
}

// Terminate implements terminate: idempotent, ends the session via the
// adapter and records session.ended if the pump hasn't already.
func (m *Manager) Terminate(ctx context.Context, id, reason string) error {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	as, err := m.get(id)
	if err != nil {
		return err
	}
	as.mu.Lock()
	alreadyEnded := as.session.Status == StatusEnded
	as.mu.Unlock()

	termErr := as.adapter.Terminate(ctx)
	as.finish(ues.EndTerminated, nil)
	if !alreadyEnded {
		m.onSessionEnded(as, ues.EndTerminated)
	}
	if as.cancel != nil {
		as.cancel()
	}
	return termErr
}

// Delete implements delete_session: removes the session and its log.
// Fails if the session is not yet ended (spec.md section 4.5).
func (m *Manager) Delete(id string) error {
	m.locks.Lock(id)

	as, err := m.get(id)
	if err != nil {
		m.locks.Unlock(id)
		return err
	}
	as.mu.Lock()
	ended := as.session.Status == StatusEnded
	as.mu.Unlock()
	if !ended {
		m.locks.Unlock(id)
		return apierr.New(apierr.KindPreconditionFailed, fmt.Sprintf("session: %q has not ended; terminate before deleting", id))
	}

	as.broadcaster.Close()
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.index.Remove(id)

	// Unlock before dropping the lock entry itself: locks.Delete removes
	// the map slot, and unlocking after would grab a freshly allocated
	// (and already-unlocked) mutex for the same id instead of the one
	// this call actually holds.
	m.locks.Unlock(id)
	m.locks.Delete(id)
	return nil
}

// List implements list_sessions.
func (m *Manager) List() []*SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*SessionSummary, 0, len(m.sessions))
	for _, as := range m.sessions {
		if as == nil {
			continue
		}
		as.mu.Lock()
		sess := *as.session
		as.mu.Unlock()
		out = append(out, sess.ToSummary(as.events.Len()))
	}
	return out
}

// GetInfo implements get_info.
func (m *Manager) GetInfo(id string) (*Session, error) {
	as, err := m.get(id)
	if err != nil {
		return nil, err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	sess := *as.session
	return &sess, nil
}

// GetEvents implements get_events: events with sequence >= offset
// (the event at offset itself is included), capped at limit (0 or
// negative means unbounded).
func (m *Manager) GetEvents(id string, offset, limit int) ([]*BufferedEvent, error) {
	as, err := m.get(id)
	if err != nil {
		return nil, err
	}
	events, err := as.events.After(offset - 1)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Subscription is the result of subscribe(id, from_offset): the replayed
// log suffix plus a live channel that picks up exactly where the replay
// left off, with Close to release the subscriber's broadcaster slot.
type Subscription struct {
	Replay []*BufferedEvent
	Live   <-chan BroadcastEvent
	Close  func()
}

// Subscribe implements subscribe(id, from_offset). It holds the session's
// append lock across the replay snapshot and the broadcaster registration
// so no event recorded during the hand-off is missed or duplicated, per
// spec.md section 4.5's critical correctness property.
func (m *Manager) Subscribe(id string, fromOffset int) (*Subscription, error) {
	as, err := m.get(id)
	if err != nil {
		return nil, err
	}

	as.appendMu.Lock()
	replay, err := as.events.After(fromOffset - 1)
	if err != nil {
		as.appendMu.Unlock()
		return nil, fmt.Errorf("session: %w", err)
	}
	subID, live, err := as.broadcaster.Subscribe()
	as.appendMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &Subscription{
		Replay: replay,
		Live:   live,
		Close:  func() { as.broadcaster.Unsubscribe(subID) },
	}, nil
}

// AddChildSession records childID as a sub-agent session spawned by
// parentID, validating the depth invariant (child depth = parent depth +
// 1) before linking them.
func (m *Manager) AddChildSession(parentID, childID string) error {
	parent, err := m.get(parentID)
	if err != nil {
		return fmt.Errorf("session: parent: %w", err)
	}
	child, err := m.get(childID)
	if err != nil {
		return fmt.Errorf("session: child: %w", err)
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()
	child.mu.Lock()
	expected := parent.session.Depth + 1
	gotDepth := child.session.Depth
	child.mu.Unlock()

	if gotDepth != expected {
		return apierr.New(apierr.KindPreconditionFailed, fmt.Sprintf("session: depth mismatch: child depth %d != expected %d", gotDepth, expected))
	}

	parent.session.ChildSessions = append(parent.session.ChildSessions, childID)
	parent.session.UpdatedAt = time.Now()
	return nil
}

// Count returns the number of sessions currently tracked by the Manager.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SweepIdleSessionsOnce terminates every session that has gone longer than
// idleTimeout since its last recorded activity. Intended to be registered
// with a clock.Scheduler job rather than driven by an ad hoc ticker, so the
// daemon's background jobs share one clock. Mirrors the teacher's
// ActiveSessionManager.cleanupLoop/cleanupIdleSessions, adapted from a
// "last activity" heuristic driven by stream events to one driven directly
// by UpdatedAt, since every record() already bumps it.
func (m *Manager) SweepIdleSessionsOnce() {
	m.sweepIdleSessions()
}

func (m *Manager) sweepIdleSessions() {
	now := time.Now()

	m.mu.RLock()
	var stale []string
	for id, as := range m.sessions {
		if as == nil {
			continue
		}
		as.mu.Lock()
		idle := as.session.Status == StatusActive && now.Sub(as.session.UpdatedAt) > m.idleTimeout
		as.mu.Unlock()
		if idle {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		logger.With("session_id", id, "idle_timeout", m.idleTimeout).Info("session timed out from inactivity")
		if err := m.Terminate(context.Background(), id, "idle timeout"); err != nil {
			logger.With("session_id", id, "error", err).Error("idle sweep: terminate failed")
		}
	}
}
