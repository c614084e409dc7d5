// Package mock implements the builtin deterministic agent adapter: the
// reference fixture used to pin down event ordering and conformance
// tests without depending on any real agent CLI or API.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/clock"
	"github.com/driftworks/conduit/internal/ues"
)

// Adapter is the deterministic mock agent. Every turn emits the same
// sequence: turn.started, item.started, one item.delta carrying the whole
// reply ("echo: " plus the prompt; the reply is not split into several
// fragments), item.completed, turn.ended. A message ending in "?" also
// emits a question.requested after item.started and blocks the turn until
// ResolveHITL answers it.
type Adapter struct {
	clk   clock.Clock
	kind  string
	model string

	mu       sync.Mutex
	closed   bool
	sessID   string
	turnSeq  int64
	itemSeq  int64
	pending  map[string]chan agent.HITLResolution
	events   chan ues.Event
	done     chan struct{}
	waitErr  error
	termOnce sync.Once
}

var _ agent.Adapter = (*Adapter)(nil)

// New constructs a mock adapter. clk defaults to the system clock when nil.
func New(cfg agent.Config, clk clock.Clock) *Adapter {
	if clk == nil {
		clk = clock.New()
	}
	return &Adapter{
		clk:     clk,
		model:   cfg.DefaultModel,
		pending: make(map[string]chan agent.HITLResolution),
		events:  make(chan ues.Event, 64),
		done:    make(chan struct{}),
	}
}

func (a *Adapter) Start(ctx context.Context, req *agent.StartRequest) error {
	a.sessID = req.SessionID
	a.emit(ues.EventSessionStarted, ues.SessionStartedPayload{
		AgentKind:  "mock",
		Model:      a.model,
		WorkingDir: req.WorkingDir,
	})
	return a.runTurn(ctx, req.Prompt)
}

func (a *Adapter) SendMessage(ctx context.Context, message string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("mock: adapter closed")
	}
	a.mu.Unlock()
	return a.runTurn(ctx, message)
}

func (a *Adapter) runTurn(ctx context.Context, prompt string) error {
	turnID := fmt.Sprintf("turn-%d", atomic.AddInt64(&a.turnSeq, 1))
	a.emit(ues.EventTurnStarted, ues.TurnStartedPayload{TurnID: turnID})

	itemID := fmt.Sprintf("item-%d", atomic.AddInt64(&a.itemSeq, 1))
	a.emit(ues.EventItemStarted, ues.ItemStartedPayload{
		ItemID: itemID,
		Kind:   ues.ItemMessage,
		Role:   "assistant",
	})

	if len(prompt) > 0 && prompt[len(prompt)-1] == '?' {
		reqID := fmt.Sprintf("req-%d", atomic.AddInt64(&a.itemSeq, 1))
		answerCh := make(chan agent.HITLResolution, 1)
		a.mu.Lock()
		a.pending[reqID] = answerCh
		a.mu.Unlock()

		a.emit(ues.EventQuestionRequested, ues.QuestionRequestedPayload{
			RequestID: reqID,
			Prompt:    "mock adapter needs clarification: " + prompt,
		})

		select {
		case res := <-answerCh:
			a.emit(ues.EventQuestionResolved, ues.QuestionResolvedPayload{
				RequestID: reqID,
				Answers:   res.Answers,
				Rejected:  res.Rejected,
			})
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	reply := "echo: " + prompt
	a.emit(ues.EventItemDelta, ues.ItemDeltaPayload{ItemID: itemID, Kind: ues.DeltaText, Text: reply})
	a.emit(ues.EventItemCompleted, ues.ItemCompletedPayload{
		ItemID: itemID,
		Final:  reply,
		Metadata: &ues.ItemMetadata{
			InputTokens:  len(prompt),
			OutputTokens: len(reply),
		},
	})
	a.emit(ues.EventTurnEnded, ues.TurnEndedPayload{TurnID: turnID, Outcome: ues.TurnOutcomeOK})
	return nil
}

func (a *Adapter) ResolveHITL(ctx context.Context, requestID string, resolution agent.HITLResolution) error {
	a.mu.Lock()
	ch, ok := a.pending[requestID]
	if ok {
		delete(a.pending, requestID)
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("mock: no pending request %q", requestID)
	}
	ch <- resolution
	return nil
}

func (a *Adapter) Terminate(ctx context.Context) error {
	a.termOnce.Do(func() {
		a.emit(ues.EventSessionEnded, ues.SessionEndedPayload{Reason: ues.EndTerminated})
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.events)
		close(a.done)
	})
	return nil
}

func (a *Adapter) Events() <-chan ues.Event  { return a.events }
func (a *Adapter) Done() <-chan struct{}     { return a.done }
func (a *Adapter) Wait() error               { <-a.done; return a.waitErr }
func (a *Adapter) RuntimeSessionID() string  { return a.sessID }
func (a *Adapter) IsClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) emit(t ues.EventType, payload any) {
	ev := ues.Event{
		Timestamp: a.clk.Now(),
		SessionID: a.sessID,
		AgentKind: "mock",
		Type:      t,
		Payload:   payload,
		Source:    ues.SourceDaemon,
	}
	select {
	case a.events <- ev:
	default:
	}
}

// Register installs the mock adapter's factory under agent.KindMock.
func Register(reg *agent.Registry, clk clock.Clock) {
	reg.Register(agent.KindMock, func(cfg agent.Config) (agent.Adapter, error) {
		return New(cfg, clk), nil
	})
}
