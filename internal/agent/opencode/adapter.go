package opencode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/ues"
)

// Adapter implements agent.Adapter for a session on a shared OpenCode
// server. It subscribes to the server's SSE bus and filters for its own
// session id, converting OpenCode's event shape into the normalized event
// schema.
type Adapter struct {
	client         *Client
	sessionID      string
	model          string
	reasoningLevel string

	ctx    context.Context
	cancel context.CancelFunc

	events chan ues.Event
	done   chan struct{}

	mu        sync.RWMutex
	closed    bool
	eventConn io.ReadCloser
	waitErr   error

	pending map[string]chan agent.HITLResolution
}

var _ agent.Adapter = (*Adapter)(nil)

// New creates an adapter against a running shared OpenCode server at addr.
// model is "providerID/modelID"; reasoningLevel maps to OpenCode's variant.
func New(addr, model, reasoningLevel string) *Adapter {
	return &Adapter{
		client:         NewClient(addr),
		model:          model,
		reasoningLevel: reasoningLevel,
		events:         make(chan ues.Event, 128),
		done:           make(chan struct{}),
		pending:        make(map[string]chan agent.HITLResolution),
	}
}

func (a *Adapter) Start(ctx context.Context, req *agent.StartRequest) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	sessionID, err := a.client.CreateSession(a.ctx)
	if err != nil {
		return fmt.Errorf("opencode: create session: %w", err)
	}
	a.sessionID = sessionID

	eventConn, err := a.client.SubscribeEvents(a.ctx)
	if err != nil {
		return fmt.Errorf("opencode: subscribe events: %w", err)
	}
	a.eventConn = eventConn
	go a.processEvents()

	a.emit(ues.EventSessionStarted, ues.SessionStartedPayload{
		AgentKind:  "opencode",
		Model:      a.model,
		WorkingDir: req.WorkingDir,
	})

	if req.Prompt != "" {
		return a.client.SendMessageAsync(a.ctx, a.sessionID, req.Prompt, a.model, a.reasoningLevel)
	}
	return nil
}

func (a *Adapter) SendMessage(ctx context.Context, message string) error {
	if a.IsClosed() {
		return fmt.Errorf("opencode: adapter closed")
	}
	return a.client.SendMessageAsync(ctx, a.sessionID, message, a.model, a.reasoningLevel)
}

// ResolveHITL answers a request registered as pending on this adapter.
// OpenCode has no free-text question mechanism, only tool permission
// prompts, and parseSSEEvent does not translate permission.asked events
// (they surface as agent.unparsed), so no request is ever registered as
// pending and this call always returns a "no pending request" error.
func (a *Adapter) ResolveHITL(ctx context.Context, requestID string, resolution agent.HITLResolution) error {
	a.mu.Lock()
	ch, ok := a.pending[requestID]
	if ok {
		delete(a.pending, requestID)
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("opencode: no pending request %q", requestID)
	}
	ch <- resolution
	return nil
}

func (a *Adapter) Terminate(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	if a.sessionID != "" {
		_ = a.client.AbortSession(ctx, a.sessionID)
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.eventConn != nil {
		_ = a.eventConn.Close()
	}
	return nil
}

func (a *Adapter) Events() <-chan ues.Event { return a.events }
func (a *Adapter) Done() <-chan struct{}    { return a.done }
func (a *Adapter) Wait() error              { <-a.done; return a.waitErr }
func (a *Adapter) RuntimeSessionID() string { return a.sessionID }

func (a *Adapter) IsClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

func (a *Adapter) emit(t ues.EventType, payload any) {
	ev := ues.Event{SessionID: a.sessionID, AgentKind: "opencode", Type: t, Payload: payload, Source: ues.SourceAgentNative}
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

// processEvents reads SSE frames and converts them into normalized events.
func (a *Adapter) processEvents() {
	defer func() {
		close(a.events)
		close(a.done)
	}()

	reader := bufio.NewReader(a.eventConn)
	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				a.waitErr = fmt.Errorf("opencode: reading events: %w", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		ev, ok := parseSSEEvent(data, a.sessionID)
		if !ok {
			continue
		}
		select {
		case a.events <- ev:
		case <-a.ctx.Done():
			return
		}
	}
}

// parseSSEEvent parses an SSE data payload into a ues.Event. The second
// return is false for events carrying no useful information (transport
// noise, redundant metadata updates) or events for a different session.
func parseSSEEvent(data, sessionID string) (ues.Event, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return ues.Event{}, false
	}

	eventType, _ := raw["type"].(string)
	props, _ := raw["properties"].(map[string]any)

	// The shared server's bus carries every session's events; drop those
	// tagged with a different session id.
	eventSessionID, _ := props["sessionID"].(string)
	if part, ok := props["part"].(map[string]any); ok && eventSessionID == "" {
		eventSessionID, _ = part["sessionID"].(string)
	}
	if eventSessionID != "" && eventSessionID != sessionID {
		return ues.Event{}, false
	}

	base := ues.Event{SessionID: sessionID, AgentKind: "opencode", Source: ues.SourceAgentNative}

	switch eventType {
	case EventMessageUpdated:
		return ues.Event{}, false

	case EventMessagePartUpdated:
		part, ok := props["part"].(map[string]any)
		if !ok {
			return ues.Event{}, false
		}
		itemID, _ := part["id"].(string)
		switch partType, _ := part["type"].(string); partType {
		case PartTypeText:
			if delta, ok := props["delta"].(string); ok && delta != "" {
				base.Type = ues.EventItemDelta
				base.Payload = ues.ItemDeltaPayload{ItemID: itemID, Kind: ues.DeltaText, Text: delta}
				return base, true
			}
			text, _ := part["text"].(string)
			base.Type = ues.EventItemCompleted
			base.Payload = ues.ItemCompletedPayload{ItemID: itemID, Final: text}
			return base, true
		case PartTypeToolInvocation:
			toolName, _ := part["toolName"].(string)
			base.Type = ues.EventItemStarted
			base.Payload = ues.ItemStartedPayload{ItemID: itemID, Kind: ues.ItemToolCall, ToolName: toolName}
			return base, true
		case PartTypeToolResult:
			isError, _ := part["isError"].(bool)
			result, _ := part["result"].(string)
			base.Type = ues.EventItemCompleted
			base.Payload = ues.ItemCompletedPayload{ItemID: itemID, Failed: isError, Final: result}
			return base, true
		default:
			return ues.Event{}, false
		}

	case EventSessionStatus:
		status, ok := props["status"].(map[string]any)
		if !ok {
			return ues.Event{}, false
		}
		if statusType, _ := status["type"].(string); statusType == StatusIdle {
			base.Type = ues.EventTurnEnded
			base.Payload = ues.TurnEndedPayload{Outcome: ues.TurnOutcomeOK}
			return base, true
		}
		return ues.Event{}, false

	case EventSessionIdle, EventServerConnected, EventServerHeartbeat:
		return ues.Event{}, false

	case EventSessionError:
		message, _ := props["message"].(string)
		base.Type = ues.EventError
		base.Payload = ues.ErrorPayload{Kind: ues.ErrorInternal, Message: message, Raw: raw}
		return base, true

	default:
		base.Type = ues.EventAgentUnparsed
		raw, _ := json.Marshal(raw)
		base.Payload = ues.AgentUnparsedPayload{Raw: raw}
		return base, true
	}
}
