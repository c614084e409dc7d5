package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/logger"
	"github.com/driftworks/conduit/internal/supervisor"
	"github.com/driftworks/conduit/internal/ues"
)

// Adapter manages a bidirectional stream-jsonrpc session with a CLI in the
// ACP family, communicating over stdin/stdout.
type Adapter struct {
	cfg     Config
	backend supervisor.Backend
	proc    *supervisor.Process

	sessionID         string
	runtimeSessionID  string
	lastAssistantText string

	requestID atomic.Int64
	initDone  chan error

	mu      sync.RWMutex
	closed  bool
	pending map[string]chan agent.HITLResolution

	events chan ues.Event
	done   chan struct{}
	waitErr error

	ctx    context.Context
	cancel context.CancelFunc
}

var _ agent.Adapter = (*Adapter)(nil)

// New constructs an unstarted ACP adapter for the given backend (host or
// container) and family configuration.
func New(backend supervisor.Backend, cfg Config) *Adapter {
	return &Adapter{
		cfg:      cfg,
		backend:  backend,
		initDone: make(chan error, 1),
		pending:  make(map[string]chan agent.HITLResolution),
		events:   make(chan ues.Event, 128),
		done:     make(chan struct{}),
	}
}

func (a *Adapter) Start(ctx context.Context, req *agent.StartRequest) error {
	a.sessionID = req.SessionID
	a.ctx, a.cancel = context.WithCancel(ctx)

	cmd := buildCommand(a.cfg, req)
	proc, err := supervisor.Spawn(a.ctx, a.backend, supervisor.SpawnConfig{
		Cmd:          cmd,
		Env:          envFor(a.cfg, req),
		WorkingDir:   req.WorkingDir,
		Timeout:      time.Duration(a.cfg.RunTimeoutSeconds) * time.Second,
		GracefulStop: time.Duration(a.cfg.GracefulStopSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("acp: spawn %s: %w", a.cfg.Binary, err)
	}
	a.proc = proc

	go a.readEvents()

	initReq := newInitializeSessionRequest(a.cfg.Namespace, "", req.WorkingDir, "")
	if err := a.sendRequest(initReq); err != nil {
		_ = a.proc.Stop()
		return fmt.Errorf("acp: send initialize_session: %w", err)
	}

	if err := a.waitForInit(a.ctx); err != nil {
		_ = a.proc.Stop()
		return fmt.Errorf("acp: initialize_session: %w", err)
	}

	a.emit(ues.EventSessionStarted, ues.SessionStartedPayload{
		AgentKind:  a.cfg.Binary,
		Model:      a.cfg.DefaultModel,
		WorkingDir: req.WorkingDir,
	})

	if req.Prompt != "" {
		return a.SendMessage(ctx, req.Prompt)
	}
	return nil
}

func (a *Adapter) SendMessage(ctx context.Context, message string) error {
	if a.IsClosed() {
		return fmt.Errorf("acp: adapter closed")
	}
	return a.sendRequest(newUserMessageRequest(a.cfg.Namespace, message))
}

func (a *Adapter) ResolveHITL(ctx context.Context, requestID string, resolution agent.HITLResolution) error {
	a.mu.Lock()
	ch, ok := a.pending[requestID]
	if ok {
		delete(a.pending, requestID)
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("acp: no pending request %q", requestID)
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

	_ = a.sendRequest(newInterruptRequest(a.cfg.Namespace))
	if a.cancel != nil {
		a.cancel()
	}
	if a.proc != nil {
		return a.proc.Stop()
	}
	return nil
}

func (a *Adapter) Events() <-chan ues.Event { return a.events }
func (a *Adapter) Done() <-chan struct{}    { return a.done }
func (a *Adapter) Wait() error              { <-a.done; return a.waitErr }
func (a *Adapter) RuntimeSessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runtimeSessionID
}

func (a *Adapter) IsClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

func (a *Adapter) sendRequest(req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	_, err = a.proc.Stdin().Write(data)
	return err
}

func (a *Adapter) waitForInit(ctx context.Context) error {
	select {
	case err := <-a.initDone:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(a.cfg.StartupTimeoutSeconds) * time.Second):
		return fmt.Errorf("timeout waiting for initialize_session response")
	}
}

func (a *Adapter) emit(t ues.EventType, payload any) {
	ev := ues.Event{SessionID: a.sessionID, AgentKind: a.cfg.Binary, Type: t, Payload: payload, Source: ues.SourceAgentNative}
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

// readEvents reads JSONL frames from stdout, answers permission requests
// through the normal resolve_hitl path, and converts session notifications
// into normalized events.
func (a *Adapter) readEvents() {
	defer close(a.events)
	defer close(a.done)

	scanner := bufio.NewScanner(a.proc.Stdout())
	const maxScanTokenSize = 1024 * 1024
	scanner.Buffer(make([]byte, maxScanTokenSize), maxScanTokenSize)

	initSignaled := false

	for scanner.Scan() {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg struct {
			JSONRPC string    `json:"jsonrpc"`
			Type    string    `json:"type"`
			ID      any       `json:"id,omitempty"`
			Method  string    `json:"method,omitempty"`
			Result  any       `json:"result,omitempty"`
			Error   *RPCError `json:"error,omitempty"`
			Params  any       `json:"params,omitempty"`
		}
		if err := json.Unmarshal(line, &msg); err != nil || msg.JSONRPC != "2.0" {
			a.emit(ues.EventAgentUnparsed, ues.AgentUnparsedPayload{Raw: append([]byte(nil), line...)})
			continue
		}

		if msg.Type == "response" && !initSignaled {
			if msg.Error != nil {
				a.initDone <- fmt.Errorf("init error: %s", msg.Error.Message)
			} else {
				if result, ok := msg.Result.(map[string]any); ok {
					if sid, ok := result["sessionId"].(string); ok {
						a.mu.Lock()
						a.runtimeSessionID = sid
						a.mu.Unlock()
					}
				}
				a.initDone <- nil
			}
			initSignaled = true
			continue
		}

		if msg.Type == "request" && msg.Method == a.cfg.Namespace+".request_permission" {
			a.handlePermissionRequest(msg.ID, msg.Params)
			continue
		}

		if msg.Type == "notification" && msg.Method == a.cfg.Namespace+".session_notification" {
			a.handleNotification(msg.Params)
		}
	}

	if err := scanner.Err(); err != nil {
		a.waitErr = fmt.Errorf("scanner error: %w", err)
	}
	if !initSignaled {
		select {
		case a.initDone <- fmt.Errorf("stream ended without init response"):
		default:
		}
	}
}

func (a *Adapter) handlePermissionRequest(id any, params any) {
	p, _ := params.(map[string]any)
	toolName, _ := p["toolName"].(string)

	reqID := fmt.Sprintf("perm-%v", id)
	answerCh := make(chan agent.HITLResolution, 1)
	a.mu.Lock()
	a.pending[reqID] = answerCh
	a.mu.Unlock()

	a.emit(ues.EventPermissionRequest, ues.PermissionRequestedPayload{
		RequestID: reqID,
		Action:    toolName,
	})

	go func() {
		var reply ues.PermissionReply
		select {
		case res := <-answerCh:
			reply = res.Reply
			if reply == "" {
				reply = ues.PermissionReject
			}
		case <-a.ctx.Done():
			reply = ues.PermissionReject
		}

		a.emit(ues.EventPermissionResolve, ues.PermissionResolvedPayload{RequestID: reqID, Reply: reply})

		selected := "proceed_once"
		switch reply {
		case ues.PermissionAlways:
			selected = "proceed_always"
		case ues.PermissionReject:
			selected = "reject"
		}
		resp := map[string]any{
			"jsonrpc": "2.0", "factoryApiVersion": "1.0.0", "type": "response",
			"id":     id,
			"result": map[string]any{"selectedOption": selected},
		}
		respBytes, _ := json.Marshal(resp)
		respBytes = append(respBytes, '\n')
		if _, err := a.proc.Stdin().Write(respBytes); err != nil {
			logger.Warn("acp: failed writing permission response: %v", err)
		}
	}()
}

func (a *Adapter) handleNotification(params any) {
	p, _ := params.(map[string]any)
	notification, _ := p["notification"].(map[string]any)
	if notification == nil {
		return
	}
	notifType, _ := notification["type"].(string)

	switch notifType {
	case "create_message":
		msg, _ := notification["message"].(map[string]any)
		role, _ := msg["role"].(string)
		id, _ := msg["id"].(string)
		text := extractText(msg)
		if role == "assistant" {
			a.mu.Lock()
			a.lastAssistantText = text
			a.mu.Unlock()
		}
		a.emit(ues.EventItemStarted, ues.ItemStartedPayload{ItemID: id, Kind: ues.ItemMessage, Role: role})
		if text != "" {
			a.emit(ues.EventItemCompleted, ues.ItemCompletedPayload{ItemID: id, Final: text})
		}

	case "assistant_text_delta":
		if delta, ok := notification["textDelta"].(string); ok {
			a.emit(ues.EventItemDelta, ues.ItemDeltaPayload{Kind: ues.DeltaText, Text: delta})
		}
	case "thinking_text_delta":
		if delta, ok := notification["textDelta"].(string); ok {
			a.emit(ues.EventItemDelta, ues.ItemDeltaPayload{Kind: ues.DeltaReasoning, Text: delta})
		}
	case "error":
		message, _ := notification["message"].(string)
		a.emit(ues.EventError, ues.ErrorPayload{Kind: ues.ErrorInternal, Message: message})
	case "result", "completion":
		a.emit(ues.EventTurnEnded, ues.TurnEndedPayload{Outcome: ues.TurnOutcomeOK})
	case "droid_working_state_changed":
		if newState, _ := notification["newState"].(string); newState == "idle" {
			a.mu.RLock()
			finalText := a.lastAssistantText
			a.mu.RUnlock()
			if finalText != "" {
				a.emit(ues.EventTurnEnded, ues.TurnEndedPayload{Outcome: ues.TurnOutcomeOK})
			}
		}
	}
}

func extractText(msg map[string]any) string {
	content, _ := msg["content"].([]any)
	for _, block := range content {
		b, ok := block.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := b["type"].(string); t == "text" {
			if text, ok := b["text"].(string); ok {
				return text
			}
		}
	}
	return ""
}
