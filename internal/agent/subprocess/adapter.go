package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/supervisor"
	"github.com/driftworks/conduit/internal/ues"
)

// Adapter drives one subprocess-family CLI: write the prompt to stdin,
// scan newline-delimited JSON records off stdout, and normalize each
// record via the family's translate function. None of the four members
// of this family expose a resolvable permission/question channel over
// stdio, so ResolveHITL always returns an unsupported error.
type Adapter struct {
	cfg     Config
	backend supervisor.Backend
	proc    *supervisor.Process

	sessionID string

	mu     sync.RWMutex
	closed bool

	events chan ues.Event
	done   chan struct{}

	waitErr error

	ctx    context.Context
	cancel context.CancelFunc
}

var _ agent.Adapter = (*Adapter)(nil)

func New(backend supervisor.Backend, cfg Config) *Adapter {
	return &Adapter{
		cfg:     cfg,
		backend: backend,
		events:  make(chan ues.Event, 128),
		done:    make(chan struct{}),
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
		return fmt.Errorf("subprocess: spawn %s: %w", a.cfg.Binary, err)
	}
	a.proc = proc

	go a.readEvents()

	a.emit(ues.EventSessionStarted, ues.SessionStartedPayload{
		AgentKind:  string(a.cfg.Family),
		Model:      a.cfg.DefaultModel,
		WorkingDir: req.WorkingDir,
	})

	if req.Prompt != "" {
		if err := a.writePrompt(req.Prompt); err != nil {
			_ = a.proc.Stop()
			return err
		}
	}
	return nil
}

// SendMessage is only meaningful for families that keep stdin open across
// turns (none of this family's CLIs do — each process is single-turn, one
// prompt in, a stream of records out, then exit). Callers needing a
// follow-up turn start a fresh adapter with the prior session id so the
// CLI resumes its own on-disk conversation state.
func (a *Adapter) SendMessage(ctx context.Context, message string) error {
	return fmt.Errorf("subprocess: %s is single-turn, start a new session to continue", a.cfg.Family)
}

func (a *Adapter) writePrompt(prompt string) error {
	if _, err := a.proc.Stdin().Write([]byte(prompt)); err != nil {
		return fmt.Errorf("subprocess: write prompt: %w", err)
	}
	return a.proc.Stdin().Close()
}

// ResolveHITL is unsupported: this family has no stdio channel for
// resolving a pending permission or question mid-run. A permission.
// requested event from one of these adapters is always accompanied by
// the process blocking until its own CLI-level default (commonly
// reject) takes effect; see DESIGN.md's Open Question decision on this
// family.
func (a *Adapter) ResolveHITL(ctx context.Context, requestID string, resolution agent.HITLResolution) error {
	return fmt.Errorf("subprocess: %s does not support mid-run HITL resolution", a.cfg.Family)
}

func (a *Adapter) Terminate(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

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
func (a *Adapter) RuntimeSessionID() string { return a.sessionID }

func (a *Adapter) IsClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

// LastError implements the session package's errorTail hook: the
// supervised process's captured stderr tail, surfaced as the error event
// synthesized ahead of an ungraceful-exit session.ended.
func (a *Adapter) LastError() string {
	if a.proc == nil {
		return ""
	}
	return a.proc.StderrTail()
}

// LastExitCode implements the session package's exitCoder hook. By the
// time this is called the event loop has already observed stdout close,
// so the process has exited and proc.Wait() returns immediately with the
// exit code captured by the supervisor.
func (a *Adapter) LastExitCode() (int, bool) {
	if a.proc == nil {
		return 0, false
	}
	code, err := a.proc.Wait()
	if err != nil {
		return 0, false
	}
	return code, true
}

func (a *Adapter) emit(t ues.EventType, payload any) {
	ev := ues.Event{SessionID: a.sessionID, AgentKind: string(a.cfg.Family), Type: t, Payload: payload, Source: ues.SourceAgentNative}
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

// readEvents scans NDJSON records off stdout and converts each into zero
// or more normalized events via the family's translate function.
func (a *Adapter) readEvents() {
	defer close(a.events)
	defer close(a.done)

	scanner := bufio.NewScanner(a.proc.Stdout())
	const maxScanTokenSize = 1024 * 1024
	scanner.Buffer(make([]byte, maxScanTokenSize), maxScanTokenSize)

	translate := translators[a.cfg.Family]

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

		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			a.emit(ues.EventAgentUnparsed, ues.AgentUnparsedPayload{Raw: append([]byte(nil), line...)})
			continue
		}

		evs := translate(record)
		if evs == nil {
			a.emit(ues.EventAgentUnparsed, ues.AgentUnparsedPayload{Raw: append([]byte(nil), line...)})
			continue
		}
		for _, pair := range evs {
			a.emit(pair.t, pair.payload)
		}
	}

	if err := scanner.Err(); err != nil {
		a.waitErr = fmt.Errorf("scanner error: %w", err)
	}
}
