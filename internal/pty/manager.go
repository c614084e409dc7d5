package pty

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/driftworks/conduit/internal/apierr"
	"github.com/driftworks/conduit/internal/metrics"
)

// Manager owns every managed process, independent from agent sessions, per
// spec.md section 4.7. It is the sole owner of process records and their
// log files; attach_terminal subscribers only ever get a narrow
// read/write/resize capability through Attach.
type Manager struct {
	logDir         string
	subscriberCap  int

	mu        sync.RWMutex
	processes map[string]*process
}

// NewManager creates an empty Process/PTY Manager. logDir is the root
// directory each process's stdout/stderr/combined logs are written under,
// one subdirectory per process id. subscriberCap bounds attach_terminal
// subscribers per process (spec.md section 4.2); <= 0 falls back to
// DefaultBroadcasterCapacity.
func NewManager(logDir string, subscriberCap int) *Manager {
	if subscriberCap <= 0 {
		subscriberCap = DefaultBroadcasterCapacity
	}
	return &Manager{logDir: logDir, subscriberCap: subscriberCap, processes: make(map[string]*process)}
}

// Spawn starts a new managed process and returns its id.
func (m *Manager) Spawn(req SpawnRequest) (string, error) {
	if req.Command == "" {
		return "", apierr.New(apierr.KindInternal, "pty: empty command")
	}
	id := uuid.NewString()

	p, err := spawn(id, req, filepath.Join(m.logDir, id), m.subscriberCap)
	if err != nil {
		metrics.AdapterStarts.WithLabelValues("pty", "error").Inc()
		return "", apierr.Wrap(apierr.KindAdapterStart, "pty: spawn failed", err)
	}

	m.mu.Lock()
	m.processes[id] = p
	m.mu.Unlock()
	metrics.AdapterStarts.WithLabelValues("pty", "ok").Inc()
	return id, nil
}

func (m *Manager) get(id string) (*process, error) {
	m.mu.RLock()
	p, ok := m.processes[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, fmt.Sprintf("pty: process %q not found", id))
	}
	return p, nil
}

// List returns a snapshot of every tracked process record.
func (m *Manager) List() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.processes))
	for _, p := range m.processes {
		out = append(out, p.snapshot())
	}
	return out
}

// Get returns one process's current record.
func (m *Manager) Get(id string) (Record, error) {
	p, err := m.get(id)
	if err != nil {
		return Record{}, err
	}
	return p.snapshot(), nil
}

// Stop requests a graceful-then-hard stop of the process.
func (m *Manager) Stop(id string) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	go p.stop()
	return nil
}

// Kill hard-stops the process immediately.
func (m *Manager) Kill(id string) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	p.kill()
	return nil
}

// Delete removes a terminal process's record and its log files. Fails if
// the process hasn't exited yet.
func (m *Manager) Delete(id string) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	if !p.isTerminal() {
		return apierr.New(apierr.KindPreconditionFailed, fmt.Sprintf("pty: process %q is still running", id))
	}

	m.mu.Lock()
	delete(m.processes, id)
	m.mu.Unlock()
	_ = os.RemoveAll(filepath.Join(m.logDir, id))
	return nil
}

// ReadLogs returns the tail of one of a process's three log streams.
func (m *Manager) ReadLogs(id string, stream LogStream, tail int, stripTimestamps bool) ([]string, error) {
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	lines, err := p.logs.Tail(stream, tail, stripTimestamps)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "pty: read logs", err)
	}
	return lines, nil
}

// WriteInput sends bytes to the process's stdin or PTY master. Only valid
// for interactive or PTY processes, per spec.md section 4.7.
func (m *Manager) WriteInput(id string, data []byte) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	if !p.record.Interactive && !p.record.TTY {
		return apierr.New(apierr.KindPreconditionFailed, fmt.Sprintf("pty: process %q is not interactive", id))
	}
	if err := p.writeInput(data); err != nil {
		return apierr.Wrap(apierr.KindInternal, "pty: write input", err)
	}
	return nil
}

// Resize changes a PTY process's terminal size. Only valid for PTY
// processes, per spec.md section 4.7.
func (m *Manager) Resize(id string, size TerminalSize) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	if !p.record.TTY {
		return apierr.New(apierr.KindPreconditionFailed, fmt.Sprintf("pty: process %q has no PTY", id))
	}
	if err := p.resize(size); err != nil {
		return apierr.Wrap(apierr.KindInternal, "pty: resize", err)
	}
	return nil
}

// Attachment is the bidirectional capability attach_terminal hands out: a
// live output channel plus Write/Resize/Close for the client side of the
// channel, per spec.md section 4.7.
type Attachment struct {
	Output <-chan Chunk
	Write  func(data []byte) error
	Resize func(size TerminalSize) error
	Close  func()
}

// Attach opens a live output stream for a process. Once the process has
// transitioned to terminal, Attach fails with a precondition_failed error
// saying it has already exited; its logs remain readable via ReadLogs
// until Delete.
func (m *Manager) Attach(id string) (*Attachment, error) {
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if p.isTerminal() {
		return nil, apierr.New(apierr.KindPreconditionFailed, fmt.Sprintf("pty: process %q has already exited", id))
	}

	subID, ch, err := p.broadcaster.Subscribe()
	if err != nil {
		return nil, apierr.Wrap(apierr.KindOverflow, "pty: attach", err)
	}

	return &Attachment{
		Output: ch,
		Write:  func(data []byte) error { return m.WriteInput(id, data) },
		Resize: func(size TerminalSize) error { return m.Resize(id, size) },
		Close:  func() { p.broadcaster.Unsubscribe(subID) },
	}, nil
}

// Count returns the number of processes currently tracked.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.processes)
}
