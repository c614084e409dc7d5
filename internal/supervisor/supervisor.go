// Package supervisor spawns and manages child processes on behalf of agent
// adapters (the Process/PTY manager spawns its own processes directly):
// stdio wiring, a total-runtime
// timeout, graceful-then-hard stop, and a bounded stderr tail for
// diagnosing ungraceful exits. It is backend-pluggable — a host process
// spawned via os/exec, or a container-backed exec via internal/container —
// so the same lifecycle code drives either.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/driftworks/conduit/internal/container"
	"github.com/driftworks/conduit/internal/logger"
)

// SpawnConfig describes a process to start.
type SpawnConfig struct {
	Cmd        []string
	Env        []string
	WorkingDir string

	// ContainerID selects the target container when using the docker
	// backend; ignored by the host backend.
	ContainerID string

	// Timeout bounds the process's total runtime; zero means no limit.
	Timeout time.Duration

	// GracefulStop is how long Stop waits after requesting a graceful
	// shutdown before forcibly killing the process.
	GracefulStop time.Duration
}

// Backend starts a process and returns an interactive handle to it.
type Backend interface {
	Spawn(ctx context.Context, cfg SpawnConfig) (*container.InteractiveExec, error)
	Name() string
}

const stderrTailCap = 16 * 1024 // 16KiB, enough for a useful crash excerpt

// Process is a supervised, running process: stdio-wired, with a stderr
// tail ring buffer and graceful-then-hard stop semantics.
type Process struct {
	backend Backend
	exec    *container.InteractiveExec

	mu         sync.Mutex
	stderrTail *bytes.Buffer
	stopped    bool
	exitCode   int
	waitErr    error

	cancelTimeout context.CancelFunc
	gracefulStop  time.Duration
}

// Spawn starts a process on the given backend, wires its stdio, and begins
// capturing a bounded tail of its stderr for diagnostics.
func Spawn(ctx context.Context, backend Backend, cfg SpawnConfig) (*Process, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	}

	exec, err := backend.Spawn(runCtx, cfg)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("supervisor: spawn on %s backend: %w", backend.Name(), err)
	}

	p := &Process{
		backend:       backend,
		exec:          exec,
		stderrTail:    bytes.NewBuffer(nil),
		cancelTimeout: cancel,
		gracefulStop:  cfg.GracefulStop,
	}
	go p.captureStderr()
	go p.waitInBackground()
	return p, nil
}

// waitInBackground calls exec.Wait() as soon as the process starts so
// exec.Done() closes promptly on exit instead of waiting for some other
// caller to invoke Wait — callers that need the exit code use Process.Wait,
// which blocks on Done and returns the code captured here.
func (p *Process) waitInBackground() {
	code, err := p.exec.Wait()
	p.mu.Lock()
	p.exitCode = code
	p.waitErr = err
	p.mu.Unlock()
}

func (p *Process) captureStderr() {
	if p.exec.Stderr == nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := p.exec.Stderr.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.stderrTail.Write(buf[:n])
			if p.stderrTail.Len() > stderrTailCap {
				excess := p.stderrTail.Len() - stderrTailCap
				p.stderrTail.Next(excess)
			}
			p.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				logger.Debug("supervisor: stderr read error: %v", err)
			}
			return
		}
	}
}

// StderrTail returns the most recent stderr output captured, up to 16KiB.
func (p *Process) StderrTail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderrTail.String()
}

// Stdin, Stdout expose the process's wired pipes for protocol framing.
func (p *Process) Stdin() io.WriteCloser { return p.exec.Stdin }
func (p *Process) Stdout() io.ReadCloser { return p.exec.Stdout }

// Done closes when the process exits.
func (p *Process) Done() <-chan struct{} { return p.exec.Done() }

// Wait blocks until the process exits and returns its exit code. Safe to
// call from multiple goroutines and any number of times, unlike the
// underlying exec.Wait which backends may only support calling once.
func (p *Process) Wait() (int, error) {
	<-p.exec.Done()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.waitErr
}

// Stop requests a graceful shutdown by closing stdin (the universal
// "please wrap up" signal for line-oriented CLI agents), waits up to the
// configured graceful-stop window, and then forcibly closes all streams.
func (p *Process) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	if p.exec.Stdin != nil {
		_ = p.exec.Stdin.Close()
	}

	grace := p.gracefulStop
	if grace <= 0 {
		grace = 2 * time.Second
	}

	select {
	case <-p.exec.Done():
	case <-time.After(grace):
		logger.Warn("supervisor: process did not exit within %s, forcing close", grace)
	}

	if p.cancelTimeout != nil {
		p.cancelTimeout()
	}
	return p.exec.Close()
}
