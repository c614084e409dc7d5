package pty

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/driftworks/conduit/internal/logger"
)

// gracefulStopWindow is the grace period stop() waits for the child to
// exit after a SIGTERM before escalating to SIGKILL. Spec.md section 9
// leaves this undocumented for PTY processes; kept equal to the subprocess
// supervisor's default (see DESIGN.md's Open Question decisions).
const gracefulStopWindow = 2 * time.Second

// process is one managed, running process: either a PTY-attached command
// (single master fd carrying merged stdout/stderr) or a plain piped one
// (separate stdout/stderr). It owns its log files and attach broadcaster.
type process struct {
	record Record

	cmd    *exec.Cmd
	master *os.File // non-nil only when record.TTY

	stdin  io.WriteCloser // non-nil only when !record.TTY
	stdout io.ReadCloser
	stderr io.ReadCloser

	logs        *logSet
	broadcaster *byteBroadcaster

	mu        sync.Mutex
	resizeMu  sync.Mutex
	stopped   bool
	done      chan struct{}
}

func spawn(id string, req SpawnRequest, logDir string, subscriberCap int) (*process, error) {
	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Cwd
	if len(req.Env) > 0 {
		cmd.Env = req.Env
	}

	logs, err := newLogSet(logDir)
	if err != nil {
		return nil, err
	}

	p := &process{
		record: Record{
			ID: id, Command: req.Command, Args: req.Args, WorkingDir: req.Cwd,
			Status: StatusStarting, StartedAt: time.Now(),
			TTY: req.TTY, Interactive: req.Interactive || req.TTY, Size: req.TerminalSize,
		},
		cmd:         cmd,
		logs:        logs,
		broadcaster: newByteBroadcaster(subscriberCap),
		done:        make(chan struct{}),
	}

	if req.TTY {
		size := &pty.Winsize{Cols: uint16(req.TerminalSize.Cols), Rows: uint16(req.TerminalSize.Rows)}
		if size.Cols == 0 {
			size.Cols = 80
		}
		if size.Rows == 0 {
			size.Rows = 24
		}
		master, err := pty.StartWithSize(cmd, size)
		if err != nil {
			logs.Close()
			return nil, fmt.Errorf("pty: start: %w", err)
		}
		p.master = master
		go p.pumpPTY()
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			logs.Close()
			return nil, fmt.Errorf("pty: stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			logs.Close()
			return nil, fmt.Errorf("pty: stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			logs.Close()
			return nil, fmt.Errorf("pty: stderr pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			logs.Close()
			return nil, fmt.Errorf("pty: start: %w", err)
		}
		p.stdin, p.stdout, p.stderr = stdin, stdout, stderr
		go p.pumpStdout()
		go p.pumpStderr()
	}

	p.mu.Lock()
	p.record.Status = StatusRunning
	p.mu.Unlock()

	go p.wait()
	return p, nil
}

func (p *process) pumpPTY() {
	buf := make([]byte, 4096)
	for {
		n, err := p.master.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			p.logs.WriteStdout(chunk)
			p.broadcaster.Publish(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (p *process) pumpStdout() {
	buf := make([]byte, 4096)
	for {
		n, err := p.stdout.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			p.logs.WriteStdout(chunk)
			p.broadcaster.Publish(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (p *process) pumpStderr() {
	buf := make([]byte, 4096)
	for {
		n, err := p.stderr.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			p.logs.WriteStderr(chunk)
			p.broadcaster.Publish(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (p *process) wait() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	p.mu.Lock()
	now := time.Now()
	p.record.StoppedAt = &now
	p.record.ExitCode = &code
	if p.record.Status != StatusKilled {
		p.record.Status = StatusStopped
	}
	p.mu.Unlock()

	p.logs.Close()
	p.broadcaster.Close()
	close(p.done)
}

// writeInput feeds bytes to the process's stdin (piped processes) or PTY
// master (tty processes). Only valid for interactive or tty processes,
// enforced by the caller.
func (p *process) writeInput(data []byte) error {
	if p.master != nil {
		_, err := p.master.Write(data)
		return err
	}
	if p.stdin == nil {
		return fmt.Errorf("pty: process is not interactive")
	}
	_, err := p.stdin.Write(data)
	return err
}

// resize changes the PTY's terminal size. Serialized per process, per
// spec.md section 4.2's "resize operations are serialized" invariant.
func (p *process) resize(size TerminalSize) error {
	if p.master == nil {
		return fmt.Errorf("pty: process has no PTY to resize")
	}
	p.resizeMu.Lock()
	defer p.resizeMu.Unlock()

	if err := pty.Setsize(p.master, &pty.Winsize{Cols: uint16(size.Cols), Rows: uint16(size.Rows)}); err != nil {
		return fmt.Errorf("pty: setsize: %w", err)
	}
	p.mu.Lock()
	p.record.Size = size
	p.mu.Unlock()
	return nil
}

// stop requests a graceful shutdown (SIGTERM), waits up to
// gracefulStopWindow, then escalates to SIGKILL.
func (p *process) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-p.done:
	case <-time.After(gracefulStopWindow):
		logger.Warn("pty: process %s did not exit within %s, killing", p.record.ID, gracefulStopWindow)
		p.kill()
	}
}

// kill hard-stops the process immediately.
func (p *process) kill() {
	p.mu.Lock()
	p.stopped = true
	p.record.Status = StatusKilled
	p.mu.Unlock()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *process) snapshot() Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.record
	if r.ExitCode != nil {
		code := *r.ExitCode
		r.ExitCode = &code
	}
	return r
}

func (p *process) isTerminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record.Status == StatusStopped || p.record.Status == StatusKilled
}
