package supervisor

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/driftworks/conduit/internal/container"
)

// HostBackend spawns processes directly on the daemon's host via os/exec.
// It's the default backend — most agent CLIs (opencode, claude-code,
// codex, amp, codebuff) run fine unsandboxed next to the daemon.
type HostBackend struct{}

var _ Backend = HostBackend{}

// NewHostBackend returns the host os/exec backend.
func NewHostBackend() HostBackend { return HostBackend{} }

func (HostBackend) Name() string { return "host" }

func (HostBackend) Spawn(ctx context.Context, cfg SpawnConfig) (*container.InteractiveExec, error) {
	if len(cfg.Cmd) == 0 {
		return nil, fmt.Errorf("supervisor: empty command")
	}

	cmd := exec.CommandContext(ctx, cfg.Cmd[0], cfg.Cmd[1:]...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = cfg.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	wait := func() (int, error) {
		err := cmd.Wait()
		if err == nil {
			return 0, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}

	return container.NewInteractiveExec(stdin, stdout, stderr, wait), nil
}
