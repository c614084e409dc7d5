package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftworks/conduit/internal/container"
)

// containerCleanupTimeout bounds how long Spawn's sandbox teardown (Stop +
// Remove) waits once the process has exited, independent of the caller's
// context, which may already be cancelled by that point.
const containerCleanupTimeout = 10 * time.Second

// ContainerBackend runs each agent process inside a per-session sandbox
// container, via internal/container's Runtime abstraction (in turn backed
// by the Docker API) — a second layer of isolation on top of the daemon's
// own sandbox, per spec.md's Process Supervisor design. When the caller
// names an already-running container (SpawnConfig.ContainerID), Spawn
// execs into it directly instead of provisioning a new one.
type ContainerBackend struct {
	runtime container.Runtime
	image   string
}

var _ Backend = (*ContainerBackend)(nil)

// NewContainerBackend wraps a container.Runtime as a supervisor Backend.
// image names the sandbox image Spawn provisions containers from when
// SpawnConfig.ContainerID is empty.
func NewContainerBackend(runtime container.Runtime, image string) *ContainerBackend {
	return &ContainerBackend{runtime: runtime, image: image}
}

func (b *ContainerBackend) Name() string { return "container/" + b.runtime.Name() }

func (b *ContainerBackend) Spawn(ctx context.Context, cfg SpawnConfig) (*container.InteractiveExec, error) {
	containerID := cfg.ContainerID
	provisioned := false

	if containerID == "" {
		if b.image == "" {
			return nil, fmt.Errorf("supervisor: container backend requires ContainerID or a configured sandbox image")
		}
		id, err := b.runtime.Create(ctx, container.CreateConfig{
			Name:  "conduit-" + uuid.NewString(),
			Image: b.image,
			Cmd:   []string{"sleep", "infinity"},
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: create sandbox container: %w", err)
		}
		if err := b.runtime.Start(ctx, id); err != nil {
			_ = b.runtime.Remove(ctx, id, true)
			return nil, fmt.Errorf("supervisor: start sandbox container: %w", err)
		}
		containerID, provisioned = id, true
	}

	execConfig := container.ExecConfig{
		Cmd:          cfg.Cmd,
		Env:          cfg.Env,
		WorkingDir:   cfg.WorkingDir,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	exec, err := b.runtime.ExecInteractive(ctx, containerID, execConfig)
	if err != nil {
		if provisioned {
			_ = b.runtime.Remove(ctx, containerID, true)
		}
		return nil, err
	}

	if !provisioned {
		return exec, nil
	}

	// Wrap the exec's wait so the sandbox container this call provisioned
	// is always torn down once the process exits, instead of leaking one
	// container per session.
	return container.NewInteractiveExec(exec.Stdin, exec.Stdout, exec.Stderr, func() (int, error) {
		code, waitErr := exec.Wait()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), containerCleanupTimeout)
		defer cancel()
		_ = b.runtime.Stop(cleanupCtx, containerID)
		_ = b.runtime.Remove(cleanupCtx, containerID, true)
		return code, waitErr
	}), nil
}
