package opencode

import (
	"context"
	"fmt"
	"time"

	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/agent/sharedserver"
	"github.com/driftworks/conduit/internal/supervisor"
)

// Register installs the OpenCode adapter's factory under agent.KindOpenCode,
// backed by a single shared server spun up on first use.
func Register(reg *agent.Registry, mgr *sharedserver.Manager) {
	reg.Register(agent.KindOpenCode, func(cfg agent.Config) (agent.Adapter, error) {
		addr, err := mgr.Ensure(context.Background())
		if err != nil {
			return nil, err
		}
		reasoning := cfg.Extra["reasoning_level"]
		return New(addr, cfg.DefaultModel, reasoning), nil
	})
}

// NewSpawner returns a sharedserver.Spawner that launches `opencode serve`
// through the given supervisor backend (host or container).
func NewSpawner(backend supervisor.Backend, workingDir string, startupTimeout time.Duration) func(ctx context.Context, port int) (*supervisor.Process, error) {
	return func(ctx context.Context, port int) (*supervisor.Process, error) {
		return supervisor.Spawn(ctx, backend, supervisor.SpawnConfig{
			Cmd:        []string{"opencode", "serve", "--port", fmt.Sprintf("%d", port), "--hostname", "127.0.0.1"},
			WorkingDir: workingDir,
			Timeout:    0,
		})
	}
}
