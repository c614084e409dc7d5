package subprocess

import (
	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/supervisor"
)

// Register installs all four subprocess-family adapters onto the given
// supervisor backend (host or container). Binary names match the CLI names
// a PATH lookup would find.
func Register(reg *agent.Registry, backend supervisor.Backend) {
	register(reg, backend, agent.KindClaudeCode, FamilyClaudeCode, "claude")
	register(reg, backend, agent.KindCodex, FamilyCodex, "codex")
	register(reg, backend, agent.KindAmp, FamilyAmp, "amp")
	register(reg, backend, agent.KindCodebuff, FamilyCodebuff, "codebuff")
}

func register(reg *agent.Registry, backend supervisor.Backend, kind agent.Kind, family Family, binary string) {
	reg.Register(kind, func(cfg agent.Config) (agent.Adapter, error) {
		return New(backend, Config{Config: cfg, Family: family, Binary: binary}), nil
	})
}
