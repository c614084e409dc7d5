package acp

import (
	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/supervisor"
)

// RegisterDroid installs the Factory Droid CLI adapter under agent.KindDroid,
// speaking the "droid" namespace of the stream-jsonrpc protocol over a
// process spawned on the given supervisor backend (host or container).
func RegisterDroid(reg *agent.Registry, backend supervisor.Backend) {
	reg.Register(agent.KindDroid, func(cfg agent.Config) (agent.Adapter, error) {
		acpCfg := Config{
			Config:          cfg,
			Binary:          "droid",
			Namespace:       "droid",
			DefaultAutonomy: cfg.Extra["autonomy_level"],
		}
		return New(backend, acpCfg), nil
	})
}
