package acp

import (
	"fmt"
	"strings"

	"github.com/driftworks/conduit/internal/agent"
)

// Config is an ACP-family adapter's configuration: which CLI binary to
// run, what method namespace it speaks, and its defaults.
type Config struct {
	agent.Config
	Binary          string
	Namespace       string
	DefaultAutonomy string
}

// buildCommand constructs the CLI invocation for a bidirectional
// stream-jsonrpc session. Unlike the single-turn `droid exec` form, the
// prompt is never passed as an argument here — it goes over stdin via
// add_user_message once the session is initialized.
func buildCommand(cfg Config, req *agent.StartRequest) []string {
	parts := []string{cfg.Binary, "exec"}

	model := req.Model
	if model == "" {
		model = cfg.DefaultModel
	}
	parts = append(parts, "-m", model)

	autonomy := req.AutonomyLevel
	if autonomy == "" {
		autonomy = cfg.DefaultAutonomy
	}
	if autonomy == "skip-permissions-unsafe" {
		parts = append(parts, "--skip-permissions-unsafe")
	} else if autonomy != "read-only" && autonomy != "" {
		parts = append(parts, "--auto", autonomy)
	}

	if req.ReasoningLevel != "" && req.ReasoningLevel != "off" {
		parts = append(parts, "-r", req.ReasoningLevel)
	}

	if req.SessionID != "" {
		parts = append(parts, "-s", req.SessionID)
	}

	parts = append(parts, "-o", "stream-jsonrpc", "--input-format", "stream-jsonrpc")

	if req.WorkingDir != "" {
		parts = append(parts, "--cwd", req.WorkingDir)
	}
	if len(req.EnabledTools) > 0 {
		parts = append(parts, "--enabled-tools", strings.Join(req.EnabledTools, ","))
	}
	if len(req.DisabledTools) > 0 {
		parts = append(parts, "--disabled-tools", strings.Join(req.DisabledTools, ","))
	}

	return parts
}

func envFor(cfg Config, req *agent.StartRequest) []string {
	env := []string{fmt.Sprintf("%s=%s", apiKeyEnvVar(cfg.Binary), cfg.APIKey)}
	env = append(env, fmt.Sprintf("CONDUIT_SESSION_ID=%s", req.SessionID))
	env = append(env, fmt.Sprintf("CONDUIT_DEPTH=%d", req.Depth))
	return env
}

func apiKeyEnvVar(binary string) string {
	switch binary {
	case "droid":
		return "FACTORY_API_KEY"
	default:
		return strings.ToUpper(binary) + "_API_KEY"
	}
}
