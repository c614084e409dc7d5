package subprocess

import (
	"fmt"
	"strings"

	"github.com/driftworks/conduit/internal/agent"
)

// Family identifies one member of the subprocess-per-session agent family.
// Each member speaks a slightly different NDJSON dialect over stdout and
// takes slightly different flags, but all share the spawn/stdin-prompt/
// NDJSON-stdout shape.
type Family string

const (
	FamilyClaudeCode Family = "claude-code"
	FamilyCodex      Family = "codex"
	FamilyAmp        Family = "amp"
	FamilyCodebuff   Family = "codebuff"
)

// Config is a subprocess-family adapter's configuration.
type Config struct {
	agent.Config
	Family Family
	Binary string
}

// buildCommand constructs the CLI invocation for the given family. Each
// family's streaming output flag is its own; everything else about the
// adapter (stdin prompt delivery, NDJSON scanning) is shared.
func buildCommand(cfg Config, req *agent.StartRequest) []string {
	model := req.Model
	if model == "" {
		model = cfg.DefaultModel
	}

	switch cfg.Family {
	case FamilyClaudeCode:
		parts := []string{cfg.Binary, "-p", "--output-format", "stream-json", "--verbose"}
		if model != "" {
			parts = append(parts, "--model", model)
		}
		if req.SystemPrompt != "" {
			parts = append(parts, "--append-system-prompt", req.SystemPrompt)
		}
		if req.SessionID != "" {
			parts = append(parts, "--session-id", req.SessionID)
		}
		parts = append(parts, permissionFlags(req)...)
		return parts

	case FamilyCodex:
		parts := []string{cfg.Binary, "exec", "--json", "--skip-git-repo-check"}
		if model != "" {
			parts = append(parts, "-m", model)
		}
		if req.WorkingDir != "" {
			parts = append(parts, "-C", req.WorkingDir)
		}
		if req.AutonomyLevel == "skip-permissions-unsafe" {
			parts = append(parts, "--dangerously-bypass-approvals-and-sandbox")
		}
		return parts

	case FamilyAmp:
		parts := []string{cfg.Binary, "--stream-json"}
		if model != "" {
			parts = append(parts, "--model", model)
		}
		return parts

	case FamilyCodebuff:
		parts := []string{cfg.Binary, "--output", "json"}
		if model != "" {
			parts = append(parts, "--model", model)
		}
		return parts

	default:
		return []string{cfg.Binary}
	}
}

func permissionFlags(req *agent.StartRequest) []string {
	switch req.AutonomyLevel {
	case "skip-permissions-unsafe":
		return []string{"--dangerously-skip-permissions"}
	case "":
		return nil
	default:
		return []string{"--permission-mode", req.AutonomyLevel}
	}
}

func envFor(cfg Config, req *agent.StartRequest) []string {
	env := []string{fmt.Sprintf("%s=%s", apiKeyEnvVar(cfg.Family), cfg.APIKey)}
	env = append(env, fmt.Sprintf("CONDUIT_SESSION_ID=%s", req.SessionID))
	env = append(env, fmt.Sprintf("CONDUIT_DEPTH=%d", req.Depth))
	return env
}

func apiKeyEnvVar(f Family) string {
	switch f {
	case FamilyClaudeCode:
		return "ANTHROPIC_API_KEY"
	case FamilyCodex:
		return "OPENAI_API_KEY"
	default:
		return strings.ToUpper(string(f)) + "_API_KEY"
	}
}
