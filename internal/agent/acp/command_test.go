package acp

import (
	"testing"

	"github.com/driftworks/conduit/internal/agent"
)

func TestBuildCommandDroidDefaults(t *testing.T) {
	cfg := Config{Config: agent.Config{DefaultModel: "claude-sonnet-4-5"}, Binary: "droid", Namespace: "droid"}
	req := &agent.StartRequest{WorkingDir: "/work", SessionID: "s1"}

	cmd := buildCommand(cfg, req)
	if cmd[0] != "droid" || cmd[1] != "exec" {
		t.Fatalf("cmd = %v, want it to start with [droid exec]", cmd)
	}
	if !containsArg(cmd, "stream-jsonrpc") {
		t.Errorf("expected stream-jsonrpc output format in %v", cmd)
	}
	if !containsArg(cmd, "/work") {
		t.Errorf("expected working dir in %v", cmd)
	}
}

func TestBuildCommandAutonomyFlags(t *testing.T) {
	cfg := Config{Config: agent.Config{}, Binary: "droid", Namespace: "droid"}

	unsafe := buildCommand(cfg, &agent.StartRequest{AutonomyLevel: "skip-permissions-unsafe"})
	if !containsArg(unsafe, "--skip-permissions-unsafe") {
		t.Errorf("expected --skip-permissions-unsafe in %v", unsafe)
	}

	high := buildCommand(cfg, &agent.StartRequest{AutonomyLevel: "high"})
	if !containsArg(high, "--auto") || !containsArg(high, "high") {
		t.Errorf("expected --auto high in %v", high)
	}
}

func TestApiKeyEnvVar(t *testing.T) {
	if got := apiKeyEnvVar("droid"); got != "FACTORY_API_KEY" {
		t.Errorf("apiKeyEnvVar(droid) = %q, want FACTORY_API_KEY", got)
	}
	if got := apiKeyEnvVar("otheragent"); got != "OTHERAGENT_API_KEY" {
		t.Errorf("apiKeyEnvVar(otheragent) = %q, want OTHERAGENT_API_KEY", got)
	}
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
