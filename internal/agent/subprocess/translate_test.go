package subprocess

import (
	"testing"

	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/ues"
)

func TestTranslateClaudeCode(t *testing.T) {
	tests := []struct {
		name    string
		record  map[string]any
		wantNil bool
		wantLen int
	}{
		{
			name:    "system init carries no events",
			record:  map[string]any{"type": "system", "subtype": "init"},
			wantLen: 0,
		},
		{
			name: "assistant text block",
			record: map[string]any{
				"type": "assistant",
				"message": map[string]any{
					"id": "msg_1", "role": "assistant",
					"content": []any{map[string]any{"type": "text", "text": "hi"}},
				},
			},
			wantLen: 2,
		},
		{
			name:    "unknown type",
			record:  map[string]any{"type": "bogus"},
			wantNil: true,
		},
		{
			name:    "result success",
			record:  map[string]any{"type": "result", "is_error": false},
			wantLen: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateClaudeCode(tt.record)
			if tt.wantNil {
				if got != nil {
					t.Errorf("got %v, want nil", got)
				}
				return
			}
			if len(got) != tt.wantLen {
				t.Errorf("got %d events, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestTranslateClaudeCodeResultOutcome(t *testing.T) {
	got := translateClaudeCode(map[string]any{"type": "result", "is_error": true})
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	payload, ok := got[0].payload.(ues.TurnEndedPayload)
	if !ok {
		t.Fatalf("payload type = %T, want TurnEndedPayload", got[0].payload)
	}
	if payload.Outcome != ues.TurnOutcomeFailed {
		t.Errorf("outcome = %q, want %q", payload.Outcome, ues.TurnOutcomeFailed)
	}
}

func TestTranslateCodex(t *testing.T) {
	tests := []struct {
		name    string
		record  map[string]any
		wantLen int
	}{
		{
			name:    "agent message",
			record:  map[string]any{"msg": map[string]any{"type": "agent_message", "message": "done"}},
			wantLen: 1,
		},
		{
			name:    "exec command begin",
			record:  map[string]any{"msg": map[string]any{"type": "exec_command_begin", "call_id": "c1"}},
			wantLen: 1,
		},
		{
			name:    "task complete",
			record:  map[string]any{"msg": map[string]any{"type": "task_complete"}},
			wantLen: 1,
		},
		{
			name:    "missing msg envelope",
			record:  map[string]any{"type": "agent_message"},
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateCodex(tt.record)
			if len(got) != tt.wantLen {
				t.Errorf("got %d events, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestTranslateAmpAndCodebuffDone(t *testing.T) {
	ampDone := translateAmp(map[string]any{"type": "done"})
	if len(ampDone) != 1 || ampDone[0].t != ues.EventTurnEnded {
		t.Errorf("amp done = %v, want single turn.ended", ampDone)
	}

	codebuffDone := translateCodebuff(map[string]any{"event": "complete"})
	if len(codebuffDone) != 1 || codebuffDone[0].t != ues.EventTurnEnded {
		t.Errorf("codebuff complete = %v, want single turn.ended", codebuffDone)
	}
}

func TestBuildCommandPerFamily(t *testing.T) {
	cfg := Config{Config: agent.Config{DefaultModel: "claude-sonnet-4-5"}, Family: FamilyClaudeCode, Binary: "claude"}
	req := &agent.StartRequest{AutonomyLevel: "skip-permissions-unsafe"}

	cmd := buildCommand(cfg, req)
	if cmd[0] != "claude" {
		t.Errorf("cmd[0] = %q, want claude", cmd[0])
	}
	if !containsArg(cmd, "--dangerously-skip-permissions") {
		t.Errorf("expected --dangerously-skip-permissions in %v", cmd)
	}

	codexCfg := Config{Config: agent.Config{DefaultModel: "gpt-5.1"}, Family: FamilyCodex, Binary: "codex"}
	codexCmd := buildCommand(codexCfg, &agent.StartRequest{WorkingDir: "/work"})
	if !containsArg(codexCmd, "-C") || !containsArg(codexCmd, "/work") {
		t.Errorf("expected -C /work in %v", codexCmd)
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
