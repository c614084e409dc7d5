package pty

import (
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), 0)
}

func TestManagerSpawnTracksProcess(t *testing.T) {
	mgr := newTestManager(t)

	id, err := mgr.Spawn(SpawnRequest{Command: "sh", Args: []string{"-c", "echo hi; sleep 1"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if mgr.Count() != 1 {
		t.Errorf("Count() = %d, want 1", mgr.Count())
	}

	rec, err := mgr.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Command != "sh" {
		t.Errorf("Command = %q, want sh", rec.Command)
	}

	_ = mgr.Kill(id)
}

func TestManagerSpawnRejectsEmptyCommand(t *testing.T) {
	mgr := newTestManager(t)
	if _, err := mgr.Spawn(SpawnRequest{}); err == nil {
		t.Fatal("expected error spawning with an empty command")
	}
}

func TestManagerDeleteRequiresTerminalProcess(t *testing.T) {
	mgr := newTestManager(t)
	id, err := mgr.Spawn(SpawnRequest{Command: "sh", Args: []string{"-c", "sleep 5"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := mgr.Delete(id); err == nil {
		t.Fatal("expected error deleting a still-running process")
	}

	if err := mgr.Kill(id); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	waitForTerminal(t, mgr, id)

	if err := mgr.Delete(id); err != nil {
		t.Fatalf("Delete after kill: %v", err)
	}
	if _, err := mgr.Get(id); err == nil {
		t.Fatal("expected error getting a deleted process")
	}
}

func TestManagerReadLogsCapturesOutput(t *testing.T) {
	mgr := newTestManager(t)
	id, err := mgr.Spawn(SpawnRequest{Command: "sh", Args: []string{"-c", "echo hello-world"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitForTerminal(t, mgr, id)

	lines, err := mgr.ReadLogs(id, StreamStdout, 0, true)
	if err != nil {
		t.Fatalf("ReadLogs: %v", err)
	}
	found := false
	for _, l := range lines {
		if l == "hello-world" {
			found = true
		}
	}
	if !found {
		t.Errorf("ReadLogs = %v, want a line 'hello-world'", lines)
	}
}

func TestManagerWriteInputRejectsNonInteractive(t *testing.T) {
	mgr := newTestManager(t)
	id, err := mgr.Spawn(SpawnRequest{Command: "sh", Args: []string{"-c", "sleep 5"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer mgr.Kill(id)

	if err := mgr.WriteInput(id, []byte("x")); err == nil {
		t.Fatal("expected error writing input to a non-interactive process")
	}
}

func TestManagerResizeRejectsNonPTY(t *testing.T) {
	mgr := newTestManager(t)
	id, err := mgr.Spawn(SpawnRequest{Command: "sh", Args: []string{"-c", "sleep 5"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer mgr.Kill(id)

	if err := mgr.Resize(id, TerminalSize{Cols: 80, Rows: 24}); err == nil {
		t.Fatal("expected error resizing a non-PTY process")
	}
}

func TestManagerAttachStreamsPTYOutput(t *testing.T) {
	mgr := newTestManager(t)
	id, err := mgr.Spawn(SpawnRequest{
		Command: "sh", Args: []string{"-c", "echo from-pty; sleep 1"},
		TTY: true, TerminalSize: TerminalSize{Cols: 80, Rows: 24},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer mgr.Kill(id)

	att, err := mgr.Attach(id)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer att.Close()

	select {
	case chunk, ok := <-att.Output:
		if !ok {
			t.Fatal("output channel closed before any data")
		}
		if chunk.Overflow {
			t.Fatal("unexpected overflow on a fresh subscriber")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for PTY output")
	}
}

func TestManagerAttachRejectsTerminalProcess(t *testing.T) {
	mgr := newTestManager(t)
	id, err := mgr.Spawn(SpawnRequest{Command: "sh", Args: []string{"-c", "true"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitForTerminal(t, mgr, id)

	if _, err := mgr.Attach(id); err == nil {
		t.Fatal("expected error attaching to an already-terminal process")
	}
}

func waitForTerminal(t *testing.T, mgr *Manager, id string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := mgr.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Status == StatusStopped || rec.Status == StatusKilled {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("process never reached a terminal state")
}
