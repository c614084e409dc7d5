package sharedserver

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/driftworks/conduit/internal/container"
	"github.com/driftworks/conduit/internal/supervisor"
)

type fakeBackend struct{}

func (fakeBackend) Name() string { return "fake" }

func (fakeBackend) Spawn(ctx context.Context, cfg supervisor.SpawnConfig) (*container.InteractiveExec, error) {
	stdinR, stdinW := io.Pipe()
	go io.Copy(io.Discard, stdinR)
	stdout := io.NopCloser(strings.NewReader(""))
	stderr := io.NopCloser(strings.NewReader(""))
	wait := func() (int, error) { <-ctx.Done(); return 0, nil }
	return container.NewInteractiveExec(stdinW, stdout, stderr, wait), nil
}

func TestEnsureTransitionsToHealthy(t *testing.T) {
	spawner := func(ctx context.Context, port int) (*supervisor.Process, error) {
		return supervisor.Spawn(ctx, fakeBackend{}, supervisor.SpawnConfig{Cmd: []string{"fake"}})
	}
	healthy := false
	check := func(ctx context.Context, addr string) (bool, error) { return healthy, nil }

	mgr := New("test-kind", 41500, 41600, spawner, check, 5*time.Millisecond, 200*time.Millisecond)

	healthy = true
	addr, err := mgr.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if addr == "" {
		t.Fatal("expected non-empty address")
	}
	if mgr.State() != StateHealthy {
		t.Errorf("State() = %q, want healthy", mgr.State())
	}

	addr2, err := mgr.Ensure(context.Background())
	if err != nil || addr2 != addr {
		t.Errorf("second Ensure: addr=%q err=%v, want %q nil", addr2, err, addr)
	}

	_ = mgr.Stop()
}

func TestEnsureFailsHealthCheckTimesOut(t *testing.T) {
	spawner := func(ctx context.Context, port int) (*supervisor.Process, error) {
		return supervisor.Spawn(ctx, fakeBackend{}, supervisor.SpawnConfig{Cmd: []string{"fake"}})
	}
	check := func(ctx context.Context, addr string) (bool, error) { return false, nil }

	mgr := New("test-kind", 41600, 41700, spawner, check, 5*time.Millisecond, 30*time.Millisecond)

	if _, err := mgr.Ensure(context.Background()); err == nil {
		t.Fatal("expected health check timeout error")
	}
	if mgr.State() != StateNotStarted {
		t.Errorf("State() = %q, want not_started after failed health check", mgr.State())
	}
}
