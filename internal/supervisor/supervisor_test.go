package supervisor

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/driftworks/conduit/internal/container"
)

type fakeBackend struct {
	stdout  string
	stderr  string
	exitErr error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Spawn(ctx context.Context, cfg SpawnConfig) (*container.InteractiveExec, error) {
	stdinR, stdinW := io.Pipe()
	go io.Copy(io.Discard, stdinR)

	stdout := io.NopCloser(strings.NewReader(f.stdout))
	stderr := io.NopCloser(strings.NewReader(f.stderr))

	wait := func() (int, error) { return 0, f.exitErr }
	return container.NewInteractiveExec(stdinW, stdout, stderr, wait), nil
}

func TestSpawnCapturesStderrTail(t *testing.T) {
	backend := &fakeBackend{stderr: "line one\nline two\n"}
	p, err := Spawn(context.Background(), backend, SpawnConfig{Cmd: []string{"fake"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		if strings.Contains(p.StderrTail(), "line two") {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("stderr tail never captured: got %q", p.StderrTail())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestProcessDoneClosesWithoutExplicitWait(t *testing.T) {
	backend := &fakeBackend{}
	p, err := Spawn(context.Background(), backend, SpawnConfig{Cmd: []string{"fake"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() never closed; background wait not firing")
	}
}

func TestProcessStop(t *testing.T) {
	backend := &fakeBackend{}
	p, err := Spawn(context.Background(), backend, SpawnConfig{Cmd: []string{"fake"}, GracefulStop: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got: %v", err)
	}
}

func TestEmptyCommandRejected(t *testing.T) {
	host := NewHostBackend()
	if _, err := host.Spawn(context.Background(), SpawnConfig{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}
