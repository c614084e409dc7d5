// Package sharedserver manages a single long-running per-agent-kind server
// process (e.g. `opencode serve`) shared by every session of that kind,
// rather than spawning one per session. It tracks the server through an
// explicit health-probed state machine and allocates it a free port from a
// configured range.
package sharedserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/driftworks/conduit/internal/logger"
	"github.com/driftworks/conduit/internal/supervisor"
)

// State is a shared server's lifecycle state.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateHealthy    State = "healthy"
	StateUnhealthy  State = "unhealthy"
	StateStopped    State = "stopped"
)

// AllStates lists every State, for metrics gauges that need to zero out
// the states a server is not currently in.
var AllStates = []string{
	string(StateNotStarted), string(StateStarting), string(StateHealthy),
	string(StateUnhealthy), string(StateStopped),
}

// HealthCheck probes whether the server at addr is ready to serve.
type HealthCheck func(ctx context.Context, addr string) (bool, error)

// Spawner starts the server process listening on port and returns a
// supervised handle to it.
type Spawner func(ctx context.Context, port int) (*supervisor.Process, error)

// Manager owns one shared server's lifecycle: starting it on demand,
// probing its health on an interval, and restarting it if it goes
// unhealthy or exits.
type Manager struct {
	kind        string
	portMin     int
	portMax     int
	healthCheck HealthCheck
	spawn       Spawner
	probeEvery  time.Duration
	probeWithin time.Duration

	mu      sync.Mutex
	state   State
	addr    string
	process *supervisor.Process
	stopCh  chan struct{}
}

// New constructs a shared server manager for one agent kind.
func New(kind string, portMin, portMax int, spawn Spawner, check HealthCheck, probeEvery, probeWithin time.Duration) *Manager {
	return &Manager{
		kind:        kind,
		portMin:     portMin,
		portMax:     portMax,
		spawn:       spawn,
		healthCheck: check,
		probeEvery:  probeEvery,
		probeWithin: probeWithin,
		state:       StateNotStarted,
	}
}

// Ensure starts the server if it isn't already running and healthy, and
// returns its address once ready.
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state == StateHealthy {
		addr := m.addr
		m.mu.Unlock()
		return addr, nil
	}
	if m.state == StateStarting {
		m.mu.Unlock()
		return "", fmt.Errorf("sharedserver: %s is already starting", m.kind)
	}
	m.state = StateStarting
	m.mu.Unlock()

	port, err := m.allocatePort()
	if err != nil {
		m.setState(StateNotStarted)
		return "", fmt.Errorf("sharedserver: %w", err)
	}

	proc, err := m.spawn(ctx, port)
	if err != nil {
		m.setState(StateNotStarted)
		return "", fmt.Errorf("sharedserver: spawn %s: %w", m.kind, err)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	if err := m.waitHealthy(ctx, addr); err != nil {
		_ = proc.Stop()
		m.setState(StateNotStarted)
		return "", fmt.Errorf("sharedserver: %s failed health check: %w", m.kind, err)
	}

	m.mu.Lock()
	m.process = proc
	m.addr = addr
	m.state = StateHealthy
	stopCh := make(chan struct{})
	m.stopCh = stopCh
	m.mu.Unlock()

	go m.monitor(stopCh, proc, addr)
	return addr, nil
}

func (m *Manager) waitHealthy(ctx context.Context, addr string) error {
	deadline := time.Now().Add(m.probeWithin)
	for time.Now().Before(deadline) {
		ok, err := m.healthCheck(ctx, addr)
		if err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.probeEvery):
		}
	}
	return fmt.Errorf("timed out waiting for health")
}

// monitor re-probes health on an interval and demotes the server to
// unhealthy (and eventually not_started, so the next Ensure respawns it)
// if probing fails or the process exits.
func (m *Manager) monitor(stopCh chan struct{}, proc *supervisor.Process, addr string) {
	ticker := time.NewTicker(m.probeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-proc.Done():
			logger.Warn("sharedserver: %s process exited unexpectedly", m.kind)
			m.setState(StateNotStarted)
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.probeEvery)
			ok, err := m.healthCheck(ctx, addr)
			cancel()
			if err != nil || !ok {
				m.setState(StateUnhealthy)
				continue
			}
			m.setState(StateHealthy)
		}
	}
}

// Stop tears down the running server, if any.
func (m *Manager) Stop() error {
	m.mu.Lock()
	proc := m.process
	stopCh := m.stopCh
	m.process = nil
	m.state = StateStopped
	m.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if proc == nil {
		return nil
	}
	return proc.Stop()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// allocatePort finds a free TCP port in [portMin, portMax] by briefly
// binding to each candidate.
func (m *Manager) allocatePort() (int, error) {
	for port := m.portMin; port <= m.portMax; port++ {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}
		_ = l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in [%d, %d]", m.portMin, m.portMax)
}
