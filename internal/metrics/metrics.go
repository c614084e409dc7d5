// Package metrics exposes the daemon's Prometheus instrumentation: session
// lifecycle, adapter activity, event broadcaster health, and process/PTY
// resource usage.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive tracks currently active sessions by agent kind.
	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conduit_sessions_active",
			Help: "Number of active sessions",
		},
		[]string{"agent_kind"},
	)

	// SessionDuration tracks how long sessions run end-to-end.
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conduit_session_duration_seconds",
			Help:    "Session duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"agent_kind", "reason"},
	)

	// EventsEmitted counts events recorded into a session's log, by type.
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_events_emitted_total",
			Help: "Total number of events recorded to session logs",
		},
		[]string{"agent_kind", "event_type"},
	)

	// BroadcastDrops counts events dropped by the broadcaster because a
	// subscriber's channel was full.
	BroadcastDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_broadcast_drops_total",
			Help: "Total number of events dropped due to a full subscriber channel",
		},
		[]string{"session_id"},
	)

	// UnparsedEvents counts agent.unparsed events, by agent kind.
	UnparsedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_unparsed_events_total",
			Help: "Total number of unparsed agent output records",
		},
		[]string{"agent_kind"},
	)

	// AdapterStarts counts adapter start attempts and their outcome.
	AdapterStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_adapter_starts_total",
			Help: "Total number of adapter start attempts",
		},
		[]string{"agent_kind", "status"},
	)

	// SharedServerState reports the current state of each shared agent
	// server as a gauge (1 for the active state, 0 otherwise), so a single
	// query can reconstruct the daemon-wide state table.
	SharedServerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conduit_shared_server_state",
			Help: "Current state of a shared agent server (1 = active)",
		},
		[]string{"agent_kind", "state"},
	)

	// ProcessesRunning tracks processes currently managed by the supervisor.
	ProcessesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conduit_processes_running",
			Help: "Number of processes currently managed by the supervisor",
		},
	)

	// PTYsActive tracks currently open PTY sessions.
	PTYsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conduit_ptys_active",
			Help: "Number of currently open PTY sessions",
		},
	)

	// PTYSubscribers tracks attach_terminal subscriber count per PTY.
	PTYSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conduit_pty_subscribers",
			Help: "Number of terminal subscribers attached to a PTY",
		},
		[]string{"process_id"},
	)

	// PendingHITL tracks outstanding question/permission requests awaiting
	// resolution, by kind.
	PendingHITL = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conduit_pending_hitl",
			Help: "Number of outstanding human-in-the-loop requests",
		},
		[]string{"kind"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionStart increments the active session gauge.
func RecordSessionStart(agentKind string) {
	SessionsActive.WithLabelValues(agentKind).Inc()
}

// RecordSessionEnd decrements the active session gauge and records duration.
func RecordSessionEnd(agentKind, reason string, durationSeconds float64) {
	SessionsActive.WithLabelValues(agentKind).Dec()
	SessionDuration.WithLabelValues(agentKind, reason).Observe(durationSeconds)
}

// RecordEvent increments the per-type event counter.
func RecordEvent(agentKind, eventType string) {
	EventsEmitted.WithLabelValues(agentKind, eventType).Inc()
}

// RecordBroadcastDrop records a dropped event for a slow subscriber.
func RecordBroadcastDrop(sessionID string) {
	BroadcastDrops.WithLabelValues(sessionID).Inc()
}

// RecordUnparsed records an unparsed agent output record.
func RecordUnparsed(agentKind string) {
	UnparsedEvents.WithLabelValues(agentKind).Inc()
}

// RecordAdapterStart records the outcome of an adapter start attempt.
func RecordAdapterStart(agentKind, status string) {
	AdapterStarts.WithLabelValues(agentKind, status).Inc()
}

// SetSharedServerState sets the gauge for a shared server's current state,
// clearing the gauges for every other known state of that agent kind.
func SetSharedServerState(agentKind, state string, allStates []string) {
	for _, s := range allStates {
		if s == state {
			SharedServerState.WithLabelValues(agentKind, s).Set(1)
		} else {
			SharedServerState.WithLabelValues(agentKind, s).Set(0)
		}
	}
}

// SetProcessesRunning sets the running process count.
func SetProcessesRunning(count float64) {
	ProcessesRunning.Set(count)
}

// SetPTYsActive sets the active PTY count.
func SetPTYsActive(count float64) {
	PTYsActive.Set(count)
}

// SetPTYSubscribers sets the subscriber gauge for a given process id.
func SetPTYSubscribers(processID string, count float64) {
	PTYSubscribers.WithLabelValues(processID).Set(count)
}

// SetPendingHITL sets the pending-request gauge for a given kind
// ("question" or "permission").
func SetPendingHITL(kind string, count float64) {
	PendingHITL.WithLabelValues(kind).Set(count)
}
