package agent

import (
	"context"

	"github.com/driftworks/conduit/internal/ues"
)

// Adapter is the contract every agent backend implements: start a session,
// send it messages, resolve its human-in-the-loop requests, and terminate
// it. The session manager never talks to a backend's native protocol
// directly — only through this interface.
type Adapter interface {
	// Start launches the backend and begins the first turn. It returns
	// once the backend has acknowledged the session (or accepted the
	// stdin prompt); it does not block for the turn to finish.
	Start(ctx context.Context, req *StartRequest) error

	// SendMessage delivers a follow-up user message to a running session.
	SendMessage(ctx context.Context, message string) error

	// ResolveHITL answers a pending question or permission request
	// previously surfaced as a ues.EventQuestionRequested or
	// ues.EventPermissionRequest event.
	ResolveHITL(ctx context.Context, requestID string, resolution HITLResolution) error

	// Terminate requests the backend stop, gracefully first and then
	// forcibly once its adapter-specific grace window elapses.
	Terminate(ctx context.Context) error

	// Events returns the channel of normalized events this adapter
	// emits for the lifetime of the session.
	Events() <-chan ues.Event

	// Done closes once the adapter has fully shut down. An adapter that
	// emits its own session.ended (the mock does, on Terminate) emits it
	// before Done closes; the others close without one, and the session
	// manager records a synthesized session.ended instead.
	Done() <-chan struct{}

	// Wait blocks until the adapter finishes and returns its terminal
	// error, if any.
	Wait() error

	// RuntimeSessionID returns the backend's own session identifier,
	// when it has one (e.g. an OpenCode or ACP session id), for
	// reference in logs and reconnect attempts.
	RuntimeSessionID() string

	// IsClosed reports whether the adapter has already been torn down.
	IsClosed() bool
}

// HITLResolution is how a pending question or permission request was
// answered.
type HITLResolution struct {
	// Answers holds the selected option(s) for a question; empty with
	// Rejected=true means the user declined to answer.
	Answers  []string
	Rejected bool

	// Reply is set when resolving a permission request instead of a
	// question.
	Reply ues.PermissionReply
}

// Factory constructs a new, unstarted Adapter for a given Kind.
type Factory func(cfg Config) (Adapter, error)
