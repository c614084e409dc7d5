package session

import (
	"time"

	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/ues"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session is the Session Manager's authoritative record for one agent
// session (spec.md section 3's "Session" entity). The event log itself
// lives in the owning activeSession's EventBuffer, not here.
type Session struct {
	SessionID        string    `json:"session_id"`
	Kind             agent.Kind `json:"kind"`
	WorkingDir       string    `json:"working_dir"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	EndReason        ues.EndReason `json:"end_reason,omitempty"`
	RuntimeSessionID string    `json:"runtime_session_id,omitempty"`

	Model          string `json:"model,omitempty"`
	AutonomyLevel  string `json:"autonomy_level,omitempty"`
	ReasoningLevel string `json:"reasoning_level,omitempty"`

	// Recursion hierarchy: a sub-agent session spawned for a tool call
	// within a parent session's turn.
	ParentSessionID string   `json:"parent_session_id,omitempty"`
	ChildSessions   []string `json:"child_sessions,omitempty"`
	Depth           int      `json:"depth"`

	ToolsAllowed    []string `json:"tools_allowed,omitempty"`
	ToolsDisallowed []string `json:"tools_disallowed,omitempty"`
}

// SessionSummary is the lightweight view returned by list_sessions.
type SessionSummary struct {
	SessionID  string     `json:"session_id"`
	Kind       agent.Kind `json:"kind"`
	Status     Status     `json:"status"`
	Ended      bool       `json:"ended"`
	EventCount int        `json:"event_count"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ToSummary converts a Session to its SessionSummary, given the current
// event count from its EventBuffer.
func (s *Session) ToSummary(eventCount int) *SessionSummary {
	return &SessionSummary{
		SessionID:  s.SessionID,
		Kind:       s.Kind,
		Status:     s.Status,
		Ended:      s.Status == StatusEnded,
		EventCount: eventCount,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

// StartOptions carries everything create_session needs beyond the id.
type StartOptions struct {
	Kind   agent.Kind
	Prompt string

	WorkingDir     string
	Model          string
	AutonomyLevel  string
	ReasoningLevel string
	SystemPrompt   string

	ToolsAllowed    []string
	ToolsDisallowed []string

	// ParentSessionID/Depth identify a sub-agent session spawned for a
	// tool call within an existing session's turn.
	ParentSessionID string
	Depth           int
}
