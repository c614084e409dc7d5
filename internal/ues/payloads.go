package ues

// Payload types for each EventType in the closed vocabulary (spec.md
// section 4.1's payload summary column). Event.Payload holds exactly one
// of these depending on Event.Type.

// SessionStartedPayload is carried by EventSessionStarted.
type SessionStartedPayload struct {
	AgentKind  string `json:"agent_kind"`
	Model      string `json:"model,omitempty"`
	WorkingDir string `json:"working_dir"`
}

// EndReason is the closed set of reasons a session can end.
type EndReason string

const (
	EndCompleted   EndReason = "completed"
	EndError       EndReason = "error"
	EndTerminated  EndReason = "terminated"
	EndAgentExited EndReason = "agent-exited"
)

// SessionEndedPayload is carried by EventSessionEnded.
type SessionEndedPayload struct {
	Reason   EndReason `json:"reason"`
	ExitCode *int      `json:"exit_code,omitempty"`
}

// TurnStartedPayload is carried by EventTurnStarted.
type TurnStartedPayload struct {
	TurnID        string `json:"turn_id"`
	UserMessageID string `json:"user_message_id"`
}

// TurnOutcome is the closed set of turn outcomes.
type TurnOutcome string

const (
	TurnOutcomeOK     TurnOutcome = "ok"
	TurnOutcomeFailed TurnOutcome = "failed"
)

// TurnEndedPayload is carried by EventTurnEnded.
type TurnEndedPayload struct {
	TurnID  string      `json:"turn_id"`
	Outcome TurnOutcome `json:"outcome"`
}

// ItemKind is the closed set of item kinds (spec.md section 3).
type ItemKind string

const (
	ItemMessage    ItemKind = "message"
	ItemToolCall   ItemKind = "tool_call"
	ItemToolResult ItemKind = "tool_result"
	ItemReasoning  ItemKind = "reasoning"
	ItemStatus     ItemKind = "status"
	ItemFile       ItemKind = "file"
	ItemImage      ItemKind = "image"
	ItemErrorKind  ItemKind = "error"
)

// ItemStartedPayload is carried by EventItemStarted.
type ItemStartedPayload struct {
	ItemID   string   `json:"item_id"`
	Kind     ItemKind `json:"kind"`
	Role     string   `json:"role,omitempty"`
	ToolName string   `json:"tool_name,omitempty"`
}

// DeltaKind distinguishes the shape of an item.delta fragment.
type DeltaKind string

const (
	DeltaText       DeltaKind = "text"
	DeltaReasoning  DeltaKind = "reasoning"
	DeltaToolChunk  DeltaKind = "tool_progress"
)

// ItemDeltaPayload is carried by EventItemDelta.
type ItemDeltaPayload struct {
	ItemID string    `json:"item_id"`
	Kind   DeltaKind `json:"kind"`
	Text   string    `json:"text,omitempty"`
}

// ItemMetadata carries optional cost/token accounting on completion.
type ItemMetadata struct {
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// ItemCompletedPayload is carried by EventItemCompleted (and reused,
// with Failed=true, for the failure case in spec.md section 3 — item
// status "failed").
type ItemCompletedPayload struct {
	ItemID   string        `json:"item_id"`
	Failed   bool          `json:"failed,omitempty"`
	Final    string        `json:"final,omitempty"`
	Metadata *ItemMetadata `json:"metadata,omitempty"`
}

// QuestionRequestedPayload is carried by EventQuestionRequested.
type QuestionRequestedPayload struct {
	RequestID  string   `json:"request_id"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options,omitempty"`
	MultiSelect bool    `json:"multi_select,omitempty"`
}

// QuestionRejected is the sentinel answer set signaling a rejection.
var QuestionRejected []string = nil

// QuestionResolvedPayload is carried by EventQuestionResolved.
type QuestionResolvedPayload struct {
	RequestID string   `json:"request_id"`
	Answers   []string `json:"answers,omitempty"`
	Rejected  bool     `json:"rejected,omitempty"`
}

// PermissionRequestedPayload is carried by EventPermissionRequest.
type PermissionRequestedPayload struct {
	RequestID string            `json:"request_id"`
	Action    string            `json:"action"`
	Patterns  []string          `json:"patterns,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PermissionReply is the closed set of permission resolutions.
type PermissionReply string

const (
	PermissionOnce   PermissionReply = "once"
	PermissionAlways PermissionReply = "always"
	PermissionReject PermissionReply = "reject"
)

// PermissionResolvedPayload is carried by EventPermissionResolve.
type PermissionResolvedPayload struct {
	RequestID string          `json:"request_id"`
	Reply     PermissionReply `json:"reply"`
}

// ErrorKind is the closed set of error kinds surfaced as events (spec.md
// section 7 — only the kinds that get recorded as an `error` event).
type ErrorKind string

const (
	ErrorSpawn       ErrorKind = "spawn"
	ErrorCredentials ErrorKind = "credentials"
	ErrorTimeout     ErrorKind = "timeout"
	ErrorInternal    ErrorKind = "internal"
)

// ErrorPayload is carried by EventError.
type ErrorPayload struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Raw     map[string]any `json:"raw,omitempty"`
}

// AgentUnparsedPayload is carried by EventAgentUnparsed. The raw record is
// preserved verbatim, never dropped, per spec.md section 4.1 design rule 3.
type AgentUnparsedPayload struct {
	Raw []byte `json:"raw"`
}
