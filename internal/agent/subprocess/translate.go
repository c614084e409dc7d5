package subprocess

import "github.com/driftworks/conduit/internal/ues"

// eventPair binds an event type to its payload for translate's return.
type eventPair struct {
	t       ues.EventType
	payload any
}

// translateFunc converts one decoded NDJSON record into zero or more
// normalized events. A nil return means the record didn't match any
// known shape for this family and should be surfaced as agent.unparsed
// by the caller.
type translateFunc func(record map[string]any) []eventPair

var translators = map[Family]translateFunc{
	FamilyClaudeCode: translateClaudeCode,
	FamilyCodex:      translateCodex,
	FamilyAmp:        translateAmp,
	FamilyCodebuff:   translateCodebuff,
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// translateClaudeCode handles Claude Code's `--output-format stream-json`
// records: "system" init, "assistant"/"user" message wrappers (Anthropic
// message shape, content blocks), and a terminal "result" record — the
// same shape the teacher's droid/parser.go decoded for its (differently
// sourced) single-shot result.
func translateClaudeCode(record map[string]any) []eventPair {
	switch str(record, "type") {
	case "system":
		return []eventPair{} // init record, carries no event-worthy state

	case "assistant", "user":
		msg, _ := record["message"].(map[string]any)
		if msg == nil {
			return nil
		}
		role := str(msg, "role")
		id := str(msg, "id")
		content, _ := msg["content"].([]any)

		var out []eventPair
		for _, blockAny := range content {
			block, ok := blockAny.(map[string]any)
			if !ok {
				continue
			}
			switch str(block, "type") {
			case "text":
				out = append(out,
					eventPair{ues.EventItemStarted, ues.ItemStartedPayload{ItemID: id, Kind: ues.ItemMessage, Role: role}},
					eventPair{ues.EventItemCompleted, ues.ItemCompletedPayload{ItemID: id, Final: str(block, "text")}},
				)
			case "tool_use":
				out = append(out, eventPair{ues.EventItemStarted, ues.ItemStartedPayload{
					ItemID: str(block, "id"), Kind: ues.ItemToolCall, ToolName: str(block, "name"),
				}})
			case "tool_result":
				failed, _ := block["is_error"].(bool)
				out = append(out, eventPair{ues.EventItemCompleted, ues.ItemCompletedPayload{
					ItemID: str(block, "tool_use_id"), Failed: failed, Final: str(block, "content"),
				}})
			}
		}
		return out

	case "result":
		isError, _ := record["is_error"].(bool)
		outcome := ues.TurnOutcomeOK
		if isError {
			outcome = ues.TurnOutcomeFailed
		}
		return []eventPair{{ues.EventTurnEnded, ues.TurnEndedPayload{Outcome: outcome}}}

	default:
		return nil
	}
}

// translateCodex handles `codex exec --json`'s event records, which carry
// a "msg" envelope with its own "type" discriminator.
func translateCodex(record map[string]any) []eventPair {
	msg, _ := record["msg"].(map[string]any)
	if msg == nil {
		return nil
	}
	switch str(msg, "type") {
	case "agent_message":
		return []eventPair{{ues.EventItemCompleted, ues.ItemCompletedPayload{Final: str(msg, "message")}}}
	case "agent_message_delta":
		return []eventPair{{ues.EventItemDelta, ues.ItemDeltaPayload{Kind: ues.DeltaText, Text: str(msg, "delta")}}}
	case "agent_reasoning":
		return []eventPair{{ues.EventItemCompleted, ues.ItemCompletedPayload{Final: str(msg, "text")}}}
	case "exec_command_begin":
		return []eventPair{{ues.EventItemStarted, ues.ItemStartedPayload{
			ItemID: str(msg, "call_id"), Kind: ues.ItemToolCall, ToolName: "exec_command",
		}}}
	case "exec_command_end":
		return []eventPair{{ues.EventItemCompleted, ues.ItemCompletedPayload{
			ItemID: str(msg, "call_id"), Final: str(msg, "stdout"),
		}}}
	case "error":
		return []eventPair{{ues.EventError, ues.ErrorPayload{Kind: ues.ErrorInternal, Message: str(msg, "message")}}}
	case "task_complete":
		return []eventPair{{ues.EventTurnEnded, ues.TurnEndedPayload{Outcome: ues.TurnOutcomeOK}}}
	default:
		return nil
	}
}

// translateAmp handles Amp's --stream-json output: a flat "type"
// discriminator similar in spirit to Claude Code's but without the
// Anthropic message-block nesting.
func translateAmp(record map[string]any) []eventPair {
	switch str(record, "type") {
	case "text":
		return []eventPair{{ues.EventItemCompleted, ues.ItemCompletedPayload{Final: str(record, "text")}}}
	case "tool_use":
		return []eventPair{{ues.EventItemStarted, ues.ItemStartedPayload{
			ItemID: str(record, "id"), Kind: ues.ItemToolCall, ToolName: str(record, "tool"),
		}}}
	case "tool_result":
		return []eventPair{{ues.EventItemCompleted, ues.ItemCompletedPayload{
			ItemID: str(record, "id"), Final: str(record, "output"),
		}}}
	case "done":
		return []eventPair{{ues.EventTurnEnded, ues.TurnEndedPayload{Outcome: ues.TurnOutcomeOK}}}
	case "error":
		return []eventPair{{ues.EventError, ues.ErrorPayload{Kind: ues.ErrorInternal, Message: str(record, "message")}}}
	default:
		return nil
	}
}

// translateCodebuff handles Codebuff's --output json event records.
func translateCodebuff(record map[string]any) []eventPair {
	switch str(record, "event") {
	case "assistant_message":
		return []eventPair{{ues.EventItemCompleted, ues.ItemCompletedPayload{Final: str(record, "content")}}}
	case "tool_call":
		return []eventPair{{ues.EventItemStarted, ues.ItemStartedPayload{
			ItemID: str(record, "id"), Kind: ues.ItemToolCall, ToolName: str(record, "name"),
		}}}
	case "tool_result":
		return []eventPair{{ues.EventItemCompleted, ues.ItemCompletedPayload{
			ItemID: str(record, "id"), Final: str(record, "result"),
		}}}
	case "complete":
		return []eventPair{{ues.EventTurnEnded, ues.TurnEndedPayload{Outcome: ues.TurnOutcomeOK}}}
	case "error":
		return []eventPair{{ues.EventError, ues.ErrorPayload{Kind: ues.ErrorInternal, Message: str(record, "message")}}}
	default:
		return nil
	}
}
