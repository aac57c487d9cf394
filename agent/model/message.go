// Package model defines the wire-level Message, ToolCall, and Thread types
// shared by the agent runtime and the chat orchestrator. Messages are
// modeled as a tagged variant over four cases plus two control sentinels,
// following the teacher's Part-interface idiom (goa-ai's runtime/agent/model)
// adapted from typed content parts to typed message cases.
package model

import "encoding/json"

// Progress tags whether an Assistant or Tool message is still accumulating
// streamed content or has reached its final, immutable form.
type Progress string

const (
	// InProgress marks a message that may still receive further deltas.
	InProgress Progress = "in_progress"
	// Complete marks a message that has reached its final content.
	Complete Progress = "complete"
)

type (
	// Message is implemented by every case in the tagged variant: Developer,
	// User, Assistant, Tool, Done, and Error.
	Message interface {
		isMessage()
	}

	// Developer is system/instruction text placed first in each LLM call.
	Developer struct {
		Text string
	}

	// User is user-supplied text.
	User struct {
		Text string
	}

	// Assistant is a (possibly partial) assistant turn: optional id, optional
	// text content, an ordered list of tool calls, a progress tag, and an
	// Initial flag set only on the first assistant chunk of a turn.
	Assistant struct {
		ID        string
		Text      string
		ToolCalls []ToolCall
		Progress  Progress
		Initial   bool

		// Reasoning carries provider "thinking" content when the transport
		// surfaces it. Additive beyond the distilled spec; see SPEC_FULL.md §3.
		Reasoning string
	}

	// Tool is a completed tool result message.
	Tool struct {
		ID         string
		Content    string
		ToolCallID string
		ToolName   string
		Progress   Progress
	}

	// Done is the terminal sentinel for a process_thread_streaming
	// subscription. Exactly one is ever emitted, and it is always last.
	Done struct{}

	// Error is a non-fatal, in-band error sentinel.
	Error struct {
		Message string
	}
)

func (Developer) isMessage() {}
func (User) isMessage()      {}
func (Assistant) isMessage() {}
func (Tool) isMessage()      {}
func (Done) isMessage()      {}
func (Error) isMessage()     {}

// ToolCall is a structured tool invocation request by the assistant.
// Arguments accumulate as streamed deltas arrive; the final value is a
// complete JSON string once the owning Assistant message reaches Complete.
type ToolCall struct {
	CallID       string
	FunctionName string
	Arguments    string
	CallType     string

	// Index is the provider's declared position of this call within the
	// tool_calls array. During chunk assembly a delta that arrives without
	// an id is routed to the pending call with the same Index before the
	// runtime falls back to the only pending call (see agent/runtime's
	// consumeChunks).
	Index *int
}

// Thread is an ordered sequence of messages for one conversation. Threads
// are mutated only by the agent runtime appending completed
// Assistant/Tool/User messages.
type Thread struct {
	ThreadID string
	UserID   string
	Messages []Message
}

// Append adds msg to the end of the thread.
func (t *Thread) Append(msg Message) { t.Messages = append(t.Messages, msg) }

// Clone returns a shallow copy of the thread with an independent backing
// slice, so appends made while a loop iteration is in flight do not race
// with a reader holding an older snapshot.
func (t *Thread) Clone() *Thread {
	out := &Thread{ThreadID: t.ThreadID, UserID: t.UserID}
	out.Messages = append(out.Messages, t.Messages...)
	return out
}

// MarshalMessage renders a Message for transcript/telemetry serialization. The
// wire shape carries an explicit "type" discriminator since Message is
// implemented by otherwise-undiscriminated Go structs.
func MarshalMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Developer:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{"developer", v.Text})
	case User:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{"user", v.Text})
	case Assistant:
		return json.Marshal(struct {
			Type      string     `json:"type"`
			ID        string     `json:"id,omitempty"`
			Text      string     `json:"text,omitempty"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
			Progress  Progress   `json:"progress"`
			Initial   bool       `json:"initial"`
		}{"assistant", v.ID, v.Text, v.ToolCalls, v.Progress, v.Initial})
	case Tool:
		return json.Marshal(struct {
			Type       string   `json:"type"`
			ID         string   `json:"id"`
			Content    string   `json:"content"`
			ToolCallID string   `json:"tool_call_id"`
			ToolName   string   `json:"tool_name"`
			Progress   Progress `json:"progress"`
		}{"tool", v.ID, v.Content, v.ToolCallID, v.ToolName, v.Progress})
	case Done:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{"done"})
	case Error:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{"error", v.Message})
	default:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{"unknown"})
	}
}

// MarshalThread renders every message in the thread for telemetry shipping.
func MarshalThread(t *Thread) ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(t.Messages))
	for _, m := range t.Messages {
		b, err := MarshalMessage(m)
		if err != nil {
			return nil, err
		}
		raws = append(raws, b)
	}
	return json.Marshal(raws)
}
