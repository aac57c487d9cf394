// Package transport declares the LLM chat-completion streaming interface the
// agent runtime depends on. This interface is the entire external surface
// the core requires from an LLM client; concrete adapters (transport/
// anthropic, transport/openai) are domain-stack wiring, not part of the
// hard core (see SPEC_FULL.md §1, §6).
package transport

import (
	"context"
	"encoding/json"
)

// ToolChoice constrains which tools, if any, the model may call.
type ToolChoice string

const (
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNamed    ToolChoice = "named"
)

// WireMessage is the on-wire message shape sent to the transport. It mirrors
// agent/model.Message's four conversation cases without importing that
// package, keeping transport a leaf dependency.
type WireMessage struct {
	Role       string         `json:"role"`
	Text       string         `json:"text,omitempty"`
	ToolCalls  []WireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
}

// WireToolCall is a tool call as it appears in a WireMessage.
type WireToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec advertises one callable tool's name and JSON schema to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"parameters"`
}

// Metadata carries tracing/telemetry correlation identifiers for a request.
type Metadata struct {
	GenerationName string
	UserID         string
	SessionID      string
	TraceID        string
}

// Request is one streaming chat-completion request.
type Request struct {
	Model           string
	Messages        []WireMessage
	Tools           []ToolSpec
	ToolChoice      ToolChoice
	Stream          bool
	Metadata        Metadata
	ReasoningEffort string
}

// ToolCallFragment is a partial tool-call update within a chunk's delta. Any
// field may be absent on a given fragment; the runtime merges fragments by
// call id across the chunk stream.
type ToolCallFragment struct {
	ID        *string
	CallType  *string
	Name      *string
	Arguments *string
	Index     *int
}

// Delta is the incremental content of one chunk.
type Delta struct {
	Content   *string
	ToolCalls []ToolCallFragment
}

// Chunk is one unit of a streamed chat completion.
type Chunk struct {
	ID           string
	Delta        Delta
	FinishReason *string
}

// Receiver yields chunks from an in-flight streaming call.
type Receiver interface {
	// Recv blocks until the next chunk is available, the stream ends (err ==
	// io.EOF), or ctx is canceled.
	Recv(ctx context.Context) (Chunk, error)
	Close() error
}

// Client streams chat completions.
type Client interface {
	StreamChatCompletion(ctx context.Context, req Request) (Receiver, error)
}

// RawArguments marshals a tool call's arguments object into the accumulating
// JSON string convention used by agent/model.ToolCall.Arguments.
func RawArguments(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
