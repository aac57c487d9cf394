package runtime

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busterhq/agentcore/agent/mode"
	"github.com/busterhq/agentcore/agent/model"
	"github.com/busterhq/agentcore/agent/tools"
	"github.com/busterhq/agentcore/agent/transport"
)

// fakeReceiver replays a fixed chunk script, then io.EOF.
type fakeReceiver struct {
	chunks []transport.Chunk
	pos    int
}

func (r *fakeReceiver) Recv(_ context.Context) (transport.Chunk, error) {
	if r.pos >= len(r.chunks) {
		return transport.Chunk{}, io.EOF
	}
	c := r.chunks[r.pos]
	r.pos++
	return c, nil
}

func (r *fakeReceiver) Close() error { return nil }

// fakeClient returns one scripted receiver per call, falling back to the
// last script once exhausted.
type fakeClient struct {
	scripts [][]transport.Chunk
	calls   int
}

func (c *fakeClient) StreamChatCompletion(_ context.Context, _ transport.Request) (transport.Receiver, error) {
	idx := c.calls
	if idx >= len(c.scripts) {
		idx = len(c.scripts) - 1
	}
	c.calls++
	return &fakeReceiver{chunks: c.scripts[idx]}, nil
}

// fakeTool echoes a fixed JSON result for every call.
type fakeTool struct {
	name   string
	result string
}

func (t fakeTool) Name() string { return t.name }
func (t fakeTool) Schema() map[string]any {
	return map[string]any{"type": "object"}
}
func (t fakeTool) Execute(_ context.Context, _ json.RawMessage, _ string) (json.RawMessage, error) {
	return json.RawMessage(t.result), nil
}

func strPtr(s string) *string { return &s }

func drain(t *testing.T, sub *Subscription) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case env, ok := <-sub.Messages():
			if !ok {
				return out
			}
			out = append(out, env)
			if _, done := env.Message.(model.Done); done {
				return out
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for runtime envelopes")
		}
	}
}

// TestRunOneToolCallThenStop mirrors S1: a single non-terminating tool call
// followed by a plain assistant turn with no further tool calls.
func TestRunOneToolCallThenStop(t *testing.T) {
	toolCallChunk := transport.Chunk{
		ID: "msg_1",
		Delta: transport.Delta{ToolCalls: []transport.ToolCallFragment{{
			ID:        strPtr("call_1"),
			Name:      strPtr("get_weather"),
			CallType:  strPtr("function"),
			Arguments: strPtr("{}"),
		}}},
		FinishReason: strPtr("tool_calls"),
	}
	finalChunk := transport.Chunk{
		ID:           "msg_2",
		Delta:        transport.Delta{Content: strPtr("20F")},
		FinishReason: strPtr("stop"),
	}
	client := &fakeClient{scripts: [][]transport.Chunk{{toolCallChunk}, {finalChunk}}}

	provider := mode.ProviderFunc(func(ctx context.Context, state map[string]any) (mode.Configuration, error) {
		return mode.Configuration{
			SystemPrompt: "you are a weather bot",
			Model:        "test-model",
			ToolLoader: func(_ context.Context, agent mode.Agent) error {
				return agent.AddTool("get_weather", fakeTool{name: "get_weather", result: `{"temperature":20,"unit":"f"}`}, nil)
			},
			TerminatingTools: nil,
		}, nil
	})

	r := New(client, provider, 5)
	thread := &model.Thread{Messages: []model.Message{model.User{Text: "weather in X?"}}}
	sub := r.ProcessThreadStreaming(context.Background(), thread)
	envs := drain(t, sub)

	var toolMsgs, assistantMsgs int
	for _, e := range envs {
		switch m := e.Message.(type) {
		case model.Tool:
			toolMsgs++
			assert.Equal(t, "call_1", m.ToolCallID)
			assert.Equal(t, `{"temperature":20,"unit":"f"}`, m.Content)
		case model.Assistant:
			assistantMsgs++
		}
	}
	assert.Equal(t, 1, toolMsgs)
	assert.Equal(t, 2, assistantMsgs)
	require.NotEmpty(t, envs)
	_, lastIsDone := envs[len(envs)-1].Message.(model.Done)
	assert.True(t, lastIsDone, "Done must be the last envelope")
}

// TestRunRecursionCapTerminates mirrors S3: a mode that always requests a
// non-terminating tool hits the recursion cap and emits exactly one
// recursion-limit assistant message plus an error sentinel before Done.
func TestRunRecursionCapTerminates(t *testing.T) {
	loopChunk := transport.Chunk{
		ID: "msg",
		Delta: transport.Delta{ToolCalls: []transport.ToolCallFragment{{
			ID:        strPtr("call_loop"),
			Name:      strPtr("loop_tool"),
			CallType:  strPtr("function"),
			Arguments: strPtr("{}"),
		}}},
		FinishReason: strPtr("tool_calls"),
	}
	client := &fakeClient{scripts: [][]transport.Chunk{{loopChunk}}}

	provider := mode.ProviderFunc(func(ctx context.Context, state map[string]any) (mode.Configuration, error) {
		return mode.Configuration{
			SystemPrompt: "never stop",
			Model:        "test-model",
			ToolLoader: func(_ context.Context, agent mode.Agent) error {
				return agent.AddTool("loop_tool", fakeTool{name: "loop_tool", result: "{}"}, nil)
			},
		}, nil
	})

	r := New(client, provider, 2)
	thread := &model.Thread{Messages: []model.Message{model.User{Text: "go"}}}
	sub := r.ProcessThreadStreaming(context.Background(), thread)
	envs := drain(t, sub)

	var sawLimitMessage bool
	var sawErr bool
	assistantComplete := 0
	for _, e := range envs {
		if asst, ok := e.Message.(model.Assistant); ok {
			if asst.Progress == model.Complete && len(asst.ToolCalls) > 0 {
				assistantComplete++
			}
			if asst.Text == "Maximum recursion depth (2) reached." {
				sawLimitMessage = true
			}
		}
		if e.Err != nil {
			sawErr = true
		}
	}
	assert.Equal(t, 2, assistantComplete)
	assert.True(t, sawLimitMessage)
	assert.True(t, sawErr)
	_, lastIsDone := envs[len(envs)-1].Message.(model.Done)
	assert.True(t, lastIsDone)
}

// TestRunParallelToolCallsMergeByIndexWithoutID mirrors real OpenAI-style
// streaming: the first fragment of each parallel call carries an id, but
// later argument-continuation fragments omit it and must be routed back to
// the right pendingCall by declared array index rather than the
// single-in-progress heuristic.
func TestRunParallelToolCallsMergeByIndexWithoutID(t *testing.T) {
	idx0, idx1 := 0, 1
	chunks := []transport.Chunk{
		{
			ID: "msg_1",
			Delta: transport.Delta{ToolCalls: []transport.ToolCallFragment{
				{ID: strPtr("call_0"), Index: &idx0, Name: strPtr("tool_a"), CallType: strPtr("function"), Arguments: strPtr(`{"a":`)},
				{ID: strPtr("call_1"), Index: &idx1, Name: strPtr("tool_b"), CallType: strPtr("function"), Arguments: strPtr(`{"b":`)},
			}},
		},
		{
			ID: "msg_1",
			Delta: transport.Delta{ToolCalls: []transport.ToolCallFragment{
				{Index: &idx1, Arguments: strPtr(`2}`)},
				{Index: &idx0, Arguments: strPtr(`1}`)},
			}},
			FinishReason: strPtr("tool_calls"),
		},
	}
	client := &fakeClient{scripts: [][]transport.Chunk{chunks}}

	provider := mode.ProviderFunc(func(ctx context.Context, state map[string]any) (mode.Configuration, error) {
		return mode.Configuration{
			SystemPrompt: "call two tools",
			Model:        "test-model",
			ToolLoader: func(_ context.Context, agent mode.Agent) error {
				if err := agent.AddTool("tool_a", fakeTool{name: "tool_a", result: "{}"}, nil); err != nil {
					return err
				}
				return agent.AddTool("tool_b", fakeTool{name: "tool_b", result: "{}"}, nil)
			},
			TerminatingTools: []string{"tool_a", "tool_b"},
		}, nil
	})

	r := New(client, provider, 3)
	thread := &model.Thread{Messages: []model.Message{model.User{Text: "do both"}}}
	sub := r.ProcessThreadStreaming(context.Background(), thread)
	envs := drain(t, sub)

	argsByCall := map[string]string{}
	for _, e := range envs {
		if asst, ok := e.Message.(model.Assistant); ok {
			for _, tc := range asst.ToolCalls {
				argsByCall[tc.CallID] = tc.Arguments
			}
		}
	}
	assert.Equal(t, `{"a":1}`, argsByCall["call_0"])
	assert.Equal(t, `{"b":2}`, argsByCall["call_1"])
}

var _ tools.Tool = fakeTool{}
