package openai

import (
	"context"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busterhq/agentcore/agent/transport"
)

// fakeCompletionsClient satisfies CompletionsClient without reaching the
// network; its NewStreaming is never invoked by the tests below, which only
// exercise the constructor and the pure encode helpers.
type fakeCompletionsClient struct{}

func (fakeCompletionsClient) NewStreaming(_ context.Context, _ openai.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	return nil
}

func TestNewRejectsMissingClient(t *testing.T) {
	_, err := New(nil, 0)
	assert.Error(t, err)
}

func TestNewAcceptsValidConfiguration(t *testing.T) {
	c, err := New(fakeCompletionsClient{}, 0.3)
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestEncodeMessagesRoundTripsEachRole(t *testing.T) {
	out := encodeMessages([]transport.WireMessage{
		{Role: "system", Text: "be terse"},
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hello"},
		{Role: "tool", Text: "42", ToolCallID: "call_1"},
	})
	require.Len(t, out, 4)
}

func TestEncodeMessagesAssistantWithToolCallsCarriesFunctionPayload(t *testing.T) {
	out := encodeMessages([]transport.WireMessage{
		{Role: "user", Text: "do it"},
		{Role: "assistant", ToolCalls: []transport.WireToolCall{{ID: "call_1", Name: "search", Arguments: `{"q":"x"}`}}},
	})
	require.Len(t, out, 2)
	require.NotNil(t, out[1].OfAssistant)
	require.Len(t, out[1].OfAssistant.ToolCalls, 1)
	require.NotNil(t, out[1].OfAssistant.ToolCalls[0].OfFunction)
	assert.Equal(t, "search", out[1].OfAssistant.ToolCalls[0].OfFunction.Function.Name)
}

func TestEncodeToolsBuildsFunctionDefinitions(t *testing.T) {
	out := encodeTools([]transport.ToolSpec{
		{Name: "search", Description: "search the catalog", Schema: map[string]any{"type": "object"}},
	})
	require.Len(t, out, 1)
}

func TestEncodeToolsEmptyReturnsNil(t *testing.T) {
	assert.Nil(t, encodeTools(nil))
}

func TestStreamChatCompletionRequiresModel(t *testing.T) {
	c, err := New(fakeCompletionsClient{}, 0)
	require.NoError(t, err)
	_, err = c.StreamChatCompletion(context.Background(), transport.Request{
		Messages: []transport.WireMessage{{Role: "user", Text: "hi"}},
	})
	assert.Error(t, err)
}

func TestStreamChatCompletionRequiresMessages(t *testing.T) {
	c, err := New(fakeCompletionsClient{}, 0)
	require.NoError(t, err)
	_, err = c.StreamChatCompletion(context.Background(), transport.Request{Model: "gpt-4o"})
	assert.Error(t, err)
}
