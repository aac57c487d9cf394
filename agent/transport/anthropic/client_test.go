package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busterhq/agentcore/agent/transport"
)

// fakeMessagesClient satisfies MessagesClient without reaching the network;
// its NewStreaming is never invoked by the tests below, which only exercise
// the constructor and the pure encode/decode helpers.
type fakeMessagesClient struct{}

func (fakeMessagesClient) NewStreaming(_ context.Context, _ sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	return nil
}

func TestNewRejectsMissingClient(t *testing.T) {
	_, err := New(nil, 1024, 0)
	assert.Error(t, err)
}

func TestNewRejectsNonPositiveMaxTokens(t *testing.T) {
	_, err := New(fakeMessagesClient{}, 0, 0)
	assert.Error(t, err)
}

func TestNewAcceptsValidConfiguration(t *testing.T) {
	c, err := New(fakeMessagesClient{}, 1024, 0.5)
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestEncodeMessagesSeparatesSystemFromConversation(t *testing.T) {
	msgs, system, err := encodeMessages([]transport.WireMessage{
		{Role: "system", Text: "be terse"},
		{Role: "user", Text: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "be terse", system)
	assert.Len(t, msgs, 1)
}

func TestEncodeMessagesRequiresAtLeastOneConversationMessage(t *testing.T) {
	_, _, err := encodeMessages([]transport.WireMessage{{Role: "system", Text: "only system"}})
	assert.Error(t, err)
}

func TestEncodeMessagesAssistantToolCallBecomesToolUseBlock(t *testing.T) {
	msgs, _, err := encodeMessages([]transport.WireMessage{
		{Role: "user", Text: "do the thing"},
		{Role: "assistant", ToolCalls: []transport.WireToolCall{{ID: "call_1", Name: "search", Arguments: `{"q":"x"}`}}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestEncodeMessagesUnsupportedRoleErrors(t *testing.T) {
	_, _, err := encodeMessages([]transport.WireMessage{
		{Role: "user", Text: "hi"},
		{Role: "bogus", Text: "??"},
	})
	assert.Error(t, err)
}

func TestEncodeToolsCarriesSchemaAndDescription(t *testing.T) {
	out := encodeTools([]transport.ToolSpec{
		{Name: "search", Description: "search the catalog", Schema: map[string]any{"type": "object"}},
	})
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfTool)
	assert.Equal(t, "search", out[0].OfTool.Name)
}

func TestEncodeToolChoiceNoneIsExplicit(t *testing.T) {
	_, ok := encodeToolChoice(transport.ToolChoiceNone)
	assert.True(t, ok)
}

func TestEncodeToolChoiceAutoIsLeftUnset(t *testing.T) {
	_, ok := encodeToolChoice(transport.ToolChoiceAuto)
	assert.False(t, ok)
}

func TestBuildParamsRequiresModel(t *testing.T) {
	c, err := New(fakeMessagesClient{}, 1024, 0)
	require.NoError(t, err)
	_, err = c.buildParams(transport.Request{Messages: []transport.WireMessage{{Role: "user", Text: "hi"}}})
	assert.Error(t, err)
}
