package pulsesink

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busterhq/agentcore/chat"
)

func TestStreamNameIsNamespacedByChat(t *testing.T) {
	assert.Equal(t, "chat/abc123", streamName("abc123"))
}

func TestEventTypeSnakeCasesConcreteTypeName(t *testing.T) {
	assert.Equal(t, "chat_text", eventType(chat.ChatText{}))
	assert.Equal(t, "reasoning_pill", eventType(chat.ReasoningPill{}))
}

func TestToSnakeCaseHandlesLeadingUppercase(t *testing.T) {
	assert.Equal(t, "chat_file", toSnakeCase("ChatFile"))
	assert.Equal(t, "chat", toSnakeCase("Chat"))
}

func TestNewRejectsMissingRedis(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNewSinkRejectsNilClient(t *testing.T) {
	_, err := NewSink(nil)
	assert.Error(t, err)
}

// fakeClient and fakeStream let Push be exercised without a live Redis
// connection, mirroring the Client/Stream seams above.
type fakeClient struct {
	streams map[string]*fakeStream
	failErr error
}

func newFakeClient() *fakeClient { return &fakeClient{streams: map[string]*fakeStream{}} }

func (f *fakeClient) Stream(name string) (Stream, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	s, ok := f.streams[name]
	if !ok {
		s = &fakeStream{}
		f.streams[name] = s
	}
	return s, nil
}

func (f *fakeClient) Close(_ context.Context) error { return nil }

type fakeStream struct {
	events   []string
	payloads [][]byte
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.events = append(s.events, event)
	s.payloads = append(s.payloads, payload)
	return "1-0", nil
}

// Only package chat itself can set a Container's ChatID/MessageID (the base
// struct embedding them is unexported), so Push is exercised here against the
// zero-valued ChatKey a composite literal from outside the package can still
// produce.
func TestPushPublishesEnvelopeOnChatStream(t *testing.T) {
	fc := newFakeClient()
	sink, err := NewSink(fc)
	require.NoError(t, err)

	sink.Push(context.Background(), chat.ChatText{})

	require.NoError(t, sink.Err())
	stream, ok := fc.streams["chat/"]
	require.True(t, ok)
	require.Len(t, stream.events, 1)
	assert.Equal(t, "chat_text", stream.events[0])

	var env Envelope
	require.NoError(t, json.Unmarshal(stream.payloads[0], &env))
	assert.Equal(t, "chat_text", env.Type)
}

func TestPushRecordsStreamLookupError(t *testing.T) {
	fc := newFakeClient()
	fc.failErr = assert.AnError
	sink, err := NewSink(fc)
	require.NoError(t, err)

	sink.Push(context.Background(), chat.ChatText{})

	assert.ErrorIs(t, sink.Err(), assert.AnError)
}
