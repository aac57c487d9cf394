// Package anthropic adapts transport.Client to the Anthropic Claude Messages
// API using github.com/anthropics/anthropic-sdk-go, translating streaming
// message events into transport.Chunk deltas. Grounded on
// features/model/anthropic/{client.go,stream.go} of the teacher repo; cut
// down to the subset transport.Request/Chunk actually need (no thinking
// blocks, no provider-name sanitization, since ToolSpec.Name is already
// wire-safe in this runtime).
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/busterhq/agentcore/agent/transport"
)

// MessagesClient is the subset of the Anthropic SDK client the adapter
// depends on, satisfied by *sdk.MessageService so tests can substitute a
// fake.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements transport.Client on top of Anthropic Claude Messages.
type Client struct {
	msg         MessagesClient
	maxTokens   int
	temperature float64
}

// New builds an Anthropic-backed transport client. maxTokens is the
// completion cap applied to every request; it must be positive.
func New(msg MessagesClient, maxTokens int, temperature float64) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: maxTokens must be positive")
	}
	return &Client{msg: msg, maxTokens: maxTokens, temperature: temperature}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport,
// reading ANTHROPIC_API_KEY-style defaults via option.WithAPIKey.
func NewFromAPIKey(apiKey string, maxTokens int, temperature float64) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	sdkClient := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Messages, maxTokens, temperature)
}

func (c *Client) StreamChatCompletion(ctx context.Context, req transport.Request) (transport.Receiver, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: messages.new stream: %w", err)
	}
	return newStreamer(ctx, stream), nil
}

func (c *Client) buildParams(req transport.Request) (*sdk.MessageNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := c.maxTokens
	params := &sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(req.Model),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if tc, ok := encodeToolChoice(req.ToolChoice); ok {
		params.ToolChoice = tc
	}
	return params, nil
}

func encodeMessages(msgs []transport.WireMessage) ([]sdk.MessageParam, string, error) {
	var system strings.Builder
	conversation := make([]sdk.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case "developer", "system":
			if m.Text != "" {
				if system.Len() > 0 {
					system.WriteString("\n")
				}
				system.WriteString(m.Text)
			}
		case "user":
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		case "assistant":
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Text))
			}
			for _, tc := range m.ToolCalls {
				var input any = json.RawMessage(tc.Arguments)
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		case "tool":
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Text, false)))
		default:
			return nil, "", fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, "", errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system.String(), nil
}

func encodeTools(specs []transport.ToolSpec) []sdk.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: s.Schema}, s.Name)
		if u.OfTool != nil && s.Description != "" {
			u.OfTool.Description = sdk.String(s.Description)
		}
		out = append(out, u)
	}
	return out
}

func encodeToolChoice(choice transport.ToolChoice) (sdk.ToolChoiceUnionParam, bool) {
	switch choice {
	case transport.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, true
	case transport.ToolChoiceRequired:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, true
	default:
		return sdk.ToolChoiceUnionParam{}, false
	}
}

// streamer adapts an Anthropic SSE stream into transport.Receiver, buffering
// tool-call JSON fragments per content-block index the way
// features/model/anthropic/stream.go does.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan transport.Chunk

	errMu sync.Mutex
	err   error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan transport.Chunk, 32)}
	go s.run()
	return s
}

func (s *streamer) Recv(ctx context.Context) (transport.Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if ok {
			return c, nil
		}
		if e := s.getErr(); e != nil {
			return transport.Chunk{}, e
		}
		return transport.Chunk{}, io.EOF
	case <-ctx.Done():
		return transport.Chunk{}, ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamer) getErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	toolIndex := map[int]string{} // content-block index -> tool call id
	msgID := ""

	emit := func(c transport.Chunk) bool {
		c.ID = msgID
		select {
		case s.chunks <- c:
			return true
		case <-s.ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
			}
			return
		}
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.MessageStartEvent:
			msgID = ev.Message.ID

		case sdk.ContentBlockStartEvent:
			idx := int(ev.Index)
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolIndex[idx] = toolUse.ID
				index := idx
				name := toolUse.Name
				id := toolUse.ID
				callType := "function"
				if !emit(transport.Chunk{Delta: transport.Delta{ToolCalls: []transport.ToolCallFragment{
					{ID: &id, Name: &name, CallType: &callType, Index: &index},
				}}}) {
					return
				}
			}

		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				text := delta.Text
				if !emit(transport.Chunk{Delta: transport.Delta{Content: &text}}) {
					return
				}
			case sdk.InputJSONDelta:
				if delta.PartialJSON == "" {
					continue
				}
				id, ok := toolIndex[idx]
				if !ok {
					continue
				}
				args := delta.PartialJSON
				index := idx
				if !emit(transport.Chunk{Delta: transport.Delta{ToolCalls: []transport.ToolCallFragment{
					{ID: &id, Arguments: &args, Index: &index},
				}}}) {
					return
				}
			}

		case sdk.MessageDeltaEvent:
			if string(ev.Delta.StopReason) != "" {
				reason := string(ev.Delta.StopReason)
				if !emit(transport.Chunk{FinishReason: &reason}) {
					return
				}
			}

		case sdk.MessageStopEvent:
			return
		}
	}
}
