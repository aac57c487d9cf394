// Package openai adapts transport.Client to the OpenAI Chat Completions API
// using the official github.com/openai/openai-go SDK. Grounded on
// pkg/llm/openailm/client.go from the genesis reference repo, which streams
// the same SDK's Chat.Completions.NewStreaming call and walks
// ChatCompletionChunk deltas; adapted here to transport.Chunk instead of that
// repo's own channel type, and to the one-index-per-fragment tool-call delta
// merge transport.Receiver expects.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/busterhq/agentcore/agent/transport"
)

// CompletionsClient is the subset of the SDK used by the adapter.
type CompletionsClient interface {
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Client implements transport.Client on top of OpenAI Chat Completions.
type Client struct {
	chat        CompletionsClient
	temperature float64
}

// New builds an OpenAI-backed transport client.
func New(chat CompletionsClient, temperature float64) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat completions client is required")
	}
	return &Client{chat: chat, temperature: temperature}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey string, temperature float64) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	sdkClient := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Chat.Completions, temperature)
}

func (c *Client) StreamChatCompletion(ctx context.Context, req transport.Request) (transport.Receiver, error) {
	if req.Model == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: encodeMessages(req.Messages),
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	// The runtime only ever requests transport.ToolChoiceAuto (see
	// agent/runtime/loop.go), which is this API's default, so ToolChoice is
	// left unset rather than guessed at for the less common modes.

	stream := c.chat.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: chat completions stream: %w", err)
	}
	return newStreamer(ctx, stream), nil
}

func encodeMessages(msgs []transport.WireMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "developer", "system":
			out = append(out, openai.SystemMessage(m.Text))
		case "user":
			out = append(out, openai.UserMessage(m.Text))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Text))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					},
				})
			}
			asst := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Text != "" {
				asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Text),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			out = append(out, openai.ToolMessage(m.Text, m.ToolCallID))
		}
	}
	return out
}

func encodeTools(specs []transport.ToolSpec) []openai.ChatCompletionToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, s := range specs {
		fn := shared.FunctionDefinitionParam{
			Name:       s.Name,
			Parameters: shared.FunctionParameters(s.Schema),
		}
		if s.Description != "" {
			fn.Description = openai.String(s.Description)
		}
		out = append(out, openai.ChatCompletionFunctionTool(fn))
	}
	return out
}

// streamer adapts an OpenAI chat-completion SSE stream into
// transport.Receiver, emitting one fragment per tool-call delta tagged with
// its delta index; the runtime merges fragments by that index.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[openai.ChatCompletionChunk]

	chunks chan transport.Chunk

	errMu sync.Mutex
	err   error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk]) *streamer {
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

	emit := func(c transport.Chunk) bool {
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
		if len(event.Choices) == 0 {
			continue
		}
		choice := event.Choices[0]
		delta := transport.Delta{}
		if choice.Delta.Content != "" {
			text := choice.Delta.Content
			delta.Content = &text
		}
		for _, tc := range choice.Delta.ToolCalls {
			frag := transport.ToolCallFragment{}
			idx := int(tc.Index)
			frag.Index = &idx
			if tc.ID != "" {
				id := tc.ID
				frag.ID = &id
			}
			if tc.Function.Name != "" {
				name := tc.Function.Name
				frag.Name = &name
				callType := "function"
				frag.CallType = &callType
			}
			if tc.Function.Arguments != "" {
				args := tc.Function.Arguments
				frag.Arguments = &args
			}
			delta.ToolCalls = append(delta.ToolCalls, frag)
		}

		chunk := transport.Chunk{ID: event.ID, Delta: delta}
		if choice.FinishReason != "" {
			reason := choice.FinishReason
			chunk.FinishReason = &reason
		}
		if !emit(chunk) {
			return
		}
	}
}
