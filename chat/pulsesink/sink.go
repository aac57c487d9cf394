// Package pulsesink implements chat.Sink on top of goa.design/pulse streams,
// publishing every Container onto a per-chat Redis stream for SSE/WS fan-out.
// Grounded on features/stream/pulse/{clients/pulse/client.go,sink.go} from the
// teacher repo: the same two-layer shape (a thin Client/Stream wrapper around
// *redis.Client, then a Sink that derives a stream name, builds a JSON
// envelope, and publishes via Stream.Add), adapted from stream.Event's
// RunID/SessionID/Type/Payload to chat.Container's ChatKey/MessageID pair.
package pulsesink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/busterhq/agentcore/chat"
)

// Client exposes the subset of Pulse operations the sink depends on, mirroring
// the teacher's clients/pulse.Client so tests can substitute a fake instead of
// a live Redis connection.
type Client interface {
	Stream(name string) (Stream, error)
	Close(ctx context.Context) error
}

// Stream publishes entries onto one named Pulse stream.
type Stream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
}

// Options configures a Pulse-backed client.
type Options struct {
	// Redis is the connection used to back Pulse streams. Required.
	Redis *redis.Client
	// StreamMaxLen bounds the number of entries kept per stream. Zero uses
	// Pulse defaults.
	StreamMaxLen int
}

type client struct {
	redis  *redis.Client
	maxLen int

	mu      sync.Mutex
	streams map[string]*streaming.Stream
}

// New constructs a Pulse client backed by the given Redis connection.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulsesink: redis client is required")
	}
	return &client{redis: opts.Redis, maxLen: opts.StreamMaxLen, streams: map[string]*streaming.Stream{}}, nil
}

func (c *client) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulsesink: stream name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.streams[name]; ok {
		return &handle{stream: s}, nil
	}
	var opts []streamopts.Stream
	if c.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	s, err := streaming.NewStream(name, c.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulsesink: create stream %q: %w", name, err)
	}
	c.streams[name] = s
	return &handle{stream: s}, nil
}

func (c *client) Close(_ context.Context) error { return nil }

type handle struct {
	stream *streaming.Stream
}

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulsesink: add: %w", err)
	}
	return id, nil
}

// Envelope is the wire shape published onto a Pulse stream, mirroring the
// teacher's stream.Envelope adapted to chat.Container's identifiers.
type Envelope struct {
	Type      string    `json:"type"`
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Sink publishes chat.Container values onto Pulse streams named
// "chat/<ChatID>", one stream per chat so a browser tab can subscribe to just
// its own conversation.
type Sink struct {
	client Client

	mu  sync.Mutex
	err error
}

// NewSink constructs a Pulse-backed chat.Sink.
func NewSink(c Client) (*Sink, error) {
	if c == nil {
		return nil, errors.New("pulsesink: client is required")
	}
	return &Sink{client: c}, nil
}

var _ chat.Sink = (*Sink)(nil)

// Push implements chat.Sink. Publish failures are recorded rather than
// panicking, since Sink.Push has no error return; callers that need to
// observe a failed publish should check Err after the run completes.
func (s *Sink) Push(ctx context.Context, c chat.Container) {
	chatID, messageID := c.ChatKey()
	handle, err := s.client.Stream(streamName(chatID))
	if err != nil {
		s.setErr(err)
		return
	}
	env := Envelope{
		Type:      eventType(c),
		ChatID:    chatID,
		MessageID: messageID,
		Timestamp: time.Now().UTC(),
		Payload:   c,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		s.setErr(err)
		return
	}
	if _, err := handle.Add(ctx, env.Type, payload); err != nil {
		s.setErr(err)
	}
}

// Err returns the most recent publish error, if any.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Sink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func streamName(chatID string) string { return fmt.Sprintf("chat/%s", chatID) }

// eventType derives the Pulse event name from the Container's concrete type,
// e.g. chat.ChatText -> "chat_text".
func eventType(c chat.Container) string {
	name := reflect.TypeOf(c).String()
	if idx := lastDot(name); idx >= 0 {
		name = name[idx+1:]
	}
	return toSnakeCase(name)
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

func toSnakeCase(s string) string {
	out := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c = c - 'A' + 'a'
		}
		out = append(out, c)
	}
	return string(out)
}
