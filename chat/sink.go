package chat

import "context"

// Sink receives Container events as the orchestrator produces them. Grounded
// on the teacher's runtime/agent/stream.Sink / pulse publisher pattern: a
// narrow push interface the orchestrator depends on, decoupled from any one
// transport.
type Sink interface {
	Push(ctx context.Context, c Container)
}

// ChannelSink is the in-process Sink used by cmd/agentdemo and tests: it
// forwards every Container onto a buffered channel and closes it when Close
// is called.
type ChannelSink struct {
	ch chan Container
}

// NewChannelSink returns a ChannelSink with the given channel buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Container, buffer)}
}

func (s *ChannelSink) Push(_ context.Context, c Container) {
	s.ch <- c
}

// Containers returns the receive side of the sink's channel.
func (s *ChannelSink) Containers() <-chan Container { return s.ch }

// Close closes the underlying channel. The caller must ensure no further
// Push calls are in flight.
func (s *ChannelSink) Close() { close(s.ch) }
