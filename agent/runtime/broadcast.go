package runtime

import (
	"context"
	"sync"

	"github.com/busterhq/agentcore/agent/model"
	"github.com/busterhq/agentcore/telemetry"
)

// subscriberBufferSize bounds how many undelivered messages a slow
// subscriber may lag behind before the broadcaster starts dropping for it.
// This implements the broadcast semantics in spec §4.1: "a slow subscriber
// may miss messages."
const subscriberBufferSize = 256

type (
	// Envelope wraps one message delivered to a subscription, tagging it
	// with an error when the loop produced an in-band failure.
	Envelope struct {
		Message model.Message
		Err     error
	}

	// Subscription is a fan-out handle returned by ProcessThreadStreaming.
	// Multiple subscriptions may be registered against the same run.
	Subscription struct {
		ch     chan Envelope
		cancel func()
		once   sync.Once
	}

	broadcaster struct {
		mu     sync.Mutex
		subs   map[*Subscription]struct{}
		closed bool
		logger telemetry.Logger
	}
)

func newBroadcaster(logger telemetry.Logger) *broadcaster {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &broadcaster{subs: make(map[*Subscription]struct{}), logger: logger}
}

// subscribe registers a new fan-out channel. If the broadcaster has already
// been closed, the returned subscription's channel is immediately closed.
func (b *broadcaster) subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Envelope, subscriberBufferSize)}
	sub.cancel = func() { b.unsubscribe(sub) }

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
	}
}

// publish delivers env to every live subscriber. Delivery is non-blocking: a
// subscriber whose buffer is full is skipped and the drop is logged, per the
// "broadcasting to the event channel is non-blocking" resource policy.
func (b *broadcaster) publish(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- env:
		default:
			b.logger.Warn(context.Background(), "dropping message for slow subscriber")
		}
	}
}

// close permanently ends the broadcaster: every live subscriber's channel is
// closed (channel-closed semantics for Close()), and future publish calls
// become no-ops.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*Subscription]struct{})
}

// Messages returns the channel of delivered envelopes for this subscription.
func (s *Subscription) Messages() <-chan Envelope { return s.ch }

// Close unregisters the subscription from its broadcaster. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
