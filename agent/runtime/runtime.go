// Package runtime implements the Agent Runtime: a generic, reusable loop
// that drives a conversation with an LLM over a streaming chat-completion
// transport, dispatches tool calls, manages per-mode tool registries and
// termination rules, and broadcasts incremental assistant/tool messages
// with strict ordering and liveness guarantees (SPEC_FULL.md §4.1).
//
// The loop itself is grounded on the teacher's in-memory workflow engine
// (runtime/agent/engine/inmem): a single cooperative goroutine per run,
// plain channels for cancellation and fan-out, no replay-determinism
// constraints. The durable Temporal-backed engine in the teacher repo is not
// carried forward — see DESIGN.md for why.
package runtime

import (
	"context"
	"sync"

	"github.com/busterhq/agentcore/agent/mode"
	"github.com/busterhq/agentcore/agent/model"
	"github.com/busterhq/agentcore/agent/tools"
	"github.com/busterhq/agentcore/agent/transport"
	"github.com/busterhq/agentcore/config"
	"github.com/busterhq/agentcore/telemetry"
)

// TelemetrySink ships fire-and-forget llm_request/llm_response events
// (SPEC_FULL.md §6). A nil sink disables shipping.
type TelemetrySink interface {
	LLMRequest(ctx context.Context, model, sessionID string, input []byte)
	LLMResponse(ctx context.Context, model, sessionID string, output []byte)
}

// Runtime is one Agent Runtime instance. The teacher repo and SPEC_FULL.md
// §2 both describe one instance per user turn; a Runtime may still process
// more than one Thread sequentially, and FromExisting creates sub-agents
// that share state, shutdown, and broadcast with their parent.
type Runtime struct {
	client   transport.Client
	provider mode.Provider

	tools *tools.Registry
	state *sharedState
	bus   *broadcaster

	shutdownMu   sync.Mutex
	shutdownCh   chan struct{}
	shutdownOnce *sync.Once

	maxRecursion int
	sessionID    string

	logger    telemetry.Logger
	metrics   telemetry.Metrics
	tracer    telemetry.Tracer
	telemetry TelemetrySink
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithMaxRecursion overrides the depth bound (default from config.MaxRecursion).
func WithMaxRecursion(n int) Option { return func(r *Runtime) { r.maxRecursion = n } }

// WithLogger sets the structured logger.
func WithLogger(l telemetry.Logger) Option { return func(r *Runtime) { r.logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(r *Runtime) { r.metrics = m } }

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) Option { return func(r *Runtime) { r.tracer = t } }

// WithTelemetrySink sets the fire-and-forget llm_request/llm_response sink.
func WithTelemetrySink(s TelemetrySink) Option { return func(r *Runtime) { r.telemetry = s } }

// WithSessionID tags telemetry events emitted by this runtime.
func WithSessionID(id string) Option { return func(r *Runtime) { r.sessionID = id } }

// New constructs a Runtime given an LLM transport client, a mode provider,
// and the maximum recursion depth (0 selects the MAX_RECURSION default).
func New(client transport.Client, provider mode.Provider, maxRecursion int, opts ...Option) *Runtime {
	if maxRecursion <= 0 {
		maxRecursion = config.MaxRecursion()
	}
	r := &Runtime{
		client:       client,
		provider:     provider,
		tools:        tools.NewRegistry(),
		state:        newSharedState(),
		shutdownCh:   make(chan struct{}),
		shutdownOnce: &sync.Once{},
		maxRecursion: maxRecursion,
		logger:       telemetry.NoopLogger{},
		metrics:      telemetry.NoopMetrics{},
		tracer:       telemetry.NoopTracer{},
	}
	for _, o := range opts {
		o(r)
	}
	r.bus = newBroadcaster(r.logger)
	return r
}

// AddTool registers a tool under name with an optional enablement predicate.
func (r *Runtime) AddTool(name string, t tools.Tool, predicate tools.EnablementPredicate) error {
	return r.tools.Add(name, t, predicate)
}

// AddTools registers every tool in m as always-enabled.
func (r *Runtime) AddTools(m map[string]tools.Tool) error { return r.tools.AddAll(m) }

// ClearTools removes every registered tool.
func (r *Runtime) ClearTools() { r.tools.Clear() }

// SetStateValue sets key to value in the shared agent state.
func (r *Runtime) SetStateValue(key string, value any) { r.state.set(key, value) }

// GetStateValue returns the value stored under key, if any.
func (r *Runtime) GetStateValue(key string) (any, bool) { return r.state.get(key) }

// UpdateState applies fn to the current state map and stores the result.
func (r *Runtime) UpdateState(fn func(map[string]any) map[string]any) { r.state.update(fn) }

// ClearState empties the shared agent state.
func (r *Runtime) ClearState() { r.state.clear() }

// Subscribe registers an additional fan-out subscriber against this
// runtime's broadcast bus. Safe to call before or during an in-flight run.
func (r *Runtime) Subscribe() *Subscription { return r.bus.subscribe() }

// Shutdown broadcasts a cancellation signal. Idempotent: safe to call more
// than once or concurrently.
func (r *Runtime) Shutdown() {
	r.shutdownMu.Lock()
	once := r.shutdownOnce
	ch := r.shutdownCh
	r.shutdownMu.Unlock()
	once.Do(func() { close(ch) })
}

func (r *Runtime) shutdownSignal() <-chan struct{} {
	r.shutdownMu.Lock()
	defer r.shutdownMu.Unlock()
	return r.shutdownCh
}

// Close drops the broadcast sender; every live and future subscriber
// observes its channel close.
func (r *Runtime) Close() { r.bus.close() }

// FromExisting returns a sub-agent that shares this runtime's state,
// shutdown signal, and broadcast bus, but owns an independent tool
// registry. Sub-agents run as independent cooperative goroutines from the
// caller's perspective and do not outlive their parent's process (SPEC_FULL
// DESIGN NOTES §9: cycle-free, parent owns lifetime).
func (r *Runtime) FromExisting() *Runtime {
	return &Runtime{
		client:       r.client,
		provider:     r.provider,
		tools:        tools.NewRegistry(),
		state:        r.state,
		bus:          r.bus,
		shutdownMu:   sync.Mutex{},
		shutdownCh:   r.shutdownCh,
		shutdownOnce: r.shutdownOnce,
		maxRecursion: r.maxRecursion,
		sessionID:    r.sessionID,
		logger:       r.logger,
		metrics:      r.metrics,
		tracer:       r.tracer,
		telemetry:    r.telemetry,
	}
}

// ProcessThreadStreaming spawns the agent loop against thread and returns a
// fan-out subscription. The stream always terminates with a single Done
// envelope, which is always the last message delivered.
func (r *Runtime) ProcessThreadStreaming(ctx context.Context, thread *model.Thread) *Subscription {
	sub := r.bus.subscribe()
	go r.run(ctx, thread.Clone())
	return sub
}

// ProcessThread is a convenience collector that runs the loop to completion
// and returns the last non-Done message, or an error if the run produced
// one before Done.
func (r *Runtime) ProcessThread(ctx context.Context, thread *model.Thread) (model.Message, error) {
	sub := r.ProcessThreadStreaming(ctx, thread)
	defer sub.Close()

	var (
		last model.Message
		err  error
	)
	for env := range sub.Messages() {
		if _, ok := env.Message.(model.Done); ok {
			break
		}
		if env.Err != nil {
			err = env.Err
			continue
		}
		if env.Message != nil {
			last = env.Message
		}
	}
	return last, err
}
