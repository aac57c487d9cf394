// Package tools defines the Tool capability and the runtime-mutable tool
// registry. The registry stores type-erased executors behind a small
// capability set, matching the teacher's dynamic-dispatch pattern
// (runtime/toolregistry/executor): tool implementations declare their own
// typed params and results and adapt at the boundary — the runtime only
// ever sees JSON.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Tool exposes a JSON schema (for the LLM), a name, and an execute
	// operation. Implementations adapt their own typed params/results at the
	// JSON boundary.
	Tool interface {
		Name() string
		Schema() map[string]any
		Execute(ctx context.Context, paramsJSON json.RawMessage, toolCallID string) (json.RawMessage, error)
	}

	// EnablementPredicate decides, given a state snapshot, whether a tool is
	// available for the current turn. A nil predicate means always enabled.
	EnablementPredicate func(state map[string]any) bool

	entry struct {
		tool      Tool
		predicate EnablementPredicate
	}

	// Registry is the runtime-mutable tool table. Reads and writes are
	// guarded by a RWMutex; the runtime snapshots the enabled set once per
	// LLM call rather than holding a guard across awaits.
	Registry struct {
		mu      sync.RWMutex
		entries map[string]entry
	}
)

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Add registers a tool under name, with an optional enablement predicate.
// Its JSON schema is validated eagerly so malformed schemas fail at
// registration time rather than mid-turn.
func (r *Registry) Add(name string, t Tool, predicate EnablementPredicate) error {
	if err := validateSchema(t.Schema()); err != nil {
		return fmt.Errorf("tools: invalid schema for %q: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{tool: t, predicate: predicate}
	return nil
}

// AddAll registers every tool in m with an always-enabled predicate.
func (r *Registry) AddAll(m map[string]Tool) error {
	for name, t := range m {
		if err := r.Add(name, t, nil); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every registered tool. Called at the start of each loop
// depth step before the mode's tool-loader runs.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]entry)
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Enabled returns the tools whose enablement predicate (or absence thereof)
// passes for state, as a stable snapshot taken under a single read lock.
func (r *Registry) Enabled(state map[string]any) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.entries))
	for _, e := range r.entries {
		if e.predicate == nil || e.predicate(state) {
			out = append(out, e.tool)
		}
	}
	return out
}

func validateSchema(schema map[string]any) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", mustUnmarshal(raw)); err != nil {
		return err
	}
	_, err = c.Compile("schema.json")
	return err
}

func mustUnmarshal(raw []byte) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}
