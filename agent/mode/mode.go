// Package mode defines the ModeProvider capability: the sole authority for
// translating an agent state snapshot into a full per-turn configuration
// (system prompt, model, tool registration, termination rules).
package mode

import (
	"context"

	"github.com/busterhq/agentcore/agent/tools"
)

// Agent is the subset of the runtime a tool-loader closure needs in order to
// register tools for the current turn. It is intentionally narrow: loaders
// register tools, they do not drive the loop.
type Agent interface {
	AddTool(name string, t tools.Tool, predicate tools.EnablementPredicate) error
}

// Loader registers tools for the current turn against agent. Loaders run
// with no persistent registration assumptions: the runtime clears the
// registry before invoking the loader on every depth step.
type Loader func(ctx context.Context, agent Agent) error

// Configuration is a mode's full per-turn configuration set.
type Configuration struct {
	SystemPrompt     string
	Model            string
	ToolLoader       Loader
	TerminatingTools []string
}

// Provider is the capability the runtime depends on to resolve a
// Configuration for the agent's current state.
type Provider interface {
	GetConfigurationForState(ctx context.Context, state map[string]any) (Configuration, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, state map[string]any) (Configuration, error)

// GetConfigurationForState implements Provider.
func (f ProviderFunc) GetConfigurationForState(ctx context.Context, state map[string]any) (Configuration, error) {
	return f(ctx, state)
}
