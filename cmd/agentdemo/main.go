// Command agentdemo wires the Agent Runtime, a static analytics-assistant
// mode configuration, a handful of in-process demo tools, and the chat
// orchestrator into one runnable turn, printing the resulting Chat snapshot.
// Flag parsing, signal handling, and structured logging follow
// example/cmd/assistant/main.go in the teacher repo.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/busterhq/agentcore/agent/mode"
	"github.com/busterhq/agentcore/agent/model"
	"github.com/busterhq/agentcore/agent/runtime"
	"github.com/busterhq/agentcore/agent/tools"
	"github.com/busterhq/agentcore/agent/transport"
	anthropictransport "github.com/busterhq/agentcore/agent/transport/anthropic"
	openaitransport "github.com/busterhq/agentcore/agent/transport/openai"
	"github.com/busterhq/agentcore/chat"
	"github.com/busterhq/agentcore/chat/pulsesink"
	"github.com/busterhq/agentcore/config"
	"github.com/busterhq/agentcore/persistence/memstore"
)

func main() {
	var (
		promptF   = flag.String("prompt", "What were our top 5 products by revenue last quarter?", "user request to send the assistant")
		providerF = flag.String("provider", "anthropic", "LLM provider: anthropic or openai")
		modelF    = flag.String("model", "", "model identifier override")
		dbgF      = flag.Bool("debug", false, "enable debug logging")
		pulseF    = flag.Bool("pulse", false, "also publish containers onto a Pulse/Redis stream (REDIS_URL)")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	client, modelID, err := buildTransport(*providerF, *modelF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	store := memstore.New()
	runtimeInst := runtime.New(client, staticMode(modelID), config.MaxRecursion(),
		runtime.WithSessionID(uuid.NewString()))
	defer runtimeInst.Close()

	thread := &model.Thread{ThreadID: uuid.NewString(), UserID: "demo-user"}
	thread.Append(model.User{Text: *promptF})

	sub := runtimeInst.ProcessThreadStreaming(ctx, thread)

	chatID, messageID := uuid.NewString(), uuid.NewString()
	sink := chat.NewChannelSink(32)

	var publishSink chat.Sink = sink
	if *pulseF {
		ps, err := buildPulseSink()
		if err != nil {
			log.Fatal(ctx, err)
		}
		publishSink = fanoutSink{sink, ps}
	}
	orch := chat.New(store, publishSink, chatID, messageID, *promptF, "")

	errc := make(chan error, 1)
	go func() {
		defer sink.Close()
		errc <- orch.Run(ctx, sub)
	}()

	go func() {
		for c := range sink.Containers() {
			b, _ := json.Marshal(c)
			fmt.Println(string(b))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		if err != nil {
			log.Fatal(ctx, err)
		}
	case <-stop:
		runtimeInst.Shutdown()
		<-errc
	}
}

func buildTransport(provider, modelOverride string) (transport.Client, string, error) {
	apiKey := config.LLMAPIKey()
	if apiKey == "" {
		return nil, "", fmt.Errorf("agentdemo: LLM_API_KEY is required")
	}
	switch provider {
	case "anthropic":
		modelID := modelOverride
		if modelID == "" {
			modelID = "claude-sonnet-4-5-20250929"
		}
		c, err := anthropictransport.NewFromAPIKey(apiKey, 4096, 0)
		return c, modelID, err
	case "openai":
		modelID := modelOverride
		if modelID == "" {
			modelID = "gpt-4o"
		}
		c, err := openaitransport.NewFromAPIKey(apiKey, 0)
		return c, modelID, err
	default:
		return nil, "", fmt.Errorf("agentdemo: unknown provider %q", provider)
	}
}

// buildPulseSink wires a pulsesink.Sink on top of a Redis connection from
// config.RedisURL, for the -pulse demo path.
func buildPulseSink() (*pulsesink.Sink, error) {
	opt, err := goredis.ParseURL(config.RedisURL())
	if err != nil {
		return nil, fmt.Errorf("agentdemo: parsing REDIS_URL: %w", err)
	}
	pc, err := pulsesink.New(pulsesink.Options{Redis: goredis.NewClient(opt)})
	if err != nil {
		return nil, err
	}
	return pulsesink.NewSink(pc)
}

// fanoutSink pushes every Container to both the in-process channel sink
// (drained by the terminal printer below) and the Pulse sink (for SSE/WS
// subscribers).
type fanoutSink struct {
	a, b chat.Sink
}

func (f fanoutSink) Push(ctx context.Context, c chat.Container) {
	f.a.Push(ctx, c)
	f.b.Push(ctx, c)
}

// staticMode returns a mode.Provider with one fixed configuration: a system
// prompt describing the analytics assistant, the demo tool set, and the two
// response tools as terminating (SPEC_FULL.md §4.3(b) "done"/clarifying
// question end the turn).
func staticMode(modelID string) mode.Provider {
	return mode.ProviderFunc(func(_ context.Context, _ map[string]any) (mode.Configuration, error) {
		return mode.Configuration{
			SystemPrompt: "You are a data analytics assistant. Search the data catalog, " +
				"build metrics and dashboards to answer the user's question, then call " +
				"done with your final response or message_user_clarifying_question if the " +
				"request is ambiguous.",
			Model: modelID,
			ToolLoader: func(_ context.Context, agent mode.Agent) error {
				for name, t := range demoTools() {
					if err := agent.AddTool(name, t, nil); err != nil {
						return err
					}
				}
				return nil
			},
			TerminatingTools: []string{"done", "message_user_clarifying_question"},
		}, nil
	})
}

func demoTools() map[string]tools.Tool {
	return map[string]tools.Tool{
		"search_data_catalog": funcTool{
			name:   "search_data_catalog",
			schema: objectSchema(map[string]any{"query": stringProp()}, "query"),
			fn: func(_ json.RawMessage) (any, error) {
				return map[string]any{"results": []map[string]any{
					{"id": "ds_orders", "name": "orders", "type": "dataset"},
					{"id": "ds_revenue", "name": "revenue_by_product", "type": "metric"},
				}}, nil
			},
		},
		"create_metrics": funcTool{
			name:   "create_metrics",
			schema: objectSchema(map[string]any{"metrics": map[string]any{"type": "array"}}, "metrics"),
			fn: func(_ json.RawMessage) (any, error) {
				return map[string]any{"files": []map[string]any{
					{"id": uuid.NewString(), "name": "top_products_by_revenue", "version_number": 1},
				}}, nil
			},
		},
		"update_metrics": funcTool{
			name:   "update_metrics",
			schema: objectSchema(map[string]any{"metrics": map[string]any{"type": "array"}}, "metrics"),
			fn: func(_ json.RawMessage) (any, error) {
				return map[string]any{"files": []map[string]any{}}, nil
			},
		},
		"create_dashboards": funcTool{
			name:   "create_dashboards",
			schema: objectSchema(map[string]any{"dashboards": map[string]any{"type": "array"}}, "dashboards"),
			fn: func(_ json.RawMessage) (any, error) {
				return map[string]any{"files": []map[string]any{}}, nil
			},
		},
		"update_dashboards": funcTool{
			name:   "update_dashboards",
			schema: objectSchema(map[string]any{"dashboards": map[string]any{"type": "array"}}, "dashboards"),
			fn: func(_ json.RawMessage) (any, error) {
				return map[string]any{"files": []map[string]any{}}, nil
			},
		},
		"done": funcTool{
			name:   "done",
			schema: objectSchema(map[string]any{"final_response": stringProp()}, "final_response"),
			fn: func(raw json.RawMessage) (any, error) {
				return map[string]any{"acknowledged": true}, nil
			},
		},
		"message_user_clarifying_question": funcTool{
			name:   "message_user_clarifying_question",
			schema: objectSchema(map[string]any{"text": stringProp()}, "text"),
			fn: func(_ json.RawMessage) (any, error) {
				return map[string]any{"acknowledged": true}, nil
			},
		},
	}
}

func stringProp() map[string]any { return map[string]any{"type": "string"} }

func objectSchema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// funcTool adapts a plain function to tools.Tool for demo wiring; production
// toolsets implement tools.Tool directly against their own typed request.
type funcTool struct {
	name   string
	schema map[string]any
	fn     func(params json.RawMessage) (any, error)
}

func (t funcTool) Name() string            { return t.name }
func (t funcTool) Schema() map[string]any  { return t.schema }
func (t funcTool) Execute(_ context.Context, params json.RawMessage, _ string) (json.RawMessage, error) {
	out, err := t.fn(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}
