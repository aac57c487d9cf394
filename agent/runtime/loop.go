package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/busterhq/agentcore/agent/model"
	"github.com/busterhq/agentcore/agent/tools"
	"github.com/busterhq/agentcore/agent/transport"
)

const (
	chunkInactivityTimeout = 120 * time.Second
	toolExecutionTimeout   = 60 * time.Second
	flushInterval          = 50 * time.Millisecond
)

// run drives the loop to completion (depth exhausted, a terminating tool
// fired, or cancellation) and always terminates the broadcast stream with a
// single Done envelope, per spec §4.1 and §8 property 2.
func (r *Runtime) run(ctx context.Context, thread *model.Thread) {
	defer r.bus.publish(Envelope{Message: model.Done{}})
	r.step(ctx, thread, 0)
}

// step executes one depth level of the agent loop (spec §4.1 steps 1–10),
// recursing in place via a tail call when a non-terminating tool-bearing
// turn completes.
func (r *Runtime) step(ctx context.Context, thread *model.Thread, depth int) {
	select {
	case <-r.shutdownSignal():
		r.publishNotification("Run shut down before completion.")
		return
	default:
	}

	if depth >= r.maxRecursion {
		msg := fmt.Sprintf("Maximum recursion depth (%d) reached.", r.maxRecursion)
		asst := model.Assistant{Text: msg, Progress: model.Complete}
		thread.Append(asst)
		r.bus.publish(Envelope{Message: asst})
		r.bus.publish(Envelope{Err: errors.New("runtime: recursion limit reached")})
		return
	}

	state := r.state.snapshot()
	cfg, err := r.provider.GetConfigurationForState(ctx, state)
	if err != nil {
		r.bus.publish(Envelope{Err: err})
		return
	}

	r.tools.Clear()
	if cfg.ToolLoader != nil {
		if err := cfg.ToolLoader(ctx, r); err != nil {
			r.bus.publish(Envelope{Err: err})
			return
		}
	}
	terminating := make(map[string]bool, len(cfg.TerminatingTools))
	for _, name := range cfg.TerminatingTools {
		terminating[name] = true
	}

	wireMsgs := buildWireMessages(cfg.SystemPrompt, thread)
	enabled := r.tools.Enabled(state)

	req := transport.Request{
		Model:      cfg.Model,
		Messages:   wireMsgs,
		Tools:      buildToolSpecs(enabled),
		ToolChoice: transport.ToolChoiceAuto,
		Stream:     true,
		Metadata:   transport.Metadata{SessionID: r.sessionID},
	}
	r.shipRequestTelemetry(ctx, cfg.Model, req)

	recv, err := streamWithRetry(ctx, r.client, req)
	if err != nil {
		r.bus.publish(Envelope{Err: err})
		return
	}
	defer recv.Close()

	assistant, timedOut, cancelled := r.consumeChunks(ctx, recv)
	if cancelled {
		r.publishNotification("Run shut down before completion.")
		return
	}

	thread.Append(assistant)
	r.bus.publish(Envelope{Message: assistant})
	r.shipResponseTelemetry(ctx, cfg.Model, assistant)

	if timedOut {
		r.bus.publish(Envelope{Err: errors.New("runtime: chunk inactivity timeout after 120 seconds")})
	}

	if len(assistant.ToolCalls) == 0 {
		return
	}

	for _, call := range assistant.ToolCalls {
		toolMsg := r.executeToolCall(ctx, call)
		if toolMsg == nil {
			// Fatal: tool argument parse error exits the loop without a Done
			// substitute message; the caller's spawner sees it as an Error.
			r.bus.publish(Envelope{Err: fmt.Errorf("%w: call %s", ErrToolArgumentParse, call.CallID)})
			return
		}
		thread.Append(*toolMsg)
		r.bus.publish(Envelope{Message: *toolMsg})

		if terminating[call.FunctionName] {
			return
		}
	}

	r.step(ctx, thread, depth+1)
}

func (r *Runtime) publishNotification(text string) {
	asst := model.Assistant{Text: text, Progress: model.Complete}
	r.bus.publish(Envelope{Message: asst})
}

// pendingCall accumulates one tool call's streamed fragments.
type pendingCall struct {
	id        string
	name      string
	callType  string
	index     *int
	arguments strings.Builder
}

// consumeChunks reads the chunk stream, buffering content and tool-call
// argument deltas, flushing an InProgress Assistant envelope at most once
// per flushInterval, and returns the final Complete Assistant once the
// stream ends or times out (the second result is true on timeout). When a
// shutdown signal is observed it returns a zero Assistant with the third
// result set to true.
func (r *Runtime) consumeChunks(ctx context.Context, recv transport.Receiver) (model.Assistant, bool, bool) {
	var (
		msgID        string
		content      strings.Builder
		order        []string
		byID         = map[string]*pendingCall{}
		byIndex      = map[int]*pendingCall{}
		lastFlush    time.Time
		flushedFirst bool
		timedOut     bool
	)

	flush := func(final bool) model.Assistant {
		calls := make([]model.ToolCall, 0, len(order))
		for _, id := range order {
			pc := byID[id]
			if pc.name == "" {
				continue
			}
			calls = append(calls, model.ToolCall{
				CallID:       pc.id,
				FunctionName: pc.name,
				Arguments:    pc.arguments.String(),
				CallType:     pc.callType,
				Index:        pc.index,
			})
		}
		progress := model.InProgress
		if final {
			progress = model.Complete
		}
		asst := model.Assistant{
			ID:        msgID,
			Text:      content.String(),
			ToolCalls: calls,
			Progress:  progress,
			Initial:   !flushedFirst,
		}
		flushedFirst = true
		return asst
	}

	lookupOrCreate := func(frag transport.ToolCallFragment) *pendingCall {
		if frag.ID != nil && *frag.ID != "" {
			if pc, ok := byID[*frag.ID]; ok {
				return pc
			}
			pc := &pendingCall{id: *frag.ID}
			byID[pc.id] = pc
			order = append(order, pc.id)
			return pc
		}
		// An id-less continuation delta identifies its call by declared
		// array position, not just "the only one in progress" — real
		// providers omit the id on every fragment after the first for each
		// parallel tool call.
		if frag.Index != nil {
			if pc, ok := byIndex[*frag.Index]; ok {
				return pc
			}
		}
		if len(byID) == 1 {
			for _, pc := range byID {
				return pc
			}
		}
		pc := &pendingCall{id: uuid.NewString()}
		byID[pc.id] = pc
		order = append(order, pc.id)
		return pc
	}

	type recvResult struct {
		chunk transport.Chunk
		err   error
	}
	chunks := make(chan recvResult, 1)
	done := make(chan struct{})
	go func() {
		defer close(chunks)
		for {
			c, err := recv.Recv(ctx)
			select {
			case chunks <- recvResult{chunk: c, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer close(done)

	for {
		timer := time.NewTimer(chunkInactivityTimeout)
		select {
		case <-r.shutdownSignal():
			timer.Stop()
			return model.Assistant{}, false, true
		case res, ok := <-chunks:
			timer.Stop()
			if !ok || (res.err != nil && errors.Is(res.err, io.EOF)) {
				return flush(true), false, false
			}
			if res.err != nil {
				return flush(true), false, false
			}
			c := res.chunk
			if c.ID != "" && msgID == "" {
				msgID = c.ID
			}
			if c.Delta.Content != nil {
				content.WriteString(*c.Delta.Content)
			}
			for i := range c.Delta.ToolCalls {
				frag := c.Delta.ToolCalls[i]
				pc := lookupOrCreate(frag)
				if frag.Name != nil && pc.name == "" {
					pc.name = *frag.Name
				}
				if frag.CallType != nil && pc.callType == "" {
					pc.callType = *frag.CallType
				}
				if frag.Index != nil && pc.index == nil {
					idx := *frag.Index
					pc.index = &idx
					byIndex[idx] = pc
				}
				if frag.Arguments != nil {
					pc.arguments.WriteString(*frag.Arguments)
				}
			}
			if c.FinishReason != nil {
				return flush(true), false, false
			}
			if time.Since(lastFlush) >= flushInterval {
				asst := flush(false)
				r.bus.publish(Envelope{Message: asst})
				lastFlush = time.Now()
			}
		case <-timer.C:
			timedOut = true
			return flush(true), timedOut, false
		}
	}
}

// executeToolCall runs one tool call under a wall-clock timeout and converts
// any failure into a Tool message carrying {"error": "..."}. It returns nil
// only when the arguments themselves fail to parse as JSON, which is fatal
// for the loop (spec §4.1 step 9a, §7 ToolArgumentParseError).
func (r *Runtime) executeToolCall(ctx context.Context, call model.ToolCall) *model.Tool {
	if !json.Valid([]byte(call.Arguments)) {
		return nil
	}

	result := r.runToolWithTimeout(ctx, call)
	return &model.Tool{
		ID:         uuid.NewString(),
		Content:    result,
		ToolCallID: call.CallID,
		ToolName:   call.FunctionName,
		Progress:   model.Complete,
	}
}

func (r *Runtime) runToolWithTimeout(ctx context.Context, call model.ToolCall) string {
	t, ok := r.tools.Get(call.FunctionName)
	if !ok {
		return errorJSON(fmt.Sprintf("Tool '%s' is not registered.", call.FunctionName))
	}

	toolCtx, cancel := context.WithTimeout(ctx, toolExecutionTimeout)
	defer cancel()

	type execResult struct {
		out []byte
		err error
	}
	resultCh := make(chan execResult, 1)
	go func() {
		out, err := t.Execute(toolCtx, json.RawMessage(call.Arguments), call.CallID)
		resultCh <- execResult{out: out, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return errorJSON(res.err.Error())
		}
		if len(res.out) == 0 {
			return "{}"
		}
		return string(res.out)
	case <-toolCtx.Done():
		return errorJSON(fmt.Sprintf("Tool '%s' timed out after 60 seconds.", call.FunctionName))
	}
}

func errorJSON(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

func buildWireMessages(systemPrompt string, thread *model.Thread) []transport.WireMessage {
	out := make([]transport.WireMessage, 0, len(thread.Messages)+1)
	out = append(out, transport.WireMessage{Role: "developer", Text: systemPrompt})
	for _, m := range thread.Messages {
		switch v := m.(type) {
		case model.Developer:
			continue
		case model.User:
			out = append(out, transport.WireMessage{Role: "user", Text: v.Text})
		case model.Assistant:
			wm := transport.WireMessage{Role: "assistant", Text: v.Text}
			for _, tc := range v.ToolCalls {
				wm.ToolCalls = append(wm.ToolCalls, transport.WireToolCall{
					ID: tc.CallID, Name: tc.FunctionName, Arguments: tc.Arguments,
				})
			}
			out = append(out, wm)
		case model.Tool:
			out = append(out, transport.WireMessage{
				Role: "tool", Text: v.Content, ToolCallID: v.ToolCallID, ToolName: v.ToolName,
			})
		}
	}
	return out
}

func buildToolSpecs(enabled []tools.Tool) []transport.ToolSpec {
	out := make([]transport.ToolSpec, 0, len(enabled))
	for _, t := range enabled {
		out = append(out, transport.ToolSpec{Name: t.Name(), Schema: t.Schema()})
	}
	return out
}

func (r *Runtime) shipRequestTelemetry(ctx context.Context, modelID string, req transport.Request) {
	if r.telemetry == nil {
		return
	}
	b, err := json.Marshal(req.Messages)
	if err != nil {
		r.logger.Warn(ctx, "failed to marshal llm_request telemetry", "error", err)
		return
	}
	r.telemetry.LLMRequest(ctx, modelID, r.sessionID, b)
}

func (r *Runtime) shipResponseTelemetry(ctx context.Context, modelID string, asst model.Assistant) {
	if r.telemetry == nil {
		return
	}
	b, err := model.MarshalMessage(asst)
	if err != nil {
		r.logger.Warn(ctx, "failed to marshal llm_response telemetry", "error", err)
		return
	}
	r.telemetry.LLMResponse(ctx, modelID, r.sessionID, b)
}
