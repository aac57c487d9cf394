package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/busterhq/agentcore/agent/model"
	"github.com/busterhq/agentcore/agent/runtime"
	"github.com/busterhq/agentcore/jsonstream"
	"github.com/busterhq/agentcore/persistence"
)

// responseTools maps each tool that carries a one-shot text response to the
// argument field holding that text; they share the done argument-shape
// handling described in SPEC_FULL.md §4.3.1.
var responseTools = map[string]string{
	"done":                            "final_response",
	"message_user_clarifying_question": "text",
}

// Orchestrator drives one chat/message pair to completion, per
// SPEC_FULL.md §4.3. One Orchestrator is used for exactly one
// ProcessThreadStreaming subscription.
type Orchestrator struct {
	store persistence.Store
	sink  Sink

	chatID             string
	messageID          string
	requestText        string
	contextDashboardID string

	tracker *chunkTracker

	start                   time.Time
	lastReasoningCompletion time.Time
	reasoningCompleteSet    bool
	responseStarted         bool

	order             []string
	response          []ChatMessage
	reasoning         map[string]ReasoningMessage
	reasoningOrder    []string
	completedFiles    []CompletedFile
	fileEmitted       bool
	fileDeltaTracker  *chunkTracker
	searchEmittedOnce map[string]bool
}

// New constructs an Orchestrator for one chat/message pair. contextDashboardID
// is the most recent dashboard file id previously surfaced in this chat, or
// empty if none.
func New(store persistence.Store, sink Sink, chatID, messageID, requestText, contextDashboardID string) *Orchestrator {
	return &Orchestrator{
		store:              store,
		sink:               sink,
		chatID:             chatID,
		messageID:          messageID,
		requestText:        requestText,
		contextDashboardID: contextDashboardID,
		tracker:            newChunkTracker(),
		fileDeltaTracker:   newChunkTracker(),
		reasoning:          map[string]ReasoningMessage{},
		searchEmittedOnce:  map[string]bool{},
	}
}

// Run consumes sub until Done, pushing Container events to the sink as they
// are produced, then builds and persists the final state.
func (o *Orchestrator) Run(ctx context.Context, sub *runtime.Subscription) error {
	o.start = time.Now()

	var rawMessages []json.RawMessage
	var runErr error

	for env := range sub.Messages() {
		if env.Err != nil {
			o.sink.Push(ctx, o.newText("I ran into an issue completing that — here is what I have so far."))
			runErr = env.Err
			continue
		}
		if b, err := model.MarshalMessage(env.Message); err == nil {
			rawMessages = append(rawMessages, b)
		}
		switch msg := env.Message.(type) {
		case model.Done:
			goto drained
		case model.Assistant:
			o.handleAssistant(ctx, msg)
		case model.Tool:
			o.handleToolResult(ctx, msg)
		}
	}

drained:
	return o.finalize(ctx, rawMessages, runErr)
}

func (o *Orchestrator) newText(text string) ChatText {
	return ChatText{
		base:    base{ChatID: o.chatID, MessageID: o.messageID},
		ID:      uuid.NewString(),
		Message: &text,
	}
}

// handleAssistant implements SPEC_FULL.md §4.3(c) and §4.3.1.
func (o *Orchestrator) handleAssistant(ctx context.Context, a model.Assistant) {
	if a.Text != "" && len(a.ToolCalls) == 0 {
		id := a.ID
		if id == "" {
			id = o.messageID
		}
		delta := o.tracker.addChunk(id, a.Text)
		if delta != "" {
			chunk := delta
			o.pushResponse(ctx, ChatText{
				base:         base{ChatID: o.chatID, MessageID: o.messageID},
				ID:           id,
				MessageChunk: &chunk,
			})
		}
		if a.Progress == model.Complete {
			full := o.tracker.getCompleteText(id)
			o.pushResponse(ctx, ChatText{
				base:    base{ChatID: o.chatID, MessageID: o.messageID},
				ID:      id,
				Message: &full,
			})
		}
		return
	}

	for _, call := range a.ToolCalls {
		o.dispatchToolCall(ctx, call, a.Progress == model.Complete)
	}
}

func (o *Orchestrator) dispatchToolCall(ctx context.Context, call model.ToolCall, final bool) {
	switch {
	case responseTools[call.FunctionName] != "":
		o.handleResponseTool(ctx, call, responseTools[call.FunctionName], final)
	case call.FunctionName == "create_plan_straightforward" || call.FunctionName == "create_plan_investigative":
		o.handlePlanTool(ctx, call, final)
	case call.FunctionName == "search_data_catalog":
		o.handleSearchTool(ctx, call, final)
	case call.FunctionName == "create_metrics" || call.FunctionName == "update_metrics":
		o.handleFileTool(ctx, call, final, "metric", jsonstream.ProcessMetricChunk)
	case call.FunctionName == "create_dashboards" || call.FunctionName == "update_dashboards":
		o.handleFileTool(ctx, call, final, "dashboard", jsonstream.ProcessDashboardChunk)
	case call.FunctionName == "review_plan":
		o.handleReviewPlan(ctx, call, final)
	case call.FunctionName == "no_search_needed":
		o.tracker.clearChunk(call.CallID)
	}
}

// handleResponseTool implements the `done` / `message_user_clarifying_
// question` handling in §4.3.1.
func (o *Orchestrator) handleResponseTool(ctx context.Context, call model.ToolCall, fieldName string, final bool) {
	if !o.responseStarted && call.Arguments != "" {
		o.responseStarted = true
		o.lastReasoningCompletion = time.Now()
		o.reasoningCompleteSet = true
		msg := "Finished reasoning"
		o.pushReasoning(ctx, ReasoningText{
			base:              base{ChatID: o.chatID, MessageID: o.messageID},
			ID:                call.CallID,
			Title:             msg,
			Status:            StatusCompleted,
			FinishedReasoning: true,
		})
		o.emitFileFilter(ctx)
	}

	if final {
		full, ok := extractFinalField(call.Arguments, fieldName)
		if !ok {
			full = o.tracker.getCompleteText(call.CallID)
		}
		o.pushResponse(ctx, ChatText{
			base:                base{ChatID: o.chatID, MessageID: o.messageID},
			ID:                  call.CallID,
			Message:             &full,
			IsFinalMessage:      true,
			OriginatingToolName: call.FunctionName,
		})
		return
	}

	val, ok := jsonstream.ProcessResponseToolChunk(call.Arguments)
	if !ok {
		return
	}
	delta := o.tracker.addChunk(call.CallID, val)
	if delta == "" {
		return
	}
	o.pushResponse(ctx, ChatText{
		base:                base{ChatID: o.chatID, MessageID: o.messageID},
		ID:                  call.CallID,
		MessageChunk:        &delta,
		OriginatingToolName: call.FunctionName,
	})
}

func extractFinalField(args, field string) (string, bool) {
	res := gjson.Get(args, field)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

// handlePlanTool implements the create_plan_* handling in §4.3.1.
func (o *Orchestrator) handlePlanTool(ctx context.Context, call model.ToolCall, final bool) {
	if final {
		o.pushReasoning(ctx, ReasoningText{
			base:   base{ChatID: o.chatID, MessageID: o.messageID},
			ID:     call.CallID,
			Title:  "Created a plan",
			Status: StatusCompleted,
		})
		return
	}
	if _, ok := jsonstream.ProcessPlanChunk(call.Arguments); !ok {
		return
	}
	o.pushReasoning(ctx, ReasoningText{
		base:   base{ChatID: o.chatID, MessageID: o.messageID},
		ID:     call.CallID,
		Title:  "Creating Plan...",
		Status: StatusLoading,
	})
}

// extractStringArray reads a JSON array of strings at path from argsJSON,
// skipping non-string elements rather than failing the whole parse.
func extractStringArray(argsJSON, path string) []string {
	arr := gjson.Get(argsJSON, path)
	if !arr.IsArray() {
		return nil
	}
	var out []string
	arr.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			out = append(out, v.String())
		}
		return true
	})
	return out
}

// handleSearchTool implements the search_data_catalog InProgress handling in
// §4.3.1; the Complete-side pill replacement lives in
// handleSearchToolComplete.
func (o *Orchestrator) handleSearchTool(ctx context.Context, call model.ToolCall, final bool) {
	if final {
		o.handleSearchToolComplete(ctx, call)
		return
	}
	if o.searchEmittedOnce[call.CallID] {
		return
	}
	o.searchEmittedOnce[call.CallID] = true
	o.pushReasoning(ctx, ReasoningText{
		base:   base{ChatID: o.chatID, MessageID: o.messageID},
		ID:     call.CallID,
		Title:  "Searching data catalog",
		Status: StatusLoading,
	})
}

// handleSearchToolComplete parses specific_queries/exploratory_topics from
// the full search_data_catalog arguments and, if either is non-empty,
// replaces the prior "Searching data catalog" text frame with a pill list
// carrying stable per-item ids, per SPEC_FULL.md §4.3.1.
func (o *Orchestrator) handleSearchToolComplete(ctx context.Context, call model.ToolCall) {
	queries := extractStringArray(call.Arguments, "specific_queries")
	topics := extractStringArray(call.Arguments, "exploratory_topics")
	if len(queries) == 0 && len(topics) == 0 {
		return
	}

	var pills []PillContainer
	for i, q := range queries {
		pills = append(pills, PillContainer{
			ID:   fmt.Sprintf("%s_query_%d", call.CallID, i),
			Type: "query",
			Text: q,
		})
	}
	for i, t := range topics {
		pills = append(pills, PillContainer{
			ID:   fmt.Sprintf("%s_topic_%d", call.CallID, i),
			Type: "topic",
			Text: t,
		})
	}

	o.pushReasoning(ctx, ReasoningPill{
		base:   base{ChatID: o.chatID, MessageID: o.messageID},
		ID:     call.CallID,
		Title:  "Searching data catalog",
		Status: StatusLoading,
		Pills:  pills,
	})
}

// handleReviewPlan implements the review_plan handling in §4.3.1.
func (o *Orchestrator) handleReviewPlan(ctx context.Context, call model.ToolCall, final bool) {
	if !final {
		o.pushReasoning(ctx, ReasoningText{
			base:   base{ChatID: o.chatID, MessageID: o.messageID},
			ID:     call.CallID,
			Title:  "Reviewing my work...",
			Status: StatusLoading,
		})
		return
	}
	o.pushReasoning(ctx, ReasoningText{
		base:           base{ChatID: o.chatID, MessageID: o.messageID},
		ID:             call.CallID,
		Title:          "Reviewed my work",
		SecondaryTitle: o.elapsedSinceReasoning(),
		Status:         StatusCompleted,
	})
	o.advanceReasoning()
}

type fileChunkFn func(toolCallID, argsSoFar string) []jsonstream.FileDelta

// verbForTool returns the present-participle verb describing a file tool's
// effect, based on its name's create_/update_ prefix.
func verbForTool(functionName string) string {
	switch {
	case strings.HasPrefix(functionName, "create_"):
		return "Creating"
	case strings.HasPrefix(functionName, "update_"):
		return "Modifying"
	default:
		return "Processing"
	}
}

// handleFileTool implements the create/update metrics/dashboards InProgress
// handling in §4.3.1. The Complete-side result supersedes this frame and is
// handled in handleFileResult.
func (o *Orchestrator) handleFileTool(ctx context.Context, call model.ToolCall, final bool, fileType string, chunkFn fileChunkFn) {
	if final {
		return
	}
	deltas := chunkFn(call.CallID, call.Arguments)
	if len(deltas) == 0 {
		return
	}

	verb := verbForTool(call.FunctionName)
	rf := ReasoningFile{
		base:   base{ChatID: o.chatID, MessageID: o.messageID},
		ID:     call.CallID,
		Title:  fmt.Sprintf("%s %s files...", verb, fileType),
		Status: StatusLoading,
		Files:  map[string]FileDetail{},
	}
	anyDelta := false
	for _, d := range deltas {
		trackKey := call.CallID + "_" + d.ID
		delta := o.fileDeltaTracker.addChunk(trackKey, d.YML)
		if delta == "" {
			continue
		}
		anyDelta = true
		rf.FileOrder = append(rf.FileOrder, d.ID)
		rf.Files[d.ID] = FileDetail{
			ID: d.ID, Name: d.Name, FileType: fileType, Status: StatusLoading, Content: delta,
		}
	}
	if !anyDelta {
		return
	}
	o.pushReasoning(ctx, rf)
}

// handleToolResult implements SPEC_FULL.md §4.3.2.
func (o *Orchestrator) handleToolResult(ctx context.Context, t model.Tool) {
	switch t.ToolName {
	case "search_data_catalog":
		o.handleSearchResult(ctx, t)
	case "create_metrics", "update_metrics":
		o.handleFileResult(ctx, t, "metric")
	case "create_dashboards", "update_dashboards":
		o.handleFileResult(ctx, t, "dashboard")
	}
}

func (o *Orchestrator) handleSearchResult(ctx context.Context, t model.Tool) {
	results := gjson.Get(t.Content, "results")
	var pills []PillContainer
	results.ForEach(func(_, item gjson.Result) bool {
		pills = append(pills, PillContainer{
			ID:   uuid.NewString(),
			Type: "dataset",
			Text: item.Get("name").String(),
		})
		return true
	})

	title := fmt.Sprintf("%d data catalog items found", len(pills))
	if len(pills) == 0 {
		title = "No data catalog items found"
	}
	o.pushReasoning(ctx, ReasoningPill{
		base:           base{ChatID: o.chatID, MessageID: o.messageID},
		ID:             t.ToolCallID,
		Title:          title,
		SecondaryTitle: o.elapsedSinceReasoning(),
		Status:         StatusCompleted,
		Pills:          pills,
	})
	o.advanceReasoning()
}

func (o *Orchestrator) handleFileResult(ctx context.Context, t model.Tool, fileType string) {
	succeeded := gjson.Get(t.Content, "files")
	failed := gjson.Get(t.Content, "failed_files")

	rf := ReasoningFile{
		base:           base{ChatID: o.chatID, MessageID: o.messageID},
		ID:             t.ToolCallID,
		SecondaryTitle: o.elapsedSinceReasoning(),
		Files:          map[string]FileDetail{},
	}

	nSucceeded, nFailed := 0, 0
	succeeded.ForEach(func(_, f gjson.Result) bool {
		nSucceeded++
		id := f.Get("id").String()
		name := f.Get("name").String()
		version := int(f.Get("version_number").Int())
		yml := f.Get("yml").String()
		rf.FileOrder = append(rf.FileOrder, id)
		rf.Files[id] = FileDetail{ID: id, Name: name, FileType: fileType, VersionNumber: version, Status: StatusCompleted, Content: yml}
		o.completedFiles = append(o.completedFiles, CompletedFile{ID: id, Name: name, FileType: fileType, VersionNumber: version, YML: yml})
		return true
	})
	failed.ForEach(func(_, f gjson.Result) bool {
		nFailed++
		id := uuid.NewString()
		name := f.Get("name").String()
		message := f.Get("message").String()
		rf.FileOrder = append(rf.FileOrder, id)
		rf.Files[id] = FileDetail{ID: id, Name: name, FileType: fileType, Status: StatusFailed, Content: "Error: " + message}
		return true
	})

	if nSucceeded > 0 {
		rf.Status = StatusCompleted
	} else {
		rf.Status = StatusFailed
	}
	rf.Title = fmt.Sprintf("%d %s file(s) created, %d failed", nSucceeded, fileType, nFailed)
	o.pushReasoning(ctx, rf)
	o.advanceReasoning()
}

func (o *Orchestrator) elapsedSinceReasoning() string {
	if !o.reasoningCompleteSet {
		return formatDuration(time.Since(o.start))
	}
	return formatDuration(time.Since(o.lastReasoningCompletion))
}

func (o *Orchestrator) advanceReasoning() {
	o.lastReasoningCompletion = time.Now()
	o.reasoningCompleteSet = true
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	return fmt.Sprintf("%d minutes", int(d.Minutes()))
}

func (o *Orchestrator) pushResponse(ctx context.Context, m ChatMessage) {
	o.response = append(o.response, m)
	o.sink.Push(ctx, m)
}

func (o *Orchestrator) pushReasoning(ctx context.Context, m ReasoningMessage) {
	id := m.ReasoningID()
	if _, seen := o.reasoning[id]; !seen {
		o.reasoningOrder = append(o.reasoningOrder, id)
	}
	o.reasoning[id] = m
	o.sink.Push(ctx, m)
}

// emitFileFilter runs the file-filter algorithm (SPEC_FULL.md §4.3.3) once,
// triggered by the first response-text chunk.
func (o *Orchestrator) emitFileFilter(ctx context.Context) {
	if o.fileEmitted {
		return
	}
	o.fileEmitted = true
	files, err := buildFileFilter(ctx, o.store, o.completedFiles, o.contextDashboardID)
	if err != nil || len(files) == 0 {
		return
	}
	for _, f := range files {
		o.pushResponse(ctx, f)
	}
}

// finalize implements SPEC_FULL.md §4.3(e): builds and persists the final
// ChatMessage, then broadcasts a final Chat snapshot.
func (o *Orchestrator) finalize(ctx context.Context, rawMessages []json.RawMessage, runErr error) error {
	o.emitFileFilter(ctx)

	responseMessages := o.finalResponseMessages()
	reasoningMessages := o.finalReasoningMessages()
	duration := o.durationLabel()

	respJSON, _ := json.Marshal(responseMessages)
	reasonJSON, _ := json.Marshal(reasoningMessages)
	rawJSON, _ := json.Marshal(rawMessages)

	var finalReasoning string
	if len(reasoningMessages) > 0 {
		if txt, ok := reasoningMessages[len(reasoningMessages)-1].(ReasoningText); ok && txt.Message != nil {
			finalReasoning = *txt.Message
		}
	}

	msgID := uuid.NewString()
	if err := o.store.InsertMessage(ctx, persistence.Message{
		ID:                    msgID,
		ChatID:                o.chatID,
		Sender:                "assistant",
		RequestMessage:        o.requestText,
		ResponseMessages:      respJSON,
		ReasoningMessages:     reasonJSON,
		FinalReasoningMessage: finalReasoning,
		RawLLMMessages:        rawJSON,
		IsCompleted:           runErr == nil,
	}); err != nil {
		return fmt.Errorf("chat: persist message: %w", err)
	}

	assocs := o.buildFileAssociations(msgID, responseMessages)
	if err := o.store.InsertFileAssociations(ctx, assocs); err != nil {
		return fmt.Errorf("chat: persist file associations: %w", err)
	}

	mostRecentFile, mostRecentType, mostRecentVersion := o.mostRecentFile(responseMessages)
	if err := o.store.UpsertChat(ctx, persistence.Chat{
		ID:                      o.chatID,
		UpdatedAt:               time.Now(),
		MostRecentFileID:        mostRecentFile,
		MostRecentFileType:      mostRecentType,
		MostRecentVersionNumber: mostRecentVersion,
	}); err != nil {
		return fmt.Errorf("chat: upsert chat: %w", err)
	}

	o.sink.Push(ctx, Chat{
		base:              base{ChatID: o.chatID, MessageID: msgID},
		ResponseMessages:  responseMessages,
		ReasoningMessages: reasoningMessages,
		DurationLabel:     duration,
	})
	return runErr
}

// finalResponseMessages implements §4.3(e)'s response_messages construction:
// filtered files first, then every Complete text message in emission order.
func (o *Orchestrator) finalResponseMessages() []ChatMessage {
	var files []ChatMessage
	var texts []ChatMessage
	for _, m := range o.response {
		switch v := m.(type) {
		case ChatFile:
			files = append(files, v)
		case ChatText:
			if v.Message != nil {
				texts = append(texts, v)
			}
		}
	}
	return append(files, texts...)
}

// finalReasoningMessages implements §4.3(e)'s reasoning_messages
// construction: only status==completed entries, deduplicated by id keeping
// the last value but the first occurrence position.
func (o *Orchestrator) finalReasoningMessages() []ReasoningMessage {
	out := make([]ReasoningMessage, 0, len(o.reasoningOrder))
	for _, id := range o.reasoningOrder {
		m := o.reasoning[id]
		if m.ReasoningStatus() == StatusCompleted {
			out = append(out, m)
		}
	}
	return out
}

func (o *Orchestrator) durationLabel() string {
	if o.reasoningCompleteSet {
		return "reasoned for " + formatDuration(o.lastReasoningCompletion.Sub(o.start))
	}
	return "reasoned for " + formatDuration(time.Since(o.start))
}

func (o *Orchestrator) buildFileAssociations(messageID string, msgs []ChatMessage) []persistence.FileAssociation {
	var out []persistence.FileAssociation
	for _, m := range msgs {
		f, ok := m.(ChatFile)
		if !ok {
			continue
		}
		out = append(out, persistence.FileAssociation{
			ID: uuid.NewString(), MessageID: messageID, FileID: f.ID, VersionNumber: f.VersionNumber,
		})
	}
	return out
}

func (o *Orchestrator) mostRecentFile(msgs []ChatMessage) (id, fileType string, version int) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if f, ok := msgs[i].(ChatFile); ok {
			return f.ID, f.FileType, f.VersionNumber
		}
	}
	return "", "", 0
}
