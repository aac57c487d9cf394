package jsonstream

import (
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// fileNamespace seeds the deterministic synthetic file IDs minted while a
// metric/dashboard tool call's arguments are still streaming in (spec
// §4.4: "file_id must be stable across chunks for the same file name").
// Any fixed UUID works as a namespace; this one is private to this package.
var fileNamespace = uuid.Must(uuid.Parse("8f14e45f-ceea-467e-bd9d-8eb12d0b1f99"))

// FileDelta is the current best-known state of one file entry inside a
// streaming create/update metric or dashboard tool call.
type FileDelta struct {
	// ID is derived deterministically from (toolCallID, Name) via
	// uuid.NewSHA1, so the same file keeps the same ID across successive
	// chunks even before the tool call finishes streaming.
	ID   string
	Name string
	YML  string
}

// ProcessResponseToolChunk extracts the current value of the "response"
// string field from a create_plan_straightforward / message_user_clarifying_
// question / no_search_needed tool call's accumulating arguments.
func ProcessResponseToolChunk(argsSoFar string) (string, bool) {
	return extractField(argsSoFar, "response")
}

// ProcessPlanChunk extracts the current value of a create_plan_straightforward
// / create_plan_investigative tool call's "plan" field.
func ProcessPlanChunk(argsSoFar string) (string, bool) {
	return extractField(argsSoFar, "plan")
}

// ProcessSearchChunk extracts the current value of a search_data_catalog
// tool call's "query" field (spec §4.4 third tool-call kind).
func ProcessSearchChunk(argsSoFar string) (string, bool) {
	return extractField(argsSoFar, "query")
}

// ProcessMetricChunk extracts the set of metric file entries materialised so
// far in a create_metrics / update_metrics tool call's "files" array. Only
// entries whose name has arrived are returned; yml may still be partial.
func ProcessMetricChunk(toolCallID, argsSoFar string) []FileDelta {
	return processFileArray(toolCallID, argsSoFar, "files", "metric_file")
}

// ProcessDashboardChunk is the dashboard-tool equivalent of ProcessMetricChunk.
func ProcessDashboardChunk(toolCallID, argsSoFar string) []FileDelta {
	return processFileArray(toolCallID, argsSoFar, "files", "dashboard_file")
}

func processFileArray(toolCallID, argsSoFar, arrayField, kind string) []FileDelta {
	objs := extractObjects(argsSoFar, arrayField)
	if len(objs) == 0 {
		return nil
	}
	out := make([]FileDelta, 0, len(objs))
	for _, obj := range objs {
		name, ok := extractField(obj, "name")
		if !ok || name == "" {
			continue
		}
		yml, _ := extractField(obj, "yml")
		out = append(out, FileDelta{
			ID:   uuid.NewSHA1(fileNamespace, []byte(toolCallID+"\x00"+name+"\x00"+kind)).String(),
			Name: name,
			YML:  yml,
		})
	}
	return out
}

// FinalMetricFiles authoritatively parses a complete (non-streaming) create/
// update metrics tool call's arguments via gjson, used once FinishReason has
// arrived and the buffered arguments are guaranteed well-formed JSON.
func FinalMetricFiles(toolCallID, completeArgs string) []FileDelta {
	return finalFiles(toolCallID, completeArgs, "metric_file")
}

// FinalDashboardFiles is the dashboard equivalent of FinalMetricFiles.
func FinalDashboardFiles(toolCallID, completeArgs string) []FileDelta {
	return finalFiles(toolCallID, completeArgs, "dashboard_file")
}

func finalFiles(toolCallID, completeArgs, kind string) []FileDelta {
	result := gjson.Get(completeArgs, "files")
	if !result.IsArray() {
		return nil
	}
	var out []FileDelta
	result.ForEach(func(_, entry gjson.Result) bool {
		name := entry.Get("name").String()
		if name == "" {
			return true
		}
		out = append(out, FileDelta{
			ID:   uuid.NewSHA1(fileNamespace, []byte(toolCallID+"\x00"+name+"\x00"+kind)).String(),
			Name: name,
			YML:  entry.Get("yml").String(),
		})
		return true
	})
	return out
}
