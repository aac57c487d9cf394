package chat

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/busterhq/agentcore/persistence"
)

// CompletedFile is one file materialised during the current turn, as seen
// by the file-filter algorithm (SPEC_FULL.md §4.3.3).
type CompletedFile struct {
	ID            string
	Name          string
	FileType      string // "metric" | "dashboard"
	VersionNumber int
	YML           string
}

// dashboardYAML is the minimal shape the filter needs out of a dashboard
// file's body: the set of metric ids it references. Real dashboard YAML
// carries considerably more (layout, filters); only the reference list
// matters to filtering.
type dashboardYAML struct {
	Metrics []struct {
		ID string `yaml:"id"`
	} `yaml:"metrics"`
}

func referencedMetricIDs(yml string) (map[string]bool, error) {
	if yml == "" {
		return map[string]bool{}, nil
	}
	var doc dashboardYAML
	if err := yaml.Unmarshal([]byte(yml), &doc); err != nil {
		return nil, fmt.Errorf("chat: parse dashboard yaml: %w", err)
	}
	ids := make(map[string]bool, len(doc.Metrics))
	for _, m := range doc.Metrics {
		if m.ID != "" {
			ids[m.ID] = true
		}
	}
	return ids, nil
}

// buildFileFilter implements SPEC_FULL.md §4.3.3 steps 1–5 and returns the
// ordered, deduplicated list of ChatFile entries to surface in the response
// lane.
func buildFileFilter(ctx context.Context, store persistence.Store, completed []CompletedFile, contextDashboardID string) ([]ChatFile, error) {
	var metrics, dashboards []CompletedFile
	for _, f := range completed {
		switch f.FileType {
		case "metric":
			metrics = append(metrics, f)
		case "dashboard":
			dashboards = append(dashboards, f)
		}
	}

	var result []CompletedFile

	if contextDashboardID != "" {
		ctxContent, err := store.GetDashboardContent(ctx, contextDashboardID)
		if err != nil {
			return nil, fmt.Errorf("chat: load context dashboard: %w", err)
		}
		refIDs, err := referencedMetricIDs(ctxContent.YML)
		if err != nil {
			return nil, err
		}

		modifiedInContext := 0
		for _, m := range metrics {
			if refIDs[m.ID] {
				modifiedInContext++
			}
		}
		contextModifiedThisTurn := containsID(dashboards, contextDashboardID)

		switch {
		case len(dashboards) == 0 && len(metrics) > 0 && modifiedInContext == len(metrics):
			// Case A: only metrics modified, all referenced by the context dashboard.
			result = []CompletedFile{{
				ID: contextDashboardID, FileType: "dashboard",
				Name: contextDashboardID, VersionNumber: ctxContent.VersionNumber, YML: ctxContent.YML,
			}}
		case modifiedInContext > 0 && (len(metrics)+len(dashboards) > modifiedInContext) && !contextModifiedThisTurn:
			// Case B: combine context dashboard with the current-turn rule output.
			turnResult, err := currentTurnRule(metrics, dashboards)
			if err != nil {
				return nil, err
			}
			ctxFile := CompletedFile{
				ID: contextDashboardID, FileType: "dashboard",
				Name: contextDashboardID, VersionNumber: ctxContent.VersionNumber, YML: ctxContent.YML,
			}
			result = append([]CompletedFile{ctxFile}, turnResult...)
		default:
			var err error
			result, err = currentTurnRule(metrics, dashboards)
			if err != nil {
				return nil, err
			}
		}
	} else {
		var err error
		result, err = currentTurnRule(metrics, dashboards)
		if err != nil {
			return nil, err
		}
	}

	result = dedupeByIDKeepingHighestVersion(result)
	return toChatFiles(result), nil
}

func containsID(files []CompletedFile, id string) bool {
	for _, f := range files {
		if f.ID == id {
			return true
		}
	}
	return false
}

// currentTurnRule is SPEC_FULL.md §4.3.3 step 3.
func currentTurnRule(metrics, dashboards []CompletedFile) ([]CompletedFile, error) {
	switch {
	case len(metrics) > 0 && len(dashboards) > 0:
		referenced := map[string]bool{}
		for _, d := range dashboards {
			ids, err := referencedMetricIDs(d.YML)
			if err != nil {
				return nil, err
			}
			for id := range ids {
				referenced[id] = true
			}
		}
		var unreferenced []CompletedFile
		for _, m := range metrics {
			if !referenced[m.ID] {
				unreferenced = append(unreferenced, m)
			}
		}
		return append(append([]CompletedFile{}, unreferenced...), dashboards...), nil
	case len(dashboards) > 0:
		return dashboards, nil
	default:
		return metrics, nil
	}
}

func dedupeByIDKeepingHighestVersion(files []CompletedFile) []CompletedFile {
	bestIdx := map[string]int{}
	var order []string
	for i, f := range files {
		if prev, ok := bestIdx[f.ID]; ok {
			if f.VersionNumber > files[prev].VersionNumber {
				bestIdx[f.ID] = i
			}
			continue
		}
		bestIdx[f.ID] = i
		order = append(order, f.ID)
	}
	out := make([]CompletedFile, 0, len(order))
	for _, id := range order {
		out = append(out, files[bestIdx[id]])
	}
	return out
}

func toChatFiles(files []CompletedFile) []ChatFile {
	now := time.Now().UTC()
	out := make([]ChatFile, 0, len(files))
	for _, f := range files {
		out = append(out, ChatFile{
			ID:            f.ID,
			FileType:      f.FileType,
			FileName:      f.Name,
			VersionNumber: f.VersionNumber,
			Metadata: FileMetadata{
				Status:    "completed",
				Message:   fmt.Sprintf("Created new %s file", f.FileType),
				Timestamp: now,
			},
		})
	}
	return out
}
