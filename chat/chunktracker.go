package chat

import (
	"strings"
	"sync"
)

// chunkState is one tracked id's accumulator state (SPEC_FULL.md §4.3(a)).
type chunkState struct {
	complete string
	lastSeen string
}

// chunkTracker is a lock-guarded map from id to accumulator state. The
// teacher corpus has no equivalent (its streaming is delta-only at the
// transport layer); this mirrors the provider-side overlap-detection idiom
// used by features/model/anthropic/stream.go's chunk processors, generalised
// to arbitrary string ids instead of content-block indices.
type chunkTracker struct {
	mu    sync.Mutex
	state map[string]*chunkState
}

func newChunkTracker() *chunkTracker {
	return &chunkTracker{state: make(map[string]*chunkState)}
}

// addChunk computes and returns the delta the caller must forward, per the
// overlap rules in SPEC_FULL.md §4.3(a), and updates the tracked state.
func (t *chunkTracker) addChunk(id, newText string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.state[id]
	if !ok {
		st = &chunkState{}
		t.state[id] = st
	}

	var delta string
	switch {
	case st.lastSeen == "":
		delta = newText
	case strings.HasPrefix(newText, st.lastSeen):
		delta = newText[len(st.lastSeen):]
	case strings.Contains(newText, st.lastSeen):
		idx := strings.Index(newText, st.lastSeen)
		delta = newText[idx+len(st.lastSeen):]
	default:
		delta = ""
	}

	if delta != "" {
		st.complete += delta
		st.lastSeen = newText
	}
	return delta
}

// getCompleteText returns the accumulator for id.
func (t *chunkTracker) getCompleteText(id string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.state[id]; ok {
		return st.complete
	}
	return ""
}

// clearChunk removes id's tracked state.
func (t *chunkTracker) clearChunk(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, id)
}
