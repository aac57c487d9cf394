package jsonstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessResponseToolChunkPartial(t *testing.T) {
	v, ok := ProcessResponseToolChunk(`{"response": "hello wor`)
	require.True(t, ok)
	assert.Equal(t, "hello wor", v)
}

func TestProcessResponseToolChunkNotStarted(t *testing.T) {
	_, ok := ProcessResponseToolChunk(`{"respo`)
	assert.False(t, ok)
}

func TestProcessMetricChunkPartialAndComplete(t *testing.T) {
	deltas := ProcessMetricChunk("call_1", `{"files": [{"name": "revenue", "yml": "title: Rev`)
	require.Len(t, deltas, 1)
	assert.Equal(t, "revenue", deltas[0].Name)
	assert.Equal(t, "title: Rev", deltas[0].YML)
	assert.NotEmpty(t, deltas[0].ID)

	complete := ProcessMetricChunk("call_1", `{"files": [{"name": "revenue", "yml": "title: Revenue"}]}`)
	require.Len(t, complete, 1)
	assert.Equal(t, "title: Revenue", complete[0].YML)
}

func TestProcessMetricChunkIDStableAcrossChunks(t *testing.T) {
	first := ProcessMetricChunk("call_1", `{"files": [{"name": "revenue", "yml": "a`)
	second := ProcessMetricChunk("call_1", `{"files": [{"name": "revenue", "yml": "a: b\nc: d"}]}`)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestProcessMetricChunkDifferentToolCallDifferentID(t *testing.T) {
	a := ProcessMetricChunk("call_1", `{"files": [{"name": "revenue", "yml": ""}]}`)
	b := ProcessMetricChunk("call_2", `{"files": [{"name": "revenue", "yml": ""}]}`)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.NotEqual(t, a[0].ID, b[0].ID)
}

func TestFinalMetricFilesMatchesStreamedID(t *testing.T) {
	streamed := ProcessMetricChunk("call_1", `{"files": [{"name": "revenue", "yml": "partial`)
	final := FinalMetricFiles("call_1", `{"files": [{"name": "revenue", "yml": "title: Revenue\nquery: select 1"}]}`)
	require.Len(t, streamed, 1)
	require.Len(t, final, 1)
	assert.Equal(t, streamed[0].ID, final[0].ID)
	assert.Equal(t, "title: Revenue\nquery: select 1", final[0].YML)
}

func TestProcessMetricChunkSkipsEntriesWithoutName(t *testing.T) {
	deltas := ProcessMetricChunk("call_1", `{"files": [{"yml": "no name yet"}, {"name": "b", "yml": ""}]}`)
	require.Len(t, deltas, 1)
	assert.Equal(t, "b", deltas[0].Name)
}
