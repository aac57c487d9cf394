package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkTrackerFirstChunkIsWholeDelta(t *testing.T) {
	tr := newChunkTracker()
	delta := tr.addChunk("a", "hello")
	assert.Equal(t, "hello", delta)
	assert.Equal(t, "hello", tr.getCompleteText("a"))
}

func TestChunkTrackerPrefixOverlapYieldsSuffixOnly(t *testing.T) {
	tr := newChunkTracker()
	tr.addChunk("a", "hello")
	delta := tr.addChunk("a", "hello world")
	assert.Equal(t, " world", delta)
	assert.Equal(t, "hello world", tr.getCompleteText("a"))
}

func TestChunkTrackerRepeatedIdenticalChunkYieldsNoDelta(t *testing.T) {
	tr := newChunkTracker()
	tr.addChunk("a", "hello")
	delta := tr.addChunk("a", "hello")
	assert.Empty(t, delta)
	assert.Equal(t, "hello", tr.getCompleteText("a"))
}

func TestChunkTrackerDistinctIDsAreIndependent(t *testing.T) {
	tr := newChunkTracker()
	tr.addChunk("a", "foo")
	tr.addChunk("b", "bar")
	assert.Equal(t, "foo", tr.getCompleteText("a"))
	assert.Equal(t, "bar", tr.getCompleteText("b"))
}

func TestChunkTrackerClearRemovesState(t *testing.T) {
	tr := newChunkTracker()
	tr.addChunk("a", "foo")
	tr.clearChunk("a")
	assert.Empty(t, tr.getCompleteText("a"))
}
