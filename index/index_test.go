package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/graphgo/core"
)

func TestListIndexAddAndOpen(t *testing.T) {
	ix := NewListIndex(KindEdgeRight, false)

	require.NoError(t, ix.Add(7, 3))
	require.NoError(t, ix.Add(7, 9))
	require.NoError(t, ix.Add(7, 5)) // out of order, recovery replay shape
	require.NoError(t, ix.Add(7, 9)) // duplicate is a no-op

	assert.Equal(t, 3, ix.Count(7))

	h, err := ix.Open(7)
	require.NoError(t, err)
	defer h.Release()

	assert.False(t, h.IsBitmap())
	assert.Equal(t, []core.RecordID{3, 5, 9}, h.List())
	assert.True(t, h.Contains(5))
	assert.False(t, h.Contains(4))
}

func TestListIndexOpenMissingKey(t *testing.T) {
	ix := NewListIndex(KindEdgeLeft, false)

	_, err := ix.Open(42)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestListIndexZeroIDRejected(t *testing.T) {
	ix := NewListIndex(KindEdgeRight, false)

	err := ix.Add(7, core.NoRecord)
	assert.ErrorIs(t, err, core.ErrCorrupt)
}

func TestListIndexPromotion(t *testing.T) {
	ix := NewListIndex(KindEdgeRight, false)

	for i := 1; i <= PromoteThreshold; i++ {
		require.NoError(t, ix.Add(7, core.RecordID(i*2)))
	}

	assert.True(t, ix.Promoted(7))
	assert.Equal(t, PromoteThreshold, ix.Count(7))

	h, err := ix.Open(7)
	require.NoError(t, err)
	defer h.Release()

	assert.True(t, h.IsBitmap())
	assert.True(t, h.Contains(2))
	assert.True(t, h.Contains(core.RecordID(PromoteThreshold*2)))
	assert.False(t, h.Contains(3))

	// Adds keep landing in the bitmap.
	require.NoError(t, ix.Add(7, 3))
	assert.Equal(t, PromoteThreshold+1, ix.Count(7))
}

func TestListIndexRollback(t *testing.T) {
	ix := NewListIndex(KindEdgeRight, true)

	require.NoError(t, ix.Add(7, 1))
	require.NoError(t, ix.Add(7, 2))
	ix.AdvanceHorizon(3)

	require.NoError(t, ix.Add(7, 3))
	require.NoError(t, ix.Add(8, 4))

	require.NoError(t, ix.Rollback())

	assert.Equal(t, 2, ix.Count(7))
	assert.Equal(t, 0, ix.Count(8))
	assert.Equal(t, core.RecordID(3), ix.Horizon())
}

func TestListIndexRollbackNonTransactional(t *testing.T) {
	ix := NewListIndex(KindEdgeRight, false)

	assert.ErrorIs(t, ix.Rollback(), core.ErrUnsupported)
}

func TestHashIndexIdempotentAdd(t *testing.T) {
	ix := NewHashIndex(KindName, false)

	require.NoError(t, ix.Add(TagName, []byte("alpha"), 4))
	require.NoError(t, ix.Add(TagName, []byte("alpha"), 4))
	require.NoError(t, ix.Add(TagName, []byte("alpha"), 2))

	assert.Equal(t, 2, ix.Count(TagName, []byte("alpha")))

	h, err := ix.Open(TagName, []byte("alpha"))
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, []core.RecordID{2, 4}, h.List())
}

func TestHashIndexTagIsolation(t *testing.T) {
	ix := NewHashIndex(KindValue, false)

	require.NoError(t, ix.Add(TagValue, []byte("42"), 1))
	require.NoError(t, ix.Add(TagWord, []byte("42"), 2))

	assert.Equal(t, 1, ix.Count(TagValue, []byte("42")))
	assert.Equal(t, 1, ix.Count(TagWord, []byte("42")))
}

func TestHashIndexTruncate(t *testing.T) {
	ix := NewHashIndex(KindLineage, false)

	require.NoError(t, ix.Add(TagLineage, LineageKey(1), 1))
	require.NoError(t, ix.Add(TagLineage, LineageKey(1), 5))
	require.NoError(t, ix.Add(TagLineage, LineageKey(2), 6))

	require.NoError(t, ix.Truncate(5))

	assert.Equal(t, 1, ix.Count(TagLineage, LineageKey(1)))
	assert.Equal(t, 0, ix.Count(TagLineage, LineageKey(2)))
}

func TestBitmapIndexRollbackReplaysJournal(t *testing.T) {
	ix := NewBitmapIndex(KindLiveness, true)

	// Durable marks survive a rollback even though they sit on old ids.
	require.NoError(t, ix.Set(0, 2))
	ix.AdvanceHorizon(10)

	require.NoError(t, ix.Set(0, 3)) // old id marked after the checkpoint
	require.NoError(t, ix.Set(0, 11))
	require.NoError(t, ix.Set(0, 2)) // already set, not journaled

	require.NoError(t, ix.Rollback())

	assert.True(t, ix.Contains(0, 2))
	assert.False(t, ix.Contains(0, 3))
	assert.False(t, ix.Contains(0, 11))
}

func TestCheckpointStepIdempotence(t *testing.T) {
	ix := NewListIndex(KindEdgeRight, false)

	require.NoError(t, ix.Checkpoint(StageStartWrites, 5))
	assert.ErrorIs(t, ix.Checkpoint(StageStartWrites, 5), core.ErrAlreadyThere)

	// Later stage for the same target is fresh work.
	require.NoError(t, ix.Checkpoint(StageFinishWrites, 5))
	assert.ErrorIs(t, ix.Checkpoint(StageStartWrites, 5), core.ErrAlreadyThere)

	// A new target restarts the ladder.
	ix.AdvanceHorizon(5)
	require.NoError(t, ix.Checkpoint(StageStartWrites, 9))
}

func TestAdvanceHorizonRetreatPanics(t *testing.T) {
	ix := NewListIndex(KindEdgeRight, false)
	ix.AdvanceHorizon(10)

	assert.Panics(t, func() { ix.AdvanceHorizon(5) })
}

func TestMinHorizon(t *testing.T) {
	a := NewListIndex(KindEdgeRight, false)
	b := NewHashIndex(KindName, false)
	a.AdvanceHorizon(10)
	b.AdvanceHorizon(7)

	assert.Equal(t, core.RecordID(7), MinHorizon([]Type{a, b}))
	assert.Equal(t, core.RecordID(0), MinHorizon(nil))
}

func TestHandleSearchGE(t *testing.T) {
	h := newListHandle([]core.RecordID{3, 5, 9})
	defer h.Release()

	assert.Equal(t, 0, h.SearchGE(1))
	assert.Equal(t, 1, h.SearchGE(4))
	assert.Equal(t, 1, h.SearchGE(5))
	assert.Equal(t, 3, h.SearchGE(10))
}
