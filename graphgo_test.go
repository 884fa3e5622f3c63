package graphgo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	graphgo "github.com/hupe1980/graphgo"
	"github.com/hupe1980/graphgo/iterator"
	"github.com/hupe1980/graphgo/store"
)

func collect(t *testing.T, it *graphgo.Iterator, err error) []graphgo.RecordID {
	t.Helper()
	require.NoError(t, err)
	defer it.Close()
	out := make([]graphgo.RecordID, 64)
	n, err := graphgo.Collect(it, out)
	require.NoError(t, err)
	return out[:n]
}

func TestCommitAndIterate(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open()
	require.NoError(t, err)
	defer db.Close()

	a, err := db.Commit(ctx, &graphgo.Record{})
	require.NoError(t, err)
	b, err := db.Commit(ctx, &graphgo.Record{
		Edges: [4]graphgo.RecordID{graphgo.RoleRight: a},
		Value: []byte("42"),
	})
	require.NoError(t, err)
	c, err := db.Commit(ctx, &graphgo.Record{
		Edges: [4]graphgo.RecordID{graphgo.RoleRight: a},
		Value: []byte("42.0"),
	})
	require.NoError(t, err)

	it, err := db.Edges(graphgo.RoleRight, a, 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{b, c}, collect(t, it, err))

	it, err = db.Edges(graphgo.RoleRight, a, 0, 0, true)
	assert.Equal(t, []graphgo.RecordID{c, b}, collect(t, it, err))

	// Numerically equal spellings share one posting set.
	it, err = db.Value([]byte("4.2E1"), 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{b, c}, collect(t, it, err))

	it, err = db.Bin([]byte("50"), 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{b, c}, collect(t, it, err))

	assert.Equal(t, []graphgo.RecordID{a, b, c}, collect(t, db.Scan(0, db.NextID(), false), nil))

	rec, err := db.Read(b)
	require.NoError(t, err)
	assert.Equal(t, db.ID(), rec.Global.DB)
	assert.Equal(t, b, rec.Global.Local)
}

func TestNameLookupFoldsCase(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open()
	require.NoError(t, err)
	defer db.Close()

	id, err := db.Commit(ctx, &graphgo.Record{Name: []byte("Widget")})
	require.NoError(t, err)

	it, err := db.Name([]byte("  widget "), 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{id}, collect(t, it, err))

	it, err = db.Name([]byte("gadget"), 0, 0, false)
	assert.Empty(t, collect(t, it, err))
}

func TestWordLookup(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open()
	require.NoError(t, err)
	defer db.Close()

	id, err := db.Commit(ctx, &graphgo.Record{Value: []byte("hello world 42")})
	require.NoError(t, err)

	it, err := db.Word("hello", 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{id}, collect(t, it, err))

	it, err = db.Word("42", 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{id}, collect(t, it, err))

	// A prefix of an indexed word is not itself a match.
	it, err = db.Word("hel", 0, 0, false)
	assert.Empty(t, collect(t, it, err))

	// The prefix bitmap answers clear misses without a hash probe.
	it, err = db.Word("zebra", 0, 0, false)
	assert.Empty(t, collect(t, it, err))
	it, err = db.Word("", 0, 0, false)
	assert.Empty(t, collect(t, it, err))
}

func TestWordLookupNumberFragments(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open()
	require.NoError(t, err)
	defer db.Close()

	a, err := db.Commit(ctx, &graphgo.Record{Value: []byte("323")})
	require.NoError(t, err)
	b, err := db.Commit(ctx, &graphgo.Record{Value: []byte("323.5")})
	require.NoError(t, err)

	// The whole number and the integer part of the decimal both answer a
	// search for 323; value canonicalization never reaches the word index.
	it, err := db.Word("323", 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{a, b}, collect(t, it, err))

	it, err = db.Word("323.5", 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{b}, collect(t, it, err))
}

func TestLineageAndSuperseded(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open()
	require.NoError(t, err)
	defer db.Close()

	root, err := db.Commit(ctx, &graphgo.Record{Value: []byte("v1")})
	require.NoError(t, err)
	g2, err := db.Commit(ctx, &graphgo.Record{
		Value: []byte("v2"),
		Gen:   &graphgo.Generation{Lineage: root, Index: 1},
	})
	require.NoError(t, err)

	it, err := db.Lineage(root, 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{root, g2}, collect(t, it, err))

	assert.True(t, db.Superseded(root))
	assert.False(t, db.Superseded(g2))
}

func TestCheckpointAdvancesHorizon(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 3; i++ {
		_, err := db.Commit(ctx, &graphgo.Record{})
		require.NoError(t, err)
	}
	require.NoError(t, db.Checkpoint(ctx))
	assert.Equal(t, db.NextID(), db.Horizon())
}

func TestFreezeThawThroughDB(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open()
	require.NoError(t, err)
	defer db.Close()

	a, err := db.Commit(ctx, &graphgo.Record{})
	require.NoError(t, err)
	var ids []graphgo.RecordID
	for i := 0; i < 4; i++ {
		id, err := db.Commit(ctx, &graphgo.Record{
			Edges: [4]graphgo.RecordID{graphgo.RoleRight: a},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	it, err := db.Edges(graphgo.RoleRight, a, 0, 0, false)
	require.NoError(t, err)
	defer it.Close()
	budget := graphgo.Unbounded
	got, err := it.Next(&budget)
	require.NoError(t, err)
	assert.Equal(t, ids[0], got)

	thawed, err := db.Thaw(it.Freeze(iterator.FreezeAll))
	require.NoError(t, err)
	assert.Equal(t, ids[1:], collect(t, thawed, nil))

	_, err = db.Thaw("garbage")
	assert.ErrorIs(t, err, graphgo.ErrCursorSyntax)
}

func TestIteratorSurvivesInterleavedCommit(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open()
	require.NoError(t, err)
	defer db.Close()

	a, err := db.Commit(ctx, &graphgo.Record{})
	require.NoError(t, err)
	b, err := db.Commit(ctx, &graphgo.Record{
		Edges: [4]graphgo.RecordID{graphgo.RoleRight: a},
	})
	require.NoError(t, err)

	it, err := db.Edges(graphgo.RoleRight, a, 0, 0, false)
	require.NoError(t, err)
	defer it.Close()
	budget := graphgo.Unbounded
	got, err := it.Next(&budget)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	// The commit suspends the live cursor and it resumes in place.
	c, err := db.Commit(ctx, &graphgo.Record{
		Edges: [4]graphgo.RecordID{graphgo.RoleRight: a},
	})
	require.NoError(t, err)

	got, err = it.Next(&budget)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestVIPAndRestrict(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open(graphgo.WithVIPThreshold(3))
	require.NoError(t, err)
	defer db.Close()

	q, err := db.Commit(ctx, &graphgo.Record{})
	require.NoError(t, err)
	ep, err := db.Commit(ctx, &graphgo.Record{})
	require.NoError(t, err)

	var edges []graphgo.RecordID
	for i := 0; i < 4; i++ {
		id, err := db.Commit(ctx, &graphgo.Record{
			Edges: [4]graphgo.RecordID{graphgo.RoleType: q, graphgo.RoleRight: ep},
		})
		require.NoError(t, err)
		edges = append(edges, id)
	}

	it, err := db.VIP(graphgo.RoleRight, ep, q, 0, 0, false)
	assert.Equal(t, edges, collect(t, it, err))

	base, err := db.Edges(graphgo.RoleRight, ep, 0, 0, false)
	require.NoError(t, err)
	defer base.Close()
	proof := graphgo.Summary{Constraints: []iterator.Constraint{
		{Role: graphgo.RoleType, Endpoint: q},
	}}
	restricted, err := db.Restrict(base, proof)
	assert.Equal(t, edges, collect(t, restricted, err))

	// A VIP cursor round-trips through freeze text, guarantees included.
	it, err = db.VIP(graphgo.RoleRight, ep, q, 0, 0, false)
	require.NoError(t, err)
	thawed, err := db.Thaw(it.Freeze(iterator.FreezeAll))
	require.NoError(t, err)
	assert.True(t, thawed.Summary().Satisfies(iterator.Constraint{
		Role: graphgo.RoleType, Endpoint: q,
	}))
	assert.Equal(t, edges, collect(t, thawed, nil))
	require.NoError(t, it.Close())
}

func TestCollectOverflow(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 5; i++ {
		_, err := db.Commit(ctx, &graphgo.Record{})
		require.NoError(t, err)
	}

	out := make([]graphgo.RecordID, 3)
	n, err := graphgo.Collect(db.Scan(0, db.NextID(), false), out)
	assert.ErrorIs(t, err, graphgo.ErrOverflow)
	assert.Equal(t, 3, n)
	assert.Equal(t, []graphgo.RecordID{1, 2, 3}, out)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := graphgo.Open(
		graphgo.WithRecordLog(dir),
		graphgo.WithCompression(store.CompressionLZ4),
	)
	require.NoError(t, err)

	a, err := db.Commit(ctx, &graphgo.Record{})
	require.NoError(t, err)
	b, err := db.Commit(ctx, &graphgo.Record{
		Edges: [4]graphgo.RecordID{graphgo.RoleRight: a},
		Name:  []byte("thing"),
		Value: []byte("42"),
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopen replays the log and recovery rebuilds every index.
	db, err = graphgo.Open(
		graphgo.WithRecordLog(dir),
		graphgo.WithCompression(store.CompressionLZ4),
	)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, db.NextID(), db.Horizon())

	it, err := db.Edges(graphgo.RoleRight, a, 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{b}, collect(t, it, err))
	it, err = db.Value([]byte("42.0"), 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{b}, collect(t, it, err))
	it, err = db.Name([]byte("THING"), 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{b}, collect(t, it, err))

	rec, err := db.Read(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("thing"), rec.Name)
}

func TestRollbackThroughDB(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open(graphgo.WithTransactional(true))
	require.NoError(t, err)
	defer db.Close()

	a, err := db.Commit(ctx, &graphgo.Record{})
	require.NoError(t, err)
	b, err := db.Commit(ctx, &graphgo.Record{
		Edges: [4]graphgo.RecordID{graphgo.RoleRight: a},
	})
	require.NoError(t, err)
	require.NoError(t, db.Checkpoint(ctx))

	c, err := db.Commit(ctx, &graphgo.Record{
		Edges: [4]graphgo.RecordID{graphgo.RoleRight: a},
	})
	require.NoError(t, err)

	require.NoError(t, db.Rollback(ctx, c))

	assert.Equal(t, c, db.NextID())
	it, err := db.Edges(graphgo.RoleRight, a, 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{b}, collect(t, it, err))
}

func TestFailedCommitDuringSlicedCheckpoint(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open(
		graphgo.WithTransactional(true),
		graphgo.WithCheckpointPacing(time.Hour, time.Nanosecond),
	)
	require.NoError(t, err)
	defer db.Close()

	a, err := db.Commit(ctx, &graphgo.Record{})
	require.NoError(t, err)
	require.NoError(t, db.Checkpoint(ctx))

	b, err := db.Commit(ctx, &graphgo.Record{
		Edges: [4]graphgo.RecordID{graphgo.RoleRight: a},
	})
	require.NoError(t, err)

	// Leave a checkpoint cycle in flight.
	err = db.CheckpointDeadline(ctx, time.Now().Add(-time.Hour))
	require.ErrorIs(t, err, graphgo.ErrWouldBlock)

	// The forward lineage fails indexing; the commit rolls back cleanly
	// even with the checkpoint mid-cycle.
	_, err = db.Commit(ctx, &graphgo.Record{
		Gen: &graphgo.Generation{Lineage: db.NextID() + 1},
	})
	assert.ErrorIs(t, err, graphgo.ErrCorrupt)

	// The store stays usable and the next checkpoint completes.
	c, err := db.Commit(ctx, &graphgo.Record{
		Edges: [4]graphgo.RecordID{graphgo.RoleRight: a},
	})
	require.NoError(t, err)
	require.NoError(t, db.Checkpoint(ctx))
	assert.Equal(t, db.NextID(), db.Horizon())

	it, err := db.Edges(graphgo.RoleRight, a, 0, 0, false)
	assert.Equal(t, []graphgo.RecordID{b, c}, collect(t, it, err))
}

func TestCommitAfterCloseFails(t *testing.T) {
	db, err := graphgo.Open()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Commit(context.Background(), &graphgo.Record{})
	var closed *graphgo.ErrClosed
	assert.ErrorAs(t, err, &closed)

	// Close is idempotent.
	assert.NoError(t, db.Close())
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	db, err := graphgo.Open()
	require.NoError(t, err)
	defer db.Close()

	var seen []graphgo.RecordID
	db.Subscribe(func(rec *graphgo.Record) {
		seen = append(seen, rec.ID)
	})

	a, err := db.Commit(ctx, &graphgo.Record{})
	require.NoError(t, err)
	b, err := db.Commit(ctx, &graphgo.Record{})
	require.NoError(t, err)
	assert.Equal(t, []graphgo.RecordID{a, b}, seen)
}

func TestStatusReporting(t *testing.T) {
	ctx := context.Background()
	rep := &graphgo.BasicStatusReporter{}
	db, err := graphgo.Open(graphgo.WithStatusReporter(rep))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Commit(ctx, &graphgo.Record{})
	require.NoError(t, err)
	require.NoError(t, db.Checkpoint(ctx))
	db.Status()

	deficit, ok := rep.Get("pdb.checkpoint-deficit")
	require.True(t, ok)
	assert.Zero(t, deficit)

	horizon, ok := rep.Get("pdb.horizon")
	require.True(t, ok)
	assert.Equal(t, int64(db.Horizon()), horizon)

	ixHorizon, ok := rep.Get("pdb.index-horizon")
	require.True(t, ok)
	assert.Equal(t, horizon, ixHorizon)

	assert.NotEmpty(t, rep.Snapshot())
}
