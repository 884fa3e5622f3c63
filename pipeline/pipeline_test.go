package pipeline

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/graphgo/core"
	"github.com/hupe1980/graphgo/index"
	"github.com/hupe1980/graphgo/store"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

type rig struct {
	store *store.MemStore
	sess  *store.Session
	ixs   *Indexes
	pipe  *Indexer
}

func newRig(t *testing.T, vipThreshold int) *rig {
	t.Helper()
	st := store.NewMemStore(false)
	sess := store.NewSession()
	ixs := NewIndexes(false)
	return &rig{
		store: st,
		sess:  sess,
		ixs:   ixs,
		pipe:  NewIndexer(st, sess, ixs, testLogger(), vipThreshold),
	}
}

// commit appends and indexes one record, returning its id.
func (r *rig) commit(t *testing.T, rec *core.Record) core.RecordID {
	t.Helper()
	id, err := r.store.Append(rec)
	require.NoError(t, err)
	stored, err := r.store.Read(id)
	require.NoError(t, err)
	require.NoError(t, r.pipe.IndexNewPrimitive(stored))
	return id
}

func (r *rig) hashIDs(t *testing.T, ix *index.HashIndex, tag index.Tag, key []byte) []core.RecordID {
	t.Helper()
	h, err := ix.Open(tag, key)
	if err != nil {
		assert.ErrorIs(t, err, core.ErrNotFound)
		return nil
	}
	defer h.Release()
	return append([]core.RecordID(nil), h.List()...)
}

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"42":           "4.2e1",
		"42.0":         "4.2e1",
		"4.2E1":        "4.2e1",
		" 42 ":         "4.2e1",
		"0":            "0e0",
		"-0.5":         "-5e-1",
		"1e3":          "1e3",
		"foo":          "foo",
		"  foo   bar ": "foo bar",
		"foo\t\nbar":   "foo bar",
	}
	for in, want := range cases {
		assert.Equal(t, want, string(Canonicalize([]byte(in))), "input %q", in)
	}

	assert.True(t, IsNumeric([]byte(" 42.0 ")))
	assert.False(t, IsNumeric([]byte("42a")))
}

func TestScanFragments(t *testing.T) {
	texts := func(fs []fragment) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.text)
		}
		return out
	}

	cases := map[string][]string{
		"hello world": {"hello", "world"},
		"abc123def":   {"abc", "123", "def"},
		"323.5":       {"323.5", "323", ".", "5"},
		"-7":          {"-7", "-"},
		"x+4":         {"x", "+4", "+"},
		"a, b":        {"a", "b"},
		"   ":         nil,
	}
	for in, want := range cases {
		assert.Equal(t, want, texts(scanFragments(in)), "input %q", in)
	}

	// The split integer part of "323.5" carries the same code as the whole
	// run "323", so both values answer a search for 323.
	whole := scanFragments("323")
	split := scanFragments("323.5")
	require.NotEmpty(t, whole)
	assert.Equal(t, packCode(whole[0].text, true), packCode(split[1].text, true))
}

func TestWordCode(t *testing.T) {
	// Case-insensitive, length-disjoint packing.
	assert.Equal(t, WordCode("abc"), WordCode("ABC"))
	assert.NotEqual(t, WordCode("a"), WordCode("ab"))
	assert.NotEqual(t, WordCode("a"), WordCode("aa"))

	// Numeric and word alphabets never alias.
	assert.NotEqual(t, WordCode("1"), WordCode("a"))

	// Past five characters only the overflow marker is kept.
	assert.Equal(t, WordCode("abcdef"), WordCode("abcdeg"))
	assert.NotEqual(t, WordCode("abcde"), WordCode("abcdef"))
}

func TestBin(t *testing.T) {
	bin := func(s string) (int, bool) { return Bin(Canonicalize([]byte(s))) }

	b42, ok := bin("42")
	require.True(t, ok)
	b50, ok := bin("50")
	require.True(t, ok)
	assert.Equal(t, b42, b50)

	b5, ok := bin("5")
	require.True(t, ok)
	assert.NotEqual(t, b42, b5)

	// Exactly on a boundary: not binned.
	_, ok = bin("10")
	assert.False(t, ok)

	// Alphabetic bins fold case and never collide with numeric bins.
	ba, ok := bin("Apple")
	require.True(t, ok)
	ba2, ok := bin("avocado")
	require.True(t, ok)
	assert.Equal(t, ba, ba2)
	assert.Greater(t, ba, len(numericBinBounds))

	bz, ok := bin("zebra")
	require.True(t, ok)
	assert.NotEqual(t, ba, bz)
}

func TestBinRange(t *testing.T) {
	lo, hi := BinRange(Canonicalize([]byte("5")), Canonicalize([]byte("500")))
	assert.LessOrEqual(t, lo, hi)

	b42, _ := Bin(Canonicalize([]byte("42")))
	assert.LessOrEqual(t, lo, b42)
	assert.GreaterOrEqual(t, hi, b42)

	// A boundary endpoint belongs to the bin above it.
	lo10, _ := BinRange(Canonicalize([]byte("10")), Canonicalize([]byte("10")))
	b11, _ := Bin(Canonicalize([]byte("11")))
	assert.Equal(t, b11, lo10)

	// Reversed endpoints normalize.
	lo2, hi2 := BinRange(Canonicalize([]byte("500")), Canonicalize([]byte("5")))
	assert.Equal(t, lo, lo2)
	assert.Equal(t, hi, hi2)
}

func TestIndexNewPrimitiveFansOut(t *testing.T) {
	r := newRig(t, 0)

	a := r.commit(t, &core.Record{})
	b := r.commit(t, &core.Record{
		Edges: [core.NumRoles]core.RecordID{core.RoleRight: a},
		Value: []byte("42"),
	})
	c := r.commit(t, &core.Record{
		Edges: [core.NumRoles]core.RecordID{core.RoleRight: a},
		Value: []byte("42.0"),
	})

	// Both edges land in a's right-edge posting list.
	h, err := r.ixs.Edges[core.RoleRight].Open(a)
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, []core.RecordID{b, c}, h.List())

	// Numerically equal values share one hash bucket and one bin.
	ids := r.hashIDs(t, r.ixs.Values, index.TagValue, Canonicalize([]byte("4.2E1")))
	assert.Equal(t, []core.RecordID{b, c}, ids)

	bin, ok := Bin(Canonicalize([]byte("42")))
	require.True(t, ok)
	assert.Equal(t, []core.RecordID{b, c},
		r.hashIDs(t, r.ixs.Bins, index.TagBin, index.BinKey(bin)))
}

func TestIndexNewPrimitiveRejectsZeroID(t *testing.T) {
	r := newRig(t, 0)
	err := r.pipe.IndexNewPrimitive(&core.Record{})
	assert.ErrorIs(t, err, core.ErrCorrupt)
}

func TestIndexName(t *testing.T) {
	r := newRig(t, 0)

	id := r.commit(t, &core.Record{Name: []byte("  Widget ")})

	assert.Equal(t, []core.RecordID{id},
		r.hashIDs(t, r.ixs.Names, index.TagName, NameKey([]byte("widget"))))
	assert.Nil(t, r.hashIDs(t, r.ixs.Names, index.TagName, NameKey([]byte("gadget"))))
}

func TestIndexWordsAndPrefixes(t *testing.T) {
	r := newRig(t, 0)

	id := r.commit(t, &core.Record{Value: []byte("hello world")})

	assert.Equal(t, []core.RecordID{id},
		r.hashIDs(t, r.ixs.Words, index.TagWord, index.WordKey(WordCode("hello"))))
	assert.Equal(t, []core.RecordID{id},
		r.hashIDs(t, r.ixs.Words, index.TagWord, index.WordKey(WordCode("world"))))

	for _, p := range []string{"h", "he", "hel", "hell", "hello", "w", "wor"} {
		assert.True(t, r.pipe.HasPrefix(p), "prefix %q", p)
	}
	for _, p := range []string{"x", "hx", "held", "woe"} {
		assert.False(t, r.pipe.HasPrefix(p), "prefix %q", p)
	}
	assert.False(t, r.pipe.HasPrefix(""))

	// Past five characters only the 5-character prefix is probed, so the
	// probe can answer true for terms no indexed word actually extends.
	assert.True(t, r.pipe.HasPrefix("worldly"))
	r.commit(t, &core.Record{Value: []byte("prefixes")})
	assert.True(t, r.pipe.HasPrefix("prefibbb"))
}

func TestWordsComeFromVerbatimText(t *testing.T) {
	r := newRig(t, 0)

	// "323" hashes as the canonical "3.23e2", but its words come from the
	// text as written, so a word search for 323 finds both values.
	a := r.commit(t, &core.Record{Value: []byte("323")})
	b := r.commit(t, &core.Record{Value: []byte("323.5")})

	assert.Equal(t, []core.RecordID{a, b},
		r.hashIDs(t, r.ixs.Words, index.TagWord, index.WordKey(WordCode("323"))))

	// No fragment of the canonical form leaks into the word index.
	assert.Nil(t, r.hashIDs(t, r.ixs.Words, index.TagWord, index.WordKey(WordCode("23"))))
}

func TestNumericWordsSkipPrefixBitmap(t *testing.T) {
	r := newRig(t, 0)

	id := r.commit(t, &core.Record{Value: []byte("call 911 now")})

	assert.Equal(t, []core.RecordID{id},
		r.hashIDs(t, r.ixs.Words, index.TagWord, index.WordKey(WordCode("911"))))
	assert.True(t, r.pipe.HasPrefix("call"))
	assert.False(t, r.pipe.HasPrefix("9"))
}

func TestVIPTransition(t *testing.T) {
	r := newRig(t, 3)
	require.Equal(t, 3, r.pipe.VIPThreshold())

	q := r.commit(t, &core.Record{})  // type qualifier
	ep := r.commit(t, &core.Record{}) // popular endpoint

	edge := func(qualifier core.RecordID) core.RecordID {
		return r.commit(t, &core.Record{
			Edges: [core.NumRoles]core.RecordID{core.RoleType: qualifier, core.RoleRight: ep},
		})
	}

	e1 := edge(q)
	e2 := edge(q)
	key := index.VIPKey(ep, core.RoleRight, q)
	assert.Nil(t, r.hashIDs(t, r.ixs.VIP, index.TagVIP, key))

	// The third edge crosses the threshold and back-fills the whole list.
	e3 := edge(q)
	assert.Equal(t, []core.RecordID{e1, e2, e3},
		r.hashIDs(t, r.ixs.VIP, index.TagVIP, key))

	// Past the threshold each commit maintains the VIP entry inline.
	e4 := edge(q)
	assert.Equal(t, []core.RecordID{e1, e2, e3, e4},
		r.hashIDs(t, r.ixs.VIP, index.TagVIP, key))

	// A different qualifier gets its own bucket.
	q2 := r.commit(t, &core.Record{})
	e5 := edge(q2)
	assert.Equal(t, []core.RecordID{e5},
		r.hashIDs(t, r.ixs.VIP, index.TagVIP, index.VIPKey(ep, core.RoleRight, q2)))
	assert.Equal(t, []core.RecordID{e1, e2, e3, e4},
		r.hashIDs(t, r.ixs.VIP, index.TagVIP, key))
}

func TestVIPIgnoresEdgesWithoutQualifier(t *testing.T) {
	r := newRig(t, 2)

	ep := r.commit(t, &core.Record{})
	r.commit(t, &core.Record{Edges: [core.NumRoles]core.RecordID{core.RoleRight: ep}})
	r.commit(t, &core.Record{Edges: [core.NumRoles]core.RecordID{core.RoleRight: ep}})
	r.commit(t, &core.Record{Edges: [core.NumRoles]core.RecordID{core.RoleRight: ep}})

	// The edge list fills, the VIP index stays empty.
	assert.Equal(t, 3, r.ixs.Edges[core.RoleRight].Count(ep))
	assert.Equal(t, 0, r.ixs.VIP.Count(index.TagVIP, index.VIPKey(ep, core.RoleRight, 1)))
}

func TestIndexGeneration(t *testing.T) {
	r := newRig(t, 0)

	root := r.commit(t, &core.Record{Value: []byte("v1")})
	g2 := r.commit(t, &core.Record{
		Value: []byte("v2"),
		Gen:   &core.Generation{Lineage: root, Index: 1},
	})
	g3 := r.commit(t, &core.Record{
		Value: []byte("v3"),
		Gen:   &core.Generation{Lineage: root, Index: 2},
	})

	// The chain holds the root plus every successor.
	assert.Equal(t, []core.RecordID{root, g2, g3},
		r.hashIDs(t, r.ixs.Lineage, index.TagLineage, index.LineageKey(root)))

	// Every superseded generation is marked, the newest is not.
	assert.True(t, r.ixs.Liveness.Contains(LivenessKey, root))
	assert.True(t, r.ixs.Liveness.Contains(LivenessKey, g2))
	assert.False(t, r.ixs.Liveness.Contains(LivenessKey, g3))
}

func TestIndexGenerationRejectsBadLineage(t *testing.T) {
	r := newRig(t, 0)

	id, err := r.store.Append(&core.Record{})
	require.NoError(t, err)

	// A lineage pointing at itself or forward is corrupt.
	err = r.pipe.IndexNewPrimitive(&core.Record{ID: id + 1, Gen: &core.Generation{Lineage: id + 1}})
	assert.ErrorIs(t, err, core.ErrCorrupt)
	err = r.pipe.IndexNewPrimitive(&core.Record{ID: id, Gen: &core.Generation{Lineage: core.NoRecord}})
	assert.ErrorIs(t, err, core.ErrCorrupt)
}

func TestFootprintIntact(t *testing.T) {
	r := newRig(t, 0)

	a := r.commit(t, &core.Record{})
	rec := &core.Record{
		Edges: [core.NumRoles]core.RecordID{core.RoleRight: a},
		Name:  []byte("thing"),
		Value: []byte("42"),
		Gen:   &core.Generation{Lineage: a, Index: 1},
	}
	id := r.commit(t, rec)

	stored, err := r.store.Read(id)
	require.NoError(t, err)
	assert.True(t, r.pipe.FootprintIntact(stored))

	// A record that never went through the pipeline probes false.
	fresh, err := r.store.Append(&core.Record{
		Edges: [core.NumRoles]core.RecordID{core.RoleLeft: a},
	})
	require.NoError(t, err)
	unrec, err := r.store.Read(fresh)
	require.NoError(t, err)
	assert.False(t, r.pipe.FootprintIntact(unrec))
}

func TestReplayIsIdempotent(t *testing.T) {
	r := newRig(t, 0)

	a := r.commit(t, &core.Record{})
	id := r.commit(t, &core.Record{
		Edges: [core.NumRoles]core.RecordID{core.RoleRight: a},
		Name:  []byte("thing"),
		Value: []byte("hello 42"),
	})

	// Crash-recovery replays the whole record; nothing may double up.
	stored, err := r.store.Read(id)
	require.NoError(t, err)
	require.NoError(t, r.pipe.IndexNewPrimitive(stored))

	assert.Equal(t, 1, r.ixs.Edges[core.RoleRight].Count(a))
	assert.Equal(t, 1, r.ixs.Names.Count(index.TagName, NameKey([]byte("thing"))))
	assert.Equal(t, 1, r.ixs.Words.Count(index.TagWord, index.WordKey(WordCode("hello"))))
}

func TestSubscribersRunAfterIndexing(t *testing.T) {
	r := newRig(t, 0)

	var seen []core.RecordID
	r.pipe.Subscribe(func(rec *core.Record) {
		seen = append(seen, rec.ID)
		// All indexes are already consistent when subscribers run.
		assert.True(t, r.pipe.FootprintIntact(rec))
	})

	a := r.commit(t, &core.Record{Name: []byte("n")})
	b := r.commit(t, &core.Record{Edges: [core.NumRoles]core.RecordID{core.RoleRight: a}})
	assert.Equal(t, []core.RecordID{a, b}, seen)
}

func TestIndexesAll(t *testing.T) {
	ixs := NewIndexes(false)
	all := ixs.All()
	assert.Len(t, all, index.NumKinds)

	seen := map[index.Kind]bool{}
	for _, ix := range all {
		assert.False(t, seen[ix.Kind()], "duplicate kind %s", ix.Kind())
		seen[ix.Kind()] = true
	}
	require.NoError(t, ixs.Close())
}
