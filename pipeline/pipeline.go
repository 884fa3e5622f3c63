// Package pipeline fans a newly committed record out to every secondary
// index: the four edge-role posting lists, the VIP compaction index, the
// generation chain and liveness bitmap, the name/value/word hash indexes,
// the word-prefix bitmap, and the value bins.
package pipeline

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/graphgo/core"
	"github.com/hupe1980/graphgo/index"
	"github.com/hupe1980/graphgo/store"
)

// DefaultVIPThreshold is the edge fan-out at which an endpoint's edges start
// being compacted into the VIP index by type qualifier.
const DefaultVIPThreshold = 1024

// LivenessKey is the single key of the superseded-generation bitmap.
const LivenessKey = core.NoRecord

// Subscriber receives every newly indexed record, after all indexes are
// consistent. Fan-out hook for downstream caches.
type Subscriber func(rec *core.Record)

// Indexes bundles one instance of every secondary index.
type Indexes struct {
	Edges    [core.NumRoles]*index.ListIndex
	VIP      *index.HashIndex
	Lineage  *index.HashIndex
	Liveness *index.BitmapIndex
	Names    *index.HashIndex
	Values   *index.HashIndex
	Words    *index.HashIndex
	Bins     *index.HashIndex
}

// NewIndexes creates the full index set.
func NewIndexes(transactional bool) *Indexes {
	ixs := &Indexes{
		VIP:      index.NewHashIndex(index.KindVIP, transactional),
		Lineage:  index.NewHashIndex(index.KindLineage, transactional),
		Liveness: index.NewBitmapIndex(index.KindLiveness, transactional),
		Names:    index.NewHashIndex(index.KindName, transactional),
		Values:   index.NewHashIndex(index.KindValue, transactional),
		Words:    index.NewHashIndex(index.KindWord, transactional),
		Bins:     index.NewHashIndex(index.KindBin, transactional),
	}
	for role := 0; role < core.NumRoles; role++ {
		ixs.Edges[role] = index.NewListIndex(index.KindEdgeType+index.Kind(role), transactional)
	}
	return ixs
}

// All returns every instance behind the uniform checkpoint contract, in a
// stable order.
func (x *Indexes) All() []index.Type {
	out := make([]index.Type, 0, index.NumKinds)
	for _, e := range x.Edges {
		out = append(out, e)
	}
	return append(out, x.VIP, x.Lineage, x.Liveness, x.Names, x.Values, x.Words, x.Bins)
}

// Close closes every instance, keeping the first error.
func (x *Indexes) Close() error {
	var first error
	for _, ix := range x.All() {
		if err := ix.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Indexer drives the synchronization pipeline.
type Indexer struct {
	store  store.RecordStore
	sess   *store.Session
	ixs    *Indexes
	logger *slog.Logger

	// prefixes has one bit per up-to-5-character word prefix, maintained so
	// that a clear bit at any prefix length proves no indexed word extends it.
	prefixes *bitset.BitSet

	vipThreshold int
	subscribers  []Subscriber
}

// NewIndexer creates a pipeline over the store and index set. A
// vipThreshold of 0 selects the default.
func NewIndexer(st store.RecordStore, sess *store.Session, ixs *Indexes, logger *slog.Logger, vipThreshold int) *Indexer {
	if vipThreshold <= 0 {
		vipThreshold = DefaultVIPThreshold
	}
	return &Indexer{
		store:        st,
		sess:         sess,
		ixs:          ixs,
		logger:       logger,
		prefixes:     bitset.New(1 << 16),
		vipThreshold: vipThreshold,
	}
}

// Indexes returns the index set the pipeline feeds.
func (p *Indexer) Indexes() *Indexes { return p.ixs }

// VIPThreshold returns the effective VIP fan-out threshold.
func (p *Indexer) VIPThreshold() int { return p.vipThreshold }

// Subscribe registers a fan-out subscriber. Not safe to call while a commit
// is in flight.
func (p *Indexer) Subscribe(fn Subscriber) {
	p.subscribers = append(p.subscribers, fn)
}

// IndexNewPrimitive updates every secondary index for one newly committed
// record. Steps run in a fixed order and the first failure aborts the call;
// recovery replays the whole record, relying on every Add being idempotent.
func (p *Indexer) IndexNewPrimitive(rec *core.Record) error {
	if rec.ID == core.NoRecord {
		return fmt.Errorf("index primitive: %w: record without id", core.ErrCorrupt)
	}
	// Record geometry is about to change; no live handle may survive it.
	if err := p.sess.SuspendAll(); err != nil {
		return err
	}
	if err := p.indexEdges(rec); err != nil {
		return err
	}
	if err := p.indexGeneration(rec); err != nil {
		return err
	}
	if rec.Name != nil {
		if err := p.ixs.Names.Add(index.TagName, NameKey(rec.Name), rec.ID); err != nil {
			return err
		}
	}
	if rec.Value != nil {
		if err := p.indexValue(rec); err != nil {
			return err
		}
	}
	for _, fn := range p.subscribers {
		fn(rec)
	}
	return nil
}

func (p *Indexer) indexEdges(rec *core.Record) error {
	for role := core.EdgeRole(0); role < core.NumRoles; role++ {
		if !rec.HasEdge(role) {
			continue
		}
		endpoint := rec.Edge(role)
		if err := p.ixs.Edges[role].Add(endpoint, rec.ID); err != nil {
			return err
		}
		if role != core.RoleRight && role != core.RoleLeft {
			continue
		}
		switch count := p.ixs.Edges[role].Count(endpoint); {
		case count == p.vipThreshold:
			if err := p.transitionVIP(role, endpoint); err != nil {
				return err
			}
		case count > p.vipThreshold:
			if q := rec.Edge(core.RoleType); q != core.NoRecord {
				key := index.VIPKey(endpoint, role, q)
				if err := p.ixs.VIP.Add(index.TagVIP, key, rec.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// transitionVIP re-indexes an endpoint's entire existing edge list into the
// VIP index the first time its fan-out crosses the threshold. The scan runs
// inline during one commit; a crash in the middle is healed by recovery
// replay re-entering it, every Add being a no-op for entries already made.
func (p *Indexer) transitionVIP(role core.EdgeRole, endpoint core.RecordID) error {
	h, err := p.ixs.Edges[role].Open(endpoint)
	if err != nil {
		return err
	}
	defer h.Release()
	p.logger.Info("vip transition", "role", role.String(), "endpoint", endpoint,
		"edges", h.Len())
	add := func(id core.RecordID) error {
		rec, rerr := p.store.Read(id)
		if rerr != nil {
			return rerr
		}
		q := rec.Edge(core.RoleType)
		if q == core.NoRecord {
			return nil
		}
		return p.ixs.VIP.Add(index.TagVIP, index.VIPKey(endpoint, role, q), id)
	}
	if h.IsBitmap() {
		it := h.Bitmap().Iterator()
		for it.HasNext() {
			if err := add(core.RecordID(it.Next())); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range h.List() {
		if err := add(id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Indexer) indexGeneration(rec *core.Record) error {
	if rec.Gen == nil {
		return nil
	}
	lin := rec.Gen.Lineage
	if lin == core.NoRecord || lin >= rec.ID {
		return fmt.Errorf("index primitive %d: %w: lineage %d", rec.ID, core.ErrCorrupt, lin)
	}
	key := index.LineageKey(lin)
	// The chain root joins its own chain exactly once.
	if err := p.ixs.Lineage.Add(index.TagLineage, key, lin); err != nil {
		return err
	}
	prev := p.previousGeneration(key, rec.ID)
	if err := p.ixs.Lineage.Add(index.TagLineage, key, rec.ID); err != nil {
		return err
	}
	if prev != core.NoRecord {
		if err := p.ixs.Liveness.Set(LivenessKey, prev); err != nil {
			return err
		}
	}
	return nil
}

// previousGeneration returns the newest chain member older than id.
func (p *Indexer) previousGeneration(key []byte, id core.RecordID) core.RecordID {
	h, err := p.ixs.Lineage.Open(index.TagLineage, key)
	if err != nil {
		return core.NoRecord
	}
	defer h.Release()
	i := h.SearchGE(id) - 1
	if i < 0 {
		return core.NoRecord
	}
	return h.At(i)
}

func (p *Indexer) indexValue(rec *core.Record) error {
	canonical := Canonicalize(rec.Value)
	if err := p.ixs.Values.Add(index.TagValue, canonical, rec.ID); err != nil {
		return err
	}
	// Words come from the text as written, not the canonical form: "323"
	// must stay findable as a word even though the value hashes as "3.23e2".
	for _, f := range scanFragments(string(rec.Value)) {
		code := packCode(f.text, f.numeric)
		if err := p.ixs.Words.Add(index.TagWord, index.WordKey(code), rec.ID); err != nil {
			return err
		}
		if f.numeric {
			continue
		}
		for n := 1; n <= runeLen(f.text); n++ {
			p.prefixes.Set(prefixBit(f.text, n))
		}
	}
	if bin, ok := Bin(canonical); ok {
		if err := p.ixs.Bins.Add(index.TagBin, index.BinKey(bin), rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// HasPrefix reports whether any indexed word starts with the first up-to-5
// characters of s. A false result proves no suffix can exist; a true result
// still needs a word-index lookup to confirm a full match.
func (p *Indexer) HasPrefix(s string) bool {
	n := runeLen(s)
	if n == 0 {
		return false
	}
	return p.prefixes.Test(prefixBit(s, n))
}

// FootprintIntact cheaply probes whether a record's index footprint is
// already complete, so non-transactional recovery can skip the re-index.
func (p *Indexer) FootprintIntact(rec *core.Record) bool {
	for role := core.EdgeRole(0); role < core.NumRoles; role++ {
		if !rec.HasEdge(role) {
			continue
		}
		if !p.listContains(p.ixs.Edges[role], rec.Edge(role), rec.ID) {
			return false
		}
	}
	if rec.Gen != nil {
		if !p.hashContains(p.ixs.Lineage, index.TagLineage, index.LineageKey(rec.Gen.Lineage), rec.ID) {
			return false
		}
	}
	if rec.Name != nil {
		if !p.hashContains(p.ixs.Names, index.TagName, NameKey(rec.Name), rec.ID) {
			return false
		}
	}
	if rec.Value != nil {
		if !p.hashContains(p.ixs.Values, index.TagValue, Canonicalize(rec.Value), rec.ID) {
			return false
		}
	}
	return true
}

func (p *Indexer) listContains(ix *index.ListIndex, key, id core.RecordID) bool {
	h, err := ix.Open(key)
	if err != nil {
		return false
	}
	defer h.Release()
	return h.Contains(id)
}

func (p *Indexer) hashContains(ix *index.HashIndex, tag index.Tag, key []byte, id core.RecordID) bool {
	h, err := ix.Open(tag, key)
	if err != nil {
		return false
	}
	defer h.Release()
	return h.Contains(id)
}

// NameKey folds a record name into its case-insensitive hash key. Lookups
// must fold the same way.
func NameKey(name []byte) []byte {
	return bytes.ToLower([]byte(strings.TrimSpace(string(name))))
}
