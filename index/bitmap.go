package index

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/graphgo/core"
)

// BitmapIndex is the bitmap representation: key -> one bit per record id.
// It serves keys whose membership is dense or whose marks land on ids far
// below the writing frontier, where a posting list's locality is useless.
//
// The liveness instance uses it with the superseded-generation key: the bit
// for id p is set when some later generation has superseded p. Because those
// marks touch old ids, rollback cannot be expressed as a truncation; a
// transactional instance therefore journals every mark set since the last
// durable checkpoint.
type BitmapIndex struct {
	common

	sets    map[core.RecordID]*roaring.Bitmap
	journal []mark // marks since the durable horizon; transactional only
}

type mark struct {
	key core.RecordID
	id  core.RecordID
}

// NewBitmapIndex creates an empty bitmap index.
func NewBitmapIndex(kind Kind, transactional bool) *BitmapIndex {
	return &BitmapIndex{
		common: common{kind: kind, txn: transactional, horizon: 1, durable: 1},
		sets:   make(map[core.RecordID]*roaring.Bitmap),
	}
}

// Set sets the bit for id under key. Setting an already-set bit is a no-op
// and is not journaled, so a rollback never clears a bit an earlier,
// still-durable record set.
func (ix *BitmapIndex) Set(key, id core.RecordID) error {
	if id == core.NoRecord {
		return fmt.Errorf("bitmap index %s: %w: zero record id", ix.kind, core.ErrCorrupt)
	}
	bm, ok := ix.sets[key]
	if !ok {
		bm = roaring.New()
		ix.sets[key] = bm
	}
	if bm.CheckedAdd(uint32(id)) && ix.txn {
		ix.journal = append(ix.journal, mark{key: key, id: id})
	}
	return nil
}

// Contains reports whether the bit for id under key is set.
func (ix *BitmapIndex) Contains(key, id core.RecordID) bool {
	bm, ok := ix.sets[key]
	return ok && bm.Contains(uint32(id))
}

// Open returns a live handle over key's bitmap, or core.ErrNotFound if no
// bit under key is set.
func (ix *BitmapIndex) Open(key core.RecordID) (*Handle, error) {
	bm, ok := ix.sets[key]
	if !ok || bm.IsEmpty() {
		return nil, core.ErrNotFound
	}
	return newBitmapHandle(bm), nil
}

// Count returns the number of set bits under key.
func (ix *BitmapIndex) Count(key core.RecordID) int {
	bm, ok := ix.sets[key]
	if !ok {
		return 0
	}
	return int(bm.GetCardinality())
}

// Checkpoint implements Type; see ListIndex.Checkpoint. A completed
// checkpoint makes the journaled marks durable, so the journal resets when
// the horizon advances.
func (ix *BitmapIndex) Checkpoint(stage Stage, h core.RecordID) error {
	return ix.checkpointStep(stage, h)
}

// AdvanceHorizon implements Type.
func (ix *BitmapIndex) AdvanceHorizon(h core.RecordID) {
	ix.common.AdvanceHorizon(h)
	ix.journal = ix.journal[:0]
}

// Rollback implements Type: clears every mark set since the last durable
// checkpoint by replaying the journal backwards.
func (ix *BitmapIndex) Rollback() error {
	if !ix.txn {
		return fmt.Errorf("bitmap index %s: rollback: %w", ix.kind, core.ErrUnsupported)
	}
	for i := len(ix.journal) - 1; i >= 0; i-- {
		m := ix.journal[i]
		if bm, ok := ix.sets[m.key]; ok {
			bm.Remove(uint32(m.id))
			if bm.IsEmpty() {
				delete(ix.sets, m.key)
			}
		}
	}
	ix.journal = ix.journal[:0]
	ix.horizon = ix.durable
	ix.resetCheckpoint()
	return nil
}

// Truncate implements Type: clears every bit for ids >= h. Marks on older
// ids set by truncated records are handled by Rollback's journal; Truncate
// alone is only used when replay will re-run the pipeline anyway.
func (ix *BitmapIndex) Truncate(h core.RecordID) error {
	for key, bm := range ix.sets {
		bm.RemoveRange(uint64(h), uint64(core.MaxRecordID)+1)
		if bm.IsEmpty() {
			delete(ix.sets, key)
		}
	}
	if ix.horizon > h {
		ix.horizon = h
	}
	return nil
}

// Refresh implements Type.
func (ix *BitmapIndex) Refresh() error { return nil }

// Status implements Type.
func (ix *BitmapIndex) Status(r Reporter) {
	prefix := "index." + ix.kind.String()
	var bits int64
	for _, bm := range ix.sets {
		bits += int64(bm.GetCardinality())
	}
	r.Report(prefix+".bits", bits)
	r.Report(prefix+".keys", int64(len(ix.sets)))
	r.Report(prefix+".horizon", int64(ix.horizon))
}

// Close implements Type.
func (ix *BitmapIndex) Close() error {
	ix.sets = nil
	ix.journal = nil
	return nil
}
