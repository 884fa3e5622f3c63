package index

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/graphgo/core"
)

// PromoteThreshold is the posting-list length at which a key's list is
// promoted to a bitmap. Beyond this fan-out a sorted array wastes memory and
// makes Contains needlessly log-cost.
const PromoteThreshold = 4096

// ListIndex is the ordered-list representation: key -> sorted array of record
// ids, with per-key promotion to a roaring bitmap once the fan-out crosses
// PromoteThreshold.
//
// One instance exists per edge role; the key is the edge endpoint id.
type ListIndex struct {
	common

	lists    map[core.RecordID][]core.RecordID
	promoted map[core.RecordID]*roaring.Bitmap
	entries  int64
}

// NewListIndex creates an empty ordered-list index.
func NewListIndex(kind Kind, transactional bool) *ListIndex {
	return &ListIndex{
		common:   common{kind: kind, txn: transactional, horizon: 1, durable: 1},
		lists:    make(map[core.RecordID][]core.RecordID),
		promoted: make(map[core.RecordID]*roaring.Bitmap),
	}
}

// Add appends id to key's posting set. Ids arrive in allocation order, so the
// common case is a tail append; out-of-order ids (recovery replay) fall back
// to a sorted insert. Adding an id that is already present is a no-op.
func (ix *ListIndex) Add(key, id core.RecordID) error {
	if id == core.NoRecord {
		return fmt.Errorf("list index %s: %w: zero record id", ix.kind, core.ErrCorrupt)
	}
	if bm, ok := ix.promoted[key]; ok {
		if bm.CheckedAdd(uint32(id)) {
			ix.entries++
		}
		return nil
	}
	ids := ix.lists[key]
	if n := len(ids); n == 0 || ids[n-1] < id {
		ids = append(ids, id)
	} else {
		i := sort.Search(n, func(i int) bool { return ids[i] >= id })
		if i < n && ids[i] == id {
			return nil
		}
		ids = append(ids, 0)
		copy(ids[i+1:], ids[i:])
		ids[i] = id
	}
	ix.entries++
	if len(ids) >= PromoteThreshold {
		bm := roaring.New()
		for _, v := range ids {
			bm.Add(uint32(v))
		}
		ix.promoted[key] = bm
		delete(ix.lists, key)
		return nil
	}
	ix.lists[key] = ids
	return nil
}

// Open returns a live handle over key's posting set. The caller owns one
// reference. Returns core.ErrNotFound for an empty key.
func (ix *ListIndex) Open(key core.RecordID) (*Handle, error) {
	if bm, ok := ix.promoted[key]; ok {
		return newBitmapHandle(bm), nil
	}
	ids, ok := ix.lists[key]
	if !ok || len(ids) == 0 {
		return nil, core.ErrNotFound
	}
	return newListHandle(ids), nil
}

// Count returns the number of ids indexed under key.
func (ix *ListIndex) Count(key core.RecordID) int {
	if bm, ok := ix.promoted[key]; ok {
		return int(bm.GetCardinality())
	}
	return len(ix.lists[key])
}

// Promoted reports whether key's set has been promoted to a bitmap.
func (ix *ListIndex) Promoted(key core.RecordID) bool {
	_, ok := ix.promoted[key]
	return ok
}

// Keys returns every key with a non-empty posting set, in no particular order.
func (ix *ListIndex) Keys() []core.RecordID {
	out := make([]core.RecordID, 0, len(ix.lists)+len(ix.promoted))
	for k := range ix.lists {
		out = append(out, k)
	}
	for k := range ix.promoted {
		out = append(out, k)
	}
	return out
}

// Checkpoint implements Type. The in-memory representation has no files to
// back up or flush; every stage completes immediately and re-entry reports
// the idempotent-already outcome.
func (ix *ListIndex) Checkpoint(stage Stage, h core.RecordID) error {
	return ix.checkpointStep(stage, h)
}

// Rollback implements Type: contents revert to the last durable horizon.
// Posting sets only ever gain the id of the record being indexed, so cutting
// every set at the durable horizon is an exact undo.
func (ix *ListIndex) Rollback() error {
	if !ix.txn {
		return fmt.Errorf("list index %s: rollback: %w", ix.kind, core.ErrUnsupported)
	}
	if err := ix.Truncate(ix.durable); err != nil {
		return err
	}
	ix.horizon = ix.durable
	ix.resetCheckpoint()
	return nil
}

// Truncate implements Type: removes every id >= h.
func (ix *ListIndex) Truncate(h core.RecordID) error {
	for key, ids := range ix.lists {
		i := sort.Search(len(ids), func(i int) bool { return ids[i] >= h })
		ix.entries -= int64(len(ids) - i)
		if i == 0 {
			delete(ix.lists, key)
		} else {
			ix.lists[key] = ids[:i:i]
		}
	}
	for key, bm := range ix.promoted {
		before := bm.GetCardinality()
		bm.RemoveRange(uint64(h), uint64(core.MaxRecordID)+1)
		ix.entries -= int64(before - bm.GetCardinality())
		if bm.IsEmpty() {
			delete(ix.promoted, key)
		}
	}
	if ix.horizon > h {
		ix.horizon = h
	}
	return nil
}

// Refresh implements Type. The memory representation shares no external
// state, so there is nothing to re-read.
func (ix *ListIndex) Refresh() error { return nil }

// Status implements Type.
func (ix *ListIndex) Status(r Reporter) {
	prefix := "index." + ix.kind.String()
	r.Report(prefix+".entries", ix.entries)
	r.Report(prefix+".keys", int64(len(ix.lists)+len(ix.promoted)))
	r.Report(prefix+".promoted-keys", int64(len(ix.promoted)))
	r.Report(prefix+".horizon", int64(ix.horizon))
}

// Close implements Type.
func (ix *ListIndex) Close() error {
	ix.lists = nil
	ix.promoted = nil
	return nil
}
