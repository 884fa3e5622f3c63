package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/graphgo/core"
)

// Tag distinguishes key families that may share one hash table. It is stored
// in the bucket next to the key bytes so digest collisions across families
// never alias.
type Tag uint8

const (
	TagName Tag = iota
	TagValue
	TagWord
	TagLineage
	TagBin
	TagVIP
)

// HashIndex is the hash-bucket representation: digest(tag, key) locates a
// bucket holding the tag, the key bytes and a sorted array of record ids.
// After the lookup it supports the same range operations as the ordered-list
// representation.
type HashIndex struct {
	common

	buckets map[uint64][]*bucket
	entries int64
	keys    int64
}

type bucket struct {
	tag Tag
	key []byte
	ids []core.RecordID
}

// NewHashIndex creates an empty hash-bucket index.
func NewHashIndex(kind Kind, transactional bool) *HashIndex {
	return &HashIndex{
		common:  common{kind: kind, txn: transactional, horizon: 1, durable: 1},
		buckets: make(map[uint64][]*bucket),
	}
}

func digest(tag Tag, key []byte) uint64 {
	var d xxhash.Digest
	d.Reset()
	_, _ = d.Write([]byte{byte(tag)})
	_, _ = d.Write(key)
	return d.Sum64()
}

// Add inserts id into the bucket for (tag, key), keeping the array sorted.
// Adding an id that is already present is a no-op, which is what makes the
// VIP transition and recovery replay safe to re-run.
func (ix *HashIndex) Add(tag Tag, key []byte, id core.RecordID) error {
	if id == core.NoRecord {
		return fmt.Errorf("hash index %s: %w: zero record id", ix.kind, core.ErrCorrupt)
	}
	d := digest(tag, key)
	b := ix.find(d, tag, key)
	if b == nil {
		b = &bucket{tag: tag, key: append([]byte(nil), key...)}
		ix.buckets[d] = append(ix.buckets[d], b)
		ix.keys++
	}
	n := len(b.ids)
	if n == 0 || b.ids[n-1] < id {
		b.ids = append(b.ids, id)
	} else {
		i := sort.Search(n, func(i int) bool { return b.ids[i] >= id })
		if i < n && b.ids[i] == id {
			return nil
		}
		b.ids = append(b.ids, 0)
		copy(b.ids[i+1:], b.ids[i:])
		b.ids[i] = id
	}
	ix.entries++
	return nil
}

// Open returns a live handle over the posting set for (tag, key), or
// core.ErrNotFound if the bucket is absent or empty.
func (ix *HashIndex) Open(tag Tag, key []byte) (*Handle, error) {
	b := ix.find(digest(tag, key), tag, key)
	if b == nil || len(b.ids) == 0 {
		return nil, core.ErrNotFound
	}
	return newListHandle(b.ids), nil
}

// Count returns the number of ids under (tag, key).
func (ix *HashIndex) Count(tag Tag, key []byte) int {
	b := ix.find(digest(tag, key), tag, key)
	if b == nil {
		return 0
	}
	return len(b.ids)
}

func (ix *HashIndex) find(d uint64, tag Tag, key []byte) *bucket {
	for _, b := range ix.buckets[d] {
		if b.tag == tag && bytes.Equal(b.key, key) {
			return b
		}
	}
	return nil
}

// Checkpoint implements Type; see ListIndex.Checkpoint.
func (ix *HashIndex) Checkpoint(stage Stage, h core.RecordID) error {
	return ix.checkpointStep(stage, h)
}

// Rollback implements Type. Buckets only gain ids at or above the durable
// horizon (steady-state indexing) or ids that a re-run of the pipeline will
// deterministically re-add (VIP transition), so cutting at the durable
// horizon composed with re-synchronization is an exact undo.
func (ix *HashIndex) Rollback() error {
	if !ix.txn {
		return fmt.Errorf("hash index %s: rollback: %w", ix.kind, core.ErrUnsupported)
	}
	if err := ix.Truncate(ix.durable); err != nil {
		return err
	}
	ix.horizon = ix.durable
	ix.resetCheckpoint()
	return nil
}

// Truncate implements Type: removes every id >= h.
func (ix *HashIndex) Truncate(h core.RecordID) error {
	for d, chain := range ix.buckets {
		kept := chain[:0]
		for _, b := range chain {
			i := sort.Search(len(b.ids), func(i int) bool { return b.ids[i] >= h })
			ix.entries -= int64(len(b.ids) - i)
			b.ids = b.ids[:i:i]
			if len(b.ids) > 0 {
				kept = append(kept, b)
			} else {
				ix.keys--
			}
		}
		if len(kept) == 0 {
			delete(ix.buckets, d)
		} else {
			ix.buckets[d] = kept
		}
	}
	if ix.horizon > h {
		ix.horizon = h
	}
	return nil
}

// Refresh implements Type.
func (ix *HashIndex) Refresh() error { return nil }

// Status implements Type.
func (ix *HashIndex) Status(r Reporter) {
	prefix := "index." + ix.kind.String()
	r.Report(prefix+".entries", ix.entries)
	r.Report(prefix+".keys", ix.keys)
	r.Report(prefix+".horizon", int64(ix.horizon))
}

// Close implements Type.
func (ix *HashIndex) Close() error {
	ix.buckets = nil
	return nil
}

// VIPKey builds the composite (endpoint, role, qualifier) key of the VIP
// compaction index.
func VIPKey(endpoint core.RecordID, role core.EdgeRole, qualifier core.RecordID) []byte {
	key := make([]byte, 9)
	binary.BigEndian.PutUint32(key[0:], uint32(endpoint))
	key[4] = byte(role)
	binary.BigEndian.PutUint32(key[5:], uint32(qualifier))
	return key
}

// LineageKey builds the key of the generation chain index.
func LineageKey(lineage core.RecordID) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(lineage))
	return key
}

// WordKey builds the fixed 4-byte key of the word index from a packed 5-bit
// word code.
func WordKey(code uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, code)
	return key
}

// BinKey builds the key of the value-bin index.
func BinKey(bin int) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(bin))
	return key
}
