// Package iterator provides the capability-polymorphic cursor of the store:
// one tagged-variant type with five concrete shapes (full scan, ordered-list
// backed, hash-bucket backed, bitmap backed, empty) behind a single
// positional contract.
//
// All variants iterate an id range [low, high) in a fixed direction and
// support cloning, textual freeze/thaw, and suspension of the backing
// resource without loss of logical position. The cost budget passed to Next
// and Find bounds scanning work; only the bitmap variant ever reports
// core.ErrWouldBlock, and a blocked call always resumes where it stopped.
package iterator

import (
	"errors"
	"fmt"

	"github.com/hupe1980/graphgo/core"
	"github.com/hupe1980/graphgo/store"
)

// Variant is the concrete shape of an iterator.
type Variant uint8

const (
	// VariantScan iterates the full id range by arithmetic alone.
	VariantScan Variant = iota
	// VariantList is backed by an ordered-list posting set.
	VariantList
	// VariantHash is backed by a hash-bucket posting set.
	VariantHash
	// VariantBitmap is backed by a bitmap posting set.
	VariantBitmap
	// VariantEmpty produces nothing and holds nothing.
	VariantEmpty
)

// String returns the variant's cursor tag.
func (v Variant) String() string {
	switch v {
	case VariantScan:
		return "S"
	case VariantList, VariantBitmap:
		// A bitmap cursor is distinguishable from a list cursor only by
		// its recorded offset, never by tag: the backing representation
		// may change shape between freeze and thaw.
		return "L"
	case VariantHash:
		return "H"
	case VariantEmpty:
		return "E"
	}
	return "?"
}

// Iterator is the polymorphic cursor. The zero value is not usable; use the
// constructors or Thaw.
type Iterator struct {
	id   uint64
	sess *store.Session

	variant    Variant
	low        core.RecordID
	high       core.RecordID // 0 means unbounded
	descending bool

	// offset is the virtual number of results already produced. The bitmap
	// variant tracks position by id instead (bm.scan) and keeps offset only
	// approximately for diagnostics.
	offset int

	// original points at the clone family's root; nil on originals.
	original *Iterator

	src        Source
	h          *sharedHandle
	registered bool
	suspended  bool

	bm bitmapState

	count      int
	countValid bool

	// Bracketed cursor extensions, carried verbatim through freeze/thaw.
	ordering string
	account  string
}

// NewScan creates a full-range scan iterator over [low, high). A high of 0
// means unbounded. Scans hold no growth-sensitive resource and never join
// the suspend registry.
func NewScan(sess *store.Session, low, high core.RecordID, descending bool) *Iterator {
	if low == core.NoRecord {
		low = 1
	}
	return &Iterator{
		id:         sess.NextIteratorID(),
		sess:       sess,
		variant:    VariantScan,
		low:        low,
		high:       high,
		descending: descending,
	}
}

// NewEmpty creates the constant empty iterator. Used whenever statistics
// prove a set empty up front, avoiding a real iterator that would only be
// exhausted immediately.
func NewEmpty(sess *store.Session, low, high core.RecordID, descending bool) *Iterator {
	if low == core.NoRecord {
		low = 1
	}
	return &Iterator{
		id:         sess.NextIteratorID(),
		sess:       sess,
		variant:    VariantEmpty,
		low:        low,
		high:       high,
		descending: descending,
		countValid: true,
	}
}

// New creates an iterator over src's posting set restricted to [low, high).
// The concrete variant follows the set's current representation: list-shaped
// sets yield VariantList or VariantHash, bitmap-shaped sets VariantBitmap,
// and an empty set yields VariantEmpty.
func New(sess *store.Session, src Source, low, high core.RecordID, descending bool) (*Iterator, error) {
	if low == core.NoRecord {
		low = 1
	}
	h, err := src.Open()
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return NewEmpty(sess, low, high, descending), nil
		}
		return nil, err
	}
	it := &Iterator{
		id:         sess.NextIteratorID(),
		sess:       sess,
		low:        low,
		high:       high,
		descending: descending,
		src:        src,
		h:          newSharedHandle(h),
	}
	if h.IsBitmap() {
		it.variant = VariantBitmap
		it.bm.reset(it)
	} else if _, ok := src.(*HashSource); ok {
		it.variant = VariantHash
	} else {
		it.variant = VariantList
	}
	sess.Register(it.id, it)
	it.registered = true
	return it, nil
}

// effHigh returns the exclusive upper id bound.
func (it *Iterator) effHigh() core.RecordID {
	if it.high == core.NoRecord {
		return core.MaxRecordID
	}
	return it.high
}

// Variant returns the iterator's current concrete shape. Note that
// suspension and thawing may morph a list iterator into a bitmap iterator
// when the backing set was promoted.
func (it *Iterator) Variant() Variant { return it.variant }

// Descending reports the iteration direction.
func (it *Iterator) Descending() bool { return it.descending }

// Bounds returns the id range [low, high); high 0 means unbounded.
func (it *Iterator) Bounds() (low, high core.RecordID) { return it.low, it.high }

// Next returns the next id in iteration order, consuming budget.
// It returns core.ErrNotFound on exhaustion and core.ErrWouldBlock when the
// budget ran out first; a blocked call resumes exactly where it stopped.
func (it *Iterator) Next(budget *core.Budget) (core.RecordID, error) {
	if err := it.ensureLive(); err != nil {
		return core.NoRecord, err
	}
	switch it.variant {
	case VariantScan:
		budget.Spend(1)
		return it.nextScan()
	case VariantList, VariantHash:
		budget.Spend(1)
		return it.nextList()
	case VariantBitmap:
		return it.nextBitmap(budget)
	case VariantEmpty:
		return core.NoRecord, core.ErrNotFound
	}
	panic(fmt.Sprintf("iterator %d: unknown variant %d", it.id, it.variant))
}

// Find returns the first id this iterator could produce at or past target in
// iteration order (>= target ascending, <= target descending), positioning
// the iterator as if Next had been called up to that point: a Find followed
// by Next never repeats the found id.
func (it *Iterator) Find(target core.RecordID, budget *core.Budget) (core.RecordID, error) {
	if err := it.ensureLive(); err != nil {
		return core.NoRecord, err
	}
	switch it.variant {
	case VariantScan:
		budget.Spend(1)
		return it.findScan(target)
	case VariantList, VariantHash:
		budget.Spend(1)
		return it.findList(target)
	case VariantBitmap:
		return it.findBitmap(target, budget)
	case VariantEmpty:
		return core.NoRecord, core.ErrNotFound
	}
	panic(fmt.Sprintf("iterator %d: unknown variant %d", it.id, it.variant))
}

// Contains reports whether id is in the iterator's result set, independent
// of the current position.
func (it *Iterator) Contains(id core.RecordID, budget *core.Budget) (bool, error) {
	if err := it.ensureLive(); err != nil {
		return false, err
	}
	budget.Spend(1)
	if id < it.low || id >= it.effHigh() {
		return false, nil
	}
	switch it.variant {
	case VariantScan:
		return true, nil
	case VariantList, VariantHash, VariantBitmap:
		return it.h.get().Contains(id), nil
	case VariantEmpty:
		return false, nil
	}
	panic(fmt.Sprintf("iterator %d: unknown variant %d", it.id, it.variant))
}

// Reset returns the iterator to the start of its range without losing its
// identity or set description.
func (it *Iterator) Reset() {
	it.offset = 0
	if it.variant == VariantBitmap {
		it.bm.reset(it)
	}
}

// Count returns the number of ids the full range would produce. The result
// is cached after the first computation.
func (it *Iterator) Count() (int, error) {
	if it.countValid {
		return it.count, nil
	}
	if err := it.ensureLive(); err != nil {
		return 0, err
	}
	switch it.variant {
	case VariantScan:
		it.count = int(it.effHigh() - it.low)
	case VariantList, VariantHash:
		start, end := it.listBounds()
		it.count = end - start
	case VariantBitmap:
		it.count = it.bm.countRange(it)
	case VariantEmpty:
		it.count = 0
	}
	it.countValid = true
	return it.count, nil
}

// Cost returns rough per-operation cost estimates for the planner: the
// amortized budget of one Next and of one Find.
func (it *Iterator) Cost() (next, find int) {
	switch it.variant {
	case VariantScan, VariantEmpty:
		return 1, 1
	case VariantList, VariantHash:
		return 1, 2
	case VariantBitmap:
		return 2, 4
	}
	return 1, 1
}

// Summary returns the static description of the result set.
func (it *Iterator) Summary() Summary {
	if it.variant == VariantEmpty {
		return Summary{Empty: true}
	}
	if it.src != nil {
		return it.src.Summary()
	}
	return Summary{}
}

// Clone produces an independent cursor over the same logical set at the same
// position. The backing handle is shared by reference; positional state is
// copied and diverges freely.
func (it *Iterator) Clone() *Iterator {
	c := *it
	if it.bm.walk != nil {
		w := *it.bm.walk
		c.bm.walk = &w
	}
	c.id = it.sess.NextIteratorID()
	if it.original != nil {
		c.original = it.original
	} else {
		c.original = it
	}
	if it.h != nil {
		it.h.retain()
	}
	if it.registered {
		c.suspended = it.suspended
		it.sess.Register(c.id, &c)
		if c.suspended {
			it.sess.NoteSuspended()
		}
	}
	return &c
}

// Close releases the iterator's reference to the shared handle and removes
// it from the suspend registry. The last close in a clone family releases
// the handle itself.
func (it *Iterator) Close() error {
	if it.h != nil {
		it.h.release()
		it.h = nil
	}
	if it.registered {
		it.sess.Deregister(it.id, it.suspended)
		it.registered = false
	}
	it.variant = VariantEmpty
	return nil
}

// ensureLive lazily reacquires the backing resource when this iterator is
// suspended, or when another member of its clone family suspended the shared
// handle out from under it.
func (it *Iterator) ensureLive() error {
	if it.suspended {
		return it.Unsuspend()
	}
	if it.h != nil && it.h.get() == nil {
		return it.reopen()
	}
	return nil
}
