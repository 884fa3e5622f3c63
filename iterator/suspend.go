package iterator

import (
	"errors"
	"fmt"

	"github.com/hupe1980/graphgo/core"
)

// Suspend releases the iterator's live backing resource while preserving its
// logical position bit for bit: bounds, direction, offset or scan cursor,
// and cached statistics all survive. Variants without a growth-sensitive
// resource (scan, empty) are unaffected.
func (it *Iterator) Suspend() error {
	if !it.registered || it.suspended {
		return nil
	}
	if it.h != nil {
		it.h.drop()
	}
	it.suspended = true
	it.sess.NoteSuspended()
	return nil
}

// SuspendForWrite implements store.Suspender for the suspend registry.
func (it *Iterator) SuspendForWrite() error { return it.Suspend() }

// Unsuspend reacquires the backing resource. If the set's representation was
// promoted from list to bitmap while the iterator was suspended, the
// iterator morphs into the bitmap variant in place, scheduling a rank
// recovery walk so the logical position is preserved.
func (it *Iterator) Unsuspend() error {
	if !it.suspended {
		return it.reopen()
	}
	if err := it.reopen(); err != nil {
		return err
	}
	it.suspended = false
	it.sess.NoteUnsuspended()
	return nil
}

// reopen refills the clone family's shared handle if it was dropped and
// reconciles this iterator's variant with the set's current shape.
func (it *Iterator) reopen() error {
	if it.src == nil || it.h == nil {
		return nil
	}
	if it.h.get() == nil {
		h, err := it.src.Open()
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				// The set vanished under a rollback: degrade to empty.
				it.becomeEmpty()
				return nil
			}
			return err
		}
		it.h.set(h)
	}
	return it.reconcileShape()
}

// reconcileShape morphs the iterator between the list and bitmap variants
// when the reopened handle's shape differs from the variant the position was
// tracked under. Callers hold a stable *Iterator, so the swap is invisible
// to them.
func (it *Iterator) reconcileShape() error {
	h := it.h.get()
	switch it.variant {
	case VariantList, VariantHash:
		if !h.IsBitmap() {
			return nil
		}
		ordinal := it.offset
		it.variant = VariantBitmap
		it.countValid = false
		it.bm.startWalk(it, ordinal)
		return nil
	case VariantBitmap:
		if h.IsBitmap() {
			return nil
		}
		// Demotion cannot happen in steady state, but a thawed cursor may
		// carry a bitmap position against a list-shaped set.
		it.setListPositionFromScan(h.SearchGE)
		if _, ok := it.src.(*HashSource); ok {
			it.variant = VariantHash
		} else {
			it.variant = VariantList
		}
		it.countValid = false
		return nil
	case VariantScan, VariantEmpty:
		return nil
	}
	panic(fmt.Sprintf("iterator %d: unknown variant %d", it.id, it.variant))
}

// setListPositionFromScan converts a bitmap id scan cursor into the
// equivalent ordered-list virtual offset.
func (it *Iterator) setListPositionFromScan(searchGE func(core.RecordID) int) {
	start, end := it.listBounds()
	if it.descending {
		// bm.scan is the next id to examine downward; everything above it
		// inside the bounds is consumed.
		if it.bm.scan < int64(it.low) {
			it.offset = end - start
			return
		}
		i := searchGE(core.RecordID(it.bm.scan + 1))
		if i > end {
			i = end
		}
		it.offset = end - i
		return
	}
	if it.bm.scan >= int64(it.effHigh()) {
		it.offset = end - start
		return
	}
	i := searchGE(core.RecordID(it.bm.scan))
	if i < start {
		i = start
	}
	it.offset = i - start
}

func (it *Iterator) becomeEmpty() {
	if it.h != nil {
		it.h.drop()
	}
	it.variant = VariantEmpty
	it.count = 0
	it.countValid = true
	it.offset = 0
}
