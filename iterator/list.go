package iterator

import (
	"github.com/hupe1980/graphgo/core"
)

// Full-scan arithmetic. No backing resource; position is pure math over
// [low, high).

func (it *Iterator) nextScan() (core.RecordID, error) {
	n := int(it.effHigh() - it.low)
	if it.offset >= n {
		return core.NoRecord, core.ErrNotFound
	}
	var id core.RecordID
	if it.descending {
		id = it.effHigh() - 1 - core.RecordID(it.offset)
	} else {
		id = it.low + core.RecordID(it.offset)
	}
	it.offset++
	return id, nil
}

func (it *Iterator) findScan(target core.RecordID) (core.RecordID, error) {
	n := int(it.effHigh() - it.low)
	if it.descending {
		if target >= it.effHigh() {
			target = it.effHigh() - 1
		}
		if target < it.low {
			it.offset = n
			return core.NoRecord, core.ErrNotFound
		}
		it.offset = int(it.effHigh()-1-target) + 1
		return target, nil
	}
	if target < it.low {
		target = it.low
	}
	if target >= it.effHigh() {
		it.offset = n
		return core.NoRecord, core.ErrNotFound
	}
	it.offset = int(target-it.low) + 1
	return target, nil
}

// Ordered-list math, shared by the list and hash variants. The handle's id
// array is sorted ascending; direction maps the virtual offset onto a
// physical index via physical = forward ? start+offset : end-1-offset.

// listBounds returns the physical index range [start, end) of the handle's
// array that falls inside [low, high).
func (it *Iterator) listBounds() (start, end int) {
	h := it.h.get()
	start = h.SearchGE(it.low)
	if it.high == core.NoRecord {
		end = h.Len()
	} else {
		end = h.SearchGE(it.high)
	}
	return start, end
}

func (it *Iterator) nextList() (core.RecordID, error) {
	start, end := it.listBounds()
	if it.offset >= end-start {
		return core.NoRecord, core.ErrNotFound
	}
	var phys int
	if it.descending {
		phys = end - 1 - it.offset
	} else {
		phys = start + it.offset
	}
	it.offset++
	return it.h.get().At(phys), nil
}

func (it *Iterator) findList(target core.RecordID) (core.RecordID, error) {
	h := it.h.get()
	start, end := it.listBounds()
	n := end - start
	if it.descending {
		// Largest element <= target within bounds.
		var i int
		if target >= core.MaxRecordID {
			i = end - 1
		} else {
			i = h.SearchGE(target+1) - 1
		}
		if i >= end {
			i = end - 1
		}
		if i < start {
			it.offset = n
			return core.NoRecord, core.ErrNotFound
		}
		it.offset = (end - 1 - i) + 1
		return h.At(i), nil
	}
	// Smallest element >= target within bounds.
	i := h.SearchGE(target)
	if i < start {
		i = start
	}
	if i >= end {
		it.offset = n
		return core.NoRecord, core.ErrNotFound
	}
	it.offset = (i - start) + 1
	return h.At(i), nil
}
