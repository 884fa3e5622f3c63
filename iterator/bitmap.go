package iterator

import (
	"github.com/hupe1980/graphgo/core"
)

const (
	// bitmapScanWindow is the id span one budget unit pays for when
	// scanning for the next set bit.
	bitmapScanWindow = 4096

	// walkWindow is the id span one budget unit pays for during the rank
	// recovery walk that converts an ordered-list offset into a bitmap
	// scan position.
	walkWindow = 8192

	// bitmapPosBias offsets a frozen bitmap scan position so it can never
	// collide with an ordered-list ordinal; the presence of a position at
	// or above the bias is what marks a cursor as bitmap-shaped.
	bitmapPosBias = uint64(1) << 33
)

// bitmapState is the VariantBitmap payload: a scan cursor over the id
// domain plus an optional pending rank recovery walk.
type bitmapState struct {
	// scan is the next id to examine: it grows on ascending iterators and
	// shrinks on descending ones, going to -1 when a descending scan is
	// exhausted below low.
	scan int64

	// findTarget remembers the target of a budget-blocked Find so a retry
	// resumes the scan instead of re-checking ids already proven absent.
	findTarget int64

	walk *rankWalk
}

// rankWalk replays set-bit counting from the range boundary up to a
// recorded ordered-list ordinal. It runs under the budget of whichever
// operation touches the iterator next and survives across blocked calls.
type rankWalk struct {
	target  int   // ordinal to recover
	counted int   // set bits counted so far
	at      int64 // next id the walk will examine
}

func (b *bitmapState) reset(it *Iterator) {
	b.walk = nil
	b.findTarget = -1
	if it.descending {
		b.scan = int64(it.effHigh()) - 1
	} else {
		b.scan = int64(it.low)
	}
}

// startWalk schedules recovery of an ordinal position, as after thawing a
// list-shaped cursor against a promoted set.
func (b *bitmapState) startWalk(it *Iterator, ordinal int) {
	b.findTarget = -1
	if ordinal <= 0 {
		b.reset(it)
		return
	}
	w := &rankWalk{target: ordinal}
	if it.descending {
		w.at = int64(it.effHigh()) - 1
	} else {
		w.at = int64(it.low)
	}
	b.walk = w
}

// pendingOrdinal returns the ordinal a pending walk is recovering, if any.
func (b *bitmapState) pendingOrdinal() (int, bool) {
	if b.walk == nil {
		return 0, false
	}
	return b.walk.target, true
}

func (b *bitmapState) countRange(it *Iterator) int {
	bm := it.h.get().Bitmap()
	high := it.effHigh()
	total := bm.Rank(uint32(high - 1))
	if it.low > 0 {
		total -= bm.Rank(uint32(it.low - 1))
	}
	return int(total)
}

// finishWalk drives a pending rank walk to completion under budget.
func (b *bitmapState) finishWalk(it *Iterator, budget *core.Budget) error {
	w := b.walk
	if w == nil {
		return nil
	}
	bm := it.h.get().Bitmap()
	if it.descending {
		low := int64(it.low)
		for w.counted < w.target && w.at >= low {
			if !budget.Spend(1) {
				return core.ErrWouldBlock
			}
			wlo := w.at - walkWindow + 1
			if wlo < low {
				wlo = low
			}
			var vals []int64
			p := bm.Iterator()
			p.AdvanceIfNeeded(uint32(wlo))
			for p.HasNext() {
				v := int64(p.Next())
				if v > w.at {
					break
				}
				vals = append(vals, v)
			}
			for i := len(vals) - 1; i >= 0; i-- {
				w.counted++
				if w.counted == w.target {
					w.at = vals[i] - 1
					break
				}
			}
			if w.counted < w.target {
				w.at = wlo - 1
			}
		}
		b.scan = w.at
		if w.counted < w.target {
			b.scan = low - 1 // fewer results than the ordinal: exhausted
		}
	} else {
		high := int64(it.effHigh())
		for w.counted < w.target && w.at < high {
			if !budget.Spend(1) {
				return core.ErrWouldBlock
			}
			wend := w.at + walkWindow
			if wend > high {
				wend = high
			}
			p := bm.Iterator()
			p.AdvanceIfNeeded(uint32(w.at))
			done := false
			for p.HasNext() {
				v := int64(p.Next())
				if v >= wend {
					break
				}
				w.counted++
				if w.counted == w.target {
					w.at = v + 1
					done = true
					break
				}
			}
			if !done {
				w.at = wend
			}
		}
		b.scan = w.at
		if w.counted < w.target {
			b.scan = high // fewer results than the ordinal: exhausted
		}
	}
	it.offset = w.counted
	b.walk = nil
	return nil
}

func (it *Iterator) nextBitmap(budget *core.Budget) (core.RecordID, error) {
	if err := it.bm.finishWalk(it, budget); err != nil {
		return core.NoRecord, err
	}
	bm := it.h.get().Bitmap()
	if it.descending {
		low := int64(it.low)
		for {
			if it.bm.scan < low {
				return core.NoRecord, core.ErrNotFound
			}
			if !budget.Spend(1) {
				return core.NoRecord, core.ErrWouldBlock
			}
			wlo := it.bm.scan - bitmapScanWindow + 1
			if wlo < low {
				wlo = low
			}
			p := bm.Iterator()
			p.AdvanceIfNeeded(uint32(wlo))
			found := int64(-1)
			for p.HasNext() {
				v := int64(p.Next())
				if v > it.bm.scan {
					break
				}
				found = v
			}
			if found >= 0 {
				it.bm.scan = found - 1
				it.bm.findTarget = -1
				it.offset++
				return core.RecordID(found), nil
			}
			it.bm.scan = wlo - 1
		}
	}
	high := int64(it.effHigh())
	for {
		if it.bm.scan >= high {
			return core.NoRecord, core.ErrNotFound
		}
		if !budget.Spend(1) {
			return core.NoRecord, core.ErrWouldBlock
		}
		wend := it.bm.scan + bitmapScanWindow
		if wend > high {
			wend = high
		}
		p := bm.Iterator()
		p.AdvanceIfNeeded(uint32(it.bm.scan))
		if p.HasNext() {
			if v := int64(p.Next()); v < wend {
				it.bm.scan = v + 1
				it.bm.findTarget = -1
				it.offset++
				return core.RecordID(v), nil
			}
		}
		it.bm.scan = wend
	}
}

func (it *Iterator) findBitmap(target core.RecordID, budget *core.Budget) (core.RecordID, error) {
	if err := it.bm.finishWalk(it, budget); err != nil {
		return core.NoRecord, err
	}
	t := int64(target)
	if it.descending {
		if hi := int64(it.effHigh()) - 1; t > hi {
			t = hi
		}
		// Resume a blocked find for the same target instead of re-checking
		// ids already proven absent.
		if it.bm.findTarget != t || it.bm.scan > t {
			it.bm.scan = t
			it.bm.findTarget = t
		}
	} else {
		if low := int64(it.low); t < low {
			t = low
		}
		if it.bm.findTarget != t || it.bm.scan < t {
			it.bm.scan = t
			it.bm.findTarget = t
		}
	}
	return it.nextBitmap(budget)
}
