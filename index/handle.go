package index

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/graphgo/core"
)

// Handle is a live view into one key's posting set. It is the single scarce
// resource of the iterator layer: the original of a clone family owns it,
// clones reference it, and suspension releases it.
//
// A handle is immutable once opened. The suspend-all protocol guarantees no
// handle is live across an index mutation, so a reopened handle may expose a
// different shape (a list promoted to a bitmap) but never a torn one.
type Handle struct {
	list []core.RecordID // sorted ascending; nil when bitmap-shaped
	bm   *roaring.Bitmap // nil when list-shaped
	refs int
}

func newListHandle(ids []core.RecordID) *Handle {
	return &Handle{list: ids, refs: 1}
}

func newBitmapHandle(bm *roaring.Bitmap) *Handle {
	return &Handle{bm: bm, refs: 1}
}

// IsBitmap reports whether the backing representation is a bitmap.
func (h *Handle) IsBitmap() bool { return h.bm != nil }

// Len returns the number of ids in the set.
func (h *Handle) Len() int {
	if h == nil {
		return 0
	}
	if h.bm != nil {
		return int(h.bm.GetCardinality())
	}
	return len(h.list)
}

// At returns the i-th smallest id. Only valid for list-shaped handles.
func (h *Handle) At(i int) core.RecordID { return h.list[i] }

// List returns the sorted id slice of a list-shaped handle, nil otherwise.
func (h *Handle) List() []core.RecordID { return h.list }

// Bitmap returns the bitmap of a bitmap-shaped handle, nil otherwise.
func (h *Handle) Bitmap() *roaring.Bitmap { return h.bm }

// SearchGE returns the smallest index i with h.At(i) >= id, or h.Len() if
// none. Only valid for list-shaped handles.
func (h *Handle) SearchGE(id core.RecordID) int {
	lo, hi := 0, len(h.list)
	for lo < hi {
		mid := (lo + hi) / 2
		if h.list[mid] < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Contains reports whether id is in the set.
func (h *Handle) Contains(id core.RecordID) bool {
	if h == nil {
		return false
	}
	if h.bm != nil {
		return h.bm.Contains(uint32(id))
	}
	i := h.SearchGE(id)
	return i < len(h.list) && h.list[i] == id
}

// Retain adds a reference. Every clone sharing the handle holds one.
func (h *Handle) Retain() {
	if h != nil {
		h.refs++
	}
}

// Release drops a reference; the last release frees the view.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.refs--
	if h.refs <= 0 {
		h.list = nil
		h.bm = nil
	}
}

// Live reports whether the handle still holds its view.
func (h *Handle) Live() bool {
	return h != nil && h.refs > 0 && (h.list != nil || h.bm != nil)
}
