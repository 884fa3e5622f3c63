package iterator

import (
	"github.com/hupe1980/graphgo/index"
)

// sharedHandle is the single-owner box for a clone family's live handle.
// Every member of the family references the same box; the box holds at most
// one reference to the underlying index handle. Suspension drops that
// reference for the whole family at once, so a later reacquire by any member
// is visible to all of them.
type sharedHandle struct {
	h    *index.Handle
	refs int
}

func newSharedHandle(h *index.Handle) *sharedHandle {
	return &sharedHandle{h: h, refs: 1}
}

// get returns the live handle, or nil while the family is suspended.
func (s *sharedHandle) get() *index.Handle { return s.h }

// retain adds one family member.
func (s *sharedHandle) retain() { s.refs++ }

// release drops one family member; the last release frees the handle.
func (s *sharedHandle) release() {
	s.refs--
	if s.refs <= 0 {
		s.drop()
	}
}

// drop releases the underlying handle, keeping the box so a reacquire can
// fill it back in.
func (s *sharedHandle) drop() {
	if s.h != nil {
		s.h.Release()
		s.h = nil
	}
}

// set installs a freshly opened handle.
func (s *sharedHandle) set(h *index.Handle) { s.h = h }
