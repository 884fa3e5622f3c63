package core

import "errors"

// Symbolic error codes surfaced across the store boundary. Exhaustion and
// would-block are part of the iteration contract, not failures; see the
// package docs for the retry semantics.
var (
	// ErrNotFound signals normal exhaustion of an iterator or a missed lookup.
	ErrNotFound = errors.New("not found")

	// ErrWouldBlock signals that an operation ran out of budget before
	// completing. Position is preserved; retry with more budget.
	ErrWouldBlock = errors.New("would block, retry with more budget")

	// ErrAlreadyThere signals that a previous, possibly interrupted call
	// already accomplished the requested transition.
	ErrAlreadyThere = errors.New("already at target")

	// ErrOverflow signals that a result did not fit a fixed output buffer.
	ErrOverflow = errors.New("too many results for output buffer")

	// ErrCorrupt signals structurally inconsistent stored data. Callers
	// should halt rather than continue operating on untrustworthy state.
	ErrCorrupt = errors.New("database corrupt")

	// ErrUnsupported signals an operation not applicable to this variant.
	ErrUnsupported = errors.New("not supported for this variant")
)
