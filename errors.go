package graphgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/graphgo/core"
	"github.com/hupe1980/graphgo/iterator"
)

var (
	// ErrNotFound is returned when a lookup matches nothing and when an
	// iterator is exhausted.
	ErrNotFound = core.ErrNotFound

	// ErrWouldBlock is returned when an operation ran out of budget or an
	// I/O is still in flight; retrying resumes where it stopped.
	ErrWouldBlock = core.ErrWouldBlock

	// ErrAlreadyThere is returned when a prior, possibly interrupted call
	// already accomplished the requested work.
	ErrAlreadyThere = core.ErrAlreadyThere

	// ErrOverflow is returned when results exceed a fixed output buffer.
	ErrOverflow = core.ErrOverflow

	// ErrCorrupt indicates structurally inconsistent stored data.
	ErrCorrupt = core.ErrCorrupt

	// ErrUnsupported is returned for operations the receiver's variant or
	// configuration cannot perform.
	ErrUnsupported = core.ErrUnsupported

	// ErrCursorSyntax is returned by Thaw for malformed cursor text.
	ErrCursorSyntax = iterator.ErrCursorSyntax

	// ErrDiskUnavailable gates writes after a fatal checkpoint error until a
	// checkpoint completes again.
	ErrDiskUnavailable = errors.New("disk unavailable until a checkpoint completes")
)

// ErrClosed indicates use of a closed database.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrClosed struct {
	Op    string
	cause error
}

func (e *ErrClosed) Error() string {
	return fmt.Sprintf("database closed: %s", e.Op)
}

func (e *ErrClosed) Unwrap() error { return e.cause }

// translateError unifies layer errors into the public contract. Sentinel
// outcomes pass through untouched so errors.Is keeps working; anything else
// gains the package prefix.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrWouldBlock),
		errors.Is(err, core.ErrAlreadyThere),
		errors.Is(err, core.ErrOverflow),
		errors.Is(err, core.ErrUnsupported),
		errors.Is(err, iterator.ErrCursorSyntax):
		return err
	case errors.Is(err, core.ErrCorrupt):
		// Corruption is surfaced distinctly so callers can halt rather than
		// keep operating on untrustworthy data.
		return fmt.Errorf("graphgo: corrupt: %w", err)
	}
	return fmt.Errorf("graphgo: %w", err)
}
