// Package store defines the record-store boundary the indexing core builds
// on, together with a bundled in-memory implementation, an append-only file
// log for persistence, and the session that owns the cross-iterator shared
// state (id generation and the suspend registry).
package store

import (
	"github.com/hupe1980/graphgo/core"
)

// RecordStore is the append-only, immutable primary store the core consumes.
// Records are read-only once visible; ids are dense and assigned in
// allocation order, starting at 1.
type RecordStore interface {
	// Read returns the record with the given id, or core.ErrNotFound.
	Read(id core.RecordID) (*core.Record, error)

	// Append commits a record and returns its assigned id. The record's ID
	// field is ignored on input.
	Append(rec *core.Record) (core.RecordID, error)

	// NextID returns the next id Append would assign.
	NextID() core.RecordID

	// Horizon returns the committed index horizon: the smallest id whose
	// index effects are not yet durably checkpointed.
	Horizon() core.RecordID

	// SetHorizon durably records a new committed horizon.
	SetHorizon(h core.RecordID) error

	// Flush makes appended records durable. With block set it waits for the
	// sync to finish; otherwise it may return core.ErrWouldBlock while the
	// sync is in flight.
	Flush(block bool) error

	// Transactional reports whether the store supports rollback. A
	// non-transactional store skips the checkpoint backup stages.
	Transactional() bool

	// Truncate removes every record with id >= h. Only valid on a
	// transactional store.
	Truncate(h core.RecordID) error

	// WriteMarker durably records the intended new horizon before the
	// marker checkpoint stages run, so a crash mid-checkpoint is detectable.
	WriteMarker(h core.RecordID) error

	// ReadMarker returns the recorded intended horizon, if any.
	ReadMarker() (h core.RecordID, ok bool, err error)

	// ClearMarker removes the intended-horizon marker.
	ClearMarker() error

	// Close releases the store's resources.
	Close() error
}
