package store

import (
	"fmt"

	"github.com/hupe1980/graphgo/core"
)

// MemStore is the bundled in-memory record store. It is the default engine
// and the test double; an optional Log gives it file durability.
type MemStore struct {
	records []*core.Record // records[i] has id i+1
	horizon core.RecordID
	marker  core.RecordID
	hasMark bool
	txn     bool

	log *Log // optional persistence

	// pendingSync models an fsync still in flight: when the log is
	// configured for deferred sync, the first non-blocking Flush kicks it
	// off and reports would-block once before completing.
	pendingSync bool
}

// NewMemStore creates an empty in-memory store. A transactional store
// supports Truncate and rollback.
func NewMemStore(transactional bool) *MemStore {
	return &MemStore{horizon: 1, txn: transactional}
}

// OpenMemStore creates a store backed by the append-only log at path,
// replaying any existing records.
func OpenMemStore(path string, transactional bool, codec Compression) (*MemStore, error) {
	log, err := OpenLog(path, codec)
	if err != nil {
		return nil, err
	}
	s := &MemStore{horizon: 1, txn: transactional, log: log}
	if err := log.Replay(func(rec *core.Record) error {
		if rec.ID != core.RecordID(len(s.records)+1) {
			return fmt.Errorf("log replay: id %d out of order: %w", rec.ID, core.ErrCorrupt)
		}
		s.records = append(s.records, rec)
		return nil
	}); err != nil {
		_ = log.Close()
		return nil, err
	}
	if h, ok, err := log.ReadHorizon(); err != nil {
		_ = log.Close()
		return nil, err
	} else if ok {
		s.horizon = h
	}
	if m, ok, err := log.ReadMarker(); err != nil {
		_ = log.Close()
		return nil, err
	} else if ok {
		s.marker, s.hasMark = m, true
	}
	return s, nil
}

// Read implements RecordStore.
func (s *MemStore) Read(id core.RecordID) (*core.Record, error) {
	if id == core.NoRecord || int(id) > len(s.records) {
		return nil, fmt.Errorf("record %d: %w", id, core.ErrNotFound)
	}
	return s.records[id-1], nil
}

// Append implements RecordStore.
func (s *MemStore) Append(rec *core.Record) (core.RecordID, error) {
	id := core.RecordID(len(s.records) + 1)
	rec = rec.Clone()
	rec.ID = id
	s.records = append(s.records, rec)
	if s.log != nil {
		if err := s.log.Append(rec); err != nil {
			s.records = s.records[:len(s.records)-1]
			return core.NoRecord, err
		}
		s.pendingSync = true
	}
	return id, nil
}

// NextID implements RecordStore.
func (s *MemStore) NextID() core.RecordID {
	return core.RecordID(len(s.records) + 1)
}

// Horizon implements RecordStore.
func (s *MemStore) Horizon() core.RecordID { return s.horizon }

// SetHorizon implements RecordStore.
func (s *MemStore) SetHorizon(h core.RecordID) error {
	if h > s.NextID() {
		return fmt.Errorf("horizon %d past next id %d: %w", h, s.NextID(), core.ErrCorrupt)
	}
	s.horizon = h
	if s.log != nil {
		return s.log.WriteHorizon(h)
	}
	return nil
}

// Flush implements RecordStore.
func (s *MemStore) Flush(block bool) error {
	if s.log == nil {
		return nil
	}
	if !block && s.pendingSync {
		// Kick the sync and let the checkpoint driver come back for it.
		s.pendingSync = false
		return core.ErrWouldBlock
	}
	s.pendingSync = false
	return s.log.Sync()
}

// Transactional implements RecordStore.
func (s *MemStore) Transactional() bool { return s.txn }

// Truncate implements RecordStore.
func (s *MemStore) Truncate(h core.RecordID) error {
	if !s.txn {
		return fmt.Errorf("truncate: %w", core.ErrUnsupported)
	}
	if h == core.NoRecord {
		return fmt.Errorf("truncate to id 0: %w", core.ErrCorrupt)
	}
	if int(h-1) > len(s.records) {
		return nil
	}
	s.records = s.records[: h-1 : h-1]
	if s.horizon > h {
		s.horizon = h
	}
	if s.log != nil {
		return s.log.Truncate(h)
	}
	return nil
}

// WriteMarker implements RecordStore.
func (s *MemStore) WriteMarker(h core.RecordID) error {
	s.marker, s.hasMark = h, true
	if s.log != nil {
		return s.log.WriteMarker(h)
	}
	return nil
}

// ReadMarker implements RecordStore.
func (s *MemStore) ReadMarker() (core.RecordID, bool, error) {
	return s.marker, s.hasMark, nil
}

// ClearMarker implements RecordStore.
func (s *MemStore) ClearMarker() error {
	s.marker, s.hasMark = core.NoRecord, false
	if s.log != nil {
		return s.log.ClearMarker()
	}
	return nil
}

// Close implements RecordStore.
func (s *MemStore) Close() error {
	if s.log != nil {
		return s.log.Close()
	}
	return nil
}
