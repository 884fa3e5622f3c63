// Package index provides the secondary index representations of the store
// and the uniform contract that lets the checkpoint machinery treat them
// identically.
//
// Three physical shapes share one logical contract:
//   - ordered-list index: key -> sorted array of record ids
//   - hash-bucket index: digest(key) + key bytes + type tag -> sorted array
//   - bitmap index: key -> one bit per record id
//
// For any record r with key k, r's id appears in the index for k if and only
// if r has been through the synchronization pipeline and the index's horizon
// is >= r's id.
package index

import (
	"fmt"

	"github.com/hupe1980/graphgo/core"
)

// Kind identifies an index instance for checkpointing and diagnostics.
type Kind uint8

const (
	// KindEdgeType .. KindEdgeScope are the four per-role edge indexes.
	KindEdgeType Kind = iota
	KindEdgeRight
	KindEdgeLeft
	KindEdgeScope
	// KindVIP is the endpoint-popularity compaction index.
	KindVIP
	// KindName indexes record names by hash.
	KindName
	// KindValue indexes canonicalized record values by hash.
	KindValue
	// KindWord indexes lexical fragments of values by hash.
	KindWord
	// KindLineage indexes generation chains.
	KindLineage
	// KindBin indexes coarse value bins for range queries.
	KindBin
	// KindLiveness tracks superseded generations, one bit per id.
	KindLiveness

	// NumKinds is the number of index kinds.
	NumKinds = 11
)

// String returns the dotted-path component used in status reports.
func (k Kind) String() string {
	switch k {
	case KindEdgeType:
		return "edge-type"
	case KindEdgeRight:
		return "edge-right"
	case KindEdgeLeft:
		return "edge-left"
	case KindEdgeScope:
		return "edge-scope"
	case KindVIP:
		return "vip"
	case KindName:
		return "name"
	case KindValue:
		return "value"
	case KindWord:
		return "word"
	case KindLineage:
		return "lineage"
	case KindBin:
		return "bin"
	case KindLiveness:
		return "liveness"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Stage is a checkpoint stage as seen by an index instance. The driver walks
// the stages in order; every callback must be idempotent because a resumed
// checkpoint may re-enter a stage an instance already completed.
type Stage uint8

const (
	StageStart Stage = iota
	StageFinishBackup
	StageSyncBackup
	StageSyncDirectory
	StageStartWrites
	StageFinishWrites
	StageStartMarker
	StageFinishMarker
	StageRemoveBackup
	StageDone
)

// String returns the stage name for logs and status reports.
func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageFinishBackup:
		return "finish-backup"
	case StageSyncBackup:
		return "sync-backup"
	case StageSyncDirectory:
		return "sync-directory"
	case StageStartWrites:
		return "start-writes"
	case StageFinishWrites:
		return "finish-writes"
	case StageStartMarker:
		return "start-marker"
	case StageFinishMarker:
		return "finish-marker"
	case StageRemoveBackup:
		return "remove-backup"
	case StageDone:
		return "done"
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// Reporter receives dotted-path key/value status pairs.
type Reporter interface {
	Report(key string, value int64)
}

// Type is the uniform contract every index representation implements.
// It is what lets the checkpoint state machine and the iterator layer treat
// structurally different indexes identically.
type Type interface {
	// Kind identifies this instance.
	Kind() Kind

	// Horizon returns the smallest record id not yet guaranteed reflected
	// in this index.
	Horizon() core.RecordID

	// Durable returns the horizon as of the last completed checkpoint.
	Durable() core.RecordID

	// AdvanceHorizon moves the horizon bookkeeping to h after a completed
	// checkpoint. h must not retreat.
	AdvanceHorizon(h core.RecordID)

	// Checkpoint performs this instance's work for one stage, migrating to
	// horizon h. It returns nil on success, core.ErrAlreadyThere if a prior
	// call already did the work, core.ErrWouldBlock if the work is still in
	// flight, or a fatal error.
	Checkpoint(stage Stage, h core.RecordID) error

	// Rollback reverts in-memory contents to the last durable checkpoint.
	Rollback() error

	// Truncate removes every entry for record ids >= h.
	Truncate(h core.RecordID) error

	// Refresh re-reads any externally shared state after a geometry change.
	Refresh() error

	// Status reports per-instance counters under index.<kind>. keys.
	Status(r Reporter)

	// Close releases the instance's resources.
	Close() error
}

// MinHorizon returns the smallest horizon across instances: the global
// guarantee line below which every index reflects every record. Zero when
// instances is empty.
func MinHorizon(instances []Type) core.RecordID {
	var min core.RecordID
	for i, ix := range instances {
		if h := ix.Horizon(); i == 0 || h < min {
			min = h
		}
	}
	return min
}

// common carries the horizon and backup bookkeeping shared by all three
// representations. The zero value is ready to use.
type common struct {
	kind    Kind
	horizon core.RecordID // first id not reflected
	durable core.RecordID // horizon as of the last completed checkpoint
	txn     bool          // transactional: rollback to durable is possible

	lastStage  Stage         // last completed checkpoint stage
	lastTarget core.RecordID // horizon that stage was run for
}

func (c *common) Kind() Kind             { return c.kind }
func (c *common) Horizon() core.RecordID { return c.horizon }
func (c *common) Durable() core.RecordID { return c.durable }
func (c *common) Transactional() bool    { return c.txn }

func (c *common) AdvanceHorizon(h core.RecordID) {
	if h < c.horizon {
		panic(fmt.Sprintf("index %s: horizon retreat %d -> %d", c.kind, c.horizon, h))
	}
	c.horizon = h
	c.durable = h
	c.lastStage = StageStart
	c.lastTarget = core.NoRecord
}

// resetCheckpoint forgets recorded stage completions, so the next checkpoint
// redoes every stage even when it targets the same horizon as an aborted one.
func (c *common) resetCheckpoint() {
	c.lastStage = StageStart
	c.lastTarget = core.NoRecord
}

// checkpointStep records stage completion so a resumed checkpoint that
// re-enters an already-finished stage observes the idempotent-already
// outcome instead of redoing work.
func (c *common) checkpointStep(stage Stage, h core.RecordID) error {
	if c.lastTarget == h && stage <= c.lastStage {
		return core.ErrAlreadyThere
	}
	c.lastStage = stage
	c.lastTarget = h
	return nil
}
