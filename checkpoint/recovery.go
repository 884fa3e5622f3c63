package checkpoint

import (
	"errors"
	"fmt"

	"github.com/hupe1980/graphgo/core"
)

// Indexer is the slice of the synchronization pipeline recovery needs:
// replaying one record into every secondary index, and cheaply probing
// whether a record's index footprint is already intact.
type Indexer interface {
	IndexNewPrimitive(rec *core.Record) error
	FootprintIntact(rec *core.Record) bool
}

// Synchronize replays every record between the committed horizon and the
// store's write point through the pipeline, then checkpoints. Called on
// startup after an unclean shutdown and after a rollback.
//
// On a non-transactional store a record whose footprint is already intact is
// skipped; a transactional store always replays, since rollback may have cut
// entries the footprint probe would otherwise vouch for.
func (d *Driver) Synchronize(ix Indexer) error {
	if marker, ok, err := d.store.ReadMarker(); err != nil {
		return err
	} else if ok {
		d.logger.Warn("resuming interrupted checkpoint", "intended-horizon", marker)
	}
	horizon := d.store.Horizon()
	next := d.store.NextID()
	if horizon == next {
		return nil
	}
	d.logger.Info("synchronizing indexes", "from", horizon, "to", next)
	verify := !d.store.Transactional()
	for id := horizon; id < next; id++ {
		rec, err := d.store.Read(id)
		if err != nil {
			return fmt.Errorf("synchronize: record %d: %w", id, err)
		}
		if verify && ix.FootprintIntact(rec) {
			continue
		}
		if err := ix.IndexNewPrimitive(rec); err != nil {
			return fmt.Errorf("synchronize: record %d: %w", id, err)
		}
	}
	for {
		err := d.Run(noDeadline)
		if errors.Is(err, core.ErrWouldBlock) {
			continue
		}
		if err != nil {
			// Out of disk during catch-up: the availability latch gates
			// further writes, the replay itself stands.
			d.logger.Warn("checkpoint deferred after synchronize", "error", err)
		}
		return nil
	}
}

// Rollback retreats the store and every index to target, then fast-forwards
// the indexes back up to the store's write point. A sliced checkpoint still
// in flight is aborted first; rollback is a normal runtime path and must not
// depend on checkpoint quiescence. Only valid on a transactional store. A
// target preceding any index's durable horizon is a caller bug and panics.
func (d *Driver) Rollback(target core.RecordID, ix Indexer) error {
	if !d.store.Transactional() {
		panic("checkpoint: rollback on a non-transactional store")
	}
	if d.active {
		if err := d.abort(); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
	}
	for _, inst := range d.indexes {
		if target < inst.Durable() {
			panic(fmt.Sprintf("checkpoint: rollback target %d precedes durable horizon %d of index %s",
				target, inst.Durable(), inst.Kind()))
		}
	}
	d.logger.Info("rolling back", "target", target, "from", d.store.NextID())
	if err := d.store.Truncate(target); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	for _, inst := range d.indexes {
		if err := inst.Rollback(); err != nil {
			return fmt.Errorf("rollback: index %s: %w", inst.Kind(), err)
		}
	}
	return d.Synchronize(ix)
}
