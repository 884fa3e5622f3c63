// Package checkpoint implements the state machine that durably advances the
// index horizon, the startup recovery replay, and the rollback protocol for
// transactional stores.
//
// All progress lives in per-instance stage counters, never in call-stack
// state: resuming after a would-block or a missed deadline is just calling
// Run again.
package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/graphgo/core"
	"github.com/hupe1980/graphgo/index"
	"github.com/hupe1980/graphgo/store"
)

const (
	// LowWatermark is the checkpoint deficit below which checkpointing is
	// purely opportunistic.
	LowWatermark = 100_000

	// HighWatermark is the deficit above which the driver ignores soft
	// deadlines and runs to completion. Backpressure beats responsiveness.
	HighWatermark = 500_000

	stallWarnAfter  = 60 * time.Second
	stallErrorAfter = 600 * time.Second
)

// noDeadline makes Run block until the checkpoint completes.
var noDeadline time.Time

// Driver advances the horizon of a set of index instances in lockstep with
// the record store, in discrete resumable stages.
type Driver struct {
	store    store.RecordStore
	indexes  []index.Type
	logger   *slog.Logger
	reporter index.Reporter

	lowWater  core.RecordID
	highWater core.RecordID

	// In-progress checkpoint state. Valid while active.
	active  bool
	target  core.RecordID
	stages  []index.Stage
	started time.Time
	warned  bool
	errored bool

	diskAvailable bool
	urgent        bool

	now func() time.Time // stubbed in tests
}

// NewDriver creates a driver over the store and its index instances.
func NewDriver(st store.RecordStore, indexes []index.Type, logger *slog.Logger, reporter index.Reporter) *Driver {
	return &Driver{
		store:         st,
		indexes:       indexes,
		logger:        logger,
		reporter:      reporter,
		lowWater:      LowWatermark,
		highWater:     HighWatermark,
		stages:        make([]index.Stage, len(indexes)),
		diskAvailable: true,
		now:           time.Now,
	}
}

// SetWatermarks overrides the deficit watermarks. Zero keeps a default.
func (d *Driver) SetWatermarks(low, high core.RecordID) {
	if low > 0 {
		d.lowWater = low
	}
	if high > 0 {
		d.highWater = high
	}
}

// DiskAvailable reports whether the last checkpoint attempt left the disk
// subsystem usable. It latches false on a fatal checkpoint error and true
// again once a checkpoint completes.
func (d *Driver) DiskAvailable() bool { return d.diskAvailable }

// Deficit returns the number of committed records not yet covered by a
// durable checkpoint.
func (d *Driver) Deficit() core.RecordID {
	return d.store.NextID() - d.store.Horizon()
}

// Urgent reports whether the deficit has crossed the low watermark.
func (d *Driver) Urgent() bool { return d.urgent }

// Status reports driver counters.
func (d *Driver) Status() {
	if d.reporter == nil {
		return
	}
	d.reporter.Report("pdb.checkpoint-deficit", int64(d.Deficit()))
	d.reporter.Report("pdb.horizon", int64(d.store.Horizon()))
	d.reporter.Report("pdb.index-horizon", int64(index.MinHorizon(d.indexes)))
	for _, ix := range d.indexes {
		ix.Status(d.reporter)
	}
}

// stageOrder returns the stages the driver walks, skipping the backup phase
// on a non-transactional store (nothing to roll back to).
func (d *Driver) stageOrder() []index.Stage {
	if d.store.Transactional() {
		return []index.Stage{
			index.StageFinishBackup,
			index.StageSyncBackup,
			index.StageSyncDirectory,
			index.StageStartWrites,
			index.StageFinishWrites,
			index.StageStartMarker,
			index.StageFinishMarker,
			index.StageRemoveBackup,
		}
	}
	return []index.Stage{
		index.StageStartWrites,
		index.StageFinishWrites,
		index.StageStartMarker,
		index.StageFinishMarker,
	}
}

// Run advances the checkpoint toward the captured target horizon. A zero
// deadline means block until done; otherwise the driver stops after the
// first stage boundary past the deadline and returns core.ErrWouldBlock,
// resuming exactly there on the next call. Crossing the high watermark makes
// the driver ignore the deadline entirely.
func (d *Driver) Run(deadline time.Time) error {
	if d.store.Horizon() == d.store.NextID() && !d.active {
		return nil
	}
	if !d.active {
		d.target = d.store.NextID()
		for i, ix := range d.indexes {
			if d.stages[i] != index.StageStart {
				panic(fmt.Sprintf("checkpoint: index %s enters at stage %s", ix.Kind(), d.stages[i]))
			}
		}
		d.active = true
		d.started = d.now()
		d.warned = false
		d.errored = false
		d.logger.Debug("checkpoint started", "target", d.target)
	}

	deficit := d.Deficit()
	if deficit > d.lowWater && !d.urgent {
		d.urgent = true
		d.logger.Warn("checkpoint deficit crossed low watermark",
			"deficit", deficit, "low", d.lowWater)
	}
	ignoreDeadline := deadline.IsZero() || deficit > d.highWater

	// At least one stage runs per call, so repeated calls with an already
	// passed deadline still terminate.
	ran := false
	for _, stage := range d.stageOrder() {
		if ran && !ignoreDeadline && d.now().After(deadline) {
			return core.ErrWouldBlock
		}
		if stage == index.StageStartMarker {
			// The intended horizon must be recoverable before any marker
			// work starts, so a crash from here on is detected on restart.
			if err := d.store.WriteMarker(d.target); err != nil {
				return d.fatal(stage, err)
			}
		}
		advanced, err := d.runStage(stage)
		if err != nil {
			return err
		}
		ran = ran || advanced
		if stage == index.StageFinishMarker {
			if err := d.store.Flush(ignoreDeadline); err != nil {
				if errors.Is(err, core.ErrWouldBlock) {
					return core.ErrWouldBlock
				}
				return d.fatal(stage, err)
			}
		}
		d.checkStall()
	}
	return d.finish()
}

// runStage drives every instance not yet at stage through its callback and
// reports whether any instance advanced.
func (d *Driver) runStage(stage index.Stage) (bool, error) {
	advanced := false
	for i, ix := range d.indexes {
		if d.stages[i] >= stage {
			continue
		}
		err := ix.Checkpoint(stage, d.target)
		switch {
		case err == nil, errors.Is(err, core.ErrAlreadyThere):
			d.stages[i] = stage
			advanced = true
		case errors.Is(err, core.ErrWouldBlock):
			return advanced, core.ErrWouldBlock
		default:
			return advanced, d.fatal(stage, fmt.Errorf("index %s: %w", ix.Kind(), err))
		}
	}
	return advanced, nil
}

// fatal marks the disk subsystem unavailable and aborts the checkpoint.
// Writes stay gated on DiskAvailable until a checkpoint completes again.
func (d *Driver) fatal(stage index.Stage, err error) error {
	d.diskAvailable = false
	d.logger.Error("checkpoint failed",
		"stage", stage.String(), "target", d.target, "error", err)
	return err
}

func (d *Driver) checkStall() {
	elapsed := d.now().Sub(d.started)
	switch {
	case elapsed > stallErrorAfter && !d.errored:
		d.errored = true
		d.logger.Error("checkpoint stalled", "target", d.target, "elapsed", elapsed)
	case elapsed > stallWarnAfter && !d.warned:
		d.warned = true
		d.logger.Warn("checkpoint slow", "target", d.target, "elapsed", elapsed)
	}
}

// abort discards an in-flight checkpoint cycle without advancing anything,
// so a rollback can retreat past the captured target. The cleared marker
// keeps a crash after the abort from resuming toward a horizon the store no
// longer reaches.
func (d *Driver) abort() error {
	d.logger.Warn("aborting in-flight checkpoint", "target", d.target)
	if err := d.store.ClearMarker(); err != nil {
		return err
	}
	for i := range d.stages {
		d.stages[i] = index.StageStart
	}
	d.active = false
	return nil
}

// finish commits the new horizon and resets the machine.
func (d *Driver) finish() error {
	if err := d.store.SetHorizon(d.target); err != nil {
		return d.fatal(index.StageDone, err)
	}
	if err := d.store.ClearMarker(); err != nil {
		return d.fatal(index.StageDone, err)
	}
	for i, ix := range d.indexes {
		ix.AdvanceHorizon(d.target)
		d.stages[i] = index.StageStart
	}
	d.diskAvailable = true
	d.active = false
	d.logger.Debug("checkpoint done", "horizon", d.target)
	if d.Deficit() < d.lowWater {
		d.urgent = false
	}
	return nil
}
