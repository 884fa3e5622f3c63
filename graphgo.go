package graphgo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/graphgo/checkpoint"
	"github.com/hupe1980/graphgo/core"
	"github.com/hupe1980/graphgo/index"
	"github.com/hupe1980/graphgo/iterator"
	"github.com/hupe1980/graphgo/pipeline"
	"github.com/hupe1980/graphgo/store"
)

// Re-exported core types, so common use needs only this package.
type (
	// Record is one immutable unit of stored data.
	Record = core.Record
	// RecordID is the dense local identifier of a record.
	RecordID = core.RecordID
	// GlobalID is a record's globally unique identity.
	GlobalID = core.GlobalID
	// Generation marks a record as a new version of a prior record.
	Generation = core.Generation
	// EdgeRole identifies one of the four directed-edge endpoints.
	EdgeRole = core.EdgeRole
	// Budget bounds the cost of iterator operations.
	Budget = core.Budget
	// Iterator is the polymorphic cursor over record ids.
	Iterator = iterator.Iterator
	// Summary is an iterator's static result-set description.
	Summary = iterator.Summary
)

const (
	RoleType  = core.RoleType
	RoleRight = core.RoleRight
	RoleLeft  = core.RoleLeft
	RoleScope = core.RoleScope

	// NoRecord is the zero RecordID; never allocated.
	NoRecord = core.NoRecord

	// Unbounded is a budget that never runs out.
	Unbounded = core.Unbounded
)

// DB is an open graph-primitive store: the record store plus its secondary
// indexes, the synchronization pipeline, and the checkpoint machinery.
//
// DB follows the single-writer model: one goroutine commits and iterates;
// "concurrency" is the cooperative suspension of live cursors across writes,
// not parallel access.
type DB struct {
	id    uuid.UUID
	store store.RecordStore
	sess  *store.Session
	ixs   *pipeline.Indexes
	pipe  *pipeline.Indexer
	drv   *checkpoint.Driver

	logger   *Logger
	reporter StatusReporter
	limiter  *rate.Limiter
	slice    time.Duration

	closed bool
}

// Open creates or reopens a database. Without options the store is
// in-memory and non-transactional; WithRecordLog adds file durability and
// replays existing records, and startup recovery re-synchronizes any records
// committed after the last completed checkpoint.
func Open(optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	db := &DB{
		id:       uuid.New(),
		logger:   o.logger,
		reporter: o.reporter,
		limiter:  rate.NewLimiter(rate.Every(o.checkpointEvery), 1),
		slice:    o.checkpointSlice,
	}

	// Store load (log replay dominates open time) runs alongside the index
	// and session construction.
	var g errgroup.Group
	g.Go(func() error {
		switch {
		case o.store != nil:
			db.store = o.store
		case o.logDir != "":
			st, err := store.OpenMemStore(o.logDir, o.transactional, o.compression)
			if err != nil {
				return err
			}
			db.store = st
		default:
			db.store = store.NewMemStore(o.transactional)
		}
		return nil
	})
	g.Go(func() error {
		db.sess = store.NewSession()
		db.ixs = pipeline.NewIndexes(o.transactional)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, translateError(err)
	}

	db.pipe = pipeline.NewIndexer(db.store, db.sess, db.ixs, o.logger.Logger, o.vipThreshold)
	db.drv = checkpoint.NewDriver(db.store, db.ixs.All(), o.logger.Logger, o.reporter)
	db.drv.SetWatermarks(o.lowWater, o.highWater)

	replay := int(db.store.NextID() - db.store.Horizon())
	if err := db.drv.Synchronize(db.pipe); err != nil {
		db.logger.LogRecovery(context.Background(), replay, err)
		_ = db.store.Close()
		return nil, translateError(err)
	}
	if replay > 0 {
		db.logger.LogRecovery(context.Background(), replay, nil)
	}
	return db, nil
}

// ID returns the database identity used to mint global ids.
func (db *DB) ID() uuid.UUID { return db.id }

// Session returns the iterator session. Needed only when constructing
// iterators outside the DB helpers.
func (db *DB) Session() *store.Session { return db.sess }

// Read returns the committed record with the given id.
func (db *DB) Read(id core.RecordID) (*core.Record, error) {
	rec, err := db.store.Read(id)
	return rec, translateError(err)
}

// NextID returns the id the next Commit will assign.
func (db *DB) NextID() core.RecordID { return db.store.NextID() }

// Horizon returns the durably checkpointed index horizon.
func (db *DB) Horizon() core.RecordID { return db.store.Horizon() }

// Subscribe registers a fan-out hook invoked with every committed record
// after all indexes reflect it.
func (db *DB) Subscribe(fn pipeline.Subscriber) { db.pipe.Subscribe(fn) }

// Commit appends a record and fans it out to every secondary index. The
// record's ID is assigned; an unset Global is minted from the database
// identity. On a transactional store an indexing failure rolls the commit
// back entirely.
func (db *DB) Commit(ctx context.Context, rec *core.Record) (core.RecordID, error) {
	if db.closed {
		return core.NoRecord, &ErrClosed{Op: "commit"}
	}
	if !db.drv.DiskAvailable() {
		return core.NoRecord, ErrDiskUnavailable
	}
	rec = rec.Clone()
	expect := db.store.NextID()
	if rec.Global.IsZero() {
		rec.Global = core.GlobalID{DB: db.id, Local: expect}
	}
	id, err := db.store.Append(rec)
	if err != nil {
		err = translateError(err)
		db.logger.LogCommit(ctx, core.NoRecord, err)
		return core.NoRecord, err
	}
	if id != expect {
		panic(fmt.Sprintf("graphgo: concurrent append: got id %d, expected %d", id, expect))
	}
	stored, err := db.store.Read(id)
	if err != nil {
		return core.NoRecord, translateError(err)
	}
	if err := db.pipe.IndexNewPrimitive(stored); err != nil {
		if db.store.Transactional() {
			if rerr := db.drv.Rollback(id, db.pipe); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		err = translateError(err)
		db.logger.LogCommit(ctx, id, err)
		return core.NoRecord, err
	}
	db.maybeCheckpoint(ctx)
	db.logger.LogCommit(ctx, id, nil)
	return id, nil
}

// maybeCheckpoint runs a slice of checkpoint work on the commit path, paced
// by the rate limiter unless the deficit has crossed the low watermark.
func (db *DB) maybeCheckpoint(ctx context.Context) {
	if !db.drv.Urgent() && !db.limiter.Allow() {
		return
	}
	err := db.drv.Run(time.Now().Add(db.slice))
	if err != nil && !errors.Is(err, core.ErrWouldBlock) {
		db.logger.LogCheckpoint(ctx, db.store.Horizon(), err)
	}
}

// Checkpoint runs the checkpoint state machine to completion, durably
// advancing the index horizon to the current write point.
func (db *DB) Checkpoint(ctx context.Context) error {
	if db.closed {
		return &ErrClosed{Op: "checkpoint"}
	}
	err := translateError(db.drv.Run(time.Time{}))
	db.logger.LogCheckpoint(ctx, db.store.Horizon(), err)
	return err
}

// CheckpointDeadline runs checkpoint work until the soft deadline, returning
// ErrWouldBlock when more work remains; the next call resumes there.
func (db *DB) CheckpointDeadline(ctx context.Context, deadline time.Time) error {
	if db.closed {
		return &ErrClosed{Op: "checkpoint"}
	}
	err := db.drv.Run(deadline)
	if err != nil && !errors.Is(err, core.ErrWouldBlock) {
		db.logger.LogCheckpoint(ctx, db.store.Horizon(), err)
	}
	return translateError(err)
}

// Rollback retreats a transactional store and all indexes to target, undoing
// every commit at or past it, then re-synchronizes. A target preceding the
// durable horizon is a caller bug and panics.
func (db *DB) Rollback(ctx context.Context, target core.RecordID) error {
	if db.closed {
		return &ErrClosed{Op: "rollback"}
	}
	err := translateError(db.drv.Rollback(target, db.pipe))
	db.logger.LogRollback(ctx, target, err)
	return err
}

// Status pushes every counter to the configured status reporter.
func (db *DB) Status() {
	db.drv.Status()
}

// Close flushes and releases the database. Iterators become invalid.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	flushErr := db.store.Flush(true)
	ixErr := db.ixs.Close()
	closeErr := db.store.Close()
	return translateError(errors.Join(flushErr, ixErr, closeErr))
}

// Scan returns an iterator over every id in [low, high); high 0 means
// unbounded. low 0 starts at the first allocated id.
func (db *DB) Scan(low, high core.RecordID, descending bool) *Iterator {
	return iterator.NewScan(db.sess, low, high, descending)
}

// Edges returns an iterator over the records carrying a role edge to
// endpoint, restricted to [low, high).
func (db *DB) Edges(role core.EdgeRole, endpoint, low, high core.RecordID, descending bool) (*Iterator, error) {
	src, err := db.ResolveEdge(role, endpoint)
	if err != nil {
		return nil, translateError(err)
	}
	it, err := iterator.New(db.sess, src, low, high, descending)
	return it, translateError(err)
}

// Name returns an iterator over the records named name, case-insensitive.
func (db *DB) Name(name []byte, low, high core.RecordID, descending bool) (*Iterator, error) {
	return db.hashIterator(index.TagName, pipeline.NameKey(name), nil, low, high, descending)
}

// Value returns an iterator over the records whose value canonicalizes the
// same as value ("42" and "42.0" share a posting set).
func (db *DB) Value(value []byte, low, high core.RecordID, descending bool) (*Iterator, error) {
	return db.hashIterator(index.TagValue, pipeline.Canonicalize(value), nil, low, high, descending)
}

// Word returns an iterator over the records whose value contains the word or
// number fragment term. The prefix bitmap proves most misses empty without a
// hash lookup.
func (db *DB) Word(term string, low, high core.RecordID, descending bool) (*Iterator, error) {
	if term == "" {
		return iterator.NewEmpty(db.sess, low, high, descending), nil
	}
	if r := term[0]; !(r >= '0' && r <= '9') && !db.pipe.HasPrefix(term) {
		return iterator.NewEmpty(db.sess, low, high, descending), nil
	}
	key := index.WordKey(pipeline.WordCode(term))
	return db.hashIterator(index.TagWord, key, nil, low, high, descending)
}

// Lineage returns an iterator over every generation in the chain rooted at
// lineage, the root included.
func (db *DB) Lineage(lineage core.RecordID, low, high core.RecordID, descending bool) (*Iterator, error) {
	return db.hashIterator(index.TagLineage, index.LineageKey(lineage), nil, low, high, descending)
}

// Bin returns an iterator over the records whose value falls in the same bin
// as value. A numeric value exactly on a bin boundary is never binned, so
// the result is empty; Value covers those.
func (db *DB) Bin(value []byte, low, high core.RecordID, descending bool) (*Iterator, error) {
	bin, ok := pipeline.Bin(pipeline.Canonicalize(value))
	if !ok {
		return iterator.NewEmpty(db.sess, low, high, descending), nil
	}
	return db.hashIterator(index.TagBin, index.BinKey(bin), nil, low, high, descending)
}

// VIP returns an iterator over the records carrying a role edge to endpoint
// and a type edge to qualifier, served by the compaction index. Only
// endpoints past the VIP threshold have entries.
func (db *DB) VIP(role core.EdgeRole, endpoint, qualifier core.RecordID, low, high core.RecordID, descending bool) (*Iterator, error) {
	key := index.VIPKey(endpoint, role, qualifier)
	guarantee := []iterator.Constraint{
		{Role: role, Endpoint: endpoint},
		{Role: core.RoleType, Endpoint: qualifier},
	}
	return db.hashIterator(index.TagVIP, key, guarantee, low, high, descending)
}

// Restrict re-expresses an edge iterator intersected with proof's type
// constraint as a VIP lookup. Fails closed with ErrUnsupported when the
// optimization does not apply.
func (db *DB) Restrict(it *Iterator, proof Summary) (*Iterator, error) {
	out, err := it.Restrict(proof, db.ixs.VIP, db.pipe.VIPThreshold())
	return out, translateError(err)
}

// Thaw reconstructs an iterator from its serialized cursor text.
func (db *DB) Thaw(text string) (*Iterator, error) {
	it, err := iterator.Thaw(db.sess, db, text)
	return it, translateError(err)
}

// Superseded reports whether a newer generation has replaced id.
func (db *DB) Superseded(id core.RecordID) bool {
	return db.ixs.Liveness.Contains(pipeline.LivenessKey, id)
}

func (db *DB) hashIterator(tag index.Tag, key []byte, guarantee []iterator.Constraint, low, high core.RecordID, descending bool) (*Iterator, error) {
	src := &iterator.HashSource{
		Index:     db.hashIndexFor(tag),
		Tag:       tag,
		Key:       key,
		Guarantee: guarantee,
	}
	it, err := iterator.New(db.sess, src, low, high, descending)
	return it, translateError(err)
}

func (db *DB) hashIndexFor(tag index.Tag) *index.HashIndex {
	switch tag {
	case index.TagName:
		return db.ixs.Names
	case index.TagValue:
		return db.ixs.Values
	case index.TagWord:
		return db.ixs.Words
	case index.TagLineage:
		return db.ixs.Lineage
	case index.TagBin:
		return db.ixs.Bins
	case index.TagVIP:
		return db.ixs.VIP
	}
	panic(fmt.Sprintf("graphgo: no index for hash tag %d", tag))
}

// ResolveEdge implements iterator.Catalog.
func (db *DB) ResolveEdge(role core.EdgeRole, endpoint core.RecordID) (*iterator.EdgeSource, error) {
	if role >= core.NumRoles {
		return nil, fmt.Errorf("edge role %d: %w", role, core.ErrUnsupported)
	}
	return &iterator.EdgeSource{
		Index:    db.ixs.Edges[role],
		Role:     role,
		Endpoint: endpoint,
	}, nil
}

// ResolveHash implements iterator.Catalog. VIP keys carry their edge
// guarantees in the key bytes, so a thawed VIP cursor keeps its summary.
func (db *DB) ResolveHash(tag index.Tag, key []byte) (*iterator.HashSource, error) {
	var guarantee []iterator.Constraint
	if tag == index.TagVIP {
		if len(key) != 9 {
			return nil, fmt.Errorf("vip key of %d bytes: %w", len(key), iterator.ErrCursorSyntax)
		}
		guarantee = []iterator.Constraint{
			{Role: core.EdgeRole(key[4]), Endpoint: core.RecordID(binary.BigEndian.Uint32(key[0:]))},
			{Role: core.RoleType, Endpoint: core.RecordID(binary.BigEndian.Uint32(key[5:]))},
		}
	}
	return &iterator.HashSource{
		Index:     db.hashIndexFor(tag),
		Tag:       tag,
		Key:       key,
		Guarantee: guarantee,
	}, nil
}

// Collect drains an iterator into out, returning the number of ids written.
// ErrOverflow reports more results than out can hold; the written prefix is
// valid.
func Collect(it *Iterator, out []core.RecordID) (int, error) {
	budget := core.Unbounded
	n := 0
	for {
		id, err := it.Next(&budget)
		if errors.Is(err, core.ErrNotFound) {
			return n, nil
		}
		if err != nil {
			return n, translateError(err)
		}
		if n == len(out) {
			return n, core.ErrOverflow
		}
		out[n] = id
		n++
	}
}
