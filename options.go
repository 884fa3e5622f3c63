package graphgo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/graphgo/core"
	"github.com/hupe1980/graphgo/store"
)

type options struct {
	logger   *Logger
	reporter StatusReporter

	store         store.RecordStore
	logDir        string
	compression   store.Compression
	transactional bool

	vipThreshold int
	lowWater     core.RecordID
	highWater    core.RecordID

	checkpointEvery time.Duration
	checkpointSlice time.Duration
}

// Option configures Open behavior.
//
// Options exist to avoid exploding the API surface with constructor
// variants.
type Option func(*options)

// WithRecordLog backs the store with the append-only record log in dir,
// replaying existing records on open. Without it the store is purely
// in-memory.
func WithRecordLog(dir string) Option {
	return func(o *options) {
		o.logDir = dir
	}
}

// WithCompression selects the record-log block codec. Default is no
// compression; lz4 is fast, zstd trades speed for ratio. Immutable once the
// log exists.
func WithCompression(c store.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithTransactional enables rollback support. A transactional store pays for
// a backup phase in every checkpoint; a non-transactional one can only ever
// replay forward.
func WithTransactional(transactional bool) Option {
	return func(o *options) {
		o.transactional = transactional
	}
}

// WithStore supplies an external record-store implementation. Overrides
// WithRecordLog.
func WithStore(st store.RecordStore) Option {
	return func(o *options) {
		o.store = st
	}
}

// WithVIPThreshold overrides the edge fan-out at which an endpoint's edges
// are compacted into the VIP index. Zero keeps the default.
func WithVIPThreshold(n int) Option {
	return func(o *options) {
		o.vipThreshold = n
	}
}

// WithCheckpointWatermarks overrides the checkpoint deficit watermarks:
// below low, checkpointing is purely opportunistic; above high, soft
// deadlines are ignored. Zero keeps a default.
func WithCheckpointWatermarks(low, high core.RecordID) Option {
	return func(o *options) {
		o.lowWater = low
		o.highWater = high
	}
}

// WithCheckpointPacing tunes the opportunistic checkpoints on the commit
// path: at most one attempt per every, each given slice of wall time before
// yielding. Zero keeps a default.
func WithCheckpointPacing(every, slice time.Duration) Option {
	return func(o *options) {
		o.checkpointEvery = every
		o.checkpointSlice = slice
	}
}

// WithStatusReporter configures a status reporter for monitoring.
// Pass nil to disable status collection.
//
// Example with BasicStatusReporter:
//
//	rep := &graphgo.BasicStatusReporter{}
//	db, _ := graphgo.Open(graphgo.WithStatusReporter(rep))
//	// ... use db ...
//	deficit, _ := rep.Get("pdb.checkpoint-deficit")
func WithStatusReporter(r StatusReporter) Option {
	return func(o *options) {
		if r == nil {
			r = NoopStatusReporter{}
		}
		o.reporter = r
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := graphgo.NewJSONLogger(slog.LevelInfo)
//	db, _ := graphgo.Open(graphgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:          NoopLogger(),
		reporter:        NoopStatusReporter{},
		checkpointEvery: time.Second,
		checkpointSlice: 50 * time.Millisecond,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
