package graphgo

import (
	"sync"
)

// StatusReporter receives dotted-path key/value status pairs
// (e.g. "pdb.checkpoint-deficit", "index.edge-right.entries").
// Implement this interface to integrate with monitoring systems.
//
// Example Prometheus integration:
//
//	type PrometheusReporter struct {
//	    gauges map[string]prometheus.Gauge
//	}
//
//	func (p *PrometheusReporter) Report(key string, value int64) {
//	    p.gauge(key).Set(float64(value))
//	}
type StatusReporter interface {
	// Report is called once per counter on every status sweep.
	Report(key string, value int64)
}

// NoopStatusReporter is a no-op implementation of StatusReporter.
// Use this when status collection is not needed.
type NoopStatusReporter struct{}

func (NoopStatusReporter) Report(string, int64) {}

// BasicStatusReporter provides simple in-memory status collection.
// Useful for debugging and tests without external dependencies.
type BasicStatusReporter struct {
	mu     sync.Mutex
	values map[string]int64
}

// Report implements StatusReporter.
func (b *BasicStatusReporter) Report(key string, value int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		b.values = make(map[string]int64)
	}
	b.values[key] = value
}

// Get returns the last reported value for key.
func (b *BasicStatusReporter) Get(key string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	return v, ok
}

// Snapshot returns a copy of every reported counter.
func (b *BasicStatusReporter) Snapshot() map[string]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int64, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}
