package bcache

import (
	"golang.org/x/time/rate"
)

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
//
// Hooks may be invoked under the directory's structure lock; keep
// implementations lightweight (counter bumps, not I/O).
type Metrics interface {
	// Hit — a Read or Write found its block resident.
	Hit()
	// Miss — a Read or Write had to insert a fresh entry.
	Miss()
	// Evict — a clean entry was dropped to make room.
	Evict()
	// Flush — the scheduler completed a writeback; ok is false when the
	// device write failed.
	Flush(ok bool)
	// Size — resident entry count after an insert or eviction.
	Size(entries int)
}

// Options configures the cache. Zero values are safe except Capacity,
// which must be at least 1; sane defaults are applied in New:
//   - nil Metrics => NoopMetrics
type Options struct {
	// Capacity is the maximum number of resident blocks. When the
	// directory is full and no clean, unpinned block exists, inserts
	// block until one becomes evictable (backpressure, not an error).
	Capacity int

	// OnEvict is called after a block is evicted, under the structure
	// lock; keep callbacks lightweight.
	OnEvict func(block int)

	// Metrics receives hit/miss/evict/flush signals. Nil => NoopMetrics.
	Metrics Metrics

	// Throttle, when non-nil, paces device transfers performed by the
	// scheduler, useful to cap background writeback I/O. The limiter
	// must permit single-token waits (burst >= 1). Nil disables pacing.
	Throttle *rate.Limiter
}
