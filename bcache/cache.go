package bcache

import (
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/blockcache/device"
	"github.com/IvanBrykalov/blockcache/internal/util"
)

// bufferCache is the concrete Cache: a bounded directory of block
// entries, one background scheduler, and a device behind a narrow lock.
type bufferCache struct {
	dev   device.Device
	dir   *directory
	sched *scheduler
	opt   Options

	// devMu serializes all device transfers (taken only by the
	// scheduler, via transfer).
	devMu sync.Mutex

	closed atomic.Bool

	// hot counters (separate cache lines to avoid false sharing)
	_      util.CacheLinePad
	reads  util.PaddedAtomicUint64
	writes util.PaddedAtomicUint64
}

// New constructs a cache over dev with the provided Options and starts
// the I/O scheduler. Defaults:
//   - nil Metrics -> NoopMetrics
func New(dev device.Device, opt Options) (Cache, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	if opt.Capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}

	c := &bufferCache{dev: dev, opt: opt}
	c.dir = newDirectory(opt.Capacity, &c.opt)
	c.sched = newScheduler(c)
	go c.sched.run()
	return c, nil
}

// ---- Cache implementation ----

// Read copies the payload of block into p. A cold block triggers
// exactly one device read per flight: the first caller transitions the
// entry to StateReading and wakes the scheduler, everyone else joins
// the wait on the entry condition and observes the same payload (or the
// same DeviceError if the flight fails).
func (c *bufferCache) Read(block int, p []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if block < 0 || block >= c.dev.Blocks() {
		return ErrOutOfRange
	}
	if len(p) < device.BlockSize {
		return ErrShortBuffer
	}

	e, err := c.dir.pin(block)
	if err != nil {
		return err
	}
	defer c.dir.unpin(e)

	e.mu.Lock()
	if e.state == StateFree {
		// First reader starts the flight; a stale failure from an
		// earlier flight is superseded (retry is the caller's call).
		e.state = StateReading
		e.err = nil
		c.sched.wake()
	}
	for e.state == StateReading {
		e.cond.Wait()
	}
	if !e.state.valid() {
		// The flight failed; the scheduler parked the entry back in
		// StateFree and published the error.
		err := e.err
		e.mu.Unlock()
		return err
	}
	copy(p, e.data[:])
	e.mu.Unlock()

	c.reads.Add(1)
	return nil
}

// Write copies p into the cache and marks the block dirty. It returns
// without waiting for the device; the scheduler writes the block back
// asynchronously. If a transfer is in flight for the block, Write waits
// for it to settle first so the payload is never torn; the final
// device write always carries the latest payload.
func (c *bufferCache) Write(block int, p []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if block < 0 || block >= c.dev.Blocks() {
		return ErrOutOfRange
	}
	if len(p) < device.BlockSize {
		return ErrShortBuffer
	}

	e, err := c.dir.pin(block)
	if err != nil {
		return err
	}
	defer c.dir.unpin(e)

	e.mu.Lock()
	e.awaitSettled()
	copy(e.data[:], p[:device.BlockSize])
	e.state = StateDirty
	e.err = nil
	e.mu.Unlock()

	c.sched.wake()
	c.writes.Add(1)
	return nil
}

// Sync drains every block that is dirty at the moment of the call.
func (c *bufferCache) Sync() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.drain()
}

// drain pins a snapshot of the directory, wakes the scheduler, and
// waits per entry until it is neither dirty nor mid-writeback. A block
// whose writeback failed stays dirty and is not retried; the failure is
// surfaced instead of waiting forever. The whole snapshot is drained
// even after a failure so Sync leaves as little dirty as possible.
func (c *bufferCache) drain() error {
	batch := c.dir.pinAll()
	c.sched.wake()

	var first error
	for _, e := range batch {
		e.mu.Lock()
		for (e.state == StateDirty && e.err == nil) || e.state == StateWriting {
			e.cond.Wait()
		}
		if e.state == StateDirty && first == nil {
			first = e.err
		}
		e.mu.Unlock()
		c.dir.unpin(e)
	}
	return first
}

// Close flushes all dirty blocks, then stops and joins the scheduler.
// Safe to call more than once; concurrent Close with outstanding
// Read/Write/Sync calls is the caller's bug.
func (c *bufferCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	err := c.drain()
	c.sched.stop()
	c.dir.markClosed()
	return err
}

// ---- accessors (no side effects, safe with any concurrent op) ----

// MemoryBlocks returns the configured capacity.
func (c *bufferCache) MemoryBlocks() int { return c.dir.cap }

// DiskBlocks returns the block count of the underlying device.
func (c *bufferCache) DiskBlocks() int { return c.dev.Blocks() }

// Reads returns the number of successful Read calls.
func (c *bufferCache) Reads() uint64 { return c.reads.Load() }

// Writes returns the number of successful Write calls.
func (c *bufferCache) Writes() uint64 { return c.writes.Load() }

// Len returns the number of resident blocks.
func (c *bufferCache) Len() int { return c.dir.resident() }

// Snapshot reports every resident block and its current state.
func (c *bufferCache) Snapshot() []BlockInfo { return c.dir.states() }
