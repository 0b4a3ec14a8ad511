// Package bcache provides a concurrent write-back block cache layered
// over a slow block device, with read coalescing, bounded residency
// with LRU eviction, a background I/O scheduler, and lightweight
// metrics hooks.
//
// Design
//
//   - Concurrency: two lock tiers. The directory's structure lock
//     guards lookup/insert/evict bookkeeping only and is never held
//     across a wait or a transfer. Each resident block has its own
//     mutex and condition guarding its state and payload, so callers
//     touching different blocks never contend.
//
//   - Storage: the directory keeps a map[int]*entry for O(1) lookup and
//     an intrusive doubly linked recency list for O(1) LRU selection.
//     Entries are pinned (reference counted) while a caller uses them,
//     so an entry can never be evicted out from under a blocked caller.
//
//   - State machine: every block is Free, Reading, Ready, Dirty, or
//     Writing. Callers only mark intent (Free→Reading on a cold read,
//     →Dirty on a write) and wait; the single scheduler goroutine
//     performs all device transfers and broadcasts each transition.
//
//   - Read coalescing: the first reader of a cold block starts the
//     flight, later readers join the wait on the entry condition.
//     Exactly one device read happens per flight, no matter how many
//     readers are blocked.
//
//   - Write-back: Write copies the payload into memory, marks the block
//     dirty, wakes the scheduler, and returns. Sync drains everything
//     dirty at the time of the call; Close drains and then stops the
//     scheduler, so no dirty data is lost on shutdown.
//
//   - Capacity: at most Options.Capacity blocks are resident. Eviction
//     picks the least recently touched unpinned clean block; dirty or
//     in-flight blocks are never victims. When nothing is evictable the
//     inserting call blocks until a writeback or unpin makes room:
//     backpressure, not an error.
//
//   - Failures: a failed device read parks the block back in Free and
//     every waiter of that flight receives the DeviceError. A failed
//     write leaves the block dirty with the error published; the cache
//     never retries on its own, a fresh Write arms the block again.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Flush/Size
//     signals. By default NoopMetrics is used; plug the Prometheus
//     adapter from metrics/prom to export them.
//
// Basic usage
//
//	dev := device.NewMemDevice(1024) // or device.OpenFileDevice(path)
//	c, err := bcache.New(dev, bcache.Options{Capacity: 64})
//	if err != nil {
//	    // ...
//	}
//	defer c.Close()
//
//	buf := make([]byte, device.BlockSize)
//	copy(buf, []byte("hello"))
//	_ = c.Write(7, buf)  // returns immediately, written back async
//	_ = c.Read(7, buf)   // served from memory
//	_ = c.Sync()         // block 7 durable on the device after this
//
// Thread-safety
//
// All methods on Cache are safe for concurrent use, except Close, which
// must not overlap other calls. Accessors (MemoryBlocks, DiskBlocks,
// Reads, Writes, Len, Snapshot) have no side effects.
package bcache
