package bcache

// Cache is a write-back block cache layered over a device.Device.
// All methods are safe for concurrent use by multiple goroutines,
// except Close, which must not run concurrently with other calls.
//
// Reads and writes move whole 4096-byte blocks (device.BlockSize).
// Writes return as soon as the payload is in memory; the background
// scheduler persists dirty blocks asynchronously. Sync blocks until
// everything dirty at the time of the call is on the device.
type Cache interface {
	// Read copies the payload of block into p (at least one block long).
	// A cold block is fetched from the device exactly once, no matter
	// how many readers are waiting for it.
	Read(block int, p []byte) error

	// Write copies p (at least one block long) into the cache and marks
	// the block dirty. It never waits for device I/O, except briefly
	// when the block has a transfer in flight.
	Write(block int, p []byte) error

	// Sync blocks until no block dirtied before the call remains dirty
	// or mid-writeback. Writes issued after Sync returns are unaffected.
	// Returns the first writeback failure observed, if any.
	Sync() error

	// Close flushes all dirty blocks, stops the scheduler, and releases
	// resources. Idempotent; later operations return ErrClosed.
	Close() error

	// MemoryBlocks returns the configured capacity.
	MemoryBlocks() int
	// DiskBlocks returns the block count of the underlying device.
	DiskBlocks() int
	// Reads returns the number of successful Read calls.
	Reads() uint64
	// Writes returns the number of successful Write calls.
	Writes() uint64
	// Len returns the number of resident blocks.
	Len() int

	// Snapshot reports the block number and state of every resident
	// entry at a point in time. Diagnostic; also used by tests to check
	// drain and eviction invariants.
	Snapshot() []BlockInfo
}

// BlockInfo describes one resident entry; see Snapshot.
type BlockInfo struct {
	Block int
	State BlockState
}
