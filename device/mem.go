package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MemDevice is an in-memory Device for tests, examples, and benchmarks.
// Besides the Device contract it counts completed transfers and can
// inject per-transfer latency and failures.
//
// All methods are safe for concurrent use, so tests may inspect counters
// or contents while a cache is running against the device.
type MemDevice struct {
	mu   sync.Mutex
	data []byte

	latency  time.Duration
	readErr  func(block int) error
	writeErr func(block int) error

	reads  atomic.Int64
	writes atomic.Int64
}

// NewMemDevice allocates a zero-filled device with the given block count.
func NewMemDevice(blocks int) *MemDevice {
	if blocks < 1 {
		panic("device: block count must be >= 1")
	}
	return &MemDevice{data: make([]byte, blocks*BlockSize)}
}

// Blocks returns the number of addressable blocks.
func (d *MemDevice) Blocks() int { return len(d.data) / BlockSize }

// ReadBlock copies the stored payload of block into p.
func (d *MemDevice) ReadBlock(block int, p []byte) error {
	if err := d.checkRange("read", block); err != nil {
		return err
	}
	if len(p) < BlockSize {
		return fmt.Errorf("device: read into %d bytes, want %d", len(p), BlockSize)
	}
	hook, lat := d.hooks()
	if lat > 0 {
		time.Sleep(lat)
	}
	if hook.read != nil {
		if err := hook.read(block); err != nil {
			return err
		}
	}
	d.mu.Lock()
	copy(p, d.data[block*BlockSize:(block+1)*BlockSize])
	d.mu.Unlock()
	d.reads.Add(1)
	return nil
}

// WriteBlock stores the payload of p into block.
func (d *MemDevice) WriteBlock(block int, p []byte) error {
	if err := d.checkRange("write", block); err != nil {
		return err
	}
	if len(p) < BlockSize {
		return fmt.Errorf("device: write of %d bytes, want %d", len(p), BlockSize)
	}
	hook, lat := d.hooks()
	if lat > 0 {
		time.Sleep(lat)
	}
	if hook.write != nil {
		if err := hook.write(block); err != nil {
			return err
		}
	}
	d.mu.Lock()
	copy(d.data[block*BlockSize:(block+1)*BlockSize], p[:BlockSize])
	d.mu.Unlock()
	d.writes.Add(1)
	return nil
}

// ReadCount returns the number of completed (non-failed) block reads.
func (d *MemDevice) ReadCount() int64 { return d.reads.Load() }

// WriteCount returns the number of completed (non-failed) block writes.
func (d *MemDevice) WriteCount() int64 { return d.writes.Load() }

// SetLatency adds a fixed delay to every subsequent transfer.
// Zero disables the delay.
func (d *MemDevice) SetLatency(lat time.Duration) {
	d.mu.Lock()
	d.latency = lat
	d.mu.Unlock()
}

// FailReads installs a hook consulted before every read; a non-nil
// return fails the transfer without touching stored data or counters.
// Pass nil to clear.
func (d *MemDevice) FailReads(fn func(block int) error) {
	d.mu.Lock()
	d.readErr = fn
	d.mu.Unlock()
}

// FailWrites is the write-side counterpart of FailReads.
func (d *MemDevice) FailWrites(fn func(block int) error) {
	d.mu.Lock()
	d.writeErr = fn
	d.mu.Unlock()
}

// Peek returns a copy of the stored payload of block, bypassing hooks,
// latency, and counters. Test helper.
func (d *MemDevice) Peek(block int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, BlockSize)
	copy(out, d.data[block*BlockSize:(block+1)*BlockSize])
	return out
}

// Poke stores a payload directly, bypassing hooks, latency, and
// counters. Test helper.
func (d *MemDevice) Poke(block int, p []byte) {
	d.mu.Lock()
	copy(d.data[block*BlockSize:(block+1)*BlockSize], p)
	d.mu.Unlock()
}

type memHooks struct {
	read  func(block int) error
	write func(block int) error
}

func (d *MemDevice) hooks() (memHooks, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return memHooks{read: d.readErr, write: d.writeErr}, d.latency
}

func (d *MemDevice) checkRange(op string, block int) error {
	if block < 0 || block >= d.Blocks() {
		return fmt.Errorf("device: %s of block %d outside device of %d blocks", op, block, d.Blocks())
	}
	return nil
}
