package bcache

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/blockcache/device"
)

// pattern returns a full block filled with byte b.
func pattern(b byte) []byte {
	p := make([]byte, device.BlockSize)
	for i := range p {
		p[i] = b
	}
	return p
}

func newTestCache(t *testing.T, blocks, capacity int) (Cache, *device.MemDevice) {
	t.Helper()
	dev := device.NewMemDevice(blocks)
	c, err := New(dev, Options{Capacity: capacity})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, dev
}

// Write followed by Read of the same block returns the written payload.
func TestCache_WriteReadRoundtrip(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, 10, 4)

	want := pattern(0x5a)
	if err := c.Write(3, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := make([]byte, device.BlockSize)
	if err := c.Read(3, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("payload mismatch at byte %d: got %#x want %#x", i, got[i], want[i])
		}
	}

	if r, w := c.Reads(), c.Writes(); r != 1 || w != 1 {
		t.Fatalf("counters: reads=%d writes=%d, want 1/1", r, w)
	}
}

// Block numbers outside the device are rejected before any state change.
func TestCache_OutOfRange(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, 10, 4)
	buf := make([]byte, device.BlockSize)

	for _, blk := range []int{-1, 10, 9999} {
		if err := c.Read(blk, buf); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Read(%d): err=%v, want ErrOutOfRange", blk, err)
		}
		if err := c.Write(blk, buf); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Write(%d): err=%v, want ErrOutOfRange", blk, err)
		}
	}
	if c.Len() != 0 {
		t.Fatalf("rejected calls must not insert entries, Len=%d", c.Len())
	}
}

// Undersized caller buffers are rejected.
func TestCache_ShortBuffer(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, 10, 4)
	small := make([]byte, 100)

	if err := c.Read(0, small); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("Read: err=%v, want ErrShortBuffer", err)
	}
	if err := c.Write(0, small); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("Write: err=%v, want ErrShortBuffer", err)
	}
}

// A cold block is fetched from the device once; the second read is a
// pure memory hit.
func TestCache_ReadThrough(t *testing.T) {
	t.Parallel()

	c, dev := newTestCache(t, 10, 4)
	dev.Poke(5, pattern(0xab))

	got := make([]byte, device.BlockSize)
	for i := 0; i < 2; i++ {
		if err := c.Read(5, got); err != nil {
			t.Fatalf("Read #%d: %v", i+1, err)
		}
		if got[0] != 0xab || got[device.BlockSize-1] != 0xab {
			t.Fatalf("Read #%d returned wrong payload", i+1)
		}
	}
	if n := dev.ReadCount(); n != 1 {
		t.Fatalf("device reads = %d, want 1", n)
	}
}

// After Sync returns, no entry is dirty or mid-writeback and the device
// holds the written payloads.
func TestCache_SyncDrains(t *testing.T) {
	t.Parallel()

	c, dev := newTestCache(t, 10, 4)
	for blk := 0; blk < 3; blk++ {
		if err := c.Write(blk, pattern(byte('A'+blk))); err != nil {
			t.Fatalf("Write(%d): %v", blk, err)
		}
	}

	if err := c.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	for _, info := range c.Snapshot() {
		if info.State == StateDirty || info.State == StateWriting {
			t.Fatalf("block %d still %v after Sync", info.Block, info.State)
		}
	}
	for blk := 0; blk < 3; blk++ {
		if got := dev.Peek(blk)[0]; got != byte('A'+blk) {
			t.Fatalf("device block %d = %#x, want %#x", blk, got, byte('A'+blk))
		}
	}
}

// Capacity 2, three writes. The third write must
// wait out the writeback, evict the least recently touched block, and
// Sync must leave all three payloads on the device.
func TestCache_EvictionLRU(t *testing.T) {
	t.Parallel()

	c, dev := newTestCache(t, 10, 2)

	if err := c.Write(0, pattern('A')); err != nil {
		t.Fatalf("Write(0): %v", err)
	}
	if err := c.Write(1, pattern('B')); err != nil {
		t.Fatalf("Write(1): %v", err)
	}
	// Full directory: this write blocks until a writeback makes block 0
	// (the least recently touched) evictable.
	if err := c.Write(2, pattern('C')); err != nil {
		t.Fatalf("Write(2): %v", err)
	}

	if n := c.Len(); n > 2 {
		t.Fatalf("resident entries = %d, exceeds capacity 2", n)
	}
	for _, info := range c.Snapshot() {
		if info.Block == 0 {
			t.Fatalf("block 0 must have been evicted, state %v", info.State)
		}
	}

	got := make([]byte, device.BlockSize)
	if err := c.Read(2, got); err != nil {
		t.Fatalf("Read(2): %v", err)
	}
	if got[0] != 'C' {
		t.Fatalf("Read(2) = %#x, want 'C'", got[0])
	}

	if err := c.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	for blk, want := range []byte{'A', 'B', 'C'} {
		if got := dev.Peek(blk)[0]; got != want {
			t.Fatalf("device block %d = %#x, want %#x", blk, got, want)
		}
	}
}

// Fifty concurrent readers of one cold block trigger exactly one device
// read, and every reader observes the same payload.
func TestCache_ReadCoalescing(t *testing.T) {
	t.Parallel()

	c, dev := newTestCache(t, 10, 4)
	dev.Poke(5, pattern(0xcd))
	dev.SetLatency(5 * time.Millisecond) // widen the coalescing window

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			buf := make([]byte, device.BlockSize)
			if err := c.Read(5, buf); err != nil {
				return err
			}
			if buf[0] != 0xcd || buf[device.BlockSize-1] != 0xcd {
				return errors.New("wrong payload")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if n := dev.ReadCount(); n != 1 {
		t.Fatalf("device reads = %d, want exactly 1", n)
	}
}

// A write overtaking an in-flight read waits for the read to settle,
// then wins: the final payload in memory and on the device is the
// written one.
func TestCache_WriteOvertakesRead(t *testing.T) {
	t.Parallel()

	c, dev := newTestCache(t, 10, 4)
	dev.Poke(2, pattern(0x01))
	dev.SetLatency(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, device.BlockSize)
		done <- c.Read(2, buf)
	}()
	time.Sleep(10 * time.Millisecond) // let the read flight start

	if err := c.Write(2, pattern(0x02)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Read: %v", err)
	}

	got := make([]byte, device.BlockSize)
	if err := c.Read(2, got); err != nil {
		t.Fatalf("Read after write: %v", err)
	}
	if got[0] != 0x02 {
		t.Fatalf("payload = %#x, want the written 0x02", got[0])
	}

	dev.SetLatency(0)
	if err := c.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := dev.Peek(2)[0]; got != 0x02 {
		t.Fatalf("device block 2 = %#x, want 0x02", got)
	}
}

// A failed device read wakes every waiter with the DeviceError instead
// of leaving them blocked; clearing the fault makes the block readable
// again.
func TestCache_ReadFailurePropagates(t *testing.T) {
	t.Parallel()

	c, dev := newTestCache(t, 10, 4)
	boom := errors.New("medium error")
	dev.FailReads(func(int) error { return boom })
	dev.SetLatency(5 * time.Millisecond)

	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			buf := make([]byte, device.BlockSize)
			err := c.Read(7, buf)
			if err == nil {
				return errors.New("read succeeded against a failing device")
			}
			var de *DeviceError
			if !errors.As(err, &de) || de.Op != "read" || de.Block != 7 {
				return errors.New("error is not the read DeviceError")
			}
			if !errors.Is(err, boom) {
				return errors.New("cause not preserved")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	// Retry is the caller's move: a fresh Read starts a new flight.
	dev.FailReads(nil)
	dev.SetLatency(0)
	buf := make([]byte, device.BlockSize)
	if err := c.Read(7, buf); err != nil {
		t.Fatalf("Read after clearing fault: %v", err)
	}
}

// A failed writeback keeps the block dirty, is surfaced by Sync, and is
// not retried until the block is written again.
func TestCache_WriteFailureStaysDirty(t *testing.T) {
	t.Parallel()

	c, dev := newTestCache(t, 10, 4)
	boom := errors.New("write fault")
	dev.FailWrites(func(int) error { return boom })

	if err := c.Write(1, pattern(0x11)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	err := c.Sync()
	if err == nil {
		t.Fatal("Sync must report the writeback failure")
	}
	var de *DeviceError
	if !errors.As(err, &de) || de.Op != "write" || de.Block != 1 {
		t.Fatalf("Sync error = %v, want write DeviceError for block 1", err)
	}

	found := false
	for _, info := range c.Snapshot() {
		if info.Block == 1 {
			found = true
			if info.State != StateDirty {
				t.Fatalf("block 1 state = %v, want dirty after failed writeback", info.State)
			}
		}
	}
	if !found {
		t.Fatal("block 1 missing from snapshot")
	}

	// Rewriting arms the block again; with the fault cleared it drains.
	dev.FailWrites(nil)
	if err := c.Write(1, pattern(0x22)); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := c.Sync(); err != nil {
		t.Fatalf("Sync after clearing fault: %v", err)
	}
	if got := dev.Peek(1)[0]; got != 0x22 {
		t.Fatalf("device block 1 = %#x, want 0x22", got)
	}
}

// Close drains dirty data before stopping the scheduler; afterwards
// every operation reports ErrClosed and Close stays idempotent.
func TestCache_CloseFlushes(t *testing.T) {
	t.Parallel()

	dev := device.NewMemDevice(10)
	c, err := New(dev, Options{Capacity: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Write(3, pattern('D')); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := dev.Peek(3)[0]; got != 'D' {
		t.Fatalf("device block 3 = %#x, want 'D' (dirty data lost on shutdown)", got)
	}

	buf := make([]byte, device.BlockSize)
	if err := c.Read(3, buf); !errors.Is(err, ErrClosed) {
		t.Fatalf("Read after Close: err=%v, want ErrClosed", err)
	}
	if err := c.Write(3, buf); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write after Close: err=%v, want ErrClosed", err)
	}
	if err := c.Sync(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Sync after Close: err=%v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// New validates its arguments.
func TestCache_NewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, Options{Capacity: 1}); !errors.Is(err, ErrNilDevice) {
		t.Fatalf("nil device: err=%v", err)
	}
	if _, err := New(device.NewMemDevice(1), Options{Capacity: 0}); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("zero capacity: err=%v", err)
	}
}

// Accessors reflect configuration and device geometry.
func TestCache_Accessors(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, 17, 5)
	if c.MemoryBlocks() != 5 {
		t.Fatalf("MemoryBlocks = %d, want 5", c.MemoryBlocks())
	}
	if c.DiskBlocks() != 17 {
		t.Fatalf("DiskBlocks = %d, want 17", c.DiskBlocks())
	}
	if c.Len() != 0 || c.Reads() != 0 || c.Writes() != 0 {
		t.Fatal("fresh cache must report zero residency and counters")
	}
}
