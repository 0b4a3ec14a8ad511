package bcache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCapacity is returned by New when Options.Capacity < 1.
	ErrInvalidCapacity = errors.New("bcache: capacity must be >= 1")

	// ErrNilDevice is returned by New when no device is supplied.
	ErrNilDevice = errors.New("bcache: nil device")

	// ErrOutOfRange is returned by Read and Write for block numbers
	// outside [0, DiskBlocks()). The check happens before any state
	// mutation, so a rejected call leaves the cache untouched.
	ErrOutOfRange = errors.New("bcache: block number out of range")

	// ErrShortBuffer is returned by Read and Write when the caller's
	// buffer is smaller than one block.
	ErrShortBuffer = errors.New("bcache: buffer must be at least one block")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("bcache: cache is closed")
)

// DeviceError reports a failed device transfer. The scheduler publishes
// it to every caller blocked on the affected block; for a failed read
// the block returns to StateFree, for a failed write it stays dirty and
// is not retried until the caller writes it again.
type DeviceError struct {
	Op    string // "read" or "write"
	Block int
	Err   error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("bcache: device %s of block %d: %v", e.Op, e.Block, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
