// Package device defines the block device contract consumed by the cache
// and provides memory- and file-backed implementations.
package device

// BlockSize is the fixed transfer unit of every device, in bytes.
// The cache copies exactly this many bytes per read or write.
const BlockSize = 4096

// Device is a random-access array of fixed-size blocks.
//
// ReadBlock fills p with exactly BlockSize bytes from the given block;
// WriteBlock persists exactly BlockSize bytes to it. Blocks returns the
// number of addressable blocks; callers must not pass block numbers
// outside [0, Blocks()).
//
// Implementations are not required to be safe for concurrent use: the
// cache funnels all transfers through a single scheduler goroutine and
// serializes them with its own device lock.
type Device interface {
	ReadBlock(block int, p []byte) error
	WriteBlock(block int, p []byte) error
	Blocks() int
}
