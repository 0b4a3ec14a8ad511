package device

import (
	"fmt"
	"os"
)

// FileDevice is a Device backed by a flat image file: block n lives at
// byte offset n*BlockSize. Transfers use positioned reads and writes, so
// the device keeps no seek state.
type FileDevice struct {
	f      *os.File
	blocks int
}

// CreateFileDevice creates (or truncates) an image file holding the
// given number of zero-filled blocks.
func CreateFileDevice(path string, blocks int) (*FileDevice, error) {
	if blocks < 1 {
		return nil, fmt.Errorf("device: block count must be >= 1, got %d", blocks)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(blocks) * BlockSize); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &FileDevice{f: f, blocks: blocks}, nil
}

// OpenFileDevice opens an existing image file. The file size must be a
// positive whole number of blocks.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.Size() == 0 || st.Size()%BlockSize != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("device: %s: size %d is not a whole number of %d-byte blocks", path, st.Size(), BlockSize)
	}
	return &FileDevice{f: f, blocks: int(st.Size() / BlockSize)}, nil
}

// Blocks returns the number of addressable blocks.
func (d *FileDevice) Blocks() int { return d.blocks }

// ReadBlock fills p with the payload of block.
func (d *FileDevice) ReadBlock(block int, p []byte) error {
	if err := d.checkRange("read", block); err != nil {
		return err
	}
	if len(p) < BlockSize {
		return fmt.Errorf("device: read into %d bytes, want %d", len(p), BlockSize)
	}
	_, err := d.f.ReadAt(p[:BlockSize], int64(block)*BlockSize)
	return err
}

// WriteBlock persists the payload of p to block.
func (d *FileDevice) WriteBlock(block int, p []byte) error {
	if err := d.checkRange("write", block); err != nil {
		return err
	}
	if len(p) < BlockSize {
		return fmt.Errorf("device: write of %d bytes, want %d", len(p), BlockSize)
	}
	_, err := d.f.WriteAt(p[:BlockSize], int64(block)*BlockSize)
	return err
}

// Flush forces written blocks to stable storage (fsync).
func (d *FileDevice) Flush() error { return d.f.Sync() }

// Close flushes and closes the underlying file.
func (d *FileDevice) Close() error {
	if err := d.f.Sync(); err != nil {
		_ = d.f.Close()
		return err
	}
	return d.f.Close()
}

func (d *FileDevice) checkRange(op string, block int) error {
	if block < 0 || block >= d.blocks {
		return fmt.Errorf("device: %s of block %d outside device of %d blocks", op, block, d.blocks)
	}
	return nil
}
