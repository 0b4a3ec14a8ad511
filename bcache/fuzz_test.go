//go:build go1.18

package bcache

import (
	"bytes"
	"testing"

	"github.com/IvanBrykalov/blockcache/device"
)

// Fuzz the write/read/sync path with arbitrary block numbers and
// payload prefixes. Guards against panics and checks that what goes in
// comes back out, both from memory and from the device after a drain.
func FuzzCache_WriteReadSync(f *testing.F) {
	f.Add(0, []byte{})
	f.Add(3, []byte("payload"))
	f.Add(7, bytes.Repeat([]byte{0xff}, 64))

	f.Fuzz(func(t *testing.T, blk int, seed []byte) {
		const blocks = 8
		if blk < 0 {
			blk = -blk
		}
		blk %= blocks

		// Expand the seed into a full block payload.
		payload := make([]byte, device.BlockSize)
		if len(seed) > 0 {
			for i := range payload {
				payload[i] = seed[i%len(seed)]
			}
		}

		dev := device.NewMemDevice(blocks)
		c, err := New(dev, Options{Capacity: 4})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = c.Close() })

		if err := c.Write(blk, payload); err != nil {
			t.Fatalf("Write: %v", err)
		}
		got := make([]byte, device.BlockSize)
		if err := c.Read(blk, got); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatal("read payload differs from written payload")
		}

		if err := c.Sync(); err != nil {
			t.Fatalf("Sync: %v", err)
		}
		if !bytes.Equal(dev.Peek(blk), payload) {
			t.Fatal("device payload differs after Sync")
		}
	})
}
