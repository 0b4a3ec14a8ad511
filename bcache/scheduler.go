package bcache

import (
	"context"

	"github.com/IvanBrykalov/blockcache/device"
)

// scheduler is the single background worker that performs all device
// transfers and advances block state. Callers never touch the device:
// they mark intent (StateReading, StateDirty), wake the scheduler, and
// wait on the entry condition.
//
// The worker blocks on a wake channel when idle instead of polling.
// Wakes coalesce: the channel has capacity one, and every pass rescans
// until nothing needs service.
type scheduler struct {
	c *bufferCache

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func newScheduler(c *bufferCache) *scheduler {
	return &scheduler{
		c:      c,
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// wake requests a scheduler pass. Non-blocking; callers may hold locks.
func (s *scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// stop shuts the worker down after a final sweep and waits for it.
func (s *scheduler) stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *scheduler) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.wakeCh:
			s.sweep()
		case <-s.stopCh:
			// Final sweep so shutdown leaves nothing dirty behind.
			s.sweep()
			return
		}
	}
}

// sweep services every entry that needs a transfer, repeating until a
// pass finds none. Repetition matters: a caller can mark new work while
// the previous batch was mid-transfer.
func (s *scheduler) sweep() {
	for {
		batch := s.c.dir.pending()
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			s.service(e)
			s.c.dir.unpin(e)
		}
	}
}

// service performs one transfer for e. The entry lock is dropped for
// the duration of the device call and the payload staged in a local
// buffer, so waiters never observe a half-copied block and the lock is
// never held across I/O.
func (s *scheduler) service(e *entry) {
	var buf [device.BlockSize]byte

	e.mu.Lock()
	switch e.state {
	case StateReading:
		e.mu.Unlock()

		err := s.transfer(func() error { return s.c.dev.ReadBlock(e.block, buf[:]) })

		e.mu.Lock()
		if err != nil {
			// Wake waiters with the failure instead of leaving them
			// blocked; the entry holds no valid data.
			e.state = StateFree
			e.err = &DeviceError{Op: "read", Block: e.block, Err: err}
		} else {
			copy(e.data[:], buf[:])
			e.state = StateReady
			e.err = nil
		}
		e.cond.Broadcast()
		e.mu.Unlock()

	case StateDirty:
		e.state = StateWriting
		copy(buf[:], e.data[:])
		e.mu.Unlock()

		err := s.transfer(func() error { return s.c.dev.WriteBlock(e.block, buf[:]) })

		e.mu.Lock()
		if err != nil {
			// Data is still only in memory: stay dirty, publish the
			// failure. pending skips the entry until it is rewritten.
			e.state = StateDirty
			e.err = &DeviceError{Op: "write", Block: e.block, Err: err}
		} else {
			e.state = StateReady
			e.err = nil
		}
		e.cond.Broadcast()
		e.mu.Unlock()

		s.c.opt.Metrics.Flush(err == nil)
		if err == nil {
			// A clean entry may now be evictable.
			s.c.dir.wakeSpace()
		}

	default:
		// Already serviced by an earlier pass of this sweep.
		e.mu.Unlock()
	}
}

// transfer serializes device access and applies the optional throttle.
// This device lock is the only global bottleneck and is never held
// together with the structure lock.
func (s *scheduler) transfer(op func() error) error {
	if lim := s.c.opt.Throttle; lim != nil {
		_ = lim.Wait(context.Background())
	}
	s.c.devMu.Lock()
	defer s.c.devMu.Unlock()
	return op()
}
