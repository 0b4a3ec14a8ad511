package bcache

import (
	"sync"

	"github.com/IvanBrykalov/blockcache/device"
)

// entry is a resident block: an intrusive doubly linked list element
// owned by the directory, plus the per-block state machine.
//
// Two lock domains meet here and must not be confused:
//   - mu guards state, data, and err. Callers and the scheduler wait on
//     cond for state transitions; every transition broadcasts.
//   - prev, next, and refs belong to the directory and are guarded by
//     the directory's structure lock.
//
// Holding mu while acquiring the structure lock is forbidden (the
// directory briefly takes mu while holding its own lock, never the
// other way around).
type entry struct {
	block int

	mu    sync.Mutex
	cond  *sync.Cond
	state BlockState
	data  [device.BlockSize]byte

	// err is the outcome of the last completed transfer. A failed read
	// parks the entry back in StateFree with err set so waiters of that
	// flight can return it; a failed write leaves StateDirty with err
	// set, which also tells the scheduler not to retry until the block
	// is written again (rewriting clears err).
	err error

	// Intrusive recency list links: head is most recently touched.
	prev *entry
	next *entry

	// refs is the pin count. A pinned entry is never evicted, so a
	// caller between lookup and payload access cannot lose its entry.
	refs int
}

func newEntry(block int) *entry {
	e := &entry{block: block, state: StateFree}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// awaitSettled blocks until no transfer is in flight for this entry.
// Caller must hold e.mu. Writers use it so a payload is never mutated
// mid-transfer.
func (e *entry) awaitSettled() {
	for e.state.inFlight() {
		e.cond.Wait()
	}
}
