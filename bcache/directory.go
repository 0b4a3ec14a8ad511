package bcache

import "sync"

// directory is the bounded mapping from block number to resident entry:
// a map for O(1) lookup plus an intrusive doubly linked recency list
// (head = most recently touched, tail = least), both guarded by one
// structure mutex.
//
// The structure lock is held only for short bookkeeping: lookup,
// insert, evict, pin accounting. It is never held across a device
// transfer or a state wait; callers pin an entry, drop the structure
// lock, and then work under the entry's own lock.
type directory struct {
	// ---- guarded by mu ----
	mu     sync.Mutex
	m      map[int]*entry
	head   *entry // most recently touched
	tail   *entry // least recently touched
	len    int
	closed bool

	// space is signaled whenever an entry may have become evictable
	// (last unpin, or a writeback completing). Inserters blocked on a
	// full directory wait here.
	space *sync.Cond

	cap int // immutable after newDirectory
	opt *Options
}

func newDirectory(capacity int, opt *Options) *directory {
	d := &directory{
		m:   make(map[int]*entry, capacity),
		cap: capacity,
		opt: opt,
	}
	d.space = sync.NewCond(&d.mu)
	return d
}

// pin returns the resident entry for block, creating one in StateFree
// if absent, and increments its pin count. The entry is promoted to the
// front of the recency list. When the directory is full, the least
// recently touched unpinned clean entry is evicted; if none is eligible
// the call blocks until one settles (backpressure, not an error).
//
// Every successful pin must be paired with unpin.
func (d *directory) pin(block int) (*entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		if d.closed {
			return nil, ErrClosed
		}
		if e, ok := d.m[block]; ok {
			e.refs++
			d.moveToFront(e)
			d.opt.Metrics.Hit()
			return e, nil
		}
		if d.len < d.cap || d.evictLocked() {
			break
		}
		// Every resident entry is pinned, dirty, or mid-transfer.
		d.space.Wait()
	}

	e := newEntry(block)
	e.refs = 1
	d.m[block] = e
	d.pushFront(e)
	d.opt.Metrics.Miss()
	d.opt.Metrics.Size(d.len)
	return e, nil
}

// unpin drops a pin taken by pin. The last unpin may make the entry
// evictable, so blocked inserters are woken.
func (d *directory) unpin(e *entry) {
	d.mu.Lock()
	e.refs--
	if e.refs == 0 {
		d.space.Broadcast()
	}
	d.mu.Unlock()
}

// wakeSpace wakes inserters blocked waiting for an evictable entry.
// The scheduler calls it after a writeback turns an entry clean.
func (d *directory) wakeSpace() {
	d.mu.Lock()
	d.space.Broadcast()
	d.mu.Unlock()
}

// pending pins and returns the entries that currently need scheduler
// service: read flights to perform, and dirty payloads to write back.
// Dirty entries whose last writeback failed are skipped; the cache
// never retries on its own, a fresh Write makes them serviceable again.
// Oldest entries come first so writeback drains in rough LRU order.
func (d *directory) pending() []*entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*entry
	for e := d.tail; e != nil; e = e.prev {
		e.mu.Lock()
		need := e.state == StateReading || (e.state == StateDirty && e.err == nil)
		e.mu.Unlock()
		if need {
			e.refs++
			out = append(out, e)
		}
	}
	return out
}

// pinAll pins and returns every resident entry; Sync drains from such a
// snapshot so writes landing after the call are out of scope.
func (d *directory) pinAll() []*entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*entry, 0, d.len)
	for e := d.head; e != nil; e = e.next {
		e.refs++
		out = append(out, e)
	}
	return out
}

// states reports the block number and state of every resident entry.
func (d *directory) states() []BlockInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]BlockInfo, 0, d.len)
	for e := d.head; e != nil; e = e.next {
		e.mu.Lock()
		out = append(out, BlockInfo{Block: e.block, State: e.state})
		e.mu.Unlock()
	}
	return out
}

// resident returns the number of resident entries.
func (d *directory) resident() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.len
}

// markClosed fails current and future pin waiters with ErrClosed.
func (d *directory) markClosed() {
	d.mu.Lock()
	d.closed = true
	d.space.Broadcast()
	d.mu.Unlock()
}

// -------------------- internals (mu held) --------------------

// evictLocked removes the least recently touched unpinned entry whose
// payload is clean (StateReady) or absent (StateFree) and reports
// whether one was found. Dirty or in-flight entries are never victims,
// so eviction needs no writeback. The entry lock is taken only for the
// state check; entry locks never wait on the structure lock, so the
// brief nesting cannot deadlock.
func (d *directory) evictLocked() bool {
	for e := d.tail; e != nil; e = e.prev {
		if e.refs != 0 {
			continue
		}
		e.mu.Lock()
		ok := e.state == StateReady || e.state == StateFree
		e.mu.Unlock()
		if !ok {
			continue
		}

		d.remove(e)
		delete(d.m, e.block)
		d.opt.Metrics.Evict()
		d.opt.Metrics.Size(d.len)
		if cb := d.opt.OnEvict; cb != nil {
			cb(e.block)
		}
		return true
	}
	return false
}

// pushFront inserts e at the most-recently-touched end in O(1).
func (d *directory) pushFront(e *entry) {
	e.prev = nil
	e.next = d.head
	if d.head != nil {
		d.head.prev = e
	}
	d.head = e
	if d.tail == nil {
		d.tail = e
	}
	d.len++
}

// moveToFront promotes e to the most-recently-touched end in O(1).
func (d *directory) moveToFront(e *entry) {
	if e == d.head {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if d.tail == e {
		d.tail = e.prev
	}
	e.prev = nil
	e.next = d.head
	if d.head != nil {
		d.head.prev = e
	}
	d.head = e
	if d.tail == nil {
		d.tail = e
	}
}

// remove detaches e from the list and updates the count in O(1).
func (d *directory) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if d.head == e {
		d.head = e.next
	}
	if d.tail == e {
		d.tail = e.prev
	}
	e.prev, e.next = nil, nil
	d.len--
}
