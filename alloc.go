package scopearena

import (
	"unsafe"

	"github.com/hupe1980/scopearena/internal/block"
	"github.com/hupe1980/scopearena/internal/handle"
)

// Alloc reserves size bytes and returns their handle.
//
// The bump pointer is advanced without locks. The entry is then registered
// under the allocation lock, where a changed block epoch discards the bump
// and falls back to the slow path. Registration may briefly wait on that
// lock, so Alloc is not wait-free. Failure to obtain block memory is fatal.
func (a *Arena) Alloc(size int) Handle {
	h, _ := a.allocate(size, 0, true)
	return h
}

// AllocReplace marks old dead, if it is a live handle of this arena, and
// allocates size fresh bytes.
func (a *Arena) AllocReplace(old Handle, size int) Handle {
	if !old.IsNull() {
		a.MarkDead(old)
	}
	return a.Alloc(size)
}

// allocate registers a new entry holding leases leases. fast enables the
// lock-free bump attempt.
func (a *Arena) allocate(size int, leases int32, fast bool) (Handle, *handle.Entry) {
	size = max(size, 0)
	aligned := block.Align(size)

	var (
		b   *block.Block
		off int
		ok  bool
	)

	if fast {
		ep := a.blockEpoch.Load()
		if cur := a.chain.Current(); cur != nil {
			off, ok = cur.Bump(aligned)
			b = cur
		}

		a.allocMu.Lock()
		defer a.allocMu.Unlock()

		if ok && a.blockEpoch.Load() != ep {
			ok = false
		}
	} else {
		a.allocMu.Lock()
		defer a.allocMu.Unlock()
	}

	if !ok {
		var err error
		b, off, err = a.chain.Alloc(aligned)
		if err != nil {
			a.fatal(&BlockError{Arena: a.id, Size: aligned, cause: err})
		}
	}

	return a.registerLocked(b, off, size, leases)
}

// registerLocked publishes a handle for size bytes at off in b.
// Requires allocMu.
func (a *Arena) registerLocked(b *block.Block, off, size int, leases int32) (Handle, *handle.Entry) {
	r := &handle.Ref{Block: b, Off: off, Size: size}

	idx, e, err := a.table.Next(r, leases)
	if err != nil {
		a.fatal(&TableError{Arena: a.id, cause: err})
	}

	b.AddLive(1)
	a.liveBytes.Add(int64(size))
	return makeHandle(idx, e.Gen()), e
}

// MarkDead marks a live handle of this arena dead. The bytes stay readable
// through outstanding leases until the slot is recycled. It reports whether
// the handle was live here; ancestors are not searched.
func (a *Arena) MarkDead(h Handle) bool {
	if h.IsNull() {
		return false
	}

	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	e := a.table.Entry(h.Index())
	if e == nil || !e.Valid(h.Gen()) {
		return false
	}
	return a.killLocked(h.Index(), e)
}

// killLocked moves a live entry to the dead set and updates the byte
// counters. Requires allocMu.
func (a *Arena) killLocked(idx uint32, e *handle.Entry) bool {
	if !e.Kill() {
		return false
	}
	a.table.MarkDead(idx)

	if r := e.Ref(); r != nil {
		r.Block.AddLive(-1)
		a.liveBytes.Add(-int64(r.Size))
		a.deadBytes.Add(int64(r.Size))
	}
	return true
}

// recycleLocked returns a claimed dead entry to the free list and reports
// the bytes to drop from deadBytes. Requires allocMu.
func (a *Arena) recycleLocked(idx uint32, e *handle.Entry) int64 {
	var size int64
	if r := e.Ref(); r != nil {
		size = int64(r.Size)
	}
	if _, ok := a.carried[idx]; ok {
		delete(a.carried, idx)
		size = 0
	}
	a.table.Recycle(idx, e)
	return size
}

// AllocPinned allocates size bytes that are never relocated and returns
// the handle together with the memory. The allocation always takes the
// locked slow path. Release it with ReleasePinned.
//
// Zero-sized requests are rounded up to one byte so that every pinned
// allocation has a distinct address.
func (a *Arena) AllocPinned(size int) (Handle, []byte) {
	size = max(size, 1)

	h, e := a.allocate(size, 1, false)
	r := e.Ref()

	a.pinMu.Lock()
	e.SetPinned(true)
	r.Block.AddPinned(1)
	r.Block.AddLease(1)
	a.pinMu.Unlock()

	data := r.Bytes()

	a.allocMu.Lock()
	a.pinned[unsafe.SliceData(data)] = h.Index()
	a.allocMu.Unlock()

	return h, data
}

// ReleasePinned releases a block returned by AllocPinned. data must start
// at the address AllocPinned returned. The entry is marked dead and both
// its pin and its lease are dropped. It reports whether a pinned allocation
// was found.
func (a *Arena) ReleasePinned(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	p := unsafe.SliceData(data)

	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	idx, ok := a.pinned[p]
	if !ok {
		return false
	}
	delete(a.pinned, p)

	e := a.table.Entry(idx)
	if e == nil || !e.Pinned() {
		return false
	}
	a.killLocked(idx, e)

	a.pinMu.Lock()
	defer a.pinMu.Unlock()

	e.SetPinned(false)
	if r := e.Ref(); r != nil {
		r.Block.AddPinned(-1)
		if e.Unlease() {
			r.Block.AddLease(-1)
		}
	}
	return true
}
