package scopearena

import (
	"runtime"
	"sync/atomic"
)

// Pin leases h and returns its bytes. The arena itself is searched first,
// then each ancestor up to the root; the first arena where h validates
// owns it. It returns nil if h is not live anywhere on the chain.
//
// The returned slice stays valid until the matching Unpin. Entries that
// are leased are never relocated by compaction.
func (a *Arena) Pin(h Handle) []byte {
	if h.IsNull() {
		return nil
	}
	for cur := a; cur != nil; cur = cur.parent {
		if data, ok := cur.pinLocal(h); ok {
			return data
		}
	}
	return nil
}

// PinAny is Pin under the name generated code uses for parameters whose
// owning scope is unknown.
func (a *Arena) PinAny(h Handle) []byte {
	return a.Pin(h)
}

// PinLocal leases h only if this arena owns it.
func (a *Arena) PinLocal(h Handle) []byte {
	if h.IsNull() {
		return nil
	}
	data, _ := a.pinLocal(h)
	return data
}

func (a *Arena) pinLocal(h Handle) ([]byte, bool) {
	idx, gen := h.Index(), h.Gen()
	for {
		e := a.table.Entry(idx)
		if e == nil || !e.Valid(gen) {
			return nil, false
		}

		a.pinMu.Lock()
		if e.TryLease() {
			// Claimed by the compactor or the cleaner.
			a.pinMu.Unlock()
			runtime.Gosched()
			continue
		}

		r := e.Ref()
		if r == nil || !e.Valid(gen) {
			e.Unlease()
			a.pinMu.Unlock()
			return nil, false
		}
		r.Block.AddLease(1)
		a.pinMu.Unlock()

		return r.Bytes(), true
	}
}

// Unpin drops a lease taken by Pin, PinAny or PinLocal. Calls must pair
// 1:1 with pins. Dead entries still accept their outstanding unpins.
func (a *Arena) Unpin(h Handle) {
	if h.IsNull() {
		return
	}
	for cur := a; cur != nil; cur = cur.parent {
		if cur.unpinLocal(h) {
			return
		}
	}
}

func (a *Arena) unpinLocal(h Handle) bool {
	e := a.table.Entry(h.Index())
	if e == nil || e.Gen() != h.Gen() || e.Leased() <= 0 {
		return false
	}

	a.pinMu.Lock()
	defer a.pinMu.Unlock()

	r := e.Ref()
	if !e.Unlease() {
		return false
	}
	if r != nil {
		r.Block.AddLease(-1)
	}
	return true
}

// Lease is a pin held as a value. Release unpins exactly once, so a
// deferred Release cannot unbalance the lease counts.
type Lease struct {
	owner    *Arena
	h        Handle
	data     []byte
	released atomic.Bool
}

// Acquire pins h like Pin and wraps the result in a Lease.
func (a *Arena) Acquire(h Handle) (*Lease, bool) {
	if h.IsNull() {
		return nil, false
	}
	for cur := a; cur != nil; cur = cur.parent {
		if data, ok := cur.pinLocal(h); ok {
			return &Lease{
				owner: cur,
				h:     h,
				data:  data,
			}, true
		}
	}
	return nil, false
}

// Bytes returns the leased memory. It is nil after Release.
func (l *Lease) Bytes() []byte {
	if l.released.Load() {
		return nil
	}
	return l.data
}

// Handle returns the leased handle.
func (l *Lease) Handle() Handle { return l.h }

// Owner returns the arena that owns the leased entry.
func (l *Lease) Owner() *Arena { return l.owner }

// Release drops the lease. Subsequent calls do nothing.
func (l *Lease) Release() {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return
	}
	l.owner.unpinLocal(l.h)
}
