package handle

import (
	"sync/atomic"

	"github.com/hupe1980/scopearena/internal/block"
)

// Moving is the lease value of an entry claimed by a background worker.
const Moving int32 = -1

// Ref locates the bytes of an allocation.
type Ref struct {
	Block *block.Block
	Off   int
	Size  int
}

// Bytes returns the referenced memory.
func (r *Ref) Bytes() []byte {
	return r.Block.Slice(r.Off, r.Size)
}

// Entry is one handle table slot.
type Entry struct {
	ref    atomic.Pointer[Ref]
	leased atomic.Int32
	gen    atomic.Uint32
	dead   atomic.Bool
	pinned atomic.Bool
}

// Ref returns the current reference, or nil for an empty slot.
func (e *Entry) Ref() *Ref { return e.ref.Load() }

// Publish atomically installs a new reference.
func (e *Entry) Publish(r *Ref) { e.ref.Store(r) }

// Gen returns the slot generation.
func (e *Entry) Gen() uint32 { return e.gen.Load() }

// Dead reports whether the entry was marked dead.
func (e *Entry) Dead() bool { return e.dead.Load() }

// Kill marks the entry dead. It returns false if it already was.
func (e *Entry) Kill() bool { return e.dead.CompareAndSwap(false, true) }

// Pinned reports whether the entry is permanently pinned.
func (e *Entry) Pinned() bool { return e.pinned.Load() }

// SetPinned sets the permanent pin flag.
func (e *Entry) SetPinned(v bool) { e.pinned.Store(v) }

// Leased returns the lease count, or Moving.
func (e *Entry) Leased() int32 { return e.leased.Load() }

// Valid reports whether the entry is live and still carries generation gen.
func (e *Entry) Valid(gen uint32) bool {
	return !e.dead.Load() && e.ref.Load() != nil && e.gen.Load() == gen
}

// TryLease increments the lease count. It fails with moving=true while a
// background worker holds the entry.
func (e *Entry) TryLease() (moving bool) {
	for {
		v := e.leased.Load()
		if v == Moving {
			return true
		}
		if e.leased.CompareAndSwap(v, v+1) {
			return false
		}
	}
}

// Unlease decrements the lease count. It returns false if the entry held
// no lease.
func (e *Entry) Unlease() bool {
	for {
		v := e.leased.Load()
		if v <= 0 {
			return false
		}
		if e.leased.CompareAndSwap(v, v-1) {
			return true
		}
	}
}

// ClearLeases force-zeroes the lease count unless the entry is claimed.
func (e *Entry) ClearLeases() {
	for {
		v := e.leased.Load()
		if v <= 0 || e.leased.CompareAndSwap(v, 0) {
			return
		}
	}
}

// Claim takes exclusive ownership of an unleased entry.
func (e *Entry) Claim() bool { return e.leased.CompareAndSwap(0, Moving) }

// Unclaim releases a claim taken by Claim.
func (e *Entry) Unclaim() { e.leased.Store(0) }

// init prepares a fresh or recycled slot. The caller owns the slot.
func (e *Entry) init(r *Ref, leases int32) {
	e.dead.Store(false)
	e.pinned.Store(false)
	e.ref.Store(r)
	e.leased.Store(leases)
}

// clear empties a claimed slot and advances its generation so handles to
// the previous occupant stop validating.
func (e *Entry) clear() {
	e.ref.Store(nil)
	e.pinned.Store(false)
	e.dead.Store(false)
	e.gen.Add(1)
}
