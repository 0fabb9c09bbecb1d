package block

import (
	"sync/atomic"

	"github.com/hupe1980/scopearena/internal/mmap"
)

const (
	// Alignment is the alignment of every bump allocation.
	Alignment = 8

	// DefaultSize is the size of the first block of a chain (64 KiB).
	DefaultSize = 64 << 10

	// DefaultMaxSize caps geometric block growth (4 MiB).
	DefaultMaxSize = 4 << 20

	// heapAlignment is the start alignment of heap-backed blocks.
	heapAlignment = 64
)

// Align rounds size up to Alignment.
func Align(size int) int {
	return (size + Alignment - 1) &^ (Alignment - 1)
}

// Block is a bump-allocated memory region.
type Block struct {
	id      uint64
	data    []byte
	mapping *mmap.Mapping // nil for heap-backed blocks
	used    atomic.Int64  // MUST be atomic - bumped without locks

	leases  atomic.Int32
	pinned  atomic.Int32
	live    atomic.Int32
	retired atomic.Bool
	freed   atomic.Bool

	next *Block // guarded by the owning arena's allocation lock
}

// ID returns the block identifier, unique within its Source.
func (b *Block) ID() uint64 { return b.id }

// Cap returns the block capacity in bytes.
func (b *Block) Cap() int { return len(b.data) }

// Used returns the bump offset.
func (b *Block) Used() int { return int(b.used.Load()) }

// OffHeap reports whether the block is backed by an anonymous mapping.
func (b *Block) OffHeap() bool { return b.mapping != nil }

// Next returns the following block in the chain.
func (b *Block) Next() *Block { return b.next }

// Bump reserves size bytes and returns their offset.
// size must already be aligned. ok is false if the block is full.
func (b *Block) Bump(size int) (off int, ok bool) {
	for {
		old := b.used.Load()
		next := old + int64(size)
		if next > int64(len(b.data)) {
			return 0, false
		}
		if b.used.CompareAndSwap(old, next) {
			return int(old), true
		}
	}
}

// Slice returns the size bytes at off. The slice capacity is clamped so
// appends cannot spill into the neighbouring allocation.
func (b *Block) Slice(off, size int) []byte {
	return b.data[off : off+size : off+size]
}

// Rewind resets the bump offset so the block can be refilled. The bytes
// handed out before are zeroed again.
func (b *Block) Rewind() {
	used := min(int(b.used.Swap(0)), len(b.data))
	if b.mapping != nil && b.mapping.Advise(mmap.AccessDontNeed) == nil {
		return
	}
	clear(b.data[:used])
}

// Leases returns the number of outstanding leases on entries in this block.
func (b *Block) Leases() int32 { return b.leases.Load() }

// AddLease adjusts the lease count and returns the new value.
func (b *Block) AddLease(delta int32) int32 { return b.leases.Add(delta) }

// ClearLeases force-zeroes the lease count.
func (b *Block) ClearLeases() { b.leases.Store(0) }

// Pinned returns the number of permanently pinned entries in this block.
func (b *Block) Pinned() int32 { return b.pinned.Load() }

// AddPinned adjusts the pinned count and returns the new value.
func (b *Block) AddPinned(delta int32) int32 { return b.pinned.Add(delta) }

// Live returns the number of live entries referencing this block.
func (b *Block) Live() int32 { return b.live.Load() }

// AddLive adjusts the live entry count and returns the new value.
func (b *Block) AddLive(delta int32) int32 { return b.live.Add(delta) }

// Retire marks the block as no longer part of a chain.
func (b *Block) Retire() { b.retired.Store(true) }

// Retired reports whether the block was retired by compaction.
func (b *Block) Retired() bool { return b.retired.Load() }

// Freed reports whether the block memory was released.
func (b *Block) Freed() bool { return b.freed.Load() }

// Drained reports whether nothing references the block any more.
func (b *Block) Drained() bool {
	return b.leases.Load() == 0 && b.pinned.Load() == 0 && b.live.Load() == 0
}
