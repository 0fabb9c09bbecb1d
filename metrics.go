package scopearena

import (
	"sync/atomic"
	"time"
)

// MetricsObserver receives allocator and collector events.
// Implement this interface to integrate with monitoring systems like Prometheus
// (see the promobserver package).
//
// Callbacks run synchronously on the allocating or collecting goroutine and
// must not call back into the arena.
type MetricsObserver interface {
	// OnBlockAlloc is called after a block of size bytes was created.
	OnBlockAlloc(size int, offHeap bool)

	// OnBlockFree is called after a block of size bytes was freed.
	OnBlockFree(size int)

	// OnArenaCreated is called when a child arena is created.
	OnArenaCreated()

	// OnArenaRetired is called when a destroyed child is queued for reclamation.
	OnArenaRetired()

	// OnArenaReclaimed is called when n retired arenas were released.
	OnArenaReclaimed(n int)

	// OnCleanerPass is called after each full cleaner pass.
	OnCleanerPass(arenas, recycled int, elapsed time.Duration)

	// OnCompaction is called after an arena was compacted.
	OnCompaction(moved int, bytes int64, elapsed time.Duration)

	// OnFlush is called when GCFlush returns. ok is false on timeout.
	OnFlush(elapsed time.Duration, ok bool)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnBlockAlloc(int, bool)                 {}
func (NoopMetricsObserver) OnBlockFree(int)                        {}
func (NoopMetricsObserver) OnArenaCreated()                        {}
func (NoopMetricsObserver) OnArenaRetired()                        {}
func (NoopMetricsObserver) OnArenaReclaimed(int)                   {}
func (NoopMetricsObserver) OnCleanerPass(int, int, time.Duration)  {}
func (NoopMetricsObserver) OnCompaction(int, int64, time.Duration) {}
func (NoopMetricsObserver) OnFlush(time.Duration, bool)            {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	BlocksAllocated atomic.Int64
	BlocksFreed     atomic.Int64
	BlockBytes      atomic.Int64
	OffHeapBlocks   atomic.Int64
	ArenasCreated   atomic.Int64
	ArenasRetired   atomic.Int64
	ArenasReclaimed atomic.Int64
	CleanerPasses   atomic.Int64
	EntriesRecycled atomic.Int64
	Compactions     atomic.Int64
	EntriesMoved    atomic.Int64
	BytesMoved      atomic.Int64
	CompactionNanos atomic.Int64
	Flushes         atomic.Int64
	FlushTimeouts   atomic.Int64
}

// OnBlockAlloc implements MetricsObserver.
func (b *BasicMetricsCollector) OnBlockAlloc(size int, offHeap bool) {
	b.BlocksAllocated.Add(1)
	b.BlockBytes.Add(int64(size))
	if offHeap {
		b.OffHeapBlocks.Add(1)
	}
}

// OnBlockFree implements MetricsObserver.
func (b *BasicMetricsCollector) OnBlockFree(size int) {
	b.BlocksFreed.Add(1)
	b.BlockBytes.Add(-int64(size))
}

// OnArenaCreated implements MetricsObserver.
func (b *BasicMetricsCollector) OnArenaCreated() { b.ArenasCreated.Add(1) }

// OnArenaRetired implements MetricsObserver.
func (b *BasicMetricsCollector) OnArenaRetired() { b.ArenasRetired.Add(1) }

// OnArenaReclaimed implements MetricsObserver.
func (b *BasicMetricsCollector) OnArenaReclaimed(n int) { b.ArenasReclaimed.Add(int64(n)) }

// OnCleanerPass implements MetricsObserver.
func (b *BasicMetricsCollector) OnCleanerPass(_, recycled int, _ time.Duration) {
	b.CleanerPasses.Add(1)
	b.EntriesRecycled.Add(int64(recycled))
}

// OnCompaction implements MetricsObserver.
func (b *BasicMetricsCollector) OnCompaction(moved int, bytes int64, elapsed time.Duration) {
	b.Compactions.Add(1)
	b.EntriesMoved.Add(int64(moved))
	b.BytesMoved.Add(bytes)
	b.CompactionNanos.Add(elapsed.Nanoseconds())
}

// OnFlush implements MetricsObserver.
func (b *BasicMetricsCollector) OnFlush(_ time.Duration, ok bool) {
	b.Flushes.Add(1)
	if !ok {
		b.FlushTimeouts.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BlocksAllocated:    b.BlocksAllocated.Load(),
		BlocksFreed:        b.BlocksFreed.Load(),
		BlockBytes:         b.BlockBytes.Load(),
		OffHeapBlocks:      b.OffHeapBlocks.Load(),
		ArenasCreated:      b.ArenasCreated.Load(),
		ArenasRetired:      b.ArenasRetired.Load(),
		ArenasReclaimed:    b.ArenasReclaimed.Load(),
		CleanerPasses:      b.CleanerPasses.Load(),
		EntriesRecycled:    b.EntriesRecycled.Load(),
		Compactions:        b.Compactions.Load(),
		EntriesMoved:       b.EntriesMoved.Load(),
		BytesMoved:         b.BytesMoved.Load(),
		CompactionAvgNanos: b.getAvgCompactionNanos(),
		Flushes:            b.Flushes.Load(),
		FlushTimeouts:      b.FlushTimeouts.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgCompactionNanos() int64 {
	count := b.Compactions.Load()
	if count == 0 {
		return 0
	}
	return b.CompactionNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	BlocksAllocated    int64
	BlocksFreed        int64
	BlockBytes         int64
	OffHeapBlocks      int64
	ArenasCreated      int64
	ArenasRetired      int64
	ArenasReclaimed    int64
	CleanerPasses      int64
	EntriesRecycled    int64
	Compactions        int64
	EntriesMoved       int64
	BytesMoved         int64
	CompactionAvgNanos int64
	Flushes            int64
	FlushTimeouts      int64
}

// MultiObserver fans events out to several observers in order.
// Nil observers are skipped.
func MultiObserver(observers ...MetricsObserver) MetricsObserver {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

type multiObserver []MetricsObserver

func (m multiObserver) OnBlockAlloc(size int, offHeap bool) {
	for _, o := range m {
		o.OnBlockAlloc(size, offHeap)
	}
}

func (m multiObserver) OnBlockFree(size int) {
	for _, o := range m {
		o.OnBlockFree(size)
	}
}

func (m multiObserver) OnArenaCreated() {
	for _, o := range m {
		o.OnArenaCreated()
	}
}

func (m multiObserver) OnArenaRetired() {
	for _, o := range m {
		o.OnArenaRetired()
	}
}

func (m multiObserver) OnArenaReclaimed(n int) {
	for _, o := range m {
		o.OnArenaReclaimed(n)
	}
}

func (m multiObserver) OnCleanerPass(arenas, recycled int, elapsed time.Duration) {
	for _, o := range m {
		o.OnCleanerPass(arenas, recycled, elapsed)
	}
}

func (m multiObserver) OnCompaction(moved int, bytes int64, elapsed time.Duration) {
	for _, o := range m {
		o.OnCompaction(moved, bytes, elapsed)
	}
}

func (m multiObserver) OnFlush(elapsed time.Duration, ok bool) {
	for _, o := range m {
		o.OnFlush(elapsed, ok)
	}
}
