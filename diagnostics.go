package scopearena

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/scopearena/resource"
)

// TotalAllocated returns the capacity of the arena's block chain in bytes.
// Retired blocks that still await draining are not included.
func (a *Arena) TotalAllocated() int {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()
	return a.chain.Reserved()
}

// Used returns the bytes handed out from the arena's block chain,
// including alignment padding and space of dead entries.
func (a *Arena) Used() int {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()
	return a.chain.Used()
}

// LiveCount returns the number of live entries.
func (a *Arena) LiveCount() int {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()
	return a.table.LiveCount()
}

// DeadCount returns the number of dead entries not yet recycled.
func (a *Arena) DeadCount() int {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()
	return a.table.DeadCount()
}

// LiveBytes returns the requested size of all live entries.
func (a *Arena) LiveBytes() int64 { return a.liveBytes.Load() }

// DeadBytes returns the requested size of all dead, unrecycled entries.
func (a *Arena) DeadBytes() int64 { return a.deadBytes.Load() }

// Fragmentation returns dead/(dead+live) in [0, 1]. An empty arena
// reports 0.
func (a *Arena) Fragmentation() float64 {
	return fragmentation(a.liveBytes.Load(), a.deadBytes.Load())
}

func fragmentation(live, dead int64) float64 {
	live, dead = max(live, 0), max(dead, 0)
	if live+dead == 0 {
		return 0
	}
	return float64(dead) / float64(live+dead)
}

// Resources returns the counters of the tree's resource controller. After
// the root is destroyed, MemoryUsed drops back to the memory of other trees
// sharing the controller.
func (a *Arena) Resources() resource.Stats {
	return a.tree.rc.Stats()
}

// Stats is a point-in-time view of one arena.
type Stats struct {
	ID     ArenaID
	Parent ArenaID // 0 for the root
	Offset uint32
	// HandleCount is one past the highest index ever issued.
	HandleCount uint32

	LiveEntries int
	DeadEntries int
	FreeSlots   int

	LiveBytes     int64
	DeadBytes     int64
	Fragmentation float64

	Blocks        int
	RetiredBlocks int
	// Reserved includes retired blocks.
	Reserved int64
	Used     int64

	Pages              int
	RetiredDirectories int
	Children           int

	Compactions uint64
	CleanerRuns uint64
}

// String returns a one-line summary.
func (s Stats) String() string {
	return fmt.Sprintf(
		"arena %d: live=%d (%dB) dead=%d (%dB) frag=%.2f blocks=%d+%d reserved=%dB used=%dB children=%d",
		s.ID, s.LiveEntries, s.LiveBytes, s.DeadEntries, s.DeadBytes, s.Fragmentation,
		s.Blocks, s.RetiredBlocks, s.Reserved, s.Used, s.Children,
	)
}

// Stats returns the statistics of this arena alone.
func (a *Arena) Stats() Stats {
	a.allocMu.Lock()
	s := Stats{
		ID:                 a.id,
		Offset:             a.table.Offset(),
		HandleCount:        a.table.Count(),
		LiveEntries:        a.table.LiveCount(),
		DeadEntries:        a.table.DeadCount(),
		FreeSlots:          a.table.FreeCount(),
		Blocks:             a.chain.Len(),
		RetiredBlocks:      len(a.retired),
		Reserved:           int64(a.chain.Reserved()),
		Used:               int64(a.chain.Used()),
		Pages:              a.table.Pages(),
		RetiredDirectories: a.table.RetiredDirectories(),
	}
	for _, b := range a.retired {
		s.Reserved += int64(b.Cap())
	}
	a.allocMu.Unlock()

	if a.parent != nil {
		s.Parent = a.parent.id
	}
	s.LiveBytes = a.liveBytes.Load()
	s.DeadBytes = a.deadBytes.Load()
	s.Fragmentation = fragmentation(s.LiveBytes, s.DeadBytes)
	s.Compactions = a.compactions.Load()
	s.CleanerRuns = a.cleanerRuns.Load()

	a.childMu.Lock()
	s.Children = len(a.children)
	a.childMu.Unlock()
	return s
}

// TreeStats aggregates the statistics of an arena and its descendants.
type TreeStats struct {
	Arenas      int
	LiveEntries int
	DeadEntries int
	LiveBytes   int64
	DeadBytes   int64
	Reserved    int64
	Used        int64
	// PendingRetired counts destroyed arenas awaiting reclamation in the
	// whole tree.
	PendingRetired int
}

// Fragmentation returns the aggregated dead/(dead+live) ratio.
func (s TreeStats) Fragmentation() float64 {
	return fragmentation(s.LiveBytes, s.DeadBytes)
}

// TreeStats walks the subtree rooted at a.
func (a *Arena) TreeStats() TreeStats {
	ts := TreeStats{PendingRetired: a.tree.retired.Len()}

	stack := []*Arena{a}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		s := cur.Stats()
		ts.Arenas++
		ts.LiveEntries += s.LiveEntries
		ts.DeadEntries += s.DeadEntries
		ts.LiveBytes += s.LiveBytes
		ts.DeadBytes += s.DeadBytes
		ts.Reserved += s.Reserved
		ts.Used += s.Used

		stack = append(stack, cur.Children()...)
	}
	return ts
}

// GCFlush blocks until the cleaner and the compactor have each completed a
// full pass that started after the call, or until the configured flush
// timeout expires. It reports whether both passes completed and returns
// false at once if the background collectors are not running.
func (a *Arena) GCFlush() bool {
	ctx, cancel := context.WithTimeout(context.Background(), a.tree.cfg.FlushTimeout)
	defer cancel()
	return a.GCFlushContext(ctx) == nil
}

// GCFlushContext is GCFlush bounded by ctx instead of the flush timeout.
// It returns ErrStopped if the collectors are not running and ctx.Err()
// if ctx ends first.
func (a *Arena) GCFlushContext(ctx context.Context) error {
	t := a.tree
	start := time.Now()

	if !t.running.Load() {
		return ErrStopped
	}

	// A pass in flight when the call began may have missed earlier
	// changes, so wait for the one after it.
	cleanerTarget := t.cleanerEpoch.Load() + 2
	compactorTarget := t.compactorEpoch.Load() + 2

	ticker := time.NewTicker(200 * time.Microsecond)
	defer ticker.Stop()

	for {
		if t.cleanerEpoch.Load() >= cleanerTarget && t.compactorEpoch.Load() >= compactorTarget {
			t.observer.OnFlush(time.Since(start), true)
			return nil
		}
		if !t.running.Load() {
			t.observer.OnFlush(time.Since(start), false)
			return ErrStopped
		}
		t.nudge()

		select {
		case <-ctx.Done():
			t.logger.LogWaitTimeout(ctx, a.id, "flush", time.Since(start))
			t.observer.OnFlush(time.Since(start), false)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EntrySnapshot describes one handle table slot.
type EntrySnapshot struct {
	Handle Handle
	Size   int
	Dead   bool
	Pinned bool
	Leased int32
	Block  uint64
	Data   []byte `json:",omitempty"`
}

// ArenaSnapshot describes one arena and its entries.
type ArenaSnapshot struct {
	Stats   Stats
	Entries []EntrySnapshot
}

// HeapSnapshot is a consistent-per-arena view of a subtree.
type HeapSnapshot struct {
	Taken  time.Time
	Config Config
	Arenas []ArenaSnapshot
}

// Snapshot captures the subtree rooted at a, parents before children.
// With withData, the bytes of live entries are copied as well.
func (a *Arena) Snapshot(withData bool) *HeapSnapshot {
	hs := &HeapSnapshot{
		Taken:  time.Now(),
		Config: a.tree.cfg,
	}

	queue := []*Arena{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		hs.Arenas = append(hs.Arenas, cur.snapshot(withData))
		queue = append(queue, cur.Children()...)
	}
	return hs
}

func (a *Arena) snapshot(withData bool) ArenaSnapshot {
	as := ArenaSnapshot{Stats: a.Stats()}

	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	add := func(idx uint32) {
		e := a.table.Entry(idx)
		if e == nil {
			return
		}
		r := e.Ref()
		if r == nil {
			return
		}
		es := EntrySnapshot{
			Handle: makeHandle(idx, e.Gen()),
			Size:   r.Size,
			Dead:   e.Dead(),
			Pinned: e.Pinned(),
			Leased: e.Leased(),
			Block:  r.Block.ID(),
		}
		if withData && !es.Dead && r.Size > 0 && !r.Block.Freed() {
			es.Data = append([]byte(nil), r.Bytes()...)
		}
		as.Entries = append(as.Entries, es)
	}

	for _, idx := range a.table.LiveIndices() {
		add(idx)
	}
	for _, idx := range a.table.DeadIndices() {
		add(idx)
	}
	return as
}
