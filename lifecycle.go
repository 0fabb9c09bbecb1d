package scopearena

import (
	"context"
	"slices"
	"time"

	"github.com/hupe1980/scopearena/internal/block"
)

// CleanupID identifies a registered cleanup callback.
type CleanupID uint64

type cleanup struct {
	id       CleanupID
	priority int
	fn       func()
}

// OnCleanup registers fn to run when the arena is reset or destroyed.
// Callbacks with a lower priority value run first; equal priorities run in
// registration order. Each callback runs at most once. A nil fn is ignored
// and yields the zero CleanupID.
func (a *Arena) OnCleanup(priority int, fn func()) CleanupID {
	if fn == nil {
		return 0
	}

	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	a.nextClean++
	c := cleanup{id: a.nextClean, priority: priority, fn: fn}

	i := len(a.cleanups)
	for i > 0 && a.cleanups[i-1].priority > priority {
		i--
	}
	a.cleanups = slices.Insert(a.cleanups, i, c)
	return c.id
}

// RemoveCleanup unregisters a callback. It reports whether id was pending.
func (a *Arena) RemoveCleanup(id CleanupID) bool {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	for i, c := range a.cleanups {
		if c.id == id {
			a.cleanups = slices.Delete(a.cleanups, i, i+1)
			return true
		}
	}
	return false
}

// runCleanups takes the pending callbacks and invokes them outside the
// allocation lock, so callbacks may use the arena.
func (a *Arena) runCleanups() {
	a.allocMu.Lock()
	pending := a.cleanups
	a.cleanups = nil
	a.allocMu.Unlock()

	for _, c := range pending {
		c.fn()
	}
}

// Reset runs the cleanup callbacks and marks every live entry dead while
// keeping the blocks. Dead slots that nobody leases are recycled at once.
// When no entry survives, the blocks are rewound and refilled from the
// start.
//
// Both byte counters restart at zero, so Fragmentation is 0 afterwards.
// Pinned or leased entries that survive are no longer counted as dead.
func (a *Arena) Reset() {
	a.runCleanups()

	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	for _, idx := range a.table.LiveIndices() {
		if e := a.table.Entry(idx); e != nil {
			a.killLocked(idx, e)
		}
	}

	survivors := 0
	for _, idx := range a.table.DeadIndices() {
		e := a.table.Entry(idx)
		if e == nil {
			continue
		}
		if !e.Pinned() && e.Claim() {
			a.recycleLocked(idx, e)
			continue
		}
		survivors++
		a.carried[idx] = struct{}{}
	}

	a.liveBytes.Store(0)
	a.deadBytes.Store(0)
	a.settledDead.Store(0)

	if survivors == 0 {
		a.drainRetiredLocked()
		a.chain.Rewind()
		// Invalidates fast-path bumps that read the pre-rewind offsets.
		a.blockEpoch.Add(1)
	}
}

// DestroyChild destroys the arena and all of its descendants. Cleanup
// callbacks run first. Handles promoted to ancestors stay valid; every
// other handle of the arena becomes invalid. The arena struct itself is
// retired and released once the compactor has advanced twice.
//
// On the root, DestroyChild is Destroy.
func (a *Arena) DestroyChild() {
	if a.IsRoot() {
		a.Destroy()
		return
	}
	a.destroyChild(true)
}

func (a *Arena) destroyChild(unlink bool) {
	if !a.closing.CompareAndSwap(false, true) {
		return
	}
	t := a.tree
	ctx := context.Background()

	a.runCleanups()

	a.allocMu.Lock()
	for _, idx := range a.table.LiveIndices() {
		if e := a.table.Entry(idx); e != nil {
			a.killLocked(idx, e)
		}
	}
	a.allocMu.Unlock()

	a.destroying.Store(true)

	if unlink && a.parent != nil {
		a.parent.childMu.Lock()
		delete(a.parent.children, a.id)
		a.parent.childMu.Unlock()
	}
	t.unregister(a.id)

	children := a.takeChildren()
	for _, c := range children {
		c.destroyChild(false)
	}

	idle := a.waitIdle(ctx, t.cfg.DestroyWait)
	a.clearLeases()
	a.release(!idle)

	ep := t.compactorEpoch.Load()
	a.retiredAt.Store(ep)
	t.retired.Retire(ep, a)
	t.observer.OnArenaRetired()
	t.logger.LogDestroy(ctx, a.id, len(children), ep)
}

// Destroy stops the background collectors and releases the whole tree.
// It may only be called on the root; on a child it logs ErrNotRoot and
// does nothing.
func (a *Arena) Destroy() {
	t := a.tree
	ctx := context.Background()

	if !a.IsRoot() {
		t.logger.WarnContext(ctx, "destroy ignored", "arena", uint64(a.id), "error", ErrNotRoot)
		return
	}
	if !a.closing.CompareAndSwap(false, true) {
		return
	}

	t.stop()

	a.runCleanups()

	children := a.takeChildren()
	for _, c := range children {
		c.destroyChild(false)
	}

	a.destroying.Store(true)
	a.clearLeases()
	a.release(false)
	t.unregister(a.id)

	pending := t.retired.Drain()
	for _, r := range pending {
		r.finalize()
	}
	if len(pending) > 0 {
		t.observer.OnArenaReclaimed(len(pending))
	}

	t.logger.LogDestroy(ctx, a.id, len(children), t.compactorEpoch.Load())
}

// waitIdle waits until no collector is processing the arena. It gives up
// after d and reports whether the arena became idle.
func (a *Arena) waitIdle(ctx context.Context, d time.Duration) bool {
	if a.processing.Load() == 0 {
		return true
	}

	start := time.Now()
	for a.processing.Load() > 0 {
		if time.Since(start) >= d {
			a.tree.logger.LogWaitTimeout(ctx, a.id, "collector", time.Since(start))
			return false
		}
		time.Sleep(50 * time.Microsecond)
	}
	return true
}

// clearLeases force-zeroes the lease counts of all entries and blocks.
// Only valid once the owning scope has ended.
func (a *Arena) clearLeases() {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	a.pinMu.Lock()
	defer a.pinMu.Unlock()

	for _, idx := range a.table.LiveIndices() {
		if e := a.table.Entry(idx); e != nil {
			e.ClearLeases()
		}
	}
	for _, idx := range a.table.DeadIndices() {
		if e := a.table.Entry(idx); e != nil {
			e.ClearLeases()
		}
	}

	a.chain.Each(func(b *block.Block) bool {
		b.ClearLeases()
		return true
	})
	for _, b := range a.retired {
		b.ClearLeases()
	}
}

// release frees the blocks, the handle pages and the retired directories.
// With deferFree the blocks are kept until the arena is finalized.
func (a *Arena) release(deferFree bool) {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	if a.released.Swap(true) {
		return
	}

	blocks := a.chain.Detach()
	blocks = append(blocks, a.retired...)
	a.retired = nil
	a.blockEpoch.Add(1)

	a.table.Release()
	clear(a.pinned)
	clear(a.carried)
	a.liveBytes.Store(0)
	a.deadBytes.Store(0)

	if deferFree {
		a.deferred = blocks
		return
	}
	a.freeBlocks(blocks)
}

func (a *Arena) freeBlocks(blocks []*block.Block) {
	for _, b := range blocks {
		if err := a.tree.src.Free(b); err != nil {
			a.tree.logger.WarnContext(context.Background(), "free block failed",
				"arena", uint64(a.id),
				"block", b.ID(),
				"error", err,
			)
		}
	}
}

// finalize releases what a retired arena still holds.
func (a *Arena) finalize() {
	a.allocMu.Lock()
	deferred := a.deferred
	a.deferred = nil
	a.allocMu.Unlock()

	a.freeBlocks(deferred)
}

// drainRetiredLocked frees retired blocks that nothing references any more.
// Requires allocMu.
func (a *Arena) drainRetiredLocked() int {
	if len(a.retired) == 0 {
		return 0
	}

	kept := a.retired[:0]
	var drained []*block.Block
	for _, b := range a.retired {
		if b.Drained() {
			drained = append(drained, b)
			continue
		}
		kept = append(kept, b)
	}
	clear(a.retired[len(kept):])
	a.retired = kept

	a.freeBlocks(drained)
	return len(drained)
}
