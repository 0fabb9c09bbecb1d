package scopearena

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/scopearena/internal/block"
	"github.com/hupe1980/scopearena/internal/handle"
)

// compactorPass compacts fragmented arenas, evacuates retired blocks and
// releases retired arenas whose grace period has elapsed.
func (t *tree) compactorPass(ctx context.Context) (bool, error) {
	current := t.compactorEpoch.Load()
	worked := false

	for _, a := range t.snapshot() {
		if err := ctx.Err(); err != nil {
			return worked, err
		}
		if !a.enter() {
			continue
		}
		if a.maintain(ctx) {
			worked = true
		}
		a.leave()
	}

	if ready := t.retired.Collect(current); len(ready) > 0 {
		for _, a := range ready {
			a.finalize()
		}
		t.observer.OnArenaReclaimed(len(ready))
		worked = true
	}
	return worked, nil
}

// maintain runs whatever compaction the arena needs. The caller holds the
// processing marker.
func (a *Arena) maintain(ctx context.Context) bool {
	full := a.shouldCompact()
	if !full && !a.hasRetired() {
		return false
	}

	moved, _, err := a.compact(ctx, full)
	if err != nil && !errors.Is(err, context.Canceled) {
		return false
	}
	return full || moved > 0
}

// shouldCompact reports whether the dead share of the arena reached the
// fragmentation threshold, or whether most of its blocks sit unused.
func (a *Arena) shouldCompact() bool {
	cfg := a.tree.cfg
	live, dead := a.liveBytes.Load(), a.deadBytes.Load()

	if dead > a.settledDead.Load() && live+dead > 0 &&
		float64(dead)/float64(live+dead) >= cfg.CompactThreshold {
		return true
	}

	a.allocMu.Lock()
	n, reserved := a.chain.Len(), a.chain.Reserved()
	a.allocMu.Unlock()

	return n >= cfg.MinCompactBlocks && reserved > 0 &&
		float64(live)/float64(reserved) < cfg.UtilizationThreshold
}

func (a *Arena) hasRetired() bool {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()
	return len(a.retired) > 0
}

// Compact relocates every movable live entry of the arena into a fresh
// block chain and recycles its dead entries. Leased and pinned entries stay
// in place; their blocks are freed by later passes once they drain.
func (a *Arena) Compact() error {
	if !a.enter() {
		return ErrDestroyed
	}
	defer a.leave()

	_, _, err := a.compact(context.Background(), true)
	return err
}

// compact evacuates retired blocks. With full set, the whole chain is
// retired first so that all movable entries end up in a single block.
func (a *Arena) compact(ctx context.Context, full bool) (moved int, bytes int64, err error) {
	t := a.tree
	start := time.Now()

	if full {
		if err := t.rc.PaceCopy(ctx, int(a.liveBytes.Load())); err != nil {
			return 0, 0, err
		}
	}

	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	if a.released.Load() {
		return 0, 0, ErrDestroyed
	}

	if full {
		err = a.retireChainLocked()
	}
	if err == nil {
		moved, bytes, err = a.evacuateLocked()
	}
	a.recycleRetiredLocked()
	a.drainRetiredLocked()
	a.settledDead.Store(a.deadBytes.Load())

	if full || moved > 0 {
		a.compactions.Add(1)
		t.observer.OnCompaction(moved, bytes, time.Since(start))
		t.logger.LogCompaction(ctx, a.id, moved, bytes, a.Fragmentation(), err)
	}
	return moved, bytes, err
}

// retireChainLocked swaps in a fresh chain sized for the movable live
// entries. Requires allocMu.
func (a *Arena) retireChainLocked() error {
	need := 0
	for _, idx := range a.table.LiveIndices() {
		e := a.table.Entry(idx)
		if e == nil || e.Pinned() || e.Leased() != 0 {
			continue
		}
		if r := e.Ref(); r != nil {
			need += block.Align(r.Size)
		}
	}

	old := a.chain.Detach()
	for _, b := range old {
		b.Retire()
	}
	a.retired = append(a.retired, old...)
	// Fast-path bumps into the detached blocks must not register.
	a.blockEpoch.Add(1)

	if need == 0 {
		return nil
	}
	if err := a.chain.Prime(need); err != nil {
		return &BlockError{Arena: a.id, Size: need, cause: err}
	}
	return nil
}

// evacuateLocked copies every claimable live entry that lives in a retired
// block into the current chain. Requires allocMu.
func (a *Arena) evacuateLocked() (moved int, bytes int64, err error) {
	for _, idx := range a.table.LiveIndices() {
		e := a.table.Entry(idx)
		if e == nil {
			continue
		}
		r := e.Ref()
		if r == nil || !r.Block.Retired() || e.Pinned() || !e.Claim() {
			continue
		}

		nb, off, allocErr := a.chain.Alloc(r.Size)
		if allocErr != nil {
			e.Unclaim()
			return moved, bytes, &BlockError{Arena: a.id, Size: r.Size, cause: allocErr}
		}

		copy(nb.Slice(off, r.Size), r.Bytes())
		e.Publish(&handle.Ref{Block: nb, Off: off, Size: r.Size})
		nb.AddLive(1)
		r.Block.AddLive(-1)
		e.Unclaim()

		moved++
		bytes += int64(r.Size)
	}
	return moved, bytes, nil
}

// recycleRetiredLocked recycles dead entries that live in retired blocks so
// the blocks can drain. Requires allocMu.
func (a *Arena) recycleRetiredLocked() int {
	var (
		n     int
		bytes int64
	)
	for _, idx := range a.table.DeadIndices() {
		e := a.table.Entry(idx)
		if e == nil {
			continue
		}
		r := e.Ref()
		if r == nil || !r.Block.Retired() || e.Pinned() || !e.Claim() {
			continue
		}
		bytes += a.recycleLocked(idx, e)
		n++
	}
	a.deadBytes.Add(-bytes)
	return n
}
