package scopearena

import (
	"context"
	"time"
)

// cleanerPass recycles dead, unleased entries in every registered arena.
func (t *tree) cleanerPass(ctx context.Context) (bool, error) {
	start := time.Now()
	arenas := t.snapshot()

	recycled := 0
	for _, a := range arenas {
		if err := ctx.Err(); err != nil {
			return recycled > 0, err
		}
		if !a.enter() {
			continue
		}
		recycled += a.clean()
		a.leave()
	}

	elapsed := time.Since(start)
	t.observer.OnCleanerPass(len(arenas), recycled, elapsed)
	t.logger.LogCleanerPass(ctx, t.cleanerEpoch.Load()+1, len(arenas), recycled, elapsed)
	return recycled > 0, nil
}

// Collect runs one cleaner pass over this arena and returns the number of
// recycled slots. It does nothing once destruction has begun.
func (a *Arena) Collect() int {
	if !a.enter() {
		return 0
	}
	defer a.leave()
	return a.clean()
}

// clean returns dead, unleased and unpinned slots to the free list.
func (a *Arena) clean() int {
	a.allocMu.Lock()
	defer a.allocMu.Unlock()

	if a.released.Load() {
		return 0
	}

	var (
		n     int
		bytes int64
	)
	for _, idx := range a.table.DeadIndices() {
		e := a.table.Entry(idx)
		if e == nil || e.Pinned() || !e.Claim() {
			continue
		}
		bytes += a.recycleLocked(idx, e)
		n++
	}
	a.deadBytes.Add(-bytes)

	a.cleanerRuns.Add(1)
	a.lastRecycled.Store(int64(n))
	a.lastRecycledBytes.Store(bytes)
	return n
}
