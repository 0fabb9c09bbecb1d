package scopearena_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/scopearena"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastCollectors() scopearena.Option {
	return scopearena.WithCollectorIntervals(time.Millisecond, 5*time.Millisecond)
}

func TestGCFlush(t *testing.T) {
	t.Run("completes while running", func(t *testing.T) {
		metrics := &scopearena.BasicMetricsCollector{}
		root := scopearena.NewRoot(fastCollectors(), scopearena.WithMetricsObserver(metrics))
		defer root.Destroy()

		child := root.NewChild()
		for range 3 {
			assert.True(t, child.GCFlush())
		}
		assert.Equal(t, int64(3), metrics.GetStats().Flushes)
		assert.Zero(t, metrics.GetStats().FlushTimeouts)
	})

	t.Run("both collectors complete a pass", func(t *testing.T) {
		metrics := &scopearena.BasicMetricsCollector{}
		// Collectors sleep until a flush wakes them.
		root := scopearena.NewRoot(
			scopearena.WithCollectorIntervals(time.Hour, time.Hour),
			scopearena.WithMetricsObserver(metrics),
		)
		defer root.Destroy()
		require.True(t, root.GCFlush())
		before := metrics.GetStats()

		child := root.NewChild()
		handles := make([]scopearena.Handle, 8)
		for i := range handles {
			handles[i] = child.NewString(fmt.Sprintf("garbage-%d", i))
			require.NotNil(t, child.Pin(handles[i]))
			require.True(t, child.MarkDead(handles[i]))
		}

		require.True(t, child.GCFlush())
		after := metrics.GetStats()

		assert.GreaterOrEqual(t, after.CleanerPasses-before.CleanerPasses, int64(2))
		assert.Greater(t, after.Compactions, before.Compactions, "leased garbage forces a compaction")
		assert.Positive(t, child.Stats().Compactions)

		for _, h := range handles {
			child.Unpin(h)
		}
	})

	t.Run("default intervals", func(t *testing.T) {
		root := scopearena.NewRoot()
		defer root.Destroy()
		assert.True(t, root.GCFlush())
	})

	t.Run("not running", func(t *testing.T) {
		root := newTestRoot(t)
		assert.False(t, root.Running())
		assert.False(t, root.GCFlush())
		assert.ErrorIs(t, root.GCFlushContext(context.Background()), scopearena.ErrStopped)
	})

	t.Run("after destroy", func(t *testing.T) {
		root := scopearena.NewRoot(fastCollectors())
		root.Destroy()
		assert.False(t, root.GCFlush())
	})

	t.Run("context", func(t *testing.T) {
		root := scopearena.NewRoot(fastCollectors())
		defer root.Destroy()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := root.GCFlushContext(ctx)
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	})
}

func TestCleaner(t *testing.T) {
	root := scopearena.NewRoot(fastCollectors())
	defer root.Destroy()

	child := root.NewChild()
	var handles []scopearena.Handle
	for i := range 100 {
		handles = append(handles, child.NewString(fmt.Sprintf("v%d", i)))
	}
	for _, h := range handles[:50] {
		child.MarkDead(h)
	}

	require.True(t, root.GCFlush())

	assert.Zero(t, child.DeadCount())
	assert.Zero(t, child.DeadBytes())
	assert.Equal(t, 50, child.LiveCount())
	for i, h := range handles[50:] {
		s, ok := child.ReadString(h)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("v%d", i+50), s)
	}
}

func TestCompact(t *testing.T) {
	newFragmented := func(t *testing.T) (*scopearena.Arena, map[scopearena.Handle]string) {
		root := newTestRoot(t, scopearena.WithBlockSize(1024, 4096))

		want := make(map[scopearena.Handle]string)
		for i := range 100 {
			s := fmt.Sprintf("%064d", i)
			h := root.NewString(s)
			if i%2 == 0 {
				root.MarkDead(h)
				continue
			}
			want[h] = s
		}
		require.Greater(t, root.Stats().Blocks, 1)
		return root, want
	}

	verify := func(t *testing.T, a *scopearena.Arena, want map[scopearena.Handle]string) {
		t.Helper()
		for h, s := range want {
			got, ok := a.ReadString(h)
			require.True(t, ok, "%s", h)
			require.Equal(t, s, got)
		}
	}

	t.Run("preserves data", func(t *testing.T) {
		root, want := newFragmented(t)
		live := root.LiveBytes()

		require.NoError(t, root.Compact())

		verify(t, root, want)
		s := root.Stats()
		assert.Equal(t, 1, s.Blocks)
		assert.Zero(t, s.RetiredBlocks)
		assert.Zero(t, s.DeadEntries)
		assert.Equal(t, live, s.LiveBytes)
		assert.Zero(t, s.Fragmentation)
		assert.Equal(t, uint64(1), s.Compactions)
		assert.Equal(t, 50*64, root.Used())
	})

	t.Run("leased entries stay", func(t *testing.T) {
		root, want := newFragmented(t)

		var pinned scopearena.Handle
		for h := range want {
			pinned = h
			break
		}
		buf := root.Pin(pinned)
		require.NotNil(t, buf)

		require.NoError(t, root.Compact())
		assert.Positive(t, root.Stats().RetiredBlocks, "the leased entry keeps its block")
		assert.Equal(t, want[pinned], string(buf))
		verify(t, root, want)

		root.Unpin(pinned)
		require.NoError(t, root.Compact())
		assert.Zero(t, root.Stats().RetiredBlocks)
		verify(t, root, want)
	})

	t.Run("dead leased entries", func(t *testing.T) {
		root, want := newFragmented(t)

		var h scopearena.Handle
		for k := range want {
			h = k
			break
		}
		buf := root.Pin(h)
		root.MarkDead(h)
		delete(want, h)

		require.NoError(t, root.Compact())
		assert.Equal(t, 1, root.DeadCount())
		assert.NotEmpty(t, string(buf))

		root.Unpin(h)
		require.NoError(t, root.Compact())
		assert.Zero(t, root.DeadCount())
		assert.Zero(t, root.Stats().RetiredBlocks)
		verify(t, root, want)
	})

	t.Run("destroyed arena", func(t *testing.T) {
		root := newTestRoot(t)
		child := root.NewChild()
		child.DestroyChild()
		assert.ErrorIs(t, child.Compact(), scopearena.ErrDestroyed)
		assert.Zero(t, child.Collect())
	})

	t.Run("paced", func(t *testing.T) {
		root := newTestRoot(t, scopearena.WithConfig(scopearena.Config{
			BlockSize:             1024,
			CompactionBytesPerSec: 1 << 20,
			DisableBackground:     true,
		}))
		for range 20 {
			root.NewString("some payload that is compacted")
		}
		require.NoError(t, root.Compact())
		assert.Positive(t, root.Resources().BytesPaced)
	})
}

func TestCompactor_Background(t *testing.T) {
	metrics := &scopearena.BasicMetricsCollector{}
	root := scopearena.NewRoot(
		fastCollectors(),
		scopearena.WithBlockSize(1024, 4096),
		scopearena.WithMetricsObserver(metrics),
	)
	defer root.Destroy()

	child := root.NewChild()
	want := make(map[scopearena.Handle]string)
	for i := range 400 {
		s := fmt.Sprintf("value-%05d", i)
		h := child.NewString(s)
		if i%10 != 0 {
			child.MarkDead(h)
			continue
		}
		want[h] = s
	}

	require.Eventually(t, func() bool {
		return child.Stats().Blocks <= 1 && child.Stats().RetiredBlocks == 0
	}, 2*time.Second, 5*time.Millisecond)

	for h, s := range want {
		got, ok := child.ReadString(h)
		require.True(t, ok)
		require.Equal(t, s, got)
	}
	assert.Positive(t, metrics.GetStats().Compactions)
}

func TestRetiredArenasAreReclaimed(t *testing.T) {
	metrics := &scopearena.BasicMetricsCollector{}
	root := scopearena.NewRoot(fastCollectors(), scopearena.WithMetricsObserver(metrics))
	defer root.Destroy()

	child := root.NewChild()
	child.NewString("scope local")
	child.DestroyChild()
	require.Equal(t, 1, root.TreeStats().PendingRetired)

	require.True(t, root.GCFlush())
	require.True(t, root.GCFlush())

	assert.Zero(t, root.TreeStats().PendingRetired)
	assert.Equal(t, int64(1), metrics.GetStats().ArenasReclaimed)
}

func TestFragmentationBounds(t *testing.T) {
	root := newTestRoot(t)
	rng := rand.New(rand.NewPCG(1, 2))

	var live []scopearena.Handle
	for range 2000 {
		switch {
		case len(live) > 0 && rng.IntN(3) == 0:
			i := rng.IntN(len(live))
			root.MarkDead(live[i])
			live = append(live[:i], live[i+1:]...)
		case rng.IntN(50) == 0:
			root.Collect()
		default:
			live = append(live, root.Alloc(rng.IntN(256)))
		}

		f := root.Fragmentation()
		require.GreaterOrEqual(t, f, 0.0)
		require.LessOrEqual(t, f, 1.0)
	}

	root.Reset()
	assert.Zero(t, root.Fragmentation())
}

func TestOffHeap(t *testing.T) {
	metrics := &scopearena.BasicMetricsCollector{}
	root := scopearena.NewRoot(
		scopearena.WithoutBackground(),
		scopearena.WithOffHeap(),
		scopearena.WithBlockSize(4096, 16384),
		scopearena.WithMetricsObserver(metrics),
	)

	child := root.NewChild()
	var handles []scopearena.Handle
	for i := range 200 {
		h := child.NewString(fmt.Sprintf("off-heap %d", i))
		handles = append(handles, h)
		if i%2 == 1 {
			child.MarkDead(h)
		}
	}
	require.NoError(t, child.Compact())

	for i, h := range handles {
		s, ok := child.ReadString(h)
		if i%2 == 1 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("off-heap %d", i), s)
	}

	promoted := root.Promote(child, handles[0])
	child.Reset()
	child.DestroyChild()
	assert.Equal(t, "off-heap 0", pinString(t, root, promoted))

	root.Destroy()

	stats := metrics.GetStats()
	assert.Positive(t, stats.OffHeapBlocks)
	assert.Equal(t, stats.BlocksAllocated, stats.BlocksFreed)
}

func TestStress_MultiArena(t *testing.T) {
	root := scopearena.NewRoot(fastCollectors(), scopearena.WithBlockSize(2048, 16384))
	defer root.Destroy()

	const workers = 8
	results := make([][]scopearena.Handle, workers)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for iter := range 20 {
				scope := root.NewChild()
				var keep scopearena.Handle
				for i := range 50 {
					h := scope.NewString(fmt.Sprintf("w%d-i%d-%d", w, iter, i))
					if i == 49 {
						keep = h
						continue
					}
					if buf := scope.Pin(h); buf != nil {
						scope.Unpin(h)
					}
					scope.MarkDead(h)
				}
				results[w] = append(results[w], root.Promote(scope, keep))
				scope.DestroyChild()
			}
		}()
	}
	wg.Wait()

	require.True(t, root.GCFlush())
	for w, hs := range results {
		for iter, h := range hs {
			s, ok := root.ReadString(h)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprintf("w%d-i%d-49", w, iter), s)
		}
	}
	assert.Equal(t, workers*20, root.LiveCount())
}
