package scopearena_test

import (
	"testing"
	"time"

	"github.com/hupe1980/scopearena"
	"github.com/stretchr/testify/assert"
)

func TestBasicMetricsCollector(t *testing.T) {
	m := &scopearena.BasicMetricsCollector{}

	m.OnBlockAlloc(4096, true)
	m.OnBlockAlloc(1024, false)
	m.OnBlockFree(1024)
	m.OnCompaction(3, 96, 2*time.Millisecond)
	m.OnCompaction(1, 32, 4*time.Millisecond)
	m.OnFlush(time.Millisecond, false)

	s := m.GetStats()
	assert.Equal(t, int64(2), s.BlocksAllocated)
	assert.Equal(t, int64(1), s.BlocksFreed)
	assert.Equal(t, int64(4096), s.BlockBytes)
	assert.Equal(t, int64(1), s.OffHeapBlocks)
	assert.Equal(t, int64(4), s.EntriesMoved)
	assert.Equal(t, int64(128), s.BytesMoved)
	assert.Equal(t, (3 * time.Millisecond).Nanoseconds(), s.CompactionAvgNanos)
	assert.Equal(t, int64(1), s.FlushTimeouts)
}

func TestMultiObserver(t *testing.T) {
	a, b := &scopearena.BasicMetricsCollector{}, &scopearena.BasicMetricsCollector{}

	t.Run("single", func(t *testing.T) {
		assert.Same(t, a, scopearena.MultiObserver(nil, a))
	})

	t.Run("fan out", func(t *testing.T) {
		obs := scopearena.MultiObserver(a, nil, b)

		root := scopearena.NewRoot(scopearena.WithoutBackground(), scopearena.WithMetricsObserver(obs))
		root.NewChild().NewString("x")
		root.Destroy()

		for _, m := range []*scopearena.BasicMetricsCollector{a, b} {
			s := m.GetStats()
			assert.Equal(t, int64(1), s.ArenasCreated)
			assert.Equal(t, int64(1), s.BlocksAllocated)
			assert.Equal(t, s.BlocksAllocated, s.BlocksFreed)
			assert.Zero(t, s.BlockBytes)
		}
	})

	t.Run("empty", func(t *testing.T) {
		obs := scopearena.MultiObserver()
		assert.NotPanics(t, func() { obs.OnFlush(0, true) })
	})
}
