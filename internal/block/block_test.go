package block

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/hupe1980/scopearena/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlign(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 0}, {1, 8}, {7, 8}, {8, 8}, {9, 16}, {100, 104},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Align(tt.in), "Align(%d)", tt.in)
	}
}

func TestSource_New(t *testing.T) {
	for _, offHeap := range []bool{false, true} {
		name := "heap"
		if offHeap {
			name = "off-heap"
		}
		t.Run(name, func(t *testing.T) {
			src := NewSource(offHeap, nil)
			b, err := src.New(4096)
			require.NoError(t, err)

			assert.Equal(t, 4096, b.Cap())
			assert.Equal(t, offHeap, b.OffHeap())
			assert.Equal(t, int64(4096), src.Reserved())
			assert.Equal(t, uint64(1), src.Created())

			if !offHeap {
				addr := uintptr(unsafe.Pointer(&b.data[0]))
				assert.Zero(t, addr%heapAlignment)
			}

			require.NoError(t, src.Free(b))
			require.NoError(t, src.Free(b)) // idempotent
			assert.Equal(t, int64(0), src.Reserved())
			assert.Equal(t, uint64(1), src.Released())
		})
	}
}

func TestSource_MemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 8192})
	src := NewSource(false, rc)

	b1, err := src.New(4096)
	require.NoError(t, err)
	_, err = src.New(4096)
	require.NoError(t, err)

	_, err = src.New(4096)
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)

	require.NoError(t, src.Free(b1))
	_, err = src.New(4096)
	assert.NoError(t, err)
}

func TestBlock_Bump(t *testing.T) {
	src := NewSource(false, nil)
	b, err := src.New(64)
	require.NoError(t, err)

	off, ok := b.Bump(Align(10))
	require.True(t, ok)
	assert.Equal(t, 0, off)

	off, ok = b.Bump(Align(10))
	require.True(t, ok)
	assert.Equal(t, 16, off)

	_, ok = b.Bump(64)
	assert.False(t, ok, "full block must refuse")
	assert.Equal(t, 32, b.Used())

	s := b.Slice(16, 10)
	assert.Len(t, s, 10)
	assert.Equal(t, 10, cap(s))

	b.Rewind()
	assert.Equal(t, 0, b.Used())
}

func TestBlock_ConcurrentBump(t *testing.T) {
	src := NewSource(false, nil)
	b, err := src.New(8 * 1000)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[int]bool)
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 125 {
				off, ok := b.Bump(8)
				if !ok {
					t.Error("unexpected full block")
					return
				}
				mu.Lock()
				seen[off] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000, "every bump must get a distinct offset")
	assert.Equal(t, 8000, b.Used())
}

func TestBlock_Counters(t *testing.T) {
	b := &Block{}
	assert.True(t, b.Drained())

	b.AddLease(1)
	assert.False(t, b.Drained())
	b.ClearLeases()

	b.AddPinned(1)
	assert.False(t, b.Drained())
	b.AddPinned(-1)

	b.AddLive(2)
	assert.Equal(t, int32(2), b.Live())
	b.AddLive(-2)
	assert.True(t, b.Drained())

	assert.False(t, b.Retired())
	b.Retire()
	assert.True(t, b.Retired())
}

func TestChain_Growth(t *testing.T) {
	src := NewSource(false, nil)
	c := NewChain(src, 1024, 4096)

	assert.Nil(t, c.Current())

	b1, off, err := c.Alloc(1000)
	require.NoError(t, err)
	assert.Equal(t, 0, off)
	assert.Equal(t, 1024, b1.Cap())

	// Does not fit: second block doubles.
	b2, _, err := c.Alloc(100)
	require.NoError(t, err)
	assert.NotSame(t, b1, b2)
	assert.Equal(t, 2048, b2.Cap())

	b3, _, err := c.Alloc(2048)
	require.NoError(t, err)
	assert.Equal(t, 4096, b3.Cap())

	// Growth is capped.
	b4, _, err := c.Alloc(4096)
	require.NoError(t, err)
	assert.Equal(t, 4096, b4.Cap())

	// Oversized requests get a dedicated block.
	b5, _, err := c.Alloc(10000)
	require.NoError(t, err)
	assert.Equal(t, 10000, b5.Cap())

	assert.Equal(t, 5, c.Len())
	assert.Same(t, b5, c.Current())
	assert.Equal(t, 1024+2048+4096+4096+10000, c.Reserved())
}

func TestChain_RewindReusesBlocks(t *testing.T) {
	src := NewSource(false, nil)
	c := NewChain(src, 1024, 1024)

	for range 4 {
		_, _, err := c.Alloc(1000)
		require.NoError(t, err)
	}
	require.Equal(t, 4, c.Len())

	c.Rewind()
	assert.Equal(t, 0, c.Used())

	for range 4 {
		_, _, err := c.Alloc(1000)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, c.Len(), "rewound blocks are refilled before growing")
	assert.Equal(t, uint64(4), src.Created())
}

func TestChain_DetachAndRelease(t *testing.T) {
	src := NewSource(false, nil)
	c := NewChain(src, 1024, 4096)

	for range 3 {
		_, _, err := c.Alloc(1024)
		require.NoError(t, err)
	}

	blocks := c.Detach()
	assert.Len(t, blocks, 3)
	assert.Equal(t, 0, c.Len())
	assert.Nil(t, c.Current())

	// Growth restarts at the initial size.
	b, _, err := c.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, 1024, b.Cap())

	for _, old := range blocks {
		require.NoError(t, src.Free(old))
	}
	require.NoError(t, c.Release())
	assert.Equal(t, int64(0), src.Reserved())
}

func TestChain_Prime(t *testing.T) {
	src := NewSource(false, nil)
	c := NewChain(src, 1024, 8192)

	require.NoError(t, c.Prime(5000))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 5000, c.Current().Cap())

	// Priming a non-empty chain is a no-op.
	require.NoError(t, c.Prime(100000))
	assert.Equal(t, 1, c.Len())

	// Survivors fit without growing.
	for range 5 {
		_, _, err := c.Alloc(1000)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, c.Len())

	b, _, err := c.Alloc(1000)
	require.NoError(t, err)
	assert.Equal(t, 2048, b.Cap())
}
