package scopearena_test

import (
	"testing"

	"github.com/hupe1980/scopearena"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPin(t *testing.T) {
	root := newTestRoot(t)
	h := root.NewString("value")

	child := root.NewChild()

	t.Run("walks ancestors", func(t *testing.T) {
		assert.Equal(t, "value", pinString(t, child, h))
		buf := child.PinAny(h)
		assert.Equal(t, "value", string(buf))
		child.Unpin(h)
	})

	t.Run("local only", func(t *testing.T) {
		assert.Nil(t, child.PinLocal(h))
		buf := root.PinLocal(h)
		assert.Equal(t, "value", string(buf))
		root.Unpin(h)
	})

	t.Run("null and unknown", func(t *testing.T) {
		assert.Nil(t, root.Pin(scopearena.NullHandle))
		assert.Nil(t, root.PinLocal(scopearena.NullHandle))
		assert.Nil(t, child.Pin(scopearena.Handle(999)))
		root.Unpin(scopearena.NullHandle)
		root.Unpin(scopearena.Handle(999))
	})

	t.Run("writes are visible", func(t *testing.T) {
		buf := root.Pin(h)
		copy(buf, "VALUE")
		root.Unpin(h)
		assert.Equal(t, "VALUE", pinString(t, child, h))
	})
}

func TestPin_StaleGeneration(t *testing.T) {
	root := newTestRoot(t)

	old := root.NewString("old")
	require.True(t, root.MarkDead(old))
	require.Equal(t, 1, root.Collect())

	fresh := root.NewString("new")
	assert.Equal(t, old.Index(), fresh.Index(), "the slot is reused")
	assert.Equal(t, old.Gen()+1, fresh.Gen())

	assert.Nil(t, root.Pin(old))
	assert.Equal(t, "new", pinString(t, root, fresh))
}

func TestPin_LeaseBlocksRecycling(t *testing.T) {
	root := newTestRoot(t)
	h := root.NewString("leased")

	buf := root.Pin(h)
	require.NotNil(t, buf)
	root.MarkDead(h)

	assert.Zero(t, root.Collect(), "a leased entry is not recycled")
	assert.Equal(t, "leased", string(buf))

	root.Unpin(h)
	assert.Equal(t, 1, root.Collect())
}

func TestLease(t *testing.T) {
	root := newTestRoot(t)
	h := root.NewString("guarded")
	child := root.NewChild()

	l, ok := child.Acquire(h)
	require.True(t, ok)
	assert.Same(t, root, l.Owner())
	assert.Equal(t, h, l.Handle())
	assert.Equal(t, "guarded", string(l.Bytes()))

	root.MarkDead(h)
	assert.Zero(t, root.Collect())

	l.Release()
	l.Release()
	assert.Nil(t, l.Bytes())
	assert.Equal(t, 1, root.Collect(), "a double release must not unbalance the lease count")

	_, ok = child.Acquire(h)
	assert.False(t, ok)
	_, ok = child.Acquire(scopearena.NullHandle)
	assert.False(t, ok)

	var nilLease *scopearena.Lease
	nilLease.Release()
}

func TestLease_NestedPins(t *testing.T) {
	root := newTestRoot(t)
	h := root.NewString("x")

	l1, ok := root.Acquire(h)
	require.True(t, ok)
	l2, ok := root.Acquire(h)
	require.True(t, ok)

	root.MarkDead(h)
	l1.Release()
	assert.Zero(t, root.Collect(), "one lease is still outstanding")
	l2.Release()
	assert.Equal(t, 1, root.Collect())
}
