package scopearena_test

import (
	"testing"

	"github.com/hupe1980/scopearena"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	root := newTestRoot(t, scopearena.WithBlockSize(1024, 4096))

	h := root.NewString("0123456789")
	root.NewString("abc")
	root.MarkDead(h)
	child := root.NewChild()

	s := root.Stats()
	assert.Equal(t, root.ID(), s.ID)
	assert.Zero(t, s.Parent)
	assert.Equal(t, uint32(3), s.HandleCount)
	assert.Equal(t, 1, s.LiveEntries)
	assert.Equal(t, 1, s.DeadEntries)
	assert.Equal(t, int64(3), s.LiveBytes)
	assert.Equal(t, int64(10), s.DeadBytes)
	assert.InDelta(t, 10.0/13.0, s.Fragmentation, 1e-9)
	assert.Equal(t, 1, s.Blocks)
	assert.Equal(t, int64(1024), s.Reserved)
	assert.Equal(t, int64(16+8), s.Used)
	assert.Equal(t, 1, s.Pages)
	assert.Equal(t, 1, s.Children)
	assert.Contains(t, s.String(), "live=1 (3B) dead=1 (10B)")

	cs := child.Stats()
	assert.Equal(t, root.ID(), cs.Parent)
	assert.Equal(t, uint32(3), cs.Offset)
}

func TestTreeStats(t *testing.T) {
	root := newTestRoot(t)
	root.Alloc(10)

	a := root.NewChild()
	a.Alloc(20)
	a.MarkDead(a.Alloc(30))

	b := a.NewChild()
	b.Alloc(40)

	ts := root.TreeStats()
	assert.Equal(t, 3, ts.Arenas)
	assert.Equal(t, 3, ts.LiveEntries)
	assert.Equal(t, 1, ts.DeadEntries)
	assert.Equal(t, int64(70), ts.LiveBytes)
	assert.Equal(t, int64(30), ts.DeadBytes)
	assert.InDelta(t, 0.3, ts.Fragmentation(), 1e-9)

	sub := a.TreeStats()
	assert.Equal(t, 2, sub.Arenas)
	assert.Equal(t, int64(60), sub.LiveBytes)
}

func TestSnapshot(t *testing.T) {
	root := newTestRoot(t)
	hr := root.NewString("root")

	child := root.NewChild()
	hc := child.NewString("child")
	dead := child.NewString("gone")
	child.MarkDead(dead)

	snap := root.Snapshot(true)
	require.Len(t, snap.Arenas, 2)
	assert.Equal(t, root.ID(), snap.Arenas[0].Stats.ID)
	assert.Equal(t, child.ID(), snap.Arenas[1].Stats.ID)
	assert.False(t, snap.Taken.IsZero())

	rootEntries := snap.Arenas[0].Entries
	require.Len(t, rootEntries, 1)
	assert.Equal(t, hr, rootEntries[0].Handle)
	assert.Equal(t, []byte("root"), rootEntries[0].Data)

	childEntries := snap.Arenas[1].Entries
	require.Len(t, childEntries, 2)
	assert.Equal(t, hc, childEntries[0].Handle)
	assert.Equal(t, []byte("child"), childEntries[0].Data)
	assert.Equal(t, dead, childEntries[1].Handle)
	assert.True(t, childEntries[1].Dead)
	assert.Nil(t, childEntries[1].Data)

	meta := child.Snapshot(false)
	require.Len(t, meta.Arenas, 1)
	assert.Nil(t, meta.Arenas[0].Entries[0].Data)
}
