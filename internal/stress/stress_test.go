package stress

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/scopearena"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins(t *testing.T) {
	for _, p := range Builtins() {
		t.Run(p.Name, func(t *testing.T) {
			require.NoError(t, p.Validate())

			r := &Runner{DisableBackground: true}
			res, err := r.Run(context.Background(), p)
			require.NoError(t, err)

			assert.Equal(t, p.Name, res.Profile)
			assert.Positive(t, res.Allocs)
			assert.Positive(t, res.Verified)
			assert.Zero(t, res.Metrics.BlockBytes)
			assert.Equal(t, res.Metrics.BlocksAllocated, res.Metrics.BlocksFreed)
			assert.Equal(t, res.Metrics.ArenasCreated, res.Metrics.ArenasRetired)
		})
	}
}

func TestBuiltins_Background(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping background stress in short mode")
	}

	for _, p := range Builtins() {
		t.Run(p.Name, func(t *testing.T) {
			p.Arena = scopearena.Config{
				CleanerInterval:   time.Millisecond,
				CompactorInterval: 2 * time.Millisecond,
			}
			res, err := (&Runner{}).Run(context.Background(), p)
			require.NoError(t, err)
			assert.Zero(t, res.Metrics.BlockBytes)
		})
	}
}

func TestRun_Expectations(t *testing.T) {
	run := func(t *testing.T, name string) *Result {
		t.Helper()
		p, ok := Lookup(name)
		require.True(t, ok)
		res, err := (&Runner{DisableBackground: true}).Run(context.Background(), p)
		require.NoError(t, err)
		return res
	}

	t.Run("fragmentation-storm", func(t *testing.T) {
		res := run(t, "fragmentation-storm")
		assert.Equal(t, int64(8), res.Scopes)
		assert.Equal(t, int64(8*200+3*8*100), res.Allocs)
		assert.Equal(t, int64(8*200), res.Verified)
		assert.Equal(t, 9, res.Tree.Arenas)
		assert.Equal(t, 8*200, res.Tree.LiveEntries)
		assert.Equal(t, int64(8), res.Metrics.Compactions)
	})

	t.Run("web-server", func(t *testing.T) {
		res := run(t, "web-server")
		assert.Equal(t, int64(5), res.Resets)
		assert.Equal(t, int64(101), res.Scopes)
		assert.Equal(t, int64(50), res.Promotions)
	})

	t.Run("recursive-tree-walk", func(t *testing.T) {
		res := run(t, "recursive-tree-walk")
		assert.Equal(t, int64(31), res.Scopes)
		assert.Equal(t, int64(31), res.Promotions)
		assert.Equal(t, 1, res.Tree.Arenas)
	})

	t.Run("event-loop-reset", func(t *testing.T) {
		res := run(t, "event-loop-reset")
		assert.Equal(t, int64(3), res.Resets)
	})

	t.Run("concurrent-multi-arena", func(t *testing.T) {
		res := run(t, "concurrent-multi-arena")
		assert.Equal(t, int64(4*10), res.Promotions)
		assert.Equal(t, 4*10, res.Tree.LiveEntries)
	})
}

func TestRun_Inspect(t *testing.T) {
	p, _ := Lookup("fragmentation-storm")
	p = p.Scale(0.1)

	var arenas int
	r := &Runner{
		DisableBackground: true,
		Inspect: func(_ Profile, root *scopearena.Arena) error {
			arenas = len(root.Snapshot(false).Arenas)
			return nil
		},
	}
	_, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 9, arenas)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _ := Lookup("event-loop-reset")
	res, err := (&Runner{DisableBackground: true}).Run(ctx, p)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Allocs)
}

func TestRun_Invalid(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), Profile{Name: "x", Kind: "nope", Iterations: 1})
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    []string
		wantErr string
	}{
		{
			name: "list",
			yaml: `
profiles:
  - name: small-storm
    kind: fragmentation
    iterations: 2
    children: 2
    handles: 10
  - name: tight-loop
    kind: event-loop
    iterations: 4
    reset_every: 2
    arena:
      block_size: 4096
      compactor_interval: 5ms
`,
			want: []string{"small-storm", "tight-loop"},
		},
		{
			name: "single",
			yaml: `
name: solo
kind: recursive
iterations: 1
depth: 3
`,
			want: []string{"solo"},
		},
		{
			name:    "unknown kind",
			yaml:    "name: bad\nkind: nope\niterations: 1\n",
			wantErr: "unknown kind",
		},
		{
			name:    "no iterations",
			yaml:    "name: idle\nkind: scopes\n",
			wantErr: "iterations must be positive",
		},
		{
			name:    "unknown field",
			yaml:    "name: typo\nkind: scopes\niterations: 1\nhandels: 3\n",
			wantErr: "decode profiles",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(strings.NewReader(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			var names []string
			for _, p := range got {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestDecode_ArenaConfig(t *testing.T) {
	got, err := Decode(strings.NewReader(`
name: tuned
kind: concurrent
iterations: 10
workers: 2
arena:
  block_size: 4096
  cleaner_interval: 2ms
  off_heap: true
`))
	require.NoError(t, err)
	require.Len(t, got, 1)

	cfg := got[0].Arena
	assert.Equal(t, 4096, cfg.BlockSize)
	assert.Equal(t, 2*time.Millisecond, cfg.CleanerInterval)
	assert.True(t, cfg.OffHeap)
}

func TestScale(t *testing.T) {
	p, _ := Lookup("concurrent-multi-arena")
	assert.Equal(t, 1000, p.Scale(2).Iterations)
	assert.Equal(t, 1, p.Scale(0).Iterations)
}
