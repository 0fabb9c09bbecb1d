package scopearena

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/scopearena/internal/block"
	"github.com/hupe1980/scopearena/internal/epoch"
	"github.com/hupe1980/scopearena/internal/handle"
	"github.com/hupe1980/scopearena/resource"
	"golang.org/x/sync/errgroup"
)

// tree is the state shared by every arena of one tree. It is owned by the root.
type tree struct {
	cfg      Config
	logger   *Logger
	observer MetricsObserver
	rc       *resource.Controller
	src      *block.Source
	onFatal  func(error)

	root   *Arena
	nextID atomic.Uint64

	regMu    sync.RWMutex
	registry map[ArenaID]*Arena

	running        atomic.Bool
	cleanerEpoch   atomic.Uint64
	compactorEpoch atomic.Uint64
	retired        *epoch.Reclaimer[*Arena]

	cancel context.CancelFunc
	group  *errgroup.Group
	wake   []chan struct{}
}

func newTree(o options) *tree {
	t := &tree{
		cfg:      o.cfg,
		logger:   o.logger,
		observer: o.observer,
		rc:       o.rc,
		onFatal:  o.onFatal,
		registry: make(map[ArenaID]*Arena),
		retired:  epoch.New[*Arena](epoch.DefaultGrace),
	}
	t.src = block.NewSource(o.cfg.OffHeap, o.rc)
	t.src.Observe(
		func(b *block.Block) { t.observer.OnBlockAlloc(b.Cap(), b.OffHeap()) },
		func(b *block.Block) { t.observer.OnBlockFree(b.Cap()) },
	)
	return t
}

func (t *tree) newArena(parent *Arena, offset uint32) *Arena {
	a := &Arena{
		id:       ArenaID(t.nextID.Add(1)),
		parent:   parent,
		tree:     t,
		chain:    block.NewChain(t.src, t.cfg.BlockSize, t.cfg.MaxBlockSize),
		table:    handle.New(offset),
		pinned:   make(map[*byte]uint32),
		carried:  make(map[uint32]struct{}),
		children: make(map[ArenaID]*Arena),
	}

	t.regMu.Lock()
	t.registry[a.id] = a
	t.regMu.Unlock()
	return a
}

func (t *tree) unregister(id ArenaID) {
	t.regMu.Lock()
	delete(t.registry, id)
	t.regMu.Unlock()
}

// snapshot returns the registered arenas ordered by ID, so parents come
// before their children.
func (t *tree) snapshot() []*Arena {
	t.regMu.RLock()
	arenas := make([]*Arena, 0, len(t.registry))
	for _, a := range t.registry {
		arenas = append(arenas, a)
	}
	t.regMu.RUnlock()

	slices.SortFunc(arenas, func(x, y *Arena) int {
		switch {
		case x.id < y.id:
			return -1
		case x.id > y.id:
			return 1
		}
		return 0
	})
	return arenas
}

// Arena is one node of an arena tree: the storage of a lexical scope.
//
// All methods are safe for concurrent use. An arena must not be used after
// it was destroyed, and a parent must outlive its live children.
type Arena struct {
	id     ArenaID
	parent *Arena
	tree   *tree

	// allocMu guards the chain slow path, the handle table, the retired
	// block list, the pinned index, the carried set and the cleanup list.
	allocMu    sync.Mutex
	chain      *block.Chain
	table      *handle.Table
	retired    []*block.Block
	deferred   []*block.Block
	pinned     map[*byte]uint32
	// carried holds dead entries that outlived a Reset. Their bytes were
	// already dropped from deadBytes.
	carried    map[uint32]struct{}
	cleanups   []cleanup
	nextClean  CleanupID
	blockEpoch atomic.Uint64

	// pinMu guards entry and block lease transitions. Never acquire
	// allocMu while holding it.
	pinMu sync.Mutex

	childMu  sync.Mutex
	children map[ArenaID]*Arena

	liveBytes atomic.Int64
	deadBytes atomic.Int64
	// settledDead is the dead byte count left behind by the last
	// compaction; only growth beyond it counts towards the threshold.
	settledDead atomic.Int64

	closing    atomic.Bool
	destroying atomic.Bool
	released   atomic.Bool
	processing atomic.Int32
	retiredAt  atomic.Uint64

	cleanerRuns       atomic.Uint64
	lastRecycled      atomic.Int64
	lastRecycledBytes atomic.Int64
	compactions       atomic.Uint64
}

// NewRoot creates the root arena of a new tree and starts its background
// cleaner and compactor.
func NewRoot(optFns ...Option) *Arena {
	o := applyOptions(optFns)

	t := newTree(o)
	root := t.newArena(nil, 0)
	t.root = root

	if !o.cfg.DisableBackground {
		t.start()
	}
	return root
}

// NewChild creates a child arena. Its handle indices start at this arena's
// current handle count.
func (a *Arena) NewChild() *Arena {
	a.allocMu.Lock()
	offset := a.table.Count()
	a.allocMu.Unlock()

	c := a.tree.newArena(a, offset)

	a.childMu.Lock()
	a.children[c.id] = c
	a.childMu.Unlock()

	a.tree.observer.OnArenaCreated()
	return c
}

// ID returns the arena identifier. The root is always 1.
func (a *Arena) ID() ArenaID { return a.id }

// Parent returns the enclosing arena, or nil for the root.
func (a *Arena) Parent() *Arena { return a.parent }

// Root returns the root of the tree.
func (a *Arena) Root() *Arena { return a.tree.root }

// IsRoot reports whether a is the root arena.
func (a *Arena) IsRoot() bool { return a.parent == nil }

// Offset returns the first handle index this arena hands out.
func (a *Arena) Offset() uint32 { return a.table.Offset() }

// Destroying reports whether destruction of the arena has begun.
func (a *Arena) Destroying() bool { return a.destroying.Load() }

// Running reports whether the tree's background collectors are running.
func (a *Arena) Running() bool { return a.tree.running.Load() }

// Children returns the live children ordered by ID.
func (a *Arena) Children() []*Arena {
	a.childMu.Lock()
	out := make([]*Arena, 0, len(a.children))
	for _, c := range a.children {
		out = append(out, c)
	}
	a.childMu.Unlock()

	slices.SortFunc(out, func(x, y *Arena) int {
		switch {
		case x.id < y.id:
			return -1
		case x.id > y.id:
			return 1
		}
		return 0
	})
	return out
}

// takeChildren unlinks and returns every child.
func (a *Arena) takeChildren() []*Arena {
	a.childMu.Lock()
	out := make([]*Arena, 0, len(a.children))
	for _, c := range a.children {
		out = append(out, c)
	}
	clear(a.children)
	a.childMu.Unlock()
	return out
}

// enter marks the arena as being processed by a collector. It fails once
// destruction has begun.
func (a *Arena) enter() bool {
	a.processing.Add(1)
	if a.destroying.Load() {
		a.processing.Add(-1)
		return false
	}
	return true
}

func (a *Arena) leave() {
	a.processing.Add(-1)
}

// fatal logs err and terminates the calling goroutine.
func (a *Arena) fatal(err error) {
	a.tree.logger.LogFatal(context.Background(), a.id, err)
	if a.tree.onFatal != nil {
		a.tree.onFatal(err)
	}
	panic(err)
}
