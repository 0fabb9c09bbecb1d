package handle

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	// PageSize is the number of entries per page.
	PageSize = 256

	// InitialDirCap is the initial number of page slots in the directory.
	InitialDirCap = 16
)

// ErrTableFull is returned when the 32-bit index space is exhausted.
var ErrTableFull = errors.New("handle: table full")

type page [PageSize]Entry

type directory struct {
	pages []atomic.Pointer[page]
}

func newDirectory(n int) *directory {
	return &directory{pages: make([]atomic.Pointer[page], n)}
}

// Table is a paged handle table.
type Table struct {
	offset uint32
	count  atomic.Uint32
	dir    atomic.Pointer[directory]

	free    []uint32
	retired []*directory

	live *roaring.Bitmap
	dead *roaring.Bitmap

	pages int
}

// New returns a table whose first index is offset.
// Offset 0 means a root table; index 0 stays reserved.
func New(offset uint32) *Table {
	start := offset
	if start == 0 {
		start = 1
	}

	n := InitialDirCap
	for n <= int(start/PageSize) {
		n *= 2
	}

	t := &Table{
		offset: offset,
		live:   roaring.New(),
		dead:   roaring.New(),
	}
	t.count.Store(start)
	t.dir.Store(newDirectory(n))
	return t
}

// Offset returns the first index this table may hand out.
func (t *Table) Offset() uint32 { return t.offset }

// Count returns one past the highest index ever handed out.
func (t *Table) Count() uint32 { return t.count.Load() }

// Next returns an unused index and its entry, preferring recycled slots.
// The entry is initialised with r and the given lease count and is
// recorded as live. Requires the allocation lock.
func (t *Table) Next(r *Ref, leases int32) (uint32, *Entry, error) {
	var (
		idx uint32
		e   *Entry
	)
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
		e = t.Entry(idx)
	} else {
		idx = t.count.Load()
		if idx == math.MaxUint32 {
			return 0, nil, ErrTableFull
		}
		e = t.slot(idx)
		t.count.Store(idx + 1)
	}

	e.init(r, leases)
	t.live.Add(idx)
	return idx, e, nil
}

// slot returns the entry for idx, creating its page and growing the
// directory as needed.
func (t *Table) slot(idx uint32) *Entry {
	pi := int(idx / PageSize)

	d := t.dir.Load()
	if pi >= len(d.pages) {
		d = t.grow(pi + 1)
	}

	p := d.pages[pi].Load()
	if p == nil {
		p = new(page)
		d.pages[pi].Store(p)
		t.pages++
	}
	return &p[idx%PageSize]
}

func (t *Table) grow(need int) *directory {
	old := t.dir.Load()

	n := len(old.pages) * 2
	for n < need {
		n *= 2
	}

	d := newDirectory(n)
	for i := range old.pages {
		d.pages[i].Store(old.pages[i].Load())
	}

	t.dir.Store(d)
	t.retired = append(t.retired, old)
	return d
}

// Entry returns the entry for idx, or nil if idx is out of range, below the
// offset or was never allocated. Safe without locks.
func (t *Table) Entry(idx uint32) *Entry {
	if idx == 0 || idx < t.offset || idx >= t.count.Load() {
		return nil
	}

	d := t.dir.Load()
	pi := int(idx / PageSize)
	if pi >= len(d.pages) {
		return nil
	}

	p := d.pages[pi].Load()
	if p == nil {
		return nil
	}
	return &p[idx%PageSize]
}

// Valid reports whether idx names a live entry of generation gen.
func (t *Table) Valid(idx, gen uint32) bool {
	e := t.Entry(idx)
	return e != nil && e.Valid(gen)
}

// MarkDead moves idx from the live set to the dead set.
// Requires the allocation lock.
func (t *Table) MarkDead(idx uint32) {
	t.live.Remove(idx)
	t.dead.Add(idx)
}

// Recycle empties a claimed entry and puts idx on the free list.
// Requires the allocation lock.
func (t *Table) Recycle(idx uint32, e *Entry) {
	e.clear()
	t.live.Remove(idx)
	t.dead.Remove(idx)
	t.free = append(t.free, idx)
	e.Unclaim()
}

// LiveIndices returns a snapshot of the live set.
// Requires the allocation lock.
func (t *Table) LiveIndices() []uint32 { return t.live.ToArray() }

// DeadIndices returns a snapshot of the dead set.
// Requires the allocation lock.
func (t *Table) DeadIndices() []uint32 { return t.dead.ToArray() }

// LiveCount returns the number of live entries. Requires the allocation lock.
func (t *Table) LiveCount() int { return int(t.live.GetCardinality()) }

// DeadCount returns the number of dead, not yet recycled entries.
// Requires the allocation lock.
func (t *Table) DeadCount() int { return int(t.dead.GetCardinality()) }

// FreeCount returns the length of the free list. Requires the allocation lock.
func (t *Table) FreeCount() int { return len(t.free) }

// Pages returns the number of allocated pages. Requires the allocation lock.
func (t *Table) Pages() int { return t.pages }

// RetiredDirectories returns the number of superseded directories.
// Requires the allocation lock.
func (t *Table) RetiredDirectories() int { return len(t.retired) }

// Release drops all pages, directories and sets. Lookups return nil
// afterwards. Requires the allocation lock.
func (t *Table) Release() {
	t.dir.Store(newDirectory(0))
	t.retired = nil
	t.free = nil
	t.live.Clear()
	t.dead.Clear()
	t.pages = 0
}
