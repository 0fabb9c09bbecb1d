package block

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/scopearena/internal/mmap"
	"github.com/hupe1980/scopearena/resource"
)

// Source creates and frees blocks for one arena tree.
type Source struct {
	offHeap bool
	rc      *resource.Controller
	nextID  atomic.Uint64

	reserved atomic.Int64
	created  atomic.Uint64
	released atomic.Uint64

	onNew  func(*Block)
	onFree func(*Block)
}

// NewSource returns a Source. rc may be nil.
func NewSource(offHeap bool, rc *resource.Controller) *Source {
	return &Source{offHeap: offHeap, rc: rc}
}

// Observe installs callbacks run after a block is created or freed.
// It must be called before the source is shared.
func (s *Source) Observe(onNew, onFree func(*Block)) {
	s.onNew = onNew
	s.onFree = onFree
}

// OffHeap reports whether new blocks are backed by anonymous mappings.
func (s *Source) OffHeap() bool { return s.offHeap }

// New creates a zeroed block of size bytes.
func (s *Source) New(size int) (*Block, error) {
	if size <= 0 {
		size = Alignment
	}

	if err := s.rc.AcquireMemory(int64(size)); err != nil {
		return nil, fmt.Errorf("block: reserve %d bytes: %w", size, err)
	}

	b := &Block{id: s.nextID.Add(1)}
	if s.offHeap {
		m, err := mmap.MapAnon(size)
		if err != nil {
			s.rc.ReleaseMemory(int64(size))
			return nil, fmt.Errorf("block: %w", err)
		}
		b.mapping = m
		b.data = m.Bytes()
	} else {
		b.data = allocAligned(size)
	}

	s.reserved.Add(int64(size))
	s.created.Add(1)
	if s.onNew != nil {
		s.onNew(b)
	}
	return b, nil
}

// Free releases the block memory. It is idempotent.
func (s *Source) Free(b *Block) error {
	if b == nil || b.freed.Swap(true) {
		return nil
	}
	size := len(b.data)

	if s.onFree != nil {
		s.onFree(b)
	}

	var err error
	if b.mapping != nil {
		err = b.mapping.Close()
	}

	s.rc.ReleaseMemory(int64(size))
	s.reserved.Add(-int64(size))
	s.released.Add(1)
	return err
}

// Reserved returns the bytes held by live blocks of this source.
func (s *Source) Reserved() int64 { return s.reserved.Load() }

// Created returns the number of blocks ever created.
func (s *Source) Created() uint64 { return s.created.Load() }

// Released returns the number of blocks freed.
func (s *Source) Released() uint64 { return s.released.Load() }

// allocAligned allocates a heap byte slice whose first byte is aligned to
// heapAlignment. The backing array stays alive through the returned slice.
func allocAligned(size int) []byte {
	buf := make([]byte, size+heapAlignment)

	addr := uintptr(unsafe.Pointer(&buf[0])) //nolint:gosec // unsafe is required for memory alignment
	offset := (heapAlignment - (addr & (heapAlignment - 1))) & (heapAlignment - 1)

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}
