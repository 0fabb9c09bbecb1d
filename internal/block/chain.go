package block

import "sync/atomic"

// Chain is the ordered list of blocks owned by one arena.
type Chain struct {
	src     *Source
	head    *Block
	current atomic.Pointer[Block]
	initial int
	growth  int
	max     int
	n       int
}

// NewChain returns an empty chain. The first block is created lazily.
func NewChain(src *Source, initial, max int) *Chain {
	if initial <= 0 {
		initial = DefaultSize
	}
	if max < initial {
		max = initial
	}
	return &Chain{
		src:     src,
		initial: initial,
		growth:  initial,
		max:     max,
	}
}

// Current returns the block the fast path bumps from. Safe without locks.
func (c *Chain) Current() *Block {
	return c.current.Load()
}

// Alloc reserves size aligned bytes. It first reuses the current block or
// any following block with room, then grows the chain. The caller must hold
// the owning arena's allocation lock.
func (c *Chain) Alloc(size int) (*Block, int, error) {
	size = Align(size)

	cur := c.current.Load()
	for b := cur; b != nil; b = b.next {
		if off, ok := b.Bump(size); ok {
			if b != cur {
				c.current.Store(b)
			}
			return b, off, nil
		}
	}

	blockSize := c.growth
	if size > blockSize {
		blockSize = Align(size)
	}
	nb, err := c.src.New(blockSize)
	if err != nil {
		return nil, 0, err
	}

	// Link after current so blocks rewound by a reset stay reachable.
	if cur == nil {
		nb.next = c.head
		c.head = nb
	} else {
		nb.next = cur.next
		cur.next = nb
	}
	c.n++
	c.current.Store(nb)

	if c.growth < c.max {
		c.growth *= 2
		if c.growth > c.max {
			c.growth = c.max
		}
	}

	off, _ := nb.Bump(size)
	return nb, off, nil
}

// Prime creates the first block of an empty chain with room for at least
// size bytes. Compaction uses it to place all survivors in a single block.
// The caller must hold the owning arena's allocation lock.
func (c *Chain) Prime(size int) error {
	if c.head != nil {
		return nil
	}
	size = max(Align(size), c.initial)

	b, err := c.src.New(size)
	if err != nil {
		return err
	}
	c.head = b
	c.n = 1
	c.current.Store(b)
	c.growth = min(c.initial*2, c.max)
	return nil
}

// Each calls fn for every block in chain order until fn returns false.
func (c *Chain) Each(fn func(*Block) bool) {
	for b := c.head; b != nil; b = b.next {
		if !fn(b) {
			return
		}
	}
}

// Len returns the number of blocks.
func (c *Chain) Len() int { return c.n }

// Reserved returns the summed capacity of all blocks.
func (c *Chain) Reserved() int {
	total := 0
	for b := c.head; b != nil; b = b.next {
		total += b.Cap()
	}
	return total
}

// Used returns the summed bump offsets of all blocks.
func (c *Chain) Used() int {
	total := 0
	for b := c.head; b != nil; b = b.next {
		total += b.Used()
	}
	return total
}

// Rewind resets every block so the chain refills from the head.
// Capacity and growth state are kept.
func (c *Chain) Rewind() {
	for b := c.head; b != nil; b = b.next {
		b.Rewind()
	}
	if c.head != nil {
		c.current.Store(c.head)
	}
}

// Detach empties the chain and returns its former blocks in order.
// Growth restarts at the initial size.
func (c *Chain) Detach() []*Block {
	blocks := make([]*Block, 0, c.n)
	for b := c.head; b != nil; {
		next := b.next
		b.next = nil
		blocks = append(blocks, b)
		b = next
	}
	c.head = nil
	c.n = 0
	c.growth = c.initial
	c.current.Store(nil)
	return blocks
}

// Release frees every block and empties the chain.
func (c *Chain) Release() error {
	var firstErr error
	for _, b := range c.Detach() {
		if err := c.src.Free(b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
