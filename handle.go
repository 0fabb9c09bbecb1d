package scopearena

import "fmt"

// Handle is an opaque reference to an allocation.
//
// The low 32 bits are the handle table index, the high 32 bits the slot
// generation at allocation time. Index ranges of a child arena start at its
// parent's handle count when the child was created.
type Handle uint64

// NullHandle is the zero handle. It never refers to an allocation.
const NullHandle Handle = 0

func makeHandle(idx, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(idx))
}

// Index returns the handle table index.
func (h Handle) Index() uint32 { return uint32(h) }

// Gen returns the slot generation.
func (h Handle) Gen() uint32 { return uint32(h >> 32) }

// IsNull reports whether h is NullHandle.
func (h Handle) IsNull() bool { return h == NullHandle }

func (h Handle) String() string {
	if h == NullHandle {
		return "handle(null)"
	}
	return fmt.Sprintf("handle(%d#%d)", h.Index(), h.Gen())
}

// ArenaID identifies an arena within its tree. The root is always 1.
type ArenaID uint64
