package scopearena

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory is wrapped by every fatal block allocation failure.
	ErrOutOfMemory = errors.New("scopearena: out of memory")

	// ErrNotRoot is logged when a root-only operation is called on a child.
	ErrNotRoot = errors.New("scopearena: not the root arena")

	// ErrDestroyed is returned by operations on an arena whose destruction
	// has begun.
	ErrDestroyed = errors.New("scopearena: arena destroyed")

	// ErrStopped is returned by background passes once the root is destroyed.
	ErrStopped = errors.New("scopearena: background collectors stopped")
)

// BlockError reports a failed block allocation.
//
// The underlying cause (resource limit, mmap failure) is available via
// errors.Unwrap; errors.Is(err, ErrOutOfMemory) always holds.
type BlockError struct {
	Arena ArenaID
	Size  int
	cause error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("scopearena: arena %d: allocate block of %d bytes: %v", e.Arena, e.Size, e.cause)
}

func (e *BlockError) Unwrap() []error { return []error{ErrOutOfMemory, e.cause} }

// TableError reports a failed handle table operation.
type TableError struct {
	Arena ArenaID
	cause error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("scopearena: arena %d: handle table: %v", e.Arena, e.cause)
}

func (e *TableError) Unwrap() []error { return []error{ErrOutOfMemory, e.cause} }
