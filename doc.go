// Package scopearena provides a hierarchical, concurrent, relocatable arena
// allocator for scope-structured programs.
//
// Scopearena is the memory runtime of a compiled language whose values live
// in the arena of the lexical scope that created them. Each scope owns a
// child arena; leaving the scope destroys the arena and everything in it,
// unless a value was promoted to an enclosing scope first.
//
// # Quick Start
//
//	root := scopearena.NewRoot()
//	defer root.Destroy()
//
//	child := root.NewChild()
//	h := child.NewString("hello")
//
//	// Move the value out of the scope before it closes.
//	h2 := root.Promote(child, h)
//	child.DestroyChild()
//
//	s, _ := root.ReadString(h2)
//	fmt.Println(s) // hello
//
// # Handles and Leases
//
// Allocations are addressed by Handle, never by pointer. The background
// compactor may move data between blocks at any time; a handle stays valid
// across moves. To touch the bytes, lease them:
//
//	buf := arena.Pin(h)
//	copy(buf, data)
//	arena.Unpin(h)
//
// or, with a scope guard whose Release is idempotent:
//
//	l, ok := arena.Acquire(h)
//	if ok {
//	    defer l.Release()
//	    process(l.Bytes())
//	}
//
// A leased entry is never moved or recycled and its block is never freed.
// AllocPinned returns memory that stays leased until ReleasePinned.
//
// # Arena Tree
//
// The root arena owns two background goroutines. The cleaner recycles the
// handle slots of dead, unleased entries. The compactor copies live entries
// out of fragmented arenas into fresh blocks and frees the old blocks once
// their leases drain. Each completes a full pass over the tree per epoch;
// GCFlush waits for both to finish a pass that started after the call.
//
// A child arena hands out handle indices starting at its parent's handle
// count at creation time, so handles of enclosing scopes resolve by walking
// from the innermost arena outward (Pin, CloneAny, ClonePreferParent, ...).
//
// # Memory
//
// Blocks are carved from the Go heap by default. With WithOffHeap they are
// backed by anonymous mappings outside the garbage collector. A memory
// limit (WithMemoryLimit) is enforced across the whole tree; exceeding it,
// like any failure to obtain block memory, is fatal.
//
// # Observability
//
//   - Structured logging via log/slog (WithLogger)
//   - Collector metrics via MetricsObserver (see the promobserver package)
//   - Stats, TreeStats and Snapshot for inspection (see the heapdump package)
package scopearena
