// Package block implements the bump-allocated memory blocks that back an arena.
//
// # Blocks
//
// A Block is a contiguous region with an atomic bump offset. Bump is a
// lock-free CAS loop, so many goroutines may carve ranges out of the same
// block concurrently. Each block also carries the counters that decide when
// it may be freed: outstanding leases, permanently pinned entries and live
// entries still referencing it.
//
// # Sources
//
// A Source creates and frees blocks. Blocks come either from the Go heap
// (64-byte aligned) or from anonymous off-heap mappings. Every block is
// charged against the tree's resource.Controller before it is created.
//
// # Chains
//
// A Chain is the ordered list of blocks owned by one arena. The first block
// has the configured initial size and each new block doubles the next
// growth size up to a cap. Chain methods other than Current must be called
// with the owning arena's allocation lock held.
package block
