// Package handle implements the paged handle table of an arena.
//
// A handle index names a slot (Entry) in the table. Entries hold an
// atomically published reference to the bytes of an allocation, so the
// compactor can relocate data while handles stay stable.
//
// # Layout
//
// Entries live in fixed-size pages of PageSize slots. A directory of page
// pointers grows by doubling; superseded directories are kept on a
// retirement list until the table is released, so a reader that loaded an
// old directory never observes freed memory. Lookups are lock-free.
//
// A table created with a non-zero offset only hands out indices at or above
// that offset; pages below it are never allocated. Index 0 is reserved as
// the null handle.
//
// # Leases
//
// Each entry carries a lease count. A positive count means a caller holds a
// raw pointer into the entry's bytes and the entry must not move or be
// recycled. Background workers claim an unleased entry by swapping the
// count from 0 to Moving, which makes concurrent leasers back off.
//
// # Concurrency
//
// Entry lookups and lease operations are safe without locks. Next, Recycle
// and the live/dead set operations must be called with the owning arena's
// allocation lock held.
package handle
