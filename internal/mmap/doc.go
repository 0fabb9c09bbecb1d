// Package mmap provides anonymous memory mappings for off-heap arena blocks.
//
// # Overview
//
// An anonymous mapping is read-write memory obtained directly from the
// operating system. It lives outside the Go heap, so the garbage collector
// neither scans nor moves it. Arenas configured for off-heap storage back
// every block with one mapping and unmap it when the block is released.
//
// # Usage
//
//	m, err := mmap.MapAnon(64 << 10)
//	if err != nil { ... }
//	defer m.Close()
//
//	buf := m.Bytes()
//
//	// Return the pages to the kernel but keep the range reserved.
//	m.Advise(mmap.AccessDontNeed)
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with MAP_ANON|MAP_PRIVATE, madvise(2) for hints
//   - Windows: VirtualAlloc/VirtualFree (hints are a no-op)
//
// # Thread Safety
//
// Close is idempotent and protected by an atomic flag. Callers must ensure
// no goroutine touches the slice returned by Bytes after Close returns.
package mmap
