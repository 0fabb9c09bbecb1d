//go:build windows

package mmap

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	// VirtualAlloc commits on demand: pages are backed by physical memory
	// only when first touched, like an anonymous mmap.
	addr, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, nil, err
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size) //nolint:gosec // unsafe is required for off-heap memory

	return data, func([]byte) error {
		return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
	}, nil
}

// osAdvise has no Windows counterpart for access hints. AccessDontNeed
// zeroes the range so callers observe the same contents as after madvise.
func osAdvise(data []byte, pattern AccessPattern) error {
	if pattern == AccessDontNeed {
		clear(data)
	}
	return nil
}
