// Package resource governs the memory and background work of an arena tree.
//
// A Controller is shared by every arena of one tree and manages three
// resources:
//
//   - Memory: bytes of block memory held by the tree (non-blocking, fail-fast)
//   - Background slots: how many collector passes may run at once
//   - Copy bandwidth: token bucket pacing the bytes a compaction copies
//
// # Memory
//
// Block memory is reserved before a block is created and released when the
// block is freed. With a limit configured, AcquireMemory fails immediately
// with ErrMemoryLimitExceeded instead of blocking:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 256 << 20,
//	})
//
//	if err := rc.AcquireMemory(64 << 10); err != nil {
//	    // ErrMemoryLimitExceeded
//	}
//	defer rc.ReleaseMemory(64 << 10)
//
// # Background Slots
//
// The cleaner and the compactor each hold a slot for the duration of a pass:
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
// # Copy Pacing
//
// Compaction copies live entries into fresh blocks. PaceCopy waits until
// the configured bandwidth allows the given number of bytes; requests larger
// than one second of budget are clamped to the burst size.
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
