package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for block memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxBackgroundWorkers is the maximum number of concurrent collector passes.
	// If 0, defaults to 2 (one cleaner, one compactor).
	MaxBackgroundWorkers int64

	// CompactionBytesPerSec caps the copy bandwidth of compaction.
	// If 0, unlimited.
	CompactionBytesPerSec int64
}

// Stats is a point-in-time view of a Controller.
type Stats struct {
	MemoryUsed     int64
	MemoryLimit    int64
	PeakMemoryUsed int64
	Rejections     int64
	BytesPaced     int64
}

// Controller manages the resources of one arena tree.
type Controller struct {
	cfg Config

	// Memory
	memSem     *semaphore.Weighted // nil if unlimited
	memUsed    atomic.Int64
	memPeak    atomic.Int64
	rejections atomic.Int64

	// Concurrency
	bgSem *semaphore.Weighted

	// Copy bandwidth
	copyLimiter *rate.Limiter
	bytesPaced  atomic.Int64
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 2
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.CompactionBytesPerSec > 0 {
		c.copyLimiter = rate.NewLimiter(rate.Limit(cfg.CompactionBytesPerSec), int(cfg.CompactionBytesPerSec))
	}

	return c
}

// AcquireMemory attempts to reserve memory.
// Returns ErrMemoryLimitExceeded if limit would be exceeded.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			c.rejections.Add(1)
			return ErrMemoryLimitExceeded
		}
	}

	used := c.memUsed.Add(bytes)
	for {
		peak := c.memPeak.Load()
		if used <= peak || c.memPeak.CompareAndSwap(peak, used) {
			break
		}
	}
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil {
		return
	}
	if bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireBackground reserves a background slot.
// Blocks if all slots are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground attempts to reserve a background slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground releases a background slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// PaceCopy waits until the copy bandwidth allows bytes more to be moved.
func (c *Controller) PaceCopy(ctx context.Context, bytes int) error {
	if c == nil || c.copyLimiter == nil || bytes <= 0 {
		return nil
	}
	if burst := c.copyLimiter.Burst(); bytes > burst {
		bytes = burst
	}
	if err := c.copyLimiter.WaitN(ctx, bytes); err != nil {
		return err
	}
	c.bytesPaced.Add(int64(bytes))
	return nil
}

// Stats returns a snapshot of the controller's counters.
func (c *Controller) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		MemoryUsed:     c.memUsed.Load(),
		MemoryLimit:    c.cfg.MemoryLimitBytes,
		PeakMemoryUsed: c.memPeak.Load(),
		Rejections:     c.rejections.Load(),
		BytesPaced:     c.bytesPaced.Load(),
	}
}
