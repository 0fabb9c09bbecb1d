package scopearena

import (
	"log/slog"
	"time"

	"github.com/hupe1980/scopearena/internal/block"
	"github.com/hupe1980/scopearena/resource"
)

const (
	// DefaultCleanerInterval is the idle sleep of the cleaner between passes.
	DefaultCleanerInterval = 10 * time.Millisecond

	// DefaultCompactorInterval is the sleep of the compactor between passes.
	DefaultCompactorInterval = 100 * time.Millisecond

	// DefaultCompactThreshold is the fragmentation ratio that triggers compaction.
	DefaultCompactThreshold = 0.5

	// DefaultUtilizationThreshold triggers compaction of arenas whose blocks
	// are mostly empty.
	DefaultUtilizationThreshold = 0.25

	// DefaultMinCompactBlocks is the block count below which low utilization
	// alone does not trigger compaction.
	DefaultMinCompactBlocks = 2

	// DefaultDestroyWait bounds how long DestroyChild waits for an in-flight
	// collector pass to leave the arena.
	DefaultDestroyWait = time.Second

	// DefaultFlushTimeout bounds GCFlush.
	DefaultFlushTimeout = 500 * time.Millisecond
)

// Config holds the tunables of an arena tree.
type Config struct {
	// BlockSize is the size of the first block of every arena.
	BlockSize int `yaml:"block_size"`
	// MaxBlockSize caps geometric block growth.
	MaxBlockSize int `yaml:"max_block_size"`

	CleanerInterval   time.Duration `yaml:"cleaner_interval"`
	CompactorInterval time.Duration `yaml:"compactor_interval"`

	// CompactThreshold is the fragmentation ratio at or above which an
	// arena is compacted.
	CompactThreshold float64 `yaml:"compact_threshold"`
	// UtilizationThreshold compacts arenas with at least MinCompactBlocks
	// blocks whose used/reserved ratio falls below it.
	UtilizationThreshold float64 `yaml:"utilization_threshold"`
	MinCompactBlocks     int     `yaml:"min_compact_blocks"`

	DestroyWait  time.Duration `yaml:"destroy_wait"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`

	// OffHeap backs blocks with anonymous mappings instead of Go heap memory.
	OffHeap bool `yaml:"off_heap"`
	// MemoryLimitBytes caps block memory across the tree (0 = unlimited).
	MemoryLimitBytes int64 `yaml:"memory_limit_bytes"`
	// CompactionBytesPerSec caps compaction copy bandwidth (0 = unlimited).
	CompactionBytesPerSec int64 `yaml:"compaction_bytes_per_sec"`

	// DisableBackground skips starting the cleaner and the compactor.
	// Collection then only happens through Compact and Collect.
	DisableBackground bool `yaml:"disable_background"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BlockSize:            block.DefaultSize,
		MaxBlockSize:         block.DefaultMaxSize,
		CleanerInterval:      DefaultCleanerInterval,
		CompactorInterval:    DefaultCompactorInterval,
		CompactThreshold:     DefaultCompactThreshold,
		UtilizationThreshold: DefaultUtilizationThreshold,
		MinCompactBlocks:     DefaultMinCompactBlocks,
		DestroyWait:          DefaultDestroyWait,
		FlushTimeout:         DefaultFlushTimeout,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BlockSize <= 0 {
		c.BlockSize = d.BlockSize
	}
	if c.MaxBlockSize < c.BlockSize {
		c.MaxBlockSize = max(d.MaxBlockSize, c.BlockSize)
	}
	if c.CleanerInterval <= 0 {
		c.CleanerInterval = d.CleanerInterval
	}
	if c.CompactorInterval <= 0 {
		c.CompactorInterval = d.CompactorInterval
	}
	if c.CompactThreshold <= 0 {
		c.CompactThreshold = d.CompactThreshold
	}
	if c.UtilizationThreshold <= 0 {
		c.UtilizationThreshold = d.UtilizationThreshold
	}
	if c.MinCompactBlocks <= 0 {
		c.MinCompactBlocks = d.MinCompactBlocks
	}
	if c.DestroyWait <= 0 {
		c.DestroyWait = d.DestroyWait
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	return c
}

type options struct {
	cfg      Config
	logger   *Logger
	observer MetricsObserver
	rc       *resource.Controller
	onFatal  func(error)
}

// Option configures a root arena.
type Option func(*options)

// WithConfig replaces the whole configuration. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithBlockSize sets the initial block size and the growth cap.
func WithBlockSize(initial, maxSize int) Option {
	return func(o *options) {
		o.cfg.BlockSize = initial
		o.cfg.MaxBlockSize = maxSize
	}
}

// WithCollectorIntervals sets the sleep between cleaner and compactor passes.
func WithCollectorIntervals(cleaner, compactor time.Duration) Option {
	return func(o *options) {
		o.cfg.CleanerInterval = cleaner
		o.cfg.CompactorInterval = compactor
	}
}

// WithCompactThreshold sets the fragmentation ratio that triggers compaction.
func WithCompactThreshold(ratio float64) Option {
	return func(o *options) {
		o.cfg.CompactThreshold = ratio
	}
}

// WithOffHeap backs blocks with anonymous memory mappings.
//
// Off-heap memory is invisible to the garbage collector. Slices returned by
// Pin must not be used after Unpin or after the arena is destroyed.
func WithOffHeap() Option {
	return func(o *options) {
		o.cfg.OffHeap = true
	}
}

// WithMemoryLimit caps block memory across the whole tree.
// Exceeding the limit is fatal.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.cfg.MemoryLimitBytes = bytes
	}
}

// WithoutBackground disables the cleaner and compactor goroutines.
func WithoutBackground() Option {
	return func(o *options) {
		o.cfg.DisableBackground = true
	}
}

// WithResourceController shares an existing controller with this tree.
// It takes precedence over WithMemoryLimit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithMetricsObserver configures a metrics observer.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &scopearena.BasicMetricsCollector{}
//	root := scopearena.NewRoot(scopearena.WithMetricsObserver(metrics))
//	// ... use root ...
//	stats := metrics.GetStats()
//	fmt.Printf("compactions: %d, moved: %d\n", stats.Compactions, stats.EntriesMoved)
func WithMetricsObserver(mo MetricsObserver) Option {
	return func(o *options) {
		o.observer = mo
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := scopearena.NewJSONLogger(slog.LevelDebug)
//	root := scopearena.NewRoot(scopearena.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithFatalHandler installs a hook invoked with the error of an
// unrecoverable allocator failure, after it was logged. If the hook
// returns, the allocating goroutine panics with the same error.
func WithFatalHandler(fn func(error)) Option {
	return func(o *options) {
		o.onFatal = fn
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		cfg:      DefaultConfig(),
		observer: NoopMetricsObserver{},
		logger:   NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.observer == nil {
		o.observer = NoopMetricsObserver{}
	}
	o.cfg = o.cfg.withDefaults()
	if o.rc == nil {
		o.rc = resource.NewController(resource.Config{
			MemoryLimitBytes:      o.cfg.MemoryLimitBytes,
			CompactionBytesPerSec: o.cfg.CompactionBytesPerSec,
		})
	}
	return o
}
