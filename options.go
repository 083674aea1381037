package mapio

import (
	"log/slog"

	"github.com/hupe1980/mapio/internal/fs"
	"github.com/hupe1980/mapio/internal/platform"
	"github.com/hupe1980/mapio/resource"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	backend          platform.Backend
	cache            *Cache
	cacheSet         bool
	controller       *resource.Controller
	startingOffset   int64
	fileSystem       fs.FileSystem
}

// Option configures sections, maps and mapped files.
//
// Options given to a factory are inherited by everything it creates: a Map
// created by MappedFile uses the logger, metrics and cache passed to
// OpenMappedFile.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &mapio.BasicMetricsCollector{}
//	m, _ := mapio.MapAnonymous(1<<20, false, mapio.FlagReadWrite, mapio.WithMetricsCollector(metrics))
//	// ... use m ...
//	stats := metrics.GetStats()
//	fmt.Printf("Maps: %d, Cache hits: %d\n", stats.MapCount, stats.CacheHits)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := mapio.NewJSONLogger(slog.LevelDebug)
//	mf, _ := mapio.OpenMappedFile("data.bin", 1<<30, mapio.ModeWrite, mapio.IfNeeded, mapio.FlagNone, mapio.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
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

// WithCache selects the recycling cache used for anonymous memory.
// Pass nil to bypass recycling entirely. The default is DefaultCache().
func WithCache(c *Cache) Option {
	return func(o *options) {
		o.cache = c
		o.cacheSet = true
	}
}

// WithResourceController charges anonymous commit against rc and takes the
// read-ahead budget for Prefetch from it.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

// WithStartingOffset makes byte 0 of a MappedFile's mapping correspond to
// file offset off. off must be a multiple of the allocation granularity.
func WithStartingOffset(off int64) Option {
	return func(o *options) {
		o.startingOffset = off
	}
}

// WithFileSystem sets the file system used to open files and create
// anonymous backing inodes.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys == nil {
			fsys = fs.Default
		}
		o.fileSystem = fsys
	}
}

// WithBackend replaces the platform backend. Intended for tests.
func WithBackend(b platform.Backend) Option {
	return func(o *options) {
		if b == nil {
			b = platform.Default()
		}
		o.backend = b
	}
}

func applyOptions(optFns []Option) options {
	o := baseOptions(optFns)
	if !o.cacheSet {
		o.cache = DefaultCache()
	}
	return o
}

func baseOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		backend:          platform.Default(),
		fileSystem:       fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
