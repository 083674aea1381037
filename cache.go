package mapio

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/mapio/internal/platform"
	"github.com/hupe1980/mapio/internal/recycle"
)

// CacheStats describes a recycling cache.
type CacheStats struct {
	BytesInCache uint64
	ItemsInCache uint64
	BytesTrimmed uint64
	ItemsTrimmed uint64
	Hits         uint64
	Misses       uint64
}

func toCacheStats(s recycle.Stats) CacheStats {
	return CacheStats(s)
}

// Cache recycles the reservations of closed anonymous maps.
//
// The process-wide instance returned by DefaultCache is used unless a map is
// created with WithCache. Entries are released to the operating system only
// by Trim or a running janitor.
type Cache struct {
	c       *recycle.Cache
	backend platform.Backend
	logger  *Logger
}

// NewCache creates an empty cache. WithBackend, WithLogger apply.
func NewCache(optFns ...Option) *Cache {
	o := baseOptions(optFns)
	c := &Cache{backend: o.backend, logger: o.logger}
	c.c = recycle.New(
		func(addr, bytes uintptr) error {
			return c.backend.Unmap(addr, bytes, true)
		},
		recycle.WithReleaseErrorHandler(func(it recycle.Item, err error) {
			c.logger.Error("failed to release cached reservation",
				"addr", it.Addr,
				"bytes", it.Bytes,
				"error", err,
			)
		}),
	)
	return c
}

var defaultCache = sync.OnceValue(func() *Cache { return NewCache() })

// DefaultCache returns the process-wide cache. It is created on first use and
// never torn down.
func DefaultCache() *Cache { return defaultCache() }

// Trim releases every entry inserted at or before olderThan.
func (c *Cache) Trim(olderThan time.Time) CacheStats {
	s := toCacheStats(c.c.Trim(olderThan))
	if s.ItemsTrimmed > 0 {
		c.logger.LogCacheTrim(context.Background(), s)
	}
	return s
}

// Stats returns cumulative statistics.
func (c *Cache) Stats() CacheStats { return toCacheStats(c.c.Stats()) }

// SetDisabled stops the cache from accepting or serving reservations.
func (c *Cache) SetDisabled(disabled bool) { c.c.SetDisabled(disabled) }

// RunJanitor trims entries older than maxAge every interval until ctx is
// done. Passes take a background slot from the controller given with
// WithResourceController.
func (c *Cache) RunJanitor(ctx context.Context, interval, maxAge time.Duration, optFns ...Option) {
	o := baseOptions(optFns)
	recycle.NewJanitor(c.c, interval, maxAge,
		recycle.WithController(o.controller),
		recycle.WithTrimCallback(func(s recycle.Stats) {
			if s.ItemsTrimmed > 0 {
				o.logger.LogCacheTrim(ctx, toCacheStats(s))
			}
		}),
	).Run(ctx)
}

func (c *Cache) get(bytes, pageSize uintptr) (recycle.Item, bool) {
	return c.c.Get(bytes, pageSize)
}

func (c *Cache) disabled() bool { return c.c.Disabled() }

func (c *Cache) add(it recycle.Item) bool {
	return c.c.Add(it)
}

// TrimCache trims the process-wide cache.
func TrimCache(olderThan time.Time) CacheStats { return DefaultCache().Trim(olderThan) }

// CacheStatistics returns the statistics of the process-wide cache.
func CacheStatistics() CacheStats { return DefaultCache().Stats() }

// SetCacheDisabled disables or re-enables the process-wide cache.
func SetCacheDisabled(disabled bool) { DefaultCache().SetDisabled(disabled) }
