package recycle

import (
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/mapio/resource"
)

// ReleaseFunc returns a reservation to the operating system.
type ReleaseFunc func(addr, bytes uintptr) error

// Item is a parked reservation.
type Item struct {
	Addr     uintptr
	Bytes    uintptr
	PageSize uintptr

	// Charge is the commit charge still held against Controller.
	Charge     int64
	Controller *resource.Controller
}

type entry struct {
	Item
	inserted time.Time
}

// Stats describes cache occupancy and activity.
type Stats struct {
	BytesInCache uint64
	ItemsInCache uint64
	BytesTrimmed uint64
	ItemsTrimmed uint64
	Hits         uint64
	Misses       uint64
}

type options struct {
	now     func() time.Time
	onError func(it Item, err error)
}

// Option configures a Cache.
type Option func(*options)

// WithClock sets the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithReleaseErrorHandler is called for every entry whose release fails during
// Trim. The entry is dropped either way.
func WithReleaseErrorHandler(fn func(it Item, err error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// Cache is a free list of anonymous reservations.
type Cache struct {
	mu       sync.Mutex
	index    *roaring.Bitmap
	buckets  map[uint32][]entry
	release  ReleaseFunc
	disabled bool
	stats    Stats
	opts     options
}

// New creates an empty cache that releases evicted entries through release.
func New(release ReleaseFunc, optFns ...Option) *Cache {
	opts := options{now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Cache{
		index:   roaring.New(),
		buckets: make(map[uint32][]entry),
		release: release,
		opts:    opts,
	}
}

func bucketKey(bytes, pageSize uintptr) (uint32, bool) {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return 0, false
	}
	k := uint64(bytes) >> bits.TrailingZeros64(uint64(pageSize))
	if k == 0 || k > math.MaxUint32 {
		return 0, false
	}
	return uint32(k), true
}

// Get removes and returns a reservation of at least bytes (rounded up to
// pageSize) with exactly pageSize, or reports false.
func (c *Cache) Get(bytes, pageSize uintptr) (Item, bool) {
	if pageSize == 0 {
		return Item{}, false
	}
	bytes = (bytes + pageSize - 1) &^ (pageSize - 1)
	key, ok := bucketKey(bytes, pageSize)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !ok || c.disabled {
		c.stats.Misses++
		return Item{}, false
	}

	limit := uint64(key) + uint64(key>>3)
	it := c.index.Iterator()
	it.AdvanceIfNeeded(key)
	for it.HasNext() {
		k := it.Next()
		if uint64(k) > limit {
			break
		}
		bucket := c.buckets[k]
		for i := range bucket {
			e := bucket[i]
			if e.PageSize != pageSize || e.Bytes < bytes {
				continue
			}
			c.removeAt(k, i)
			c.stats.Hits++
			return e.Item, true
		}
	}
	c.stats.Misses++
	return Item{}, false
}

func (c *Cache) removeAt(key uint32, i int) {
	bucket := c.buckets[key]
	e := bucket[i]
	bucket = append(bucket[:i], bucket[i+1:]...)
	if len(bucket) == 0 {
		delete(c.buckets, key)
		c.index.Remove(key)
	} else {
		c.buckets[key] = bucket
	}
	c.stats.BytesInCache -= uint64(e.Bytes)
	c.stats.ItemsInCache--
}

// Add transfers ownership of a reservation to the cache. It reports false if
// the cache refused it, in which case the caller still owns it.
func (c *Cache) Add(it Item) bool {
	key, ok := bucketKey(it.Bytes, it.PageSize)
	if !ok || it.Addr == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled {
		return false
	}
	c.buckets[key] = append(c.buckets[key], entry{Item: it, inserted: c.opts.now()})
	c.index.Add(key)
	c.stats.BytesInCache += uint64(it.Bytes)
	c.stats.ItemsInCache++
	return true
}

// Trim releases every entry inserted at or before olderThan. The returned
// stats count this call's evictions in BytesTrimmed and ItemsTrimmed.
func (c *Cache) Trim(olderThan time.Time) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []Item
	for key, bucket := range c.buckets {
		kept := bucket[:0]
		for _, e := range bucket {
			if e.inserted.After(olderThan) {
				kept = append(kept, e)
				continue
			}
			victims = append(victims, e.Item)
		}
		if len(kept) == 0 {
			delete(c.buckets, key)
			c.index.Remove(key)
		} else {
			clear(bucket[len(kept):])
			c.buckets[key] = kept
		}
	}

	ret := c.stats
	ret.BytesTrimmed, ret.ItemsTrimmed = 0, 0
	for _, it := range victims {
		if err := c.release(it.Addr, it.Bytes); err != nil && c.opts.onError != nil {
			c.opts.onError(it, err)
		}
		it.Controller.ReleaseCommit(it.Charge)
		c.stats.BytesInCache -= uint64(it.Bytes)
		c.stats.ItemsInCache--
		ret.BytesTrimmed += uint64(it.Bytes)
		ret.ItemsTrimmed++
	}
	c.stats.BytesTrimmed += ret.BytesTrimmed
	c.stats.ItemsTrimmed += ret.ItemsTrimmed
	ret.BytesInCache, ret.ItemsInCache = c.stats.BytesInCache, c.stats.ItemsInCache
	return ret
}

// Stats returns cumulative statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// SetDisabled stops the cache from accepting or serving entries. Entries
// already parked stay until trimmed.
func (c *Cache) SetDisabled(disabled bool) {
	c.mu.Lock()
	c.disabled = disabled
	c.mu.Unlock()
}

// Disabled reports whether the cache is disabled.
func (c *Cache) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}
