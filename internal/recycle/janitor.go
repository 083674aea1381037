package recycle

import (
	"context"
	"time"

	"github.com/hupe1980/mapio/resource"
)

// Janitor trims a cache periodically.
type Janitor struct {
	cache    *Cache
	interval time.Duration
	maxAge   time.Duration
	rc       *resource.Controller
	onTrim   func(Stats)
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithController makes every pass take a background slot first. A pass that
// finds every slot busy is skipped.
func WithController(rc *resource.Controller) JanitorOption {
	return func(j *Janitor) {
		j.rc = rc
	}
}

// WithTrimCallback is invoked with the result of every pass.
func WithTrimCallback(fn func(Stats)) JanitorOption {
	return func(j *Janitor) {
		j.onTrim = fn
	}
}

// NewJanitor creates a janitor that every interval evicts entries older than maxAge.
func NewJanitor(c *Cache, interval, maxAge time.Duration, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		cache:    c,
		interval: interval,
		maxAge:   maxAge,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run trims until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !j.rc.TryAcquireBackground() {
				continue
			}
			s := j.cache.Trim(j.cache.opts.now().Add(-j.maxAge))
			j.rc.ReleaseBackground()
			if j.onTrim != nil {
				j.onTrim(s)
			}
		}
	}
}
