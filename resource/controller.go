package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrCommitLimitExceeded is returned when the commit charge limit would be exceeded.
var ErrCommitLimitExceeded = errors.New("commit limit exceeded")

// Config holds resource limits.
type Config struct {
	// CommitLimitBytes is the hard limit for anonymous committed memory.
	// If 0, no hard limit is enforced (only tracking).
	CommitLimitBytes int64

	// MaxBackgroundWorkers is the maximum number of concurrent housekeeping jobs.
	// If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// PrefetchBytesPerSec bounds the read-ahead that prefetch hints may request.
	// If 0, unlimited.
	PrefetchBytesPerSec int64
}

// Controller manages process resources (commit charge, housekeeping, read-ahead).
type Controller struct {
	cfg Config

	// Commit charge
	commitSem  *semaphore.Weighted // nil if unlimited
	commitUsed atomic.Int64

	// Concurrency
	bgSem *semaphore.Weighted

	// IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.CommitLimitBytes > 0 {
		c.commitSem = semaphore.NewWeighted(cfg.CommitLimitBytes)
	}

	if cfg.PrefetchBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.PrefetchBytesPerSec), int(cfg.PrefetchBytesPerSec))
	}

	return c
}

// AcquireCommit attempts to charge bytes against the commit limit.
// Returns ErrCommitLimitExceeded if the limit would be exceeded.
// Non-blocking - callers decide whether to fall back or fail.
func (c *Controller) AcquireCommit(bytes int64) error {
	if c == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}

	if c.commitSem != nil {
		if !c.commitSem.TryAcquire(bytes) {
			return ErrCommitLimitExceeded
		}
	}

	c.commitUsed.Add(bytes)
	return nil
}

// ReleaseCommit returns previously charged bytes.
func (c *Controller) ReleaseCommit(bytes int64) {
	if c == nil {
		return
	}
	if bytes <= 0 {
		return
	}

	if c.commitSem != nil {
		c.commitSem.Release(bytes)
	}
	c.commitUsed.Add(-bytes)
}

// CommitUsage returns the bytes currently charged.
func (c *Controller) CommitUsage() int64 {
	if c == nil {
		return 0
	}
	return c.commitUsed.Load()
}

// CommitLimit returns the configured commit limit in bytes (0 if unlimited).
func (c *Controller) CommitLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.CommitLimitBytes
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// TryAcquireBackground attempts to reserve a background worker slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// AcquireIO waits until the read-ahead budget allows the specified number of
// bytes. Requests larger than the burst are charged the whole burst.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	return c.ioLimiter.WaitN(ctx, c.clampBurst(bytes))
}

// TryAcquireIO attempts to acquire read-ahead tokens without blocking.
// Requests larger than the burst are charged the whole burst.
func (c *Controller) TryAcquireIO(bytes int) bool {
	if c == nil || c.ioLimiter == nil {
		return true
	}
	return c.ioLimiter.AllowN(time.Now(), c.clampBurst(bytes))
}

func (c *Controller) clampBurst(bytes int) int {
	if burst := c.ioLimiter.Burst(); bytes > burst {
		return burst
	}
	return bytes
}
