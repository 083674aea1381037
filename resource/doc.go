// Package resource implements process-level accounting for mapped memory.
//
// The Controller provides centralized management of three resource types:
//
//   - Commit charge: anonymous committed bytes (non-blocking, fail-fast)
//   - Concurrency: housekeeping workers (recycling cache trimming)
//   - IO: read-ahead budget for prefetch hints
//
// # Commit Charge
//
// Commit tracking uses a weighted semaphore for hard limits and atomic counters
// for usage tracking. AcquireCommit is non-blocking and returns immediately
// with ErrCommitLimitExceeded if the limit would be exceeded:
//
//	rc := resource.NewController(resource.Config{
//	    CommitLimitBytes: 1 << 30, // 1GB limit
//	})
//
//	if err := rc.AcquireCommit(1024*1024); err != nil {
//	    // ErrCommitLimitExceeded - caller decides fallback
//	}
//	defer rc.ReleaseCommit(1024*1024)
//
// # Background Worker Limits
//
// Housekeeping passes skip a round rather than queue behind each other:
//
//	if !rc.TryAcquireBackground() {
//	    return
//	}
//	defer rc.ReleaseBackground()
//
// # Read-ahead Budget
//
// Token bucket limiter consulted by prefetch. TryAcquireIO lets a caller skip
// regions that do not fit the budget; AcquireIO waits for it.
//
// # Thread Safety
//
// All Controller methods are safe for concurrent use.
//
// # Nil Safety
//
// All methods handle nil Controller gracefully - they become no-ops.
package resource
