// Package recycle keeps released anonymous reservations for reuse.
//
// Reserving and committing address space costs a kernel round trip and, on
// first touch, a page fault per page. Consumers that resize often (growable
// buffers, scratch arenas) hand the same sizes back and forth, so a released
// reservation is parked here and handed to the next caller asking for a
// similar size with the same page size.
//
// # Lookup
//
// Entries are bucketed by size in pages. A roaring bitmap indexes the occupied
// buckets, so Get finds the smallest bucket at or above the request in
// logarithmic time and accepts it if it lies within an eighth of the request.
// A linear scan of the bucket resolves page size.
//
// # Eviction
//
// Nothing is evicted implicitly. Trim releases every entry older than a cutoff,
// and Janitor calls Trim on a schedule for processes that want it.
//
// # Thread Safety
//
// A single mutex guards the cache. No two callers ever receive the same entry.
package recycle
