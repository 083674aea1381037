// Package mapio provides memory-mapped storage for Go: anonymous memory,
// file-backed mappings and growable mapped files, with explicit control over
// address-space reservation and commit.
//
// # Quick Start
//
// A file that can grow without its mapping moving:
//
//	mf, _ := mapio.OpenMappedFile("data.bin", 1<<30, mapio.ModeWrite, mapio.IfNeeded, mapio.FlagNone)
//	defer mf.Close()
//	mf.Truncate(4096)                // file and map grow, Address() is stable
//	copy(mf.Bytes(), "hello")
//	mf.Barrier(ctx, nil, mapio.BarrierWaitAll)
//
// Anonymous memory, recycled through a process-wide cache:
//
//	m, _ := mapio.MapAnonymous(1<<20, true, mapio.FlagReadWrite)
//	defer m.Close()
//	buf := m.Bytes()
//
// Address space without commit charge:
//
//	m, _ := mapio.Reserve(1 << 40)
//	m.Commit(m.Bytes()[:1<<20], mapio.FlagReadWrite)
//
// # Concepts
//
// A Section is something mappable: a borrowed file or an owned anonymous
// inode. A Map reserves address space, optionally over a Section. Its
// Capacity is the reservation, its Length the part valid to access; Length
// never exceeds Capacity. A MappedFile composes a file, a Section and a Map.
//
// Truncate on a Map changes the reservation. Growth happens in place or fails
// with ErrAddressInUse unless relocation is permitted, in which case every
// pointer into the old mapping dangles.
//
// # Recycling Cache
//
// Closed anonymous maps of ordinary read-write memory are parked in a cache
// and handed out again by MapAnonymous. Parked memory is only returned to the
// operating system by TrimCache or a janitor:
//
//	go mapio.DefaultCache().RunJanitor(ctx, time.Minute, 5*time.Minute)
//
// Pass WithCache(nil) to bypass recycling, or WithCache(NewCache()) for a
// private cache.
//
// # Errors
//
// Every error is an *Error whose Kind is one of the package sentinels, so
// errors.Is(err, mapio.ErrNotEnoughMemory) works across platforms. The
// underlying operating system error is kept as well.
//
// Writes into a mapping run under a fault guard: if the backing store
// disappears under the mapping (another process truncated the file, the
// device is full), Write returns ErrNoSpace instead of crashing.
//
// Failing to unmap in Map.Close means the address space bookkeeping is
// corrupt. The process is aborted.
//
// # Observability
//
// Logging uses log/slog through *Logger (WithLogger, WithLogLevel). Metrics
// go to a MetricsCollector (WithMetricsCollector); BasicMetricsCollector
// keeps in-memory counters. Commit charge, janitor concurrency and read-ahead
// can be bounded with WithResourceController.
package mapio
