// Package nvram writes CPU cache lines back to memory for mappings over
// non-volatile RAM, where that is enough to make stores durable.
package nvram

// LineSize is the cache line granularity flushes are rounded to.
const LineSize = 64

var (
	flushImpl = flushGeneric
	available bool
)

func flushGeneric(uintptr, uintptr) bool { return false }

// Available reports whether the CPU offers a user-mode cache line flush.
func Available() bool { return available }

// Flush writes back every cache line overlapping [addr, addr+n) and fences.
// It returns the number of bytes covered: n on success, 0 when no flush
// instruction is available and the caller must fall back to the OS.
func Flush(addr, n uintptr) uintptr {
	if n == 0 {
		return 0
	}
	start := addr &^ (LineSize - 1)
	end := (addr + n + LineSize - 1) &^ (LineSize - 1)
	if !flushImpl(start, (end-start)/LineSize) {
		return 0
	}
	return n
}
