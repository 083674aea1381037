//go:build amd64 && !noasm

package nvram

import "golang.org/x/sys/cpu"

func init() {
	// CLFLUSH arrived with SSE2.
	if cpu.X86.HasSSE2 {
		flushImpl = clflushWrapper
		available = true
	}
}

func clflushWrapper(start, lines uintptr) bool {
	clflushLines(start, lines)
	return true
}

func clflushLines(addr, lines uintptr)
