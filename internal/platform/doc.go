// Package platform is the single seam between portable mapping logic and the
// operating system's virtual-memory interface.
//
// # Backends
//
// Every supported OS family provides one implementation of Backend, selected
// at build time:
//
//   - Linux: mmap/mremap/madvise with MAP_FIXED_NOREPLACE, MADV_REMOVE, MADV_FREE,
//     MAP_HUGETLB page-size tiers and MAP_SYNC probing for NVRAM
//   - Darwin and the BSDs: mmap/mprotect/msync, in-place growth by hinted mmap
//   - Windows: VirtualAlloc for anonymous memory, sections through
//     CreateFileMapping plus NtExtendSection/NtMapViewOfSection so that views
//     may reserve beyond the current end of a file
//
// Portable code never branches on GOOS; it calls a Backend and inspects the
// returned error.
//
// # Guarded Copy
//
// GuardedCopy writes into live mapped memory with fault-to-panic enabled for
// the calling goroutine. A fault inside the caller's window is returned as a
// *Fault, anything else is re-raised.
package platform
