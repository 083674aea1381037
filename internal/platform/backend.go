package platform

import (
	"errors"
	"math/bits"
	"os"
	"unsafe"
)

var (
	// ErrNotContiguous is returned when the address range directly after a
	// mapping is occupied and the mapping cannot grow in place.
	ErrNotContiguous = errors.New("platform: address range not available")

	// ErrUnsupported is returned for operations the backend cannot perform.
	ErrUnsupported = errors.New("platform: operation not supported")
)

// Access is the protection requested for a mapping.
type Access uint8

const (
	// AccessRead allows loads.
	AccessRead Access = 1 << iota
	// AccessWrite allows stores.
	AccessWrite
	// AccessCOW makes stores private to the mapping.
	AccessCOW
	// AccessExecute allows instruction fetch.
	AccessExecute
)

// Has reports whether all bits of o are set.
func (a Access) Has(o Access) bool { return a&o == o }

// Section is the platform view of a mappable backing file.
type Section struct {
	// Fd is the borrowed native file identity (descriptor or HANDLE).
	Fd uintptr
	// Size is the extent the native section object currently covers.
	Size int64
	// Access is fixed at creation.
	Access Access
	// Singleton requests a session-wide named section (Windows only).
	Singleton bool
	// Executable marks an image section (Windows only).
	Executable bool

	native uintptr
}

// Request describes a mapping to create.
type Request struct {
	// Addr is a placement hint. With Fixed the mapping must land exactly there
	// without replacing anything already mapped.
	Addr  uintptr
	Fixed bool

	Bytes  uintptr
	Access Access

	// Commit requests backing memory for anonymous mappings. Without it only
	// address space is reserved.
	Commit   bool
	Prefault bool
	// PageSize of 0 or the base page size uses ordinary pages.
	PageSize uintptr

	// Section is nil for anonymous memory.
	Section *Section
	Offset  int64
	// NVRAM asks the backend to try a synchronous DAX mapping.
	NVRAM bool
	// Uneven marks an anonymous mapping whose pages no longer share one
	// commit state and protection. Extend and Relocate must not assume the
	// old range is uniform.
	Uneven bool
}

// Anonymous reports whether the request maps no section.
func (r Request) Anonymous() bool { return r.Section == nil }

// Region is a mapping created by a Backend.
type Region struct {
	Addr     uintptr
	Bytes    uintptr
	PageSize uintptr
	// NVRAM is set when a requested NVRAM mapping was obtained. Backends
	// that can check for DAX clear it when the check fails.
	NVRAM bool
}

// DiscardKind selects the strength of a discard.
type DiscardKind int

const (
	// DiscardZero drops pages so that they read back as zero. For shared file
	// mappings the backing storage is deallocated.
	DiscardZero DiscardKind = iota
	// DiscardFree allows the kernel to drop dirty pages lazily. Contents
	// become undefined.
	DiscardFree
)

// Backend is the per-OS virtual memory interface.
type Backend interface {
	// PageSize returns the smallest page size.
	PageSize() uintptr
	// PageSizes returns every page size in ascending order. With onlyAvailable
	// set, sizes the process cannot currently allocate are omitted.
	PageSizes(onlyAvailable bool) []uintptr
	// Granularity is the alignment required of mapping offsets and addresses.
	Granularity() uintptr

	Map(req Request) (Region, error)
	// Unmap releases [addr, addr+bytes). It may be called on a prefix or a
	// suffix of a Region.
	Unmap(addr, bytes uintptr, anonymous bool) error
	// Extend grows the mapping at addr from oldBytes to req.Bytes without
	// moving it. It returns ErrNotContiguous if the tail is occupied.
	Extend(addr, oldBytes uintptr, req Request) error
	// Relocate grows the mapping to req.Bytes at a new address. Anonymous
	// contents are preserved together with the commit state and protection
	// of every page. A backend that cannot move the old range faithfully
	// fails before touching it.
	Relocate(addr, oldBytes uintptr, req Request) (Region, error)

	Commit(addr, bytes uintptr, access Access, anonymous bool) error
	Decommit(addr, bytes uintptr, anonymous bool) error
	Discard(addr, bytes uintptr, kind DiscardKind, anonymous bool) error
	Prefetch(addr, bytes uintptr) error
	// Sync flushes dirty pages of a file-backed range.
	Sync(addr, bytes uintptr, wait bool) error

	OpenSection(s *Section) error
	ResizeSection(s *Section, newSize int64) error
	CloseSection(s *Section) error

	// RecyclingCounterProductive reports whether caching released anonymous
	// memory would cost more than releasing it.
	RecyclingCounterProductive() bool
}

// Default returns the backend for the running OS.
func Default() Backend { return defaultBackend }

// RoundUp rounds n up to a multiple of align, which must be a power of two.
func RoundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// RoundDown rounds n down to a multiple of align, which must be a power of two.
func RoundDown(n, align uintptr) uintptr {
	return n &^ (align - 1)
}

// Shift returns log2 of a power-of-two page size.
func Shift(pageSize uintptr) uint {
	return uint(bits.TrailingZeros64(uint64(pageSize)))
}

var basePageSize = uintptr(os.Getpagesize())

func bytesAt(addr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n) //nolint:govet // addr is a live mapping
}
