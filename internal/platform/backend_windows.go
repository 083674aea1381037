//go:build windows

package platform

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	memReset      = 0x80000
	memLargePages = 0x20000000
	memFree       = 0x10000
	memMapped     = 0x40000

	secImage = 0x1000000

	viewUnmap = 2

	// Allocation granularity of every shipping Windows release.
	allocationGranularity = 64 << 10

	statusConflictingAddresses windows.NTStatus = 0xC0000018

	errInvalidAddress syscall.Errno = 487
	errUserMappedFile syscall.Errno = 1224
)

var (
	modntdll    = windows.NewLazySystemDLL("ntdll.dll")
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procNtExtendSection       = modntdll.NewProc("NtExtendSection")
	procNtMapViewOfSection    = modntdll.NewProc("NtMapViewOfSection")
	procPrefetchVirtualMemory = modkernel32.NewProc("PrefetchVirtualMemory")
	procDiscardVirtualMemory  = modkernel32.NewProc("DiscardVirtualMemory")
	procGetLargePageMinimum   = modkernel32.NewProc("GetLargePageMinimum")
)

var defaultBackend Backend = &windowsBackend{pageSize: basePageSize}

type windowsBackend struct {
	pageSize uintptr

	sizesOnce sync.Once
	sizes     []uintptr
}

type memoryRangeEntry struct {
	VirtualAddress uintptr
	NumberOfBytes  uintptr
}

func pageProtect(a Access, committed bool) uint32 {
	if !committed {
		return windows.PAGE_NOACCESS
	}
	exec := a.Has(AccessExecute)
	switch {
	case a.Has(AccessCOW):
		if exec {
			return windows.PAGE_EXECUTE_WRITECOPY
		}
		return windows.PAGE_WRITECOPY
	case a.Has(AccessWrite):
		if exec {
			return windows.PAGE_EXECUTE_READWRITE
		}
		return windows.PAGE_READWRITE
	case a.Has(AccessRead):
		if exec {
			return windows.PAGE_EXECUTE_READ
		}
		return windows.PAGE_READONLY
	case exec:
		return windows.PAGE_EXECUTE
	}
	return windows.PAGE_NOACCESS
}

func (b *windowsBackend) PageSize() uintptr { return b.pageSize }

func (b *windowsBackend) Granularity() uintptr { return allocationGranularity }

func (b *windowsBackend) PageSizes(bool) []uintptr {
	b.sizesOnce.Do(func() {
		b.sizes = []uintptr{b.pageSize}
		if procGetLargePageMinimum.Find() != nil {
			return
		}
		if large, _, _ := procGetLargePageMinimum.Call(); large > b.pageSize {
			b.sizes = append(b.sizes, large)
		}
	})
	return b.sizes
}

func (b *windowsBackend) pageSizeOf(req Request) uintptr {
	if req.PageSize > b.pageSize {
		return req.PageSize
	}
	return b.pageSize
}

func (b *windowsBackend) Map(req Request) (Region, error) {
	if req.Bytes == 0 {
		return Region{}, windows.ERROR_INVALID_PARAMETER
	}
	ps := b.pageSizeOf(req)
	bytes := RoundUp(req.Bytes, ps)
	hint := uintptr(0)
	if req.Fixed {
		hint = req.Addr
	}

	if req.Anonymous() {
		alloc := uint32(windows.MEM_RESERVE)
		committed := req.Commit
		if ps > b.pageSize {
			alloc |= memLargePages | windows.MEM_COMMIT
			committed = true
		} else if committed {
			alloc |= windows.MEM_COMMIT
		}
		addr, err := windows.VirtualAlloc(hint, bytes, alloc, pageProtect(req.Access, committed))
		if err != nil {
			if req.Fixed && errors.Is(err, errInvalidAddress) {
				return Region{}, ErrNotContiguous
			}
			return Region{}, err
		}
		return Region{Addr: addr, Bytes: bytes, PageSize: ps}, nil
	}

	addr, err := b.mapView(req.Section, hint, req.Offset, bytes, req.Access)
	if err != nil {
		return Region{}, err
	}
	if req.Prefault {
		_ = b.Prefetch(addr, bytes)
	}
	return Region{Addr: addr, Bytes: bytes, PageSize: ps, NVRAM: req.NVRAM}, nil
}

// mapView maps a reserving view so that the view may extend past the current
// end of the section. NtExtendSection later makes the tail accessible.
func (b *windowsBackend) mapView(s *Section, addr uintptr, offset int64, bytes uintptr, access Access) (uintptr, error) {
	if s.native == 0 {
		if err := b.OpenSection(s); err != nil {
			return 0, err
		}
	}
	base := addr
	size := bytes
	off := offset
	r, _, _ := procNtMapViewOfSection.Call(
		s.native,
		uintptr(windows.CurrentProcess()),
		uintptr(unsafe.Pointer(&base)),
		0, 0,
		uintptr(unsafe.Pointer(&off)),
		uintptr(unsafe.Pointer(&size)),
		viewUnmap,
		windows.MEM_RESERVE,
		uintptr(pageProtect(access, true)),
	)
	if status := windows.NTStatus(r); status != windows.STATUS_SUCCESS {
		if addr != 0 && status == statusConflictingAddresses {
			return 0, ErrNotContiguous
		}
		if int64(bytes) > s.Size-offset && !s.Access.Has(AccessWrite) {
			// A read-only section cannot carry a reservation past its end.
			return 0, fmt.Errorf("%w: %w", ErrUnsupported, status.Errno())
		}
		return 0, status.Errno()
	}
	return base, nil
}

func (b *windowsBackend) Unmap(addr, bytes uintptr, anonymous bool) error {
	end := addr + bytes
	for p := addr; p < end; {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(p, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return err
		}
		next := mbi.BaseAddress + mbi.RegionSize
		switch {
		case mbi.State == memFree:
		case mbi.AllocationBase >= addr:
			if mbi.Type == memMapped {
				if err := windows.UnmapViewOfFile(mbi.AllocationBase); err != nil {
					return err
				}
			} else if err := windows.VirtualFree(mbi.AllocationBase, 0, windows.MEM_RELEASE); err != nil {
				return err
			}
		case anonymous && mbi.State == windows.MEM_COMMIT:
			// Allocations cannot be partially released.
			if err := windows.VirtualFree(p, min(next, end)-p, windows.MEM_DECOMMIT); err != nil {
				return err
			}
		}
		p = next
	}
	return nil
}

func (b *windowsBackend) Extend(addr, oldBytes uintptr, req Request) error {
	newBytes := RoundUp(req.Bytes, b.pageSizeOf(req))
	if newBytes <= oldBytes {
		return nil
	}
	tailAddr := addr + oldBytes
	if tailAddr%allocationGranularity != 0 {
		return ErrNotContiguous
	}
	tail := req
	tail.Addr = tailAddr
	tail.Fixed = true
	tail.Bytes = newBytes - oldBytes
	if !tail.Anonymous() {
		tail.Offset += int64(oldBytes)
	}
	_, err := b.Map(tail)
	return err
}

func (b *windowsBackend) Relocate(addr, oldBytes uintptr, req Request) (Region, error) {
	fresh := req
	fresh.Addr, fresh.Fixed = 0, false
	large := b.pageSizeOf(req) > b.pageSize
	if req.Anonymous() && !large {
		// Reserve only; the old layout is rebuilt region by region.
		fresh.Commit = false
	}
	r, err := b.Map(fresh)
	if err != nil {
		return Region{}, err
	}
	if err := b.moveAnonymous(addr, oldBytes, r, req, large); err != nil {
		_ = b.Unmap(r.Addr, r.Bytes, req.Anonymous())
		return Region{}, err
	}
	if err := b.Unmap(addr, oldBytes, req.Anonymous()); err != nil {
		_ = b.Unmap(r.Addr, r.Bytes, req.Anonymous())
		return Region{}, err
	}
	return r, nil
}

func (b *windowsBackend) moveAnonymous(addr, oldBytes uintptr, r Region, req Request, large bool) error {
	switch {
	case !req.Anonymous():
		return nil
	case large:
		// Large pages are committed whole.
		_, err := GuardedCopy(bytesAt(r.Addr, oldBytes), bytesAt(addr, oldBytes), addr, addr+oldBytes)
		return err
	}
	if err := copyCommitted(addr, r.Addr, oldBytes); err != nil {
		return err
	}
	if req.Commit && r.Bytes > oldBytes {
		_, err := windows.VirtualAlloc(r.Addr+oldBytes, r.Bytes-oldBytes, windows.MEM_COMMIT, pageProtect(req.Access, true))
		return err
	}
	return nil
}

// copyCommitted recreates every committed region of [from, from+n) at the
// same offset from to, with its contents and protection. Reserved regions
// stay reserved.
func copyCommitted(from, to, n uintptr) error {
	end := from + n
	for p := from; p < end; {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(p, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return err
		}
		next := min(mbi.BaseAddress+mbi.RegionSize, end)
		if mbi.State == windows.MEM_COMMIT {
			dst, size := to+(p-from), next-p
			if _, err := windows.VirtualAlloc(dst, size, windows.MEM_COMMIT, windows.PAGE_READWRITE); err != nil {
				return err
			}
			if readable(mbi.Protect) {
				copy(bytesAt(dst, size), bytesAt(p, size))
			}
			if mbi.Protect != windows.PAGE_READWRITE {
				var old uint32
				if err := windows.VirtualProtect(dst, size, mbi.Protect, &old); err != nil {
					return err
				}
			}
		}
		p = next
	}
	return nil
}

func readable(protect uint32) bool {
	if protect&windows.PAGE_GUARD != 0 {
		return false
	}
	switch protect &^ (windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE) {
	case windows.PAGE_READONLY, windows.PAGE_READWRITE, windows.PAGE_WRITECOPY,
		windows.PAGE_EXECUTE_READ, windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return true
	}
	return false
}

func (b *windowsBackend) Commit(addr, bytes uintptr, access Access, anonymous bool) error {
	if anonymous {
		_, err := windows.VirtualAlloc(addr, bytes, windows.MEM_COMMIT, pageProtect(access, true))
		return err
	}
	var old uint32
	return windows.VirtualProtect(addr, bytes, pageProtect(access, true), &old)
}

func (b *windowsBackend) Decommit(addr, bytes uintptr, anonymous bool) error {
	if !anonymous {
		return ErrUnsupported
	}
	return windows.VirtualFree(addr, bytes, windows.MEM_DECOMMIT)
}

func (b *windowsBackend) Discard(addr, bytes uintptr, kind DiscardKind, anonymous bool) error {
	if !anonymous {
		return ErrUnsupported
	}
	switch kind {
	case DiscardZero:
		return recommit(addr, bytes)
	case DiscardFree:
		if procDiscardVirtualMemory.Find() == nil {
			if r, _, _ := procDiscardVirtualMemory.Call(addr, bytes); r == 0 {
				return nil
			}
		}
		_, err := windows.VirtualAlloc(addr, bytes, memReset, windows.PAGE_NOACCESS)
		return err
	}
	return ErrUnsupported
}

// recommit drops and recommits every committed region of [addr, addr+bytes)
// so that it reads back as zero. Each region keeps its protection.
func recommit(addr, bytes uintptr) error {
	end := addr + bytes
	for p := addr; p < end; {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(p, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return err
		}
		next := min(mbi.BaseAddress+mbi.RegionSize, end)
		if mbi.State == windows.MEM_COMMIT {
			if err := windows.VirtualFree(p, next-p, windows.MEM_DECOMMIT); err != nil {
				return err
			}
			if _, err := windows.VirtualAlloc(p, next-p, windows.MEM_COMMIT, mbi.Protect); err != nil {
				return err
			}
		}
		p = next
	}
	return nil
}

func (b *windowsBackend) Prefetch(addr, bytes uintptr) error {
	if err := procPrefetchVirtualMemory.Find(); err != nil {
		return ErrUnsupported
	}
	entry := memoryRangeEntry{VirtualAddress: addr, NumberOfBytes: bytes}
	r, _, err := procPrefetchVirtualMemory.Call(uintptr(windows.CurrentProcess()), 1, uintptr(unsafe.Pointer(&entry)), 0)
	if r == 0 {
		return err
	}
	return nil
}

func (b *windowsBackend) Sync(addr, bytes uintptr, _ bool) error {
	return windows.FlushViewOfFile(addr, bytes)
}

func (b *windowsBackend) OpenSection(s *Section) error {
	h := windows.Handle(s.Fd)
	prot := pageProtect(s.Access, true)
	if s.Executable {
		prot |= secImage
	}

	var name *uint16
	if s.Singleton {
		var info windows.ByHandleFileInformation
		if err := windows.GetFileInformationByHandle(h, &info); err != nil {
			return err
		}
		n, err := windows.UTF16PtrFromString(fmt.Sprintf("Local\\mapio-%08x-%08x%08x",
			info.VolumeSerialNumber, info.FileIndexHigh, info.FileIndexLow))
		if err != nil {
			return err
		}
		name = n
	}

	size := uint64(s.Size)
	native, err := windows.CreateFileMapping(h, nil, prot, uint32(size>>32), uint32(size), name)
	if err != nil {
		return err
	}
	s.native = uintptr(native)
	return nil
}

func (b *windowsBackend) ResizeSection(s *Section, newSize int64) error {
	if s.native != 0 && newSize > s.Size {
		size := newSize
		r, _, _ := procNtExtendSection.Call(s.native, uintptr(unsafe.Pointer(&size)))
		if status := windows.NTStatus(r); status != windows.STATUS_SUCCESS {
			return status.Errno()
		}
		s.Size = newSize
		return nil
	}
	// Sections cannot shrink. Drop ours so the file can be truncated; the
	// next view reopens it.
	if err := b.CloseSection(s); err != nil {
		return err
	}
	s.Size = newSize
	return nil
}

func (b *windowsBackend) CloseSection(s *Section) error {
	if s.native == 0 {
		return nil
	}
	err := windows.CloseHandle(windows.Handle(s.native))
	s.native = 0
	return err
}

func (b *windowsBackend) RecyclingCounterProductive() bool { return false }

// SectionInUse reports whether err says a file could not be shrunk because a
// view still maps it.
func SectionInUse(err error) bool {
	return errors.Is(err, errUserMappedFile)
}
