//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package platform

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var defaultBackend Backend = &posixBackend{pageSize: basePageSize}

type posixBackend struct {
	pageSize uintptr

	sizesOnce sync.Once
	all       []uintptr
	available []uintptr
}

func prot(a Access) int {
	p := unix.PROT_NONE
	if a.Has(AccessRead) {
		p |= unix.PROT_READ
	}
	if a.Has(AccessWrite) || a.Has(AccessCOW) {
		p |= unix.PROT_WRITE
	}
	if a.Has(AccessExecute) {
		p |= unix.PROT_EXEC
	}
	return p
}

func (b *posixBackend) PageSize() uintptr { return b.pageSize }

func (b *posixBackend) Granularity() uintptr { return b.pageSize }

func (b *posixBackend) PageSizes(onlyAvailable bool) []uintptr {
	b.sizesOnce.Do(func() {
		b.all, b.available = discoverPageSizes(b.pageSize)
	})
	if onlyAvailable {
		return b.available
	}
	return b.all
}

func (b *posixBackend) pageSizeOf(req Request) uintptr {
	if req.PageSize > b.pageSize {
		return req.PageSize
	}
	return b.pageSize
}

func (b *posixBackend) mapFlags(req Request) (p, flags int, err error) {
	p = prot(req.Access)
	if req.Anonymous() {
		flags = unix.MAP_PRIVATE | unix.MAP_ANON
		if !req.Commit {
			p = unix.PROT_NONE
			flags |= mapNoReserve
		}
	} else if req.Access.Has(AccessCOW) {
		flags = unix.MAP_PRIVATE
	} else {
		flags = unix.MAP_SHARED
	}
	if req.PageSize > b.pageSize {
		hf, err := hugeFlags(req.PageSize, req.Anonymous())
		if err != nil {
			return 0, 0, err
		}
		flags |= hf
	}
	if req.Prefault {
		flags |= mapPopulate
	}
	if req.Fixed {
		flags |= mapFixedNoReplace
	}
	return p, flags, nil
}

func (b *posixBackend) Map(req Request) (Region, error) {
	if req.Bytes == 0 {
		return Region{}, unix.EINVAL
	}
	ps := b.pageSizeOf(req)
	bytes := RoundUp(req.Bytes, ps)
	p, flags, err := b.mapFlags(req)
	if err != nil {
		return Region{}, err
	}

	fd, off := -1, int64(0)
	if !req.Anonymous() {
		fd, off = int(req.Section.Fd), req.Offset
	}
	hint := unsafe.Pointer(req.Addr) //nolint:govet // placement hint, not dereferenced

	var (
		addr  unsafe.Pointer
		nvram bool
	)
	if req.NVRAM && flags&unix.MAP_SHARED != 0 && mapSync != 0 {
		addr, err = unix.MmapPtr(fd, off, hint, bytes, p, (flags&^unix.MAP_SHARED)|mapSharedValidate|mapSync)
		nvram = err == nil
	}
	if !nvram {
		addr, err = unix.MmapPtr(fd, off, hint, bytes, p, flags)
		// Without MAP_SYNC there is nothing to check; trust the caller.
		nvram = req.NVRAM && !req.Anonymous() && mapSync == 0
	}
	if err != nil {
		if req.Fixed && errors.Is(err, unix.EEXIST) {
			return Region{}, ErrNotContiguous
		}
		return Region{}, err
	}
	if req.Fixed && uintptr(addr) != req.Addr {
		// The kernel treated the placement as a hint.
		_ = unix.MunmapPtr(addr, bytes)
		return Region{}, ErrNotContiguous
	}
	if req.Prefault && mapPopulate == 0 {
		_ = unix.Madvise(bytesAt(uintptr(addr), bytes), unix.MADV_WILLNEED)
	}
	return Region{Addr: uintptr(addr), Bytes: bytes, PageSize: ps, NVRAM: nvram}, nil
}

func (b *posixBackend) Unmap(addr, bytes uintptr, _ bool) error {
	if bytes == 0 {
		return nil
	}
	return unix.MunmapPtr(unsafe.Pointer(addr), bytes) //nolint:govet // addr is a live mapping
}

func (b *posixBackend) Extend(addr, oldBytes uintptr, req Request) error {
	newBytes := RoundUp(req.Bytes, b.pageSizeOf(req))
	if newBytes <= oldBytes {
		return nil
	}
	// Growing in place gives the tail the protection of the last mapping,
	// which is only right while the range is uniform.
	if !req.Uneven {
		if err := extendInPlace(addr, oldBytes, newBytes); err == nil {
			return nil
		}
	}

	tail := req
	tail.Addr = addr + oldBytes
	tail.Fixed = true
	tail.Bytes = newBytes - oldBytes
	tail.NVRAM = false
	if !tail.Anonymous() {
		tail.Offset += int64(oldBytes)
	}
	_, err := b.Map(tail)
	return err
}

func (b *posixBackend) Relocate(addr, oldBytes uintptr, req Request) (Region, error) {
	fresh := req
	fresh.Addr, fresh.Fixed = 0, false
	r, err := b.Map(fresh)
	if err != nil {
		return Region{}, err
	}
	if req.Anonymous() {
		err = b.moveAnonymous(addr, r.Addr, oldBytes, r.PageSize, req)
	} else {
		err = b.Unmap(addr, oldBytes, false)
	}
	if err != nil {
		_ = b.Unmap(r.Addr, r.Bytes, req.Anonymous())
		return Region{}, err
	}
	return r, nil
}

// moveAnonymous moves the pages of [from, from+n) over the start of the fresh
// reservation at to. On error the old range is left as it was.
func (b *posixBackend) moveAnonymous(from, to, n, pageSize uintptr, req Request) error {
	err := movePieces(from, to, n, pageSize)
	if err == nil {
		return nil
	}
	if req.Uneven {
		// Without remapping there is no way to tell which pages are
		// committed.
		return err
	}
	if req.Commit {
		if _, ferr := GuardedCopy(bytesAt(to, n), bytesAt(from, n), from, from+n); ferr != nil {
			return fmt.Errorf("%w: %v", ErrUnsupported, ferr)
		}
	}
	return b.Unmap(from, n, true)
}

func (b *posixBackend) Commit(addr, bytes uintptr, access Access, _ bool) error {
	return unix.Mprotect(bytesAt(addr, bytes), prot(access))
}

func (b *posixBackend) Decommit(addr, bytes uintptr, anonymous bool) error {
	if anonymous {
		// Replacing the range with a fresh reservation returns the pages and
		// their commit charge.
		_, err := unix.MmapPtr(-1, 0, unsafe.Pointer(addr), bytes, unix.PROT_NONE, //nolint:govet // addr is a live mapping
			unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED|mapNoReserve)
		return err
	}
	region := bytesAt(addr, bytes)
	if err := unix.Madvise(region, unix.MADV_DONTNEED); err != nil {
		return err
	}
	return unix.Mprotect(region, unix.PROT_NONE)
}

func (b *posixBackend) Discard(addr, bytes uintptr, kind DiscardKind, anonymous bool) error {
	return discard(bytesAt(addr, bytes), kind, anonymous)
}

func (b *posixBackend) Prefetch(addr, bytes uintptr) error {
	return unix.Madvise(bytesAt(addr, bytes), unix.MADV_WILLNEED)
}

func (b *posixBackend) Sync(addr, bytes uintptr, wait bool) error {
	flags := unix.MS_ASYNC
	if wait {
		flags = unix.MS_SYNC
	}
	return unix.Msync(bytesAt(addr, bytes), flags)
}

func (b *posixBackend) OpenSection(s *Section) error {
	if s.Executable {
		return ErrUnsupported
	}
	return nil
}

func (b *posixBackend) ResizeSection(s *Section, newSize int64) error {
	s.Size = newSize
	return nil
}

func (b *posixBackend) CloseSection(*Section) error { return nil }

func (b *posixBackend) RecyclingCounterProductive() bool {
	return strictOvercommit()
}
