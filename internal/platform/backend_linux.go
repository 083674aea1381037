//go:build linux

package platform

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mapNoReserve      = unix.MAP_NORESERVE
	mapPopulate       = unix.MAP_POPULATE
	mapFixedNoReplace = unix.MAP_FIXED_NOREPLACE
	mapSync           = unix.MAP_SYNC
	mapSharedValidate = unix.MAP_SHARED_VALIDATE
)

const hugePagesDir = "/sys/kernel/mm/hugepages"

func hugeFlags(pageSize uintptr, anonymous bool) (int, error) {
	if !anonymous {
		// File-backed huge pages come from the file system (hugetlbfs).
		return 0, nil
	}
	return unix.MAP_HUGETLB | int(Shift(pageSize))<<unix.MAP_HUGE_SHIFT, nil
}

func extendInPlace(addr, oldBytes, newBytes uintptr) error {
	p, err := unix.MremapPtr(unsafe.Pointer(addr), oldBytes, nil, newBytes, 0) //nolint:govet // addr is a live mapping
	if err != nil {
		return err
	}
	if uintptr(p) != addr {
		return ErrNotContiguous
	}
	return nil
}

// movePieces moves the pages of [from, from+n) to to, replacing the mapping
// there. mremap refuses a range that spans mappings with different
// protections, so a failing range is halved until each piece lies inside one
// mapping. On error the pieces already moved are put back.
func movePieces(from, to, n, pageSize uintptr) error {
	moved, err := remapRange(from, to, n, pageSize)
	if err != nil && moved > 0 {
		_, _ = remapRange(to, from, moved, pageSize)
	}
	return err
}

func remapRange(from, to, n, pageSize uintptr) (uintptr, error) {
	var done uintptr
	for done < n {
		chunk := n - done
		for {
			_, err := unix.MremapPtr(unsafe.Pointer(from+done), chunk, //nolint:govet // live mapping
				unsafe.Pointer(to+done), chunk, unix.MREMAP_MAYMOVE|unix.MREMAP_FIXED) //nolint:govet // live mapping
			if err == nil {
				break
			}
			if !errors.Is(err, unix.EFAULT) || chunk <= pageSize {
				return done, err
			}
			chunk = max(RoundDown(chunk/2, pageSize), pageSize)
		}
		done += chunk
	}
	return done, nil
}

func discard(region []byte, kind DiscardKind, anonymous bool) error {
	switch kind {
	case DiscardZero:
		if anonymous {
			return unix.Madvise(region, unix.MADV_DONTNEED)
		}
		return unix.Madvise(region, unix.MADV_REMOVE)
	case DiscardFree:
		if !anonymous {
			return ErrUnsupported
		}
		err := unix.Madvise(region, unix.MADV_FREE)
		if errors.Is(err, unix.EINVAL) {
			// Kernels before 4.5.
			err = unix.Madvise(region, unix.MADV_DONTNEED)
		}
		return err
	}
	return ErrUnsupported
}

// discoverPageSizes reads the huge page pools the kernel exposes. A pool is
// available when it has pages reserved.
func discoverPageSizes(base uintptr) (all, available []uintptr) {
	all = []uintptr{base}
	available = []uintptr{base}

	entries, err := os.ReadDir(hugePagesDir)
	if err != nil {
		return all, available
	}
	for _, e := range entries {
		kb, ok := strings.CutPrefix(e.Name(), "hugepages-")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(kb, "kB"), 10, 64)
		if err != nil {
			continue
		}
		size := uintptr(n << 10)
		all = append(all, size)

		raw, err := os.ReadFile(filepath.Join(hugePagesDir, e.Name(), "nr_hugepages"))
		if err != nil {
			continue
		}
		if pages, err := strconv.ParseUint(string(bytes.TrimSpace(raw)), 10, 64); err == nil && pages > 0 {
			available = append(available, size)
		}
	}
	slices.Sort(all)
	slices.Sort(available)
	return all, available
}

var strictOvercommit = sync.OnceValue(func() bool {
	raw, err := os.ReadFile("/proc/sys/vm/overcommit_memory")
	if err != nil {
		return false
	}
	return string(bytes.TrimSpace(raw)) == "2"
})
