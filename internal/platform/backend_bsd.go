//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package platform

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mapNoReserve      = 0
	mapPopulate       = 0
	mapFixedNoReplace = 0
	mapSync           = 0
	mapSharedValidate = 0
)

func hugeFlags(_ uintptr, anonymous bool) (int, error) {
	if anonymous {
		return 0, ErrUnsupported
	}
	return 0, nil
}

func extendInPlace(_, _, _ uintptr) error { return ErrUnsupported }

func movePieces(_, _, _, _ uintptr) error { return ErrUnsupported }

func discard(region []byte, kind DiscardKind, anonymous bool) error {
	if kind != DiscardZero || !anonymous || len(region) == 0 {
		return ErrUnsupported
	}
	// A fresh private mapping over the range reads back as zero.
	_, err := unix.MmapPtr(-1, 0, unsafe.Pointer(&region[0]), uintptr(len(region)),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED)
	return err
}

func discoverPageSizes(base uintptr) (all, available []uintptr) {
	return []uintptr{base}, []uintptr{base}
}

func strictOvercommit() bool { return false }
