//go:build windows

package platform

import (
	"errors"

	"golang.org/x/sys/windows"
)

func classifyErrno(err error) ErrorKind {
	var errno windows.Errno
	if !errors.As(err, &errno) {
		return KindOther
	}
	switch errno {
	case windows.ERROR_NOT_ENOUGH_MEMORY, windows.ERROR_COMMITMENT_LIMIT, windows.ERROR_OUTOFMEMORY:
		return KindNoMemory
	case windows.ERROR_INVALID_PARAMETER, windows.ERROR_INVALID_HANDLE:
		return KindInvalid
	case windows.ERROR_FILE_TOO_LARGE:
		return KindTooLarge
	case windows.ERROR_NOT_SUPPORTED, errUserMappedFile:
		return KindUnsupported
	case windows.ERROR_DISK_FULL, windows.ERROR_HANDLE_DISK_FULL:
		return KindNoSpace
	case errInvalidAddress, windows.ERROR_ALREADY_EXISTS:
		return KindInUse
	}
	return KindOther
}
