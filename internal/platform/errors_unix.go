//go:build !windows

package platform

import (
	"errors"
	"syscall"
)

func classifyErrno(err error) ErrorKind {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return KindOther
	}
	switch errno {
	case syscall.ENOMEM:
		return KindNoMemory
	case syscall.EINVAL, syscall.EBADF:
		return KindInvalid
	case syscall.EFBIG, syscall.EOVERFLOW:
		return KindTooLarge
	case syscall.ENOTSUP, syscall.ENODEV:
		return KindUnsupported
	case syscall.ENOSPC:
		return KindNoSpace
	case syscall.EEXIST:
		return KindInUse
	}
	return KindOther
}

// SectionInUse reports whether err says a file could not be shrunk because a
// view still maps it. POSIX never refuses.
func SectionInUse(error) bool { return false }
