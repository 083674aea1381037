package platform

import "errors"

// ErrorKind classifies an operating system error.
type ErrorKind int

const (
	// KindOther is an error with no portable meaning.
	KindOther ErrorKind = iota
	KindNoMemory
	KindInvalid
	KindTooLarge
	KindUnsupported
	KindNoSpace
	KindInUse
)

// Classify maps err to a portable kind.
func Classify(err error) ErrorKind {
	var fault *Fault
	switch {
	case err == nil:
		return KindOther
	case errors.As(err, &fault):
		return KindNoSpace
	case errors.Is(err, ErrNotContiguous):
		return KindInUse
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	}
	return classifyErrno(err)
}
