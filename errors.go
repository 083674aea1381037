package mapio

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mapio/internal/platform"
	"github.com/hupe1980/mapio/resource"
)

var (
	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrArgumentOutOfDomain is returned for zero-byte requests where a size is required.
	ErrArgumentOutOfDomain = errors.New("argument out of domain")
	// ErrNotEnoughMemory is returned when address space or commit charge is exhausted.
	ErrNotEnoughMemory = errors.New("not enough memory")
	// ErrValueTooLarge is returned when a size does not fit the platform.
	ErrValueTooLarge = errors.New("value too large")
	// ErrNotSupported is returned when the platform cannot perform an operation.
	ErrNotSupported = errors.New("operation not supported")
	// ErrNoSpace is returned when a write faults inside the mapping.
	ErrNoSpace = errors.New("no space left on device")
	// ErrAddressInUse is returned when a mapping cannot grow in place.
	ErrAddressInUse = errors.New("address range in use")
	// ErrClosed is returned when using a closed object.
	ErrClosed = errors.New("closed")
)

// Error records a failed operation.
//
// Kind is one of the sentinel errors of this package (or nil), Err the
// underlying platform error (or nil). errors.Is matches both.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil && e.Kind != e.Err:
		return fmt.Sprintf("mapio: %s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("mapio: %s: %v", e.Op, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("mapio: %s: %v", e.Op, e.Kind)
	}
	return "mapio: " + e.Op
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// wrapError attaches op and a portable kind to err. Errors that already carry
// a kind are returned unchanged.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	return &Error{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) error {
	if errors.Is(err, resource.ErrCommitLimitExceeded) {
		return ErrNotEnoughMemory
	}
	switch platform.Classify(err) {
	case platform.KindNoMemory:
		return ErrNotEnoughMemory
	case platform.KindInvalid:
		return ErrInvalidArgument
	case platform.KindTooLarge:
		return ErrValueTooLarge
	case platform.KindUnsupported:
		return ErrNotSupported
	case platform.KindNoSpace:
		return ErrNoSpace
	case platform.KindInUse:
		return ErrAddressInUse
	}
	return nil
}
