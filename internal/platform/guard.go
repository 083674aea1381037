package platform

import (
	"fmt"
	"runtime/debug"
)

// Fault describes a hardware fault taken inside a guarded window.
type Fault struct {
	Addr uintptr
}

func (f *Fault) Error() string {
	return fmt.Sprintf("platform: memory fault at %#x", f.Addr)
}

// addrError is implemented by the runtime error raised for faults when
// panic-on-fault is enabled.
type addrError interface {
	error
	Addr() uintptr
}

// Guard runs fn with faults converted to panics. A fault whose address lies in
// [lo, hi) is returned as a *Fault. Any other panic is re-raised unchanged.
func Guard(lo, hi uintptr, fn func()) (err error) {
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		r := recover()
		if r == nil {
			return
		}
		if ae, ok := r.(addrError); ok {
			if a := ae.Addr(); a >= lo && a < hi {
				err = &Fault{Addr: a}
				return
			}
		}
		panic(r)
	}()
	fn()
	return nil
}

// GuardedCopy copies src into dst, where dst lies inside the mapping
// [lo, hi). On a fault inside the mapping it returns 0 and a *Fault.
func GuardedCopy(dst, src []byte, lo, hi uintptr) (int, error) {
	var n int
	if err := Guard(lo, hi, func() { n = copy(dst, src) }); err != nil {
		return 0, err
	}
	return n, nil
}

// GuardedClear zeroes b, which lies inside the mapping [lo, hi).
func GuardedClear(b []byte, lo, hi uintptr) error {
	return Guard(lo, hi, func() { clear(b) })
}
