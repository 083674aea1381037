//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly && !windows

package platform

var defaultBackend Backend = unsupportedBackend{}

type unsupportedBackend struct{}

func (unsupportedBackend) PageSize() uintptr                  { return basePageSize }
func (unsupportedBackend) PageSizes(bool) []uintptr           { return []uintptr{basePageSize} }
func (unsupportedBackend) Granularity() uintptr               { return basePageSize }
func (unsupportedBackend) Map(Request) (Region, error)        { return Region{}, ErrUnsupported }
func (unsupportedBackend) Unmap(uintptr, uintptr, bool) error { return ErrUnsupported }
func (unsupportedBackend) Extend(uintptr, uintptr, Request) error {
	return ErrUnsupported
}
func (unsupportedBackend) Relocate(uintptr, uintptr, Request) (Region, error) {
	return Region{}, ErrUnsupported
}
func (unsupportedBackend) Commit(uintptr, uintptr, Access, bool) error { return ErrUnsupported }
func (unsupportedBackend) Decommit(uintptr, uintptr, bool) error       { return ErrUnsupported }
func (unsupportedBackend) Discard(uintptr, uintptr, DiscardKind, bool) error {
	return ErrUnsupported
}
func (unsupportedBackend) Prefetch(uintptr, uintptr) error     { return ErrUnsupported }
func (unsupportedBackend) Sync(uintptr, uintptr, bool) error   { return ErrUnsupported }
func (unsupportedBackend) OpenSection(*Section) error          { return ErrUnsupported }
func (unsupportedBackend) ResizeSection(*Section, int64) error { return ErrUnsupported }
func (unsupportedBackend) CloseSection(*Section) error         { return nil }
func (unsupportedBackend) RecyclingCounterProductive() bool    { return false }
