package mapio

import "github.com/hupe1980/mapio/internal/platform"

// PageSize returns the smallest page size of the platform.
func PageSize() int { return int(platform.Default().PageSize()) }

// PageSizes returns the page sizes of the platform in ascending order. With
// onlyAvailable set, sizes the process cannot currently allocate are omitted.
// Page size tier n of a Flag selects PageSizes(true)[n].
func PageSizes(onlyAvailable bool) []int {
	sizes := platform.Default().PageSizes(onlyAvailable)
	ret := make([]int, len(sizes))
	for i, s := range sizes {
		ret[i] = int(s)
	}
	return ret
}

func pageSizeFor(b platform.Backend, flags Flag) (uintptr, error) {
	tier := flags.PageSizeTier()
	sizes := b.PageSizes(true)
	if tier >= len(sizes) {
		return 0, newError("page size", ErrNotSupported)
	}
	return sizes[tier], nil
}
