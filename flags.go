package mapio

import (
	"strings"

	"github.com/hupe1980/mapio/internal/platform"
)

// Flag describes the permissions and behaviour of a Section or Map.
type Flag uint32

const (
	// FlagNone requests no access. Combined with FlagNoCommit it reserves
	// address space only.
	FlagNone Flag = 0

	// FlagRead allows reading.
	FlagRead Flag = 1 << 0
	// FlagWrite allows writing.
	FlagWrite Flag = 1 << 1
	// FlagCOW makes writes private to the mapping.
	FlagCOW Flag = 1 << 2
	// FlagExecute allows execution.
	FlagExecute Flag = 1 << 3

	// FlagNoCommit reserves address space without backing memory.
	FlagNoCommit Flag = 1 << 8
	// FlagPrefault populates page tables up front.
	FlagPrefault Flag = 1 << 9
	// FlagExecutable maps the backing file as an executable image (Windows).
	FlagExecutable Flag = 1 << 10
	// FlagSingleton shares one named section per file across the session (Windows).
	FlagSingleton Flag = 1 << 11
	// FlagBarrierOnClose issues a blocking barrier when a writable map closes.
	FlagBarrierOnClose Flag = 1 << 16
	// FlagNVRAM treats the backing store as non-volatile RAM.
	FlagNVRAM Flag = 1 << 17
	// FlagWriteViaSyscall makes MappedFile.Write use the file's write call.
	FlagWriteViaSyscall Flag = 1 << 18

	// FlagPageSizes1 selects the second smallest available page size.
	FlagPageSizes1 Flag = 1 << 24
	// FlagPageSizes2 selects the third smallest available page size.
	FlagPageSizes2 Flag = 2 << 24
	// FlagPageSizes3 selects the fourth smallest available page size.
	FlagPageSizes3 Flag = 3 << 24

	// FlagReadWrite allows reading and writing.
	FlagReadWrite = FlagRead | FlagWrite

	pageSizeMask Flag = 3 << 24
	accessMask        = FlagRead | FlagWrite | FlagCOW | FlagExecute
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagRead, "read"},
	{FlagWrite, "write"},
	{FlagCOW, "cow"},
	{FlagExecute, "execute"},
	{FlagNoCommit, "nocommit"},
	{FlagPrefault, "prefault"},
	{FlagExecutable, "executable"},
	{FlagSingleton, "singleton"},
	{FlagBarrierOnClose, "barrier_on_close"},
	{FlagNVRAM, "nvram"},
	{FlagWriteViaSyscall, "write_via_syscall"},
}

// Has reports whether every bit of o is set in f.
func (f Flag) Has(o Flag) bool { return f&o == o }

// PageSizeTier returns the page size tier in [0, 3].
func (f Flag) PageSizeTier() int { return int((f & pageSizeMask) >> 24) }

func (f Flag) String() string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	switch f & pageSizeMask {
	case FlagPageSizes1:
		names = append(names, "page_sizes_1")
	case FlagPageSizes2:
		names = append(names, "page_sizes_2")
	case FlagPageSizes3:
		names = append(names, "page_sizes_3")
	}
	switch len(names) {
	case 0:
		return "none"
	case 1:
		return names[0]
	}
	return "(" + strings.Join(names, "|") + ")"
}

func (f Flag) access() platform.Access {
	var a platform.Access
	if f.Has(FlagRead) {
		a |= platform.AccessRead
	}
	if f.Has(FlagWrite) {
		a |= platform.AccessWrite
	}
	if f.Has(FlagCOW) {
		a |= platform.AccessCOW | platform.AccessRead
	}
	if f.Has(FlagExecute) {
		a |= platform.AccessExecute
	}
	return a
}

func (f Flag) writable() bool { return f&(FlagWrite|FlagCOW) != 0 }
