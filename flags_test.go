package mapio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlag_String(t *testing.T) {
	tests := []struct {
		flag Flag
		want string
	}{
		{FlagNone, "none"},
		{FlagRead, "read"},
		{FlagReadWrite, "(read|write)"},
		{FlagRead | FlagNoCommit | FlagPageSizes2, "(read|nocommit|page_sizes_2)"},
		{FlagWriteViaSyscall, "write_via_syscall"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.flag.String())
		})
	}
}

func TestFlag_PageSizeTier(t *testing.T) {
	assert.Equal(t, 0, FlagReadWrite.PageSizeTier())
	assert.Equal(t, 1, (FlagRead | FlagPageSizes1).PageSizeTier())
	assert.Equal(t, 2, FlagPageSizes2.PageSizeTier())
	assert.Equal(t, 3, (FlagPageSizes3 | FlagNVRAM).PageSizeTier())
}

func TestFlag_Has(t *testing.T) {
	f := FlagReadWrite | FlagBarrierOnClose
	assert.True(t, f.Has(FlagRead))
	assert.True(t, f.Has(FlagReadWrite))
	assert.False(t, f.Has(FlagCOW))
	assert.True(t, f.writable())
	assert.False(t, FlagRead.writable())
}
