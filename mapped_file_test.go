package mapio_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/mapio"
	"github.com/hupe1980/mapio/internal/fs"
	"github.com/hupe1980/mapio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappedFile_GrowthScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.bin")
	mf, err := mapio.OpenMappedFile(path, 0, mapio.ModeWrite, mapio.AlwaysNew, mapio.FlagNone)
	require.NoError(t, err)
	defer mf.Close()

	assert.Equal(t, uintptr(0), mf.Address())
	assert.Nil(t, mf.Map())

	n, err := mf.Truncate(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NotZero(t, mf.Address())
	assert.Equal(t, 1, mf.Length())

	written, err := mf.Write(mapio.Request{Buffers: [][]byte{{0x7f}}})
	require.NoError(t, err)
	require.Len(t, written, 1)

	views, err := mf.Read(mapio.Request{Buffers: [][]byte{make([]byte, 1)}})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, []byte{0x7f}, views[0])

	n, err = mf.Truncate(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, uintptr(0), mf.Address())
	assert.Equal(t, 0, mf.Capacity())
	assert.Equal(t, 0, mf.Length())
	assert.Nil(t, mf.Section())

	size, err := mf.UnderlyingFileMaximumExtent()
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestMappedFile_ReservationKeepsAddress(t *testing.T) {
	ps := mapio.PageSize()
	path := filepath.Join(t.TempDir(), "reserve.bin")
	mf, err := mapio.OpenMappedFile(path, 64*ps, mapio.ModeWrite, mapio.IfNeeded, mapio.FlagNone)
	require.NoError(t, err)
	defer mf.Close()

	// Empty file: the reservation is only remembered.
	assert.Equal(t, 64*ps, mf.Reservation())
	assert.Equal(t, 0, mf.Capacity())

	_, err = mf.Truncate(int64(ps))
	require.NoError(t, err)
	addr := mf.Address()
	require.NotZero(t, addr)
	assert.Equal(t, 64*ps, mf.Capacity())

	for size := 2 * ps; size <= 32*ps; size *= 2 {
		_, err = mf.Truncate(int64(size))
		require.NoError(t, err)
		assert.Equal(t, addr, mf.Address())
		assert.Equal(t, size, mf.Length())
	}

	// Growing past the reservation reserves more.
	_, err = mf.Truncate(int64(80 * ps))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, mf.Capacity(), 80*ps)
	assert.Equal(t, 80*ps, mf.Length())
}

func TestMappedFile_RoundTrip(t *testing.T) {
	ps := mapio.PageSize()
	rng := testutil.NewRNG(99)

	mf, err := mapio.MappedTempInode(16*ps, t.TempDir(), mapio.FlagNone)
	require.NoError(t, err)
	defer mf.Close()

	_, err = mf.Truncate(int64(4 * ps))
	require.NoError(t, err)

	off := int64(ps - 7)
	bufs := rng.ScatterGather(2*ps+9, 5)
	_, err = mf.Write(mapio.Request{Buffers: bufs, Offset: off})
	require.NoError(t, err)

	views, err := mf.Read(mapio.Request{Buffers: testutil.Shapes(testutil.Sizes(bufs)...), Offset: off})
	require.NoError(t, err)
	assert.Equal(t, testutil.Concat(bufs), testutil.Concat(views))

	// The data is in the file.
	got := make([]byte, len(testutil.Concat(bufs)))
	_, err = mf.File().ReadAt(got, off)
	require.NoError(t, err)
	assert.Equal(t, testutil.Concat(bufs), got)

	_, err = mf.Barrier(context.Background(), nil, mapio.BarrierWaitAll)
	require.NoError(t, err)
}

func TestMappedFile_UpdateMapAfterExternalGrowth(t *testing.T) {
	ps := mapio.PageSize()
	path := filepath.Join(t.TempDir(), "shared.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, ps), 0o644))

	mf, err := mapio.OpenMappedFile(path, 8*ps, mapio.ModeRead, mapio.OpenExisting, mapio.FlagNone)
	require.NoError(t, err)
	defer mf.Close()
	require.Equal(t, ps, mf.Length())

	n1, err := mf.UpdateMap()
	require.NoError(t, err)
	n2, err := mf.UpdateMap()
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
	assert.Equal(t, ps, mf.Length())

	other, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = other.WriteAt([]byte("tail"), int64(3*ps))
	require.NoError(t, err)
	require.NoError(t, other.Close())

	size, err := mf.MaximumExtent()
	require.NoError(t, err)
	assert.Equal(t, int64(3*ps+4), size)
	assert.Equal(t, 3*ps+4, mf.Length())
	assert.Equal(t, "tail", string(mf.Bytes()[3*ps:]))

	// Read-only files cannot be resized or written.
	_, err = mf.Truncate(int64(ps))
	assert.ErrorIs(t, err, mapio.ErrInvalidArgument)
	_, err = mf.Write(mapio.Request{Buffers: [][]byte{{1}}})
	assert.ErrorIs(t, err, mapio.ErrInvalidArgument)
}

func TestMappedFile_WriteViaSyscall(t *testing.T) {
	ps := mapio.PageSize()
	mf, err := mapio.MappedTempInode(8*ps, t.TempDir(), mapio.FlagWriteViaSyscall)
	require.NoError(t, err)
	defer mf.Close()

	data := []byte("written by the kernel")
	written, err := mf.Write(mapio.Request{Buffers: [][]byte{data}, Offset: int64(ps)})
	require.NoError(t, err)
	assert.Equal(t, []int{len(data)}, testutil.Sizes(written))

	// The file grew and the map followed.
	assert.Equal(t, ps+len(data), mf.Length())
	assert.Equal(t, data, mf.Bytes()[ps:])
}

func TestMappedFile_Shrink(t *testing.T) {
	ps := mapio.PageSize()
	mf, err := mapio.MappedTempInode(8*ps, t.TempDir(), mapio.FlagNone)
	require.NoError(t, err)
	defer mf.Close()

	_, err = mf.Truncate(int64(4 * ps))
	require.NoError(t, err)
	b := mf.Bytes()
	for i := range b {
		b[i] = 0xee
	}

	n, err := mf.Truncate(int64(ps + 1))
	require.NoError(t, err)
	assert.Equal(t, int64(ps+1), n)
	assert.Equal(t, ps+1, mf.Length())
	assert.Equal(t, byte(0xee), mf.Bytes()[ps])

	// Regrowing shows zeros where the discarded pages were.
	_, err = mf.Truncate(int64(4 * ps))
	require.NoError(t, err)
	for _, v := range mf.Bytes()[2*ps:] {
		require.Equal(t, byte(0), v)
	}
}

func TestMappedFile_StartingOffset(t *testing.T) {
	ps := mapio.PageSize()
	path := filepath.Join(t.TempDir(), "offset.bin")
	content := make([]byte, 2*ps)
	copy(content[ps:], "second page")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	mf, err := mapio.OpenMappedFile(path, 0, mapio.ModeRead, mapio.OpenExisting, mapio.FlagNone,
		mapio.WithStartingOffset(int64(ps)))
	if err == nil && mf.Map() == nil {
		// Offsets below the allocation granularity cannot be mapped.
		require.NoError(t, mf.Close())
		t.Skip("page size is below the allocation granularity")
	}
	require.NoError(t, err)
	defer mf.Close()

	assert.Equal(t, ps, mf.Length())
	assert.Equal(t, "second page", string(mf.Bytes()[:11]))
}

func TestMappedFile_NewMappedFile(t *testing.T) {
	ps := mapio.PageSize()
	f, err := fs.Default.OpenFile(filepath.Join(t.TempDir(), "owned.bin"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(int64(ps)))

	mf, err := mapio.NewMappedFile(f, 4*ps, mapio.FlagReadWrite)
	require.NoError(t, err)
	assert.Equal(t, 4*ps, mf.Capacity())
	assert.Equal(t, ps, mf.PageSize())
	assert.False(t, mf.IsNVRAM())
	assert.Same(t, mf.Section(), mf.Map().Section())

	require.NoError(t, mf.Close())
	require.NoError(t, mf.Close())

	// The file was owned and is closed now.
	assert.Error(t, f.Sync())

	_, err = mf.Read(mapio.Request{})
	assert.ErrorIs(t, err, mapio.ErrClosed)
}

func TestOpenMappedFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := mapio.OpenMappedFile(filepath.Join(dir, "a"), 0, mapio.ModeAppend, mapio.IfNeeded, mapio.FlagNone)
	assert.ErrorIs(t, err, mapio.ErrInvalidArgument)

	_, err = mapio.OpenMappedFile(filepath.Join(dir, "b"), -1, mapio.ModeWrite, mapio.IfNeeded, mapio.FlagNone)
	assert.ErrorIs(t, err, mapio.ErrInvalidArgument)

	_, err = mapio.OpenMappedFile(filepath.Join(dir, "missing"), 0, mapio.ModeRead, mapio.OpenExisting, mapio.FlagNone)
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(dir, "exists")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err = mapio.OpenMappedFile(path, 0, mapio.ModeWrite, mapio.OnlyIfNotExist, mapio.FlagNone)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestOpenMappedFile_InjectedFailure(t *testing.T) {
	faulty := fs.NewFaultyFS(fs.Default)
	faulty.AddRule("broken", fs.Fault{FailAfterBytes: 8, FailOnSync: true})

	mf, err := mapio.OpenMappedFile(filepath.Join(t.TempDir(), "broken.bin"), 0, mapio.ModeWrite, mapio.AlwaysNew,
		mapio.FlagNone, mapio.WithFileSystem(faulty))
	require.NoError(t, err)
	defer mf.Close()

	_, err = mf.Barrier(context.Background(), nil, mapio.BarrierWaitAll)
	assert.Error(t, err)

	mf2, err := mapio.OpenMappedFile(filepath.Join(t.TempDir(), "broken-writes.bin"), 0, mapio.ModeWrite, mapio.AlwaysNew,
		mapio.FlagWriteViaSyscall, mapio.WithFileSystem(faulty))
	require.NoError(t, err)
	defer mf2.Close()

	written, err := mf2.Write(mapio.Request{Buffers: [][]byte{make([]byte, 4), make([]byte, 16)}})
	assert.Error(t, err)
	assert.Equal(t, []int{4}, testutil.Sizes(written))
	assert.Equal(t, 4, mf2.Length())
}

func TestMappedFile_TruncateFailureKeepsMapping(t *testing.T) {
	ps := mapio.PageSize()
	path := filepath.Join(t.TempDir(), "stuck.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, ps), 0o644))

	faulty := fs.NewFaultyFS(fs.Default)
	faulty.AddRule("stuck", fs.Fault{FailAfterBytes: -1, FailOnTruncate: true})

	mf, err := mapio.OpenMappedFile(path, 4*ps, mapio.ModeWrite, mapio.OpenExisting, mapio.FlagNone, mapio.WithFileSystem(faulty))
	require.NoError(t, err)
	defer mf.Close()
	addr := mf.Address()
	require.NotZero(t, addr)

	_, err = mf.Truncate(int64(2 * ps))
	require.Error(t, err)
	assert.Equal(t, ps, mf.Length())
	assert.Equal(t, addr, mf.Address())
}
