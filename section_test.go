package mapio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/mapio/internal/fs"
	"github.com/hupe1980/mapio/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempFile(t *testing.T, size int64) *os.File {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "section.bin"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	if size > 0 {
		require.NoError(t, f.Truncate(size))
	}
	return f
}

func TestNewSection(t *testing.T) {
	ps := int64(PageSize())
	f := tempFile(t, ps)

	s, err := NewSection(f, 0, FlagReadWrite)
	require.NoError(t, err)

	n, err := s.Length()
	require.NoError(t, err)
	assert.Equal(t, ps, n)
	assert.Equal(t, f.Fd(), s.Fd())
	assert.False(t, s.IsAnonymous())
	assert.False(t, s.IsNVRAM())
	assert.Equal(t, FlagReadWrite, s.Flags())
	assert.Same(t, f, s.Backing())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// The borrowed file is still open.
	_, err = f.Stat()
	require.NoError(t, err)

	_, err = s.Length()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewSection_Errors(t *testing.T) {
	_, err := NewSection(nil, 0, FlagRead)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	f := tempFile(t, 0)
	_, err = NewSection(f, -1, FlagRead)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Growing the file needs write access.
	_, err = NewSection(f, 4096, FlagRead)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewSection_GrowsFile(t *testing.T) {
	ps := int64(PageSize())
	f := tempFile(t, 0)

	s, err := NewSection(f, 2*ps, FlagReadWrite)
	require.NoError(t, err)
	defer s.Close()

	size, err := fs.MaximumExtent(f)
	require.NoError(t, err)
	assert.Equal(t, 2*ps, size)
}

func TestSection_Truncate(t *testing.T) {
	ps := int64(PageSize())
	f := tempFile(t, ps)

	s, err := NewSection(f, 0, FlagReadWrite)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Truncate(4 * ps)
	require.NoError(t, err)
	assert.Equal(t, 4*ps, n)
	size, _ := fs.MaximumExtent(f)
	assert.Equal(t, 4*ps, size)

	n, err = s.Truncate(2 * ps)
	require.NoError(t, err)
	assert.Equal(t, 2*ps, n)

	// Zero re-synchronises with the file.
	require.NoError(t, f.Truncate(3*ps))
	n, err = s.Truncate(0)
	require.NoError(t, err)
	assert.Equal(t, 3*ps, n)

	_, err = s.Truncate(-1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSection_TruncateReadOnly(t *testing.T) {
	f := tempFile(t, int64(PageSize()))
	s, err := NewSection(f, 0, FlagRead)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Truncate(int64(2 * PageSize()))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewAnonymousSection(t *testing.T) {
	ps := PageSize()
	s, err := NewAnonymousSection(int64(4*ps), t.TempDir(), FlagNone)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.IsAnonymous())
	assert.True(t, s.Flags().Has(FlagReadWrite))

	m, err := MapSection(s, 0, 0, FlagNone)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 4*ps, m.Length())
	assert.Same(t, s, m.Section())
	assert.Equal(t, s.Fd(), m.Fd())

	m.Bytes()[0] = 42
	buf := make([]byte, 1)
	_, err = s.Backing().ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(42), buf[0])

	_, err = NewAnonymousSection(0, "", FlagNone)
	assert.ErrorIs(t, err, ErrArgumentOutOfDomain)
}

func TestMapSection(t *testing.T) {
	ps := PageSize()
	f := tempFile(t, int64(ps+100))

	s, err := NewSection(f, 0, FlagReadWrite)
	require.NoError(t, err)
	defer s.Close()

	m, err := MapSection(s, 8*ps, 0, FlagReadWrite)
	require.NoError(t, err)
	defer m.Close()
	requireInvariants(t, m)

	assert.Equal(t, 8*ps, m.Capacity())
	assert.Equal(t, ps+100, m.Length())

	// Idempotent without intervening growth.
	n1, err := m.UpdateMap()
	require.NoError(t, err)
	n2, err := m.UpdateMap()
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
	assert.Equal(t, ps+100, n2)

	// External growth becomes visible, capped at the reservation.
	require.NoError(t, f.Truncate(int64(3*ps)))
	n, err := m.UpdateMap()
	require.NoError(t, err)
	assert.Equal(t, 3*ps, n)

	require.NoError(t, f.Truncate(int64(20*ps)))
	n, err = m.UpdateMap()
	require.NoError(t, err)
	assert.Equal(t, 8*ps, n)
	requireInvariants(t, m)
}

func TestMapSection_Offset(t *testing.T) {
	g := int(platform.Default().Granularity())
	f := tempFile(t, int64(2*g))
	_, err := f.WriteAt([]byte("hello"), int64(g))
	require.NoError(t, err)

	s, err := NewSection(f, 0, FlagRead)
	require.NoError(t, err)
	defer s.Close()

	m, err := MapSection(s, 0, int64(g), FlagRead)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, g, m.Length())
	assert.Equal(t, int64(g), m.Offset())
	assert.Equal(t, "hello", string(m.Bytes()[:5]))

	_, err = MapSection(s, 0, 1, FlagRead)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = MapSection(s, 0, int64(4*g), FlagRead)
	assert.ErrorIs(t, err, ErrArgumentOutOfDomain)
	_, err = MapSection(nil, 0, 0, FlagRead)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMapSection_FileRoundTripAndBarrier(t *testing.T) {
	ps := PageSize()
	f := tempFile(t, int64(2*ps))

	s, err := NewSection(f, 0, FlagReadWrite)
	require.NoError(t, err)
	defer s.Close()

	metrics := &BasicMetricsCollector{}
	m, err := MapSection(s, 0, 0, FlagReadWrite|FlagBarrierOnClose, WithMetricsCollector(metrics))
	require.NoError(t, err)

	data := []byte("persisted through the page cache")
	_, err = m.Write(Request{Buffers: [][]byte{data}, Offset: int64(ps - 4)})
	require.NoError(t, err)

	for _, kind := range []BarrierKind{BarrierNoWaitViewOnly, BarrierWaitViewOnly, BarrierWaitDataOnly, BarrierWaitAll} {
		regions, err := m.Barrier(context.Background(), nil, kind)
		require.NoError(t, err, kind.String())
		require.Len(t, regions, 1)
	}
	require.NoError(t, m.Close())
	assert.Equal(t, int64(5), metrics.GetStats().BarrierCount)

	buf := make([]byte, len(data))
	_, err = f.ReadAt(buf, int64(ps-4))
	require.NoError(t, err)
	assert.Equal(t, data, buf)
}

func TestMapSection_ClosedSection(t *testing.T) {
	f := tempFile(t, int64(PageSize()))
	s, err := NewSection(f, 0, FlagRead)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = MapSection(s, 0, 0, FlagRead)
	assert.ErrorIs(t, err, ErrClosed)
}
