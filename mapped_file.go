package mapio

import (
	"context"
	"errors"
	"os"

	"github.com/hupe1980/mapio/internal/conv"
	"github.com/hupe1980/mapio/internal/fs"
	"github.com/hupe1980/mapio/internal/platform"
)

// Mode is the access a MappedFile opens its file with.
type Mode int

const (
	// ModeRead opens the file read-only.
	ModeRead Mode = iota
	// ModeWrite opens the file read-write.
	ModeWrite
	// ModeAppend is not supported for mapped files.
	ModeAppend
)

// Creation controls what happens when the file does or does not exist.
type Creation int

const (
	// OpenExisting fails unless the file exists.
	OpenExisting Creation = iota
	// OnlyIfNotExist fails if the file exists.
	OnlyIfNotExist
	// IfNeeded creates the file if it does not exist.
	IfNeeded
	// TruncateExisting truncates an existing file to zero.
	TruncateExisting
	// AlwaysNew creates the file, replacing any existing one.
	AlwaysNew
)

// empty reports whether the creation guarantees an empty file.
func (c Creation) empty() bool {
	return c == OnlyIfNotExist || c == TruncateExisting || c == AlwaysNew
}

func openFlags(mode Mode, creation Creation) (int, error) {
	var flag int
	switch mode {
	case ModeRead:
		flag = os.O_RDONLY
	case ModeWrite:
		flag = os.O_RDWR
	default:
		return 0, newError("open mapped file", ErrInvalidArgument)
	}
	if mode == ModeRead && creation != OpenExisting && creation != IfNeeded {
		return 0, newError("open mapped file", ErrInvalidArgument)
	}
	switch creation {
	case OpenExisting:
	case OnlyIfNotExist:
		flag |= os.O_CREATE | os.O_EXCL
	case IfNeeded:
		flag |= os.O_CREATE
	case TruncateExisting:
		flag |= os.O_TRUNC
	case AlwaysNew:
		flag |= os.O_CREATE | os.O_TRUNC
	default:
		return 0, newError("open mapped file", ErrInvalidArgument)
	}
	return flag, nil
}

// MappedFile is a file whose contents are always available through a
// mapping with room to grow.
//
// The mapping reserves more address space than the file needs, so the file
// can grow without the mapping moving. Reads and writes go through the
// mapping; offsets are relative to the starting offset (see
// WithStartingOffset). An empty file is not mapped until it has contents.
//
// A MappedFile is not safe for concurrent use.
type MappedFile struct {
	file        *ownedFile
	sflags      Flag
	reservation int
	offset      int64
	section     *Section
	mp          *Map
	opts        options
	closed      bool
}

// OpenMappedFile opens or creates the file at path and maps it with
// reservation bytes of address space. A reservation of 0 reserves the file's
// current length. If the file is empty, mapping is deferred until Truncate
// or UpdateMap finds contents.
//
// When sflags carries no access bits the section's access follows mode.
func OpenMappedFile(path string, reservation int, mode Mode, creation Creation, sflags Flag, optFns ...Option) (*MappedFile, error) {
	if reservation < 0 {
		return nil, newError("open mapped file", ErrInvalidArgument)
	}
	flag, err := openFlags(mode, creation)
	if err != nil {
		return nil, err
	}
	o := applyOptions(optFns)
	f, err := o.fileSystem.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, wrapError("open mapped file", err)
	}
	if sflags&accessMask == 0 {
		sflags |= FlagRead
		if mode == ModeWrite {
			sflags |= FlagWrite
		}
	}
	o.logger = o.logger.WithPath(path)

	mf := newMappedFile(f, sflags, o)
	if creation.empty() {
		mf.reservation = reservation
		return mf, nil
	}
	mf.tryReserve(reservation)
	return mf, nil
}

// NewMappedFile takes ownership of f and maps it with reservation bytes of
// address space. A failure to map now is not reported; the reservation is
// remembered and mapping is retried by Truncate and UpdateMap.
//
// When sflags carries no access bits the file is mapped read-only.
func NewMappedFile(f fs.File, reservation int, sflags Flag, optFns ...Option) (*MappedFile, error) {
	if f == nil || reservation < 0 {
		return nil, newError("mapped file", ErrInvalidArgument)
	}
	if sflags&accessMask == 0 {
		sflags |= FlagRead
	}
	o := applyOptions(optFns)
	o.logger = o.logger.WithPath(f.Name())
	mf := newMappedFile(f, sflags, o)
	mf.tryReserve(reservation)
	return mf, nil
}

// MappedTempInode creates a read-write MappedFile over an unnamed temporary
// inode in dir. The inode disappears when the MappedFile closes.
func MappedTempInode(reservation int, dir string, sflags Flag, optFns ...Option) (*MappedFile, error) {
	if reservation < 0 {
		return nil, newError("mapped temp inode", ErrInvalidArgument)
	}
	o := applyOptions(optFns)
	f, err := o.fileSystem.TempInode(dir)
	if err != nil {
		return nil, wrapError("mapped temp inode", err)
	}
	mf := newMappedFile(f, sflags|FlagReadWrite, o)
	mf.reservation = reservation
	return mf, nil
}

func newMappedFile(f fs.File, sflags Flag, o options) *MappedFile {
	return &MappedFile{
		file:   &ownedFile{f: f},
		sflags: sflags,
		offset: o.startingOffset,
		opts:   o,
	}
}

func (mf *MappedFile) tryReserve(reservation int) {
	if _, err := mf.Reserve(reservation); err != nil {
		mf.reservation = reservation
		mf.opts.logger.Debug("deferred mapping", "reservation", reservation, "error", err)
	}
}

// Reserve ensures at least reservation bytes of address space are mapped
// over the file. A reservation of 0 reserves the file's current length. The
// address is kept when the platform can grow the reservation in place.
//
// If the file is still empty the reservation is only remembered.
func (mf *MappedFile) Reserve(reservation int) (int, error) {
	if mf.closed {
		return 0, newError("reserve", ErrClosed)
	}
	if reservation < 0 {
		return 0, newError("reserve", ErrInvalidArgument)
	}
	size, err := fs.MaximumExtent(mf.file.file())
	if err != nil {
		return 0, wrapError("reserve", err)
	}
	avail := size - mf.offset
	if reservation == 0 && avail > 0 {
		if reservation, err = conv.Int64ToInt(avail); err != nil {
			return 0, &Error{Op: "reserve", Kind: ErrValueTooLarge, Err: err}
		}
	}
	if reservation == 0 || (mf.section == nil && avail <= 0) {
		mf.reservation = reservation
		return reservation, nil
	}

	if mf.section == nil {
		s, err := newSection(borrowedFile{f: mf.file.file()}, 0, mf.sflags, mf.opts)
		if err != nil {
			return 0, err
		}
		mf.section = s
	}
	if mf.mp != nil {
		if _, err := mf.mp.Truncate(reservation, false); err == nil {
			mf.reservation = reservation
			if _, err := mf.mp.UpdateMap(); err != nil {
				return 0, err
			}
			return mf.mp.Capacity(), nil
		}
	}

	mp, err := mapSection(mf.section, reservation, mf.offset, mf.sflags, mf.opts)
	if err != nil {
		return 0, err
	}
	if mf.mp != nil {
		if err := mf.mp.Close(); err != nil {
			_ = mp.Close()
			return 0, err
		}
	}
	mf.mp = mp
	mf.reservation = reservation
	mf.opts.logger.LogMap(context.Background(), "file", reservation, mp.Address(), nil)
	return mp.Capacity(), nil
}

// Truncate resizes the file and returns the new size.
//
// A newSize of 0 unmaps the file completely. Shrinking returns the storage of
// pages past the new end before the file shrinks. Growing past the
// reservation reserves more address space, which may move the mapping.
// Running out of address space is reported as ErrNotEnoughMemory.
func (mf *MappedFile) Truncate(newSize int64) (int64, error) {
	if mf.closed {
		return 0, newError("truncate", ErrClosed)
	}
	if newSize < 0 {
		return 0, newError("truncate", ErrInvalidArgument)
	}
	if !mf.sflags.Has(FlagWrite) {
		return 0, newError("truncate", ErrInvalidArgument)
	}
	f := mf.file.file()

	if newSize == 0 {
		if err := mf.unmap(); err != nil {
			return 0, err
		}
		if err := f.Truncate(0); err != nil {
			return 0, wrapError("truncate", err)
		}
		return 0, nil
	}

	want := newSize - mf.offset
	if mf.section == nil {
		if err := f.Truncate(newSize); err != nil {
			return 0, wrapError("truncate", err)
		}
		if _, err := mf.Reserve(mf.grownReservation(want)); err != nil {
			return 0, err
		}
		return newSize, nil
	}

	size, err := mf.section.Length()
	if err != nil {
		return 0, err
	}
	if newSize < size && mf.mp != nil {
		if err := mf.discardTail(want); err != nil {
			return 0, err
		}
	}
	if _, err := mf.section.Truncate(newSize); err != nil {
		if !errors.Is(err, ErrNotSupported) || mf.mp == nil {
			return 0, err
		}
		// The platform refuses to shrink a mapped file. Drop the view and retry.
		if err := mf.mp.Close(); err != nil {
			return 0, err
		}
		mf.mp = nil
		if _, err := mf.section.Truncate(newSize); err != nil {
			return 0, err
		}
	}

	if want > int64(mf.reservation) || mf.mp == nil {
		if _, err := mf.Reserve(mf.grownReservation(want)); err != nil {
			return 0, err
		}
		return newSize, nil
	}
	if _, err := mf.mp.UpdateMap(); err != nil {
		return 0, err
	}
	return newSize, nil
}

func (mf *MappedFile) grownReservation(want int64) int {
	if want > int64(mf.reservation) {
		if n, err := conv.Int64ToInt(want); err == nil {
			return n
		}
	}
	return mf.reservation
}

// discardTail punches out the pages past newLength so the kernel does not
// keep their storage until the last handle closes.
func (mf *MappedFile) discardTail(newLength int64) error {
	if !mf.mp.flags.writable() || newLength >= int64(mf.mp.Length()) {
		return nil
	}
	start := int(platform.RoundUp(uintptr(max(newLength, 0)), mf.mp.pageSize))
	if start >= mf.mp.Length() {
		return nil
	}
	return mf.mp.ZeroMemory(mf.mp.Bytes()[start:])
}

func (mf *MappedFile) unmap() error {
	if mf.mp != nil {
		if err := mf.mp.Close(); err != nil {
			return err
		}
		mf.mp = nil
	}
	if mf.section != nil {
		if err := mf.section.Close(); err != nil {
			return err
		}
		mf.section = nil
	}
	return nil
}

// UpdateMap picks up growth of the file made through other handles and
// returns the file's size. It never changes the reservation.
func (mf *MappedFile) UpdateMap() (int64, error) {
	if mf.closed {
		return 0, newError("update map", ErrClosed)
	}
	if mf.mp == nil {
		size, err := fs.MaximumExtent(mf.file.file())
		if err != nil {
			return 0, wrapError("update map", err)
		}
		if size > mf.offset {
			if _, err := mf.Reserve(mf.reservation); err != nil {
				return 0, err
			}
		}
		return size, nil
	}
	size, err := mf.section.Length()
	if err != nil {
		return 0, err
	}
	if _, err := mf.mp.UpdateMap(); err != nil {
		return 0, err
	}
	return size, nil
}

// MaximumExtent returns the file's size, refreshing the mapping when a
// reservation was requested.
func (mf *MappedFile) MaximumExtent() (int64, error) {
	if mf.reservation == 0 {
		return mf.UnderlyingFileMaximumExtent()
	}
	return mf.UpdateMap()
}

// UnderlyingFileMaximumExtent returns the file's size without touching the
// mapping.
func (mf *MappedFile) UnderlyingFileMaximumExtent() (int64, error) {
	if mf.closed {
		return 0, newError("maximum extent", ErrClosed)
	}
	size, err := fs.MaximumExtent(mf.file.file())
	if err != nil {
		return 0, wrapError("maximum extent", err)
	}
	return size, nil
}

// Read returns views of the mapped file. See Map.Read.
func (mf *MappedFile) Read(req Request) ([][]byte, error) {
	if mf.closed {
		return nil, newError("read", ErrClosed)
	}
	if mf.mp == nil {
		if req.Offset < 0 {
			return nil, newError("read", ErrInvalidArgument)
		}
		return nil, nil
	}
	return mf.mp.Read(req)
}

// Write copies req into the mapped file. See Map.Write. With
// FlagWriteViaSyscall the file's own write call is used instead, which may
// extend the file, and the mapping is refreshed afterwards.
func (mf *MappedFile) Write(req Request) ([][]byte, error) {
	if mf.closed {
		return nil, newError("write", ErrClosed)
	}
	if req.Offset < 0 {
		return nil, newError("write", ErrInvalidArgument)
	}
	if mf.sflags.Has(FlagWriteViaSyscall) {
		return mf.writeViaSyscall(req)
	}
	if mf.mp == nil {
		return nil, nil
	}
	return mf.mp.Write(req)
}

func (mf *MappedFile) writeViaSyscall(req Request) ([][]byte, error) {
	f := mf.file.file()
	off := mf.offset + req.Offset
	out := make([][]byte, 0, len(req.Buffers))
	var werr error
	for _, b := range req.Buffers {
		n, err := f.WriteAt(b, off)
		if n > 0 {
			out = append(out, b[:n])
			off += int64(n)
		}
		if err != nil {
			werr = wrapError("write", err)
			break
		}
		if n < len(b) {
			break
		}
	}
	if mf.mp == nil || off-mf.offset > int64(mf.mp.Length()) {
		if _, err := mf.UpdateMap(); err != nil && werr == nil {
			werr = err
		}
	}
	return out, werr
}

// Barrier flushes the mapped file. See Map.Barrier.
func (mf *MappedFile) Barrier(ctx context.Context, regions [][]byte, kind BarrierKind) ([][]byte, error) {
	if mf.closed {
		return nil, newError("barrier", ErrClosed)
	}
	if mf.mp == nil {
		if kind.viewOnly() || !kind.wait() {
			return nil, nil
		}
		return nil, wrapError("barrier", mf.file.file().Sync())
	}
	return mf.mp.Barrier(ctx, regions, kind)
}

// Close unmaps the file and closes it.
func (mf *MappedFile) Close() error {
	if mf.closed {
		return nil
	}
	mf.closed = true
	err := mf.unmap()
	if cerr := mf.file.release(); cerr != nil {
		err = errors.Join(err, wrapError("close", cerr))
	}
	return err
}

// Address returns the base of the mapping, or 0 while unmapped.
func (mf *MappedFile) Address() uintptr { return mf.mp.Address() }

// Capacity returns the mapped reservation, or 0 while unmapped.
func (mf *MappedFile) Capacity() int {
	if mf.mp == nil {
		return 0
	}
	return mf.mp.Capacity()
}

// Reservation returns the requested reservation, mapped or not.
func (mf *MappedFile) Reservation() int { return mf.reservation }

// Length returns the number of mapped bytes valid to access.
func (mf *MappedFile) Length() int {
	if mf.mp == nil {
		return 0
	}
	return mf.mp.Length()
}

// Bytes returns the valid part of the mapping.
func (mf *MappedFile) Bytes() []byte {
	if mf.mp == nil {
		return nil
	}
	return mf.mp.Bytes()
}

// PageSize returns the page size of the mapping.
func (mf *MappedFile) PageSize() int {
	if mf.mp == nil {
		if ps, err := pageSizeFor(mf.opts.backend, mf.sflags); err == nil {
			return int(ps)
		}
		return int(mf.opts.backend.PageSize())
	}
	return mf.mp.PageSize()
}

// IsNVRAM reports whether the mapping is over non-volatile RAM.
func (mf *MappedFile) IsNVRAM() bool { return mf.mp != nil && mf.mp.IsNVRAM() }

// Section returns the section, or nil while unmapped.
func (mf *MappedFile) Section() *Section { return mf.section }

// Map returns the mapping, or nil while unmapped.
func (mf *MappedFile) Map() *Map { return mf.mp }

// File returns the underlying file.
func (mf *MappedFile) File() fs.File { return mf.file.file() }
