package mapio

import (
	"github.com/hupe1980/mapio/internal/fs"
	"github.com/hupe1980/mapio/internal/platform"
)

// Section is a mappable backing object: a borrowed file or an owned anonymous
// inode, with access permissions fixed at creation.
//
// A Section must outlive every Map created from it. Closing a Section never
// closes a borrowed file.
type Section struct {
	ref     fileRef
	native  platform.Section
	flags   Flag
	backend platform.Backend
	opts    options
	closed  bool
}

// NewSection makes f mappable. A maximumSize of 0 uses the file's current
// size. A larger maximumSize extends the file, which requires FlagWrite.
func NewSection(f fs.File, maximumSize int64, flags Flag, optFns ...Option) (*Section, error) {
	if f == nil || maximumSize < 0 {
		return nil, newError("section", ErrInvalidArgument)
	}
	return newSection(borrowedFile{f: f}, maximumSize, flags, applyOptions(optFns))
}

// NewAnonymousSection creates a section over an unnamed temporary inode of
// bytes length in dir. An empty dir uses the system temporary directory. The
// inode is removed when the section closes.
func NewAnonymousSection(bytes int64, dir string, flags Flag, optFns ...Option) (*Section, error) {
	if bytes <= 0 {
		return nil, newError("anonymous section", ErrArgumentOutOfDomain)
	}
	o := applyOptions(optFns)
	f, err := o.fileSystem.TempInode(dir)
	if err != nil {
		return nil, wrapError("anonymous section", err)
	}
	ref := &ownedFile{f: f}
	if err := f.Truncate(bytes); err != nil {
		_ = ref.release()
		return nil, wrapError("anonymous section", err)
	}
	s, err := newSection(ref, bytes, flags|FlagReadWrite, o)
	if err != nil {
		_ = ref.release()
		return nil, err
	}
	return s, nil
}

func newSection(ref fileRef, maximumSize int64, flags Flag, o options) (*Section, error) {
	if _, err := pageSizeFor(o.backend, flags); err != nil {
		return nil, err
	}
	f := ref.file()
	size, err := fs.MaximumExtent(f)
	if err != nil {
		return nil, wrapError("section", err)
	}
	switch {
	case maximumSize == 0:
		maximumSize = size
	case maximumSize > size:
		if !flags.Has(FlagWrite) {
			return nil, newError("section", ErrInvalidArgument)
		}
		if err := f.Truncate(maximumSize); err != nil {
			return nil, wrapError("section", err)
		}
	}

	s := &Section{
		ref:     ref,
		flags:   flags,
		backend: o.backend,
		opts:    o,
		native: platform.Section{
			Fd:         f.Fd(),
			Size:       maximumSize,
			Access:     flags.access(),
			Singleton:  flags.Has(FlagSingleton),
			Executable: flags.Has(FlagExecutable),
		},
	}
	if err := s.backend.OpenSection(&s.native); err != nil {
		return nil, wrapError("section", err)
	}
	return s, nil
}

// Length returns the current size of the backing store.
func (s *Section) Length() (int64, error) {
	if s.closed {
		return 0, newError("section length", ErrClosed)
	}
	size, err := fs.MaximumExtent(s.ref.file())
	if err != nil {
		return 0, wrapError("section length", err)
	}
	// Someone else grew the file. Extend the native section so views that
	// reserved past the old end can see it.
	if size > s.native.Size {
		if err := s.backend.ResizeSection(&s.native, size); err != nil {
			return 0, wrapError("section length", err)
		}
	}
	return size, nil
}

// Truncate resizes the backing store. A newSize of 0 re-synchronises the
// section with the backing file's current size. On Windows, shrinking fails
// with ErrNotSupported while any view maps the larger extent.
func (s *Section) Truncate(newSize int64) (int64, error) {
	if s.closed {
		return 0, newError("section truncate", ErrClosed)
	}
	if newSize < 0 {
		return 0, newError("section truncate", ErrInvalidArgument)
	}
	f := s.ref.file()
	size, err := fs.MaximumExtent(f)
	if err != nil {
		return 0, wrapError("section truncate", err)
	}
	if newSize == 0 {
		newSize = size
	}
	if newSize == s.native.Size && newSize == size {
		return newSize, nil
	}
	if !s.flags.Has(FlagWrite) && newSize != size {
		return 0, newError("section truncate", ErrInvalidArgument)
	}

	if newSize >= size {
		if size < newSize {
			if err := f.Truncate(newSize); err != nil {
				return 0, wrapError("section truncate", err)
			}
		}
		if newSize != s.native.Size {
			if err := s.backend.ResizeSection(&s.native, newSize); err != nil {
				return 0, wrapError("section truncate", err)
			}
		}
		return newSize, nil
	}

	old := s.native.Size
	if err := s.backend.ResizeSection(&s.native, newSize); err != nil {
		return 0, wrapError("section truncate", err)
	}
	if err := f.Truncate(newSize); err != nil {
		_ = s.backend.ResizeSection(&s.native, old)
		if platform.SectionInUse(err) {
			return 0, &Error{Op: "section truncate", Kind: ErrNotSupported, Err: err}
		}
		return 0, wrapError("section truncate", err)
	}
	return newSize, nil
}

// Close releases the section and, for anonymous sections, the inode.
func (s *Section) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.backend.CloseSection(&s.native)
	if rerr := s.ref.release(); err == nil {
		err = rerr
	}
	return wrapError("section close", err)
}

// Flags returns the flags the section was created with.
func (s *Section) Flags() Flag { return s.flags }

// IsNVRAM reports whether the section was created over non-volatile RAM.
func (s *Section) IsNVRAM() bool { return s.flags.Has(FlagNVRAM) }

// Backing returns the file behind the section.
func (s *Section) Backing() fs.File { return s.ref.file() }

// Fd returns the native identity of the backing file.
func (s *Section) Fd() uintptr { return s.native.Fd }

// IsAnonymous reports whether the section owns an anonymous inode.
func (s *Section) IsAnonymous() bool {
	_, owned := s.ref.(*ownedFile)
	return owned
}
