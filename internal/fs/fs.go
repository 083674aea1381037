package fs

import (
	"io"
	"os"
)

// File represents an open file usable as backing storage for a mapping.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	// Fd returns the native handle. It is the identity a mapping borrows.
	Fd() uintptr
	Name() string
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

// FileSystem abstracts file system operations for testability.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	// TempInode creates an unnamed temporary file inside dir.
	TempInode(dir string) (File, error)
	Remove(name string) error
	Stat(name string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
}

// LocalFS implements FileSystem using the local os package.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (LocalFS) TempInode(dir string) (File, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	return tempInode(dir)
}

func (LocalFS) Remove(name string) error              { return os.Remove(name) }
func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (LocalFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Default is the default local file system.
var Default FileSystem = LocalFS{}

// MaximumExtent returns the current size of f.
func MaximumExtent(f File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
