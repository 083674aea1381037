package fs

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Fault defines specific failure behavior.
type Fault struct {
	FailAfterBytes int64 // Fail writes past this many bytes written to the file. -1 to disable.
	FailOnSync     bool
	FailOnClose    bool
	FailOnTruncate bool
	Err            error
}

// FaultyFS is a FileSystem wrapper that can inject errors.
type FaultyFS struct {
	FS      FileSystem
	mu      sync.Mutex
	rules   map[string]Fault // Filename pattern -> Fault
	Default Fault            // Fallback

	Err error
}

// NewFaultyFS creates a new FaultyFS wrapping the provided FS (or Default if nil).
func NewFaultyFS(fs FileSystem) *FaultyFS {
	if fs == nil {
		fs = Default
	}
	return &FaultyFS{
		FS:    fs,
		rules: make(map[string]Fault),
		Default: Fault{
			FailAfterBytes: -1, // No limit
		},
		Err: fmt.Errorf("injected fault error"),
	}
}

// AddRule adds a fault injection rule for a specific file pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

func (f *FaultyFS) wrap(file File, name string) File {
	f.mu.Lock()
	fault := f.Default
	// Match pattern (last winning match)
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			fault = rule
		}
	}
	if fault.Err == nil {
		fault.Err = f.Err
	}
	f.mu.Unlock()

	return &faultyFile{File: file, fault: fault}
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f.wrap(file, name), nil
}

// TempInode creates an unnamed inode. Rules are matched against dir.
func (f *FaultyFS) TempInode(dir string) (File, error) {
	file, err := f.FS.TempInode(dir)
	if err != nil {
		return nil, err
	}
	return f.wrap(file, dir), nil
}

func (f *FaultyFS) Remove(name string) error {
	return f.FS.Remove(name)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) {
	return f.FS.Stat(name)
}

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}

type faultyFile struct {
	File
	fault   Fault
	written int64
}

func (ff *faultyFile) injected(fallback string) error {
	if ff.fault.Err != nil {
		return ff.fault.Err
	}
	return fmt.Errorf("%s", fallback)
}

func (ff *faultyFile) WriteAt(p []byte, off int64) (n int, err error) {
	if ff.fault.FailAfterBytes >= 0 && ff.written+int64(len(p)) > ff.fault.FailAfterBytes {
		return 0, ff.injected("injected fault error")
	}

	n, err = ff.File.WriteAt(p, off)
	if n > 0 {
		ff.written += int64(n)
	}
	return n, err
}

func (ff *faultyFile) Truncate(size int64) error {
	if ff.fault.FailOnTruncate {
		return ff.injected("injected truncate error")
	}
	return ff.File.Truncate(size)
}

func (ff *faultyFile) Sync() error {
	if ff.fault.FailOnSync {
		return ff.injected("injected sync error")
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	if ff.fault.FailOnClose {
		ff.File.Close()
		return ff.injected("injected close error")
	}
	return ff.File.Close()
}
