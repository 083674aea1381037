// Package fs provides the file-handle abstraction mapped storage is built on.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with positional read/write, truncate and sync
//   - [FileSystem]: opening files and creating anonymous temporary inodes
//
// # Implementations
//
//   - [LocalFS]: Production implementation using the standard os package
//   - [FaultyFS]: Test utility for fault injection (simulate I/O errors)
//
// # Usage
//
// Production code should use fs.Default (which is [LocalFS]):
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Anonymous backing storage comes from TempInode, which returns a file with no
// name on the filesystem that disappears when its last handle is closed:
//
//	f, err := fs.Default.TempInode(os.TempDir())
//
// Tests can inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("data", fs.Fault{FailOnTruncate: true})
//
// # Design Notes
//
// This package intentionally does NOT include context.Context parameters.
// Filesystem operations are typically fast (microseconds for local NVMe) and
// non-interruptible at the syscall level.
package fs
