//go:build unix

package fs

import "os"

// namedTempInode creates a uniquely named file and unlinks it immediately,
// leaving an inode reachable only through the returned handle.
func namedTempInode(dir string) (File, error) {
	f, err := os.CreateTemp(dir, ".mapio-*")
	if err != nil {
		return nil, err
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
