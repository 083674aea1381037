//go:build linux

package fs

import (
	"os"

	"golang.org/x/sys/unix"
)

func tempInode(dir string) (File, error) {
	f, err := os.OpenFile(dir, os.O_RDWR|unix.O_TMPFILE|unix.O_CLOEXEC, 0o600)
	if err == nil {
		return f, nil
	}
	// O_TMPFILE is refused by some filesystems (e.g. older overlayfs).
	return namedTempInode(dir)
}
