//go:build windows

package fs

import "os"

// Windows cannot unlink an open file, so the name is removed on close.
type unlinkOnClose struct {
	*os.File
}

func (u *unlinkOnClose) Close() error {
	err := u.File.Close()
	if rmErr := os.Remove(u.File.Name()); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

func tempInode(dir string) (File, error) {
	f, err := os.CreateTemp(dir, ".mapio-*")
	if err != nil {
		return nil, err
	}
	return &unlinkOnClose{File: f}, nil
}
