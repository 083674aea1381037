package mapio

import "github.com/hupe1980/mapio/internal/fs"

// fileRef is a reference to a backing file that knows whether it may close it.
type fileRef interface {
	file() fs.File
	release() error
}

// borrowedFile is owned by the caller and never closed here.
type borrowedFile struct{ f fs.File }

func (b borrowedFile) file() fs.File  { return b.f }
func (b borrowedFile) release() error { return nil }

// ownedFile is closed with its owner.
type ownedFile struct{ f fs.File }

func (o *ownedFile) file() fs.File { return o.f }

func (o *ownedFile) release() error {
	if o.f == nil {
		return nil
	}
	err := o.f.Close()
	o.f = nil
	return err
}
