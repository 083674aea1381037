//go:build unix && !linux

package fs

func tempInode(dir string) (File, error) {
	return namedTempInode(dir)
}
