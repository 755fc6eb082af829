package storage

import "os"

// Local is the default FS: a thin wrapper over the host filesystem.
type Local struct{}

var _ FS = Local{}

func (Local) Create(name string) (File, error) {
	return os.Create(name)
}

func (Local) Open(name string) (File, error) {
	return os.Open(name)
}

func (Local) Remove(name string) error {
	return os.Remove(name)
}

func (Local) MkdirAll(dir string, perm uint32) error {
	return os.MkdirAll(dir, os.FileMode(perm))
}
