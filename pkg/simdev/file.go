package simdev

import (
	"fmt"
	"os"
)

// FileDevice is a Backend stored in a regular file. On Linux transfers use
// preadv(2) and pwritev(2), so a vectored aggregate is one system call.
type FileDevice struct {
	name string
	path string
	f    *os.File
	size int64
}

// OpenFileDevice opens or creates path and sizes it to size bytes.
func OpenFileDevice(name, path string, size int64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open device file %q: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("size device file %q: %w", path, err)
	}
	return &FileDevice{name: name, path: path, f: f, size: size}, nil
}

func (d *FileDevice) Name() string { return d.name }
func (d *FileDevice) Kind() string { return "file" }
func (d *FileDevice) Size() int64  { return d.size }
func (d *FileDevice) Path() string { return d.path }

// Sync flushes the file to stable storage.
func (d *FileDevice) Sync() error { return d.f.Sync() }

func (d *FileDevice) Close() error { return d.f.Close() }
