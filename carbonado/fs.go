package carbonado

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend keeps objects on the local filesystem under
// <root>/<owner>/<file>.
type FileBackend struct {
	root string
}

// NewFileBackend creates a filesystem backend rooted at root.
func NewFileBackend(root string) (*FileBackend, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, err
	}

	return &FileBackend{root: root}, nil
}

func (f *FileBackend) path(dir, file string) (string, error) {
	if dir != filepath.Base(dir) || file != filepath.Base(file) {
		return "", fmt.Errorf("carbonado: invalid object path %v/%v",
			dir, file)
	}

	return filepath.Join(f.root, dir, file), nil
}

// Put writes the object through a temp file and a rename so readers never
// see a partial write.
func (f *FileBackend) Put(_ context.Context, dir, file string,
	blob []byte) error {

	path, err := f.path(dir, file)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), file+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	log.Tracef("Write %d bytes to %v", len(blob), path)

	return os.Rename(tmp.Name(), path)
}

// Get reads an object from disk.
func (f *FileBackend) Get(_ context.Context, dir, file string) ([]byte,
	error) {

	path, err := f.path(dir, file)
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}

	return blob, err
}
