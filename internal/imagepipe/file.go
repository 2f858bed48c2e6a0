package imagepipe

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is an image picked for upload.
type File interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type diskFile struct {
	path string
	size int64
}

// OpenFile describes the file at path. Reading happens during Submit.
func OpenFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadError, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrReadError, filepath.Base(path))
	}
	return diskFile{path: path, size: info.Size()}, nil
}

func (f diskFile) Name() string { return filepath.Base(f.path) }
func (f diskFile) Size() int64  { return f.size }

func (f diskFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// MemFile is an in-memory File.
type MemFile struct {
	FileName string
	Data     []byte
}

func (f MemFile) Name() string { return f.FileName }
func (f MemFile) Size() int64  { return int64(len(f.Data)) }

func (f MemFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}
