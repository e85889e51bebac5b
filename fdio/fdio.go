// Package fdio provides single-owner wrappers around file descriptors. A
// descriptor moves FDCloser -> FileReader -> Document as loading proceeds;
// whoever holds the unconsumed wrapper is the one owner responsible for
// closing it, exactly once.
package fdio

import (
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrConsumed  = errors.New("fdio: ownership already transferred")
	ErrBadHandle = errors.New("fdio: invalid file handle")
)

// FDCloser owns one open descriptor and guarantees it is closed exactly
// once. The zero value is a consumed closer. FDCloser is not safe for
// concurrent use; ownership hand-off is a single-threaded affair.
type FDCloser struct {
	file     *os.File
	consumed bool
}

// NewFDCloser takes ownership of the raw descriptor fd.
func NewFDCloser(fd int) (*FDCloser, error) {
	if fd < 0 {
		return nil, fmt.Errorf("%w: fd %d", ErrBadHandle, fd)
	}
	f := os.NewFile(uintptr(fd), fmt.Sprintf("fd %d", fd))
	if f == nil {
		return nil, fmt.Errorf("%w: fd %d", ErrBadHandle, fd)
	}
	return &FDCloser{file: f}, nil
}

// AdoptFile takes ownership of an already-open file.
func AdoptFile(f *os.File) (*FDCloser, error) {
	if f == nil {
		return nil, ErrBadHandle
	}
	return &FDCloser{file: f}, nil
}

// Close closes the descriptor the first time and is a no-op afterwards.
func (c *FDCloser) Close() error {
	if c.consumed {
		return nil
	}
	c.consumed = true
	return c.file.Close()
}

// Release transfers the file out and marks the closer consumed. The caller
// becomes responsible for closing the returned file. Returns nil once
// consumed.
func (c *FDCloser) Release() *os.File {
	if c.consumed {
		return nil
	}
	c.consumed = true
	return c.file
}

// Consumed reports whether ownership has left this closer.
func (c *FDCloser) Consumed() bool { return c.consumed }

// FileReader owns the byte source handed to a document engine. It reads at
// arbitrary offsets and knows its total size; Close is exactly-once.
type FileReader struct {
	file     *os.File
	size     int64
	consumed bool
}

// NewFileReader consumes the closer and stats the file for its size.
// On error the descriptor stays owned (and is closed) by this call.
func NewFileReader(c *FDCloser) (*FileReader, error) {
	if c == nil || c.Consumed() {
		return nil, ErrConsumed
	}
	f := c.Release()
	return newFileReader(f)
}

// NewFileReaderFromFile takes ownership of f directly.
func NewFileReaderFromFile(f *os.File) (*FileReader, error) {
	if f == nil {
		return nil, ErrBadHandle
	}
	return newFileReader(f)
}

// OpenFileReader opens the named file and wraps it.
func OpenFileReader(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return newFileReader(f)
}

func newFileReader(f *os.File) (*FileReader, error) {
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fdio: stat: %w", err)
	}
	return &FileReader{file: f, size: info.Size()}, nil
}

func (r *FileReader) ReadAt(p []byte, off int64) (int, error) {
	if r.consumed {
		return 0, os.ErrClosed
	}
	return r.file.ReadAt(p, off)
}

// Size returns the total length of the underlying file in bytes.
func (r *FileReader) Size() int64 { return r.size }

// Close closes the descriptor the first time and is a no-op afterwards.
func (r *FileReader) Close() error {
	if r.consumed {
		return nil
	}
	r.consumed = true
	return r.file.Close()
}

// Consumed reports whether the reader has been closed.
func (r *FileReader) Consumed() bool { return r.consumed }

var _ io.ReaderAt = (*FileReader)(nil)
var _ io.Closer = (*FileReader)(nil)
