// Package storage provides file handles for file-backed command input and
// for uploads.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrNotOpen is returned when operating on a store without an open file
	ErrNotOpen = errors.New("file not open")
	// ErrClosed is returned by Close when the store was already closed
	ErrClosed = errors.New("file already closed")
)

// FileStore is an open file with position tracking. It may be shared by
// several users; it is only closed when the last of them closes it.
type FileStore struct {
	name      string
	file      *os.File
	writing   bool
	openCount int
	length    int64
}

// Open opens fileName inside directory for reading, or creates it for
// writing
func Open(directory, fileName string, write bool) (*FileStore, error) {
	path := filepath.Join(directory, fileName)

	var (
		f   *os.File
		err error
	)
	if write {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	} else {
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	fs := &FileStore{
		name:      path,
		file:      f,
		writing:   write,
		openCount: 1,
	}
	if !write {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		fs.length = info.Size()
	}
	return fs, nil
}

// Name returns the path of the file
func (fs *FileStore) Name() string {
	return fs.name
}

// Duplicate registers another user of the open file
func (fs *FileStore) Duplicate() {
	if fs.openCount > 0 {
		fs.openCount++
	}
}

// Close releases one user; the file is closed when the last user releases it
func (fs *FileStore) Close() error {
	if fs.openCount == 0 {
		return ErrClosed
	}
	fs.openCount--
	if fs.openCount > 0 {
		return nil
	}

	var err error
	if fs.writing {
		err = fs.file.Sync()
	}
	if cerr := fs.file.Close(); err == nil {
		err = cerr
	}
	fs.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", fs.name, err)
	}
	return nil
}

// IsLive returns whether the file is open
func (fs *FileStore) IsLive() bool {
	return fs.openCount > 0 && fs.file != nil
}

// Read reads up to len(p) bytes at the current position
func (fs *FileStore) Read(p []byte) (int, error) {
	if !fs.IsLive() {
		return 0, ErrNotOpen
	}
	return fs.file.Read(p)
}

// Seek moves the read position to pos bytes from the start of the file
func (fs *FileStore) Seek(pos int64) error {
	if !fs.IsLive() {
		return ErrNotOpen
	}
	if _, err := fs.file.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s to %d: %w", fs.name, pos, err)
	}
	return nil
}

// Position returns the current position, or 0 when the file is not open
func (fs *FileStore) Position() int64 {
	if !fs.IsLive() {
		return 0
	}
	pos, err := fs.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return pos
}

// Length returns the size of a file opened for reading
func (fs *FileStore) Length() int64 {
	if !fs.IsLive() {
		return 0
	}
	return fs.length
}

// GoToEnd moves the position to the end of the file
func (fs *FileStore) GoToEnd() error {
	return fs.Seek(fs.Length())
}

// FractionRead returns how much of the file has been read, from 0 to 1
func (fs *FileStore) FractionRead() float64 {
	length := fs.Length()
	if length <= 0 {
		return 0
	}
	return float64(fs.Position()) / float64(length)
}

// Write appends b to a file opened for writing
func (fs *FileStore) Write(b []byte) (int, error) {
	if !fs.IsLive() || !fs.writing {
		return 0, ErrNotOpen
	}
	n, err := fs.file.Write(b)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", fs.name, err)
	}
	return n, nil
}

// Flush commits written data to storage
func (fs *FileStore) Flush() error {
	if !fs.IsLive() {
		return ErrNotOpen
	}
	return fs.file.Sync()
}
