package storage

import (
	"gcodeflow/gcode"
)

// Upload writes an incoming file. A raw upload receives a known number of
// bytes verbatim; a command upload receives assembled lines until M29.
type Upload struct {
	store     *FileStore
	remaining int64
	lines     int
	done      bool
	err       error
}

// NewRawUpload starts an upload of size raw bytes into store
func NewRawUpload(store *FileStore, size int64) *Upload {
	return &Upload{store: store, remaining: size}
}

// NewCommandUpload starts an upload of command lines into store
func NewCommandUpload(store *FileStore) *Upload {
	return &Upload{store: store}
}

// UploadByte writes one byte and returns true once size bytes were written
func (u *Upload) UploadByte(c byte) bool {
	if u.done {
		return true
	}
	u.write([]byte{c})
	u.remaining--
	if u.remaining <= 0 {
		u.finish()
	}
	return u.done
}

// UploadLine writes one line; M29 ends the upload and is not written
func (u *Upload) UploadLine(line []byte) bool {
	if u.done {
		return true
	}
	if gcode.ParseLine(string(line)).Is('M', 29) {
		u.finish()
		return true
	}
	u.write(line)
	u.write([]byte{'\n'})
	u.lines++
	return false
}

// Lines returns the number of lines written by a command upload
func (u *Upload) Lines() int {
	return u.lines
}

// Done returns whether the upload is complete
func (u *Upload) Done() bool {
	return u.done
}

// Err returns the first error met while writing
func (u *Upload) Err() error {
	return u.err
}

func (u *Upload) write(b []byte) {
	if u.err != nil {
		return
	}
	if _, err := u.store.Write(b); err != nil {
		u.err = err
	}
}

func (u *Upload) finish() {
	u.done = true
	if err := u.store.Close(); err != nil && u.err == nil {
		u.err = err
	}
}
