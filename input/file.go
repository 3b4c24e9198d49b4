package input

import (
	"io"

	"gcodeflow/core"
)

const (
	// FileReadThreshold is the cached byte count below which a file is read again
	FileReadThreshold = 128

	// readAlign keeps file reads at a multiple of the card block granularity
	readAlign = 4
)

// FileHandle is a byte-addressable file an input reads ahead from
type FileHandle interface {
	Read(p []byte) (int, error)
	Seek(pos int64) error
	Position() int64
	// IsLive returns whether the file is open and may be read
	IsLive() bool
}

// FileInput caches bytes read ahead from files. Only one file is cached at
// a time; switching files gives the read-ahead back to the previous one.
type FileInput struct {
	RegularInput
	lastFile FileHandle
	scratch  [BufferSize]byte
}

// NewFileInput creates a file input
func NewFileInput(stripComments bool) *FileInput {
	return &FileInput{
		RegularInput: *NewRegularInput(stripComments, nil),
	}
}

// Reset drops the cached bytes and forgets the last file. Call it when the
// last file is closed.
func (in *FileInput) Reset() {
	in.lastFile = nil
	in.RegularInput.Reset()
}

// LastFile returns the file the cache currently belongs to
func (in *FileInput) LastFile() FileHandle {
	return in.lastFile
}

// ReadFromFile reads another chunk from file when the cache runs low and
// returns true if there is data to consume.
//
// When file differs from the one read last, the bytes still cached for the
// previous file are given back to it by seeking it backwards, so an outer
// file resumes at the right position after a nested one finishes.
func (in *FileInput) ReadFromFile(file FileHandle) bool {
	bytesCached := in.BytesCached()

	if in.lastFile != nil && in.lastFile != file {
		if bytesCached > 0 {
			pos := in.lastFile.Position() - int64(bytesCached)
			if err := in.lastFile.Seek(pos); err != nil {
				core.DebugAsync("input: rewind failed: " + err.Error())
			}
			core.RecordEvent(core.EvtRewind, in.source, 0, uint32(bytesCached), uint32(pos))
		}
		in.RegularInput.Reset()
		bytesCached = 0
	}
	in.lastFile = file

	if file == nil {
		return false
	}

	// Read more from the file
	if file.IsLive() && bytesCached < FileReadThreshold {
		// Start at offset zero when drained so the read is one block
		in.ring.realign()

		space := in.BufferSpaceLeft() &^ (readAlign - 1)
		bytesRead, err := file.Read(in.scratch[:space])
		if bytesRead > 0 {
			in.ring.writeBlock(in.scratch[:bytesRead])
			return true
		}
		if err != nil && err != io.EOF {
			core.DebugAsync("input: file read: " + err.Error())
		}
	}

	return bytesCached > 0
}
