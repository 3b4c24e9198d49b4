package input

import (
	"sync/atomic"

	"gcodeflow/core"
	"gcodeflow/gcode"
)

const (
	// BufferSize is the capacity of an input ring; BufferSize-1 bytes fit
	BufferSize = 256

	// emergencyTokenLen is the length of "M112"
	emergencyTokenLen = 4
)

// state is the position of the recognizer within the current line
type state uint8

const (
	stateIdle     state = iota // between lines, skipping leading whitespace
	stateCode                  // inside an ordinary command
	stateComment               // inside a stripped comment
	stateM                     // seen "M"
	stateM1                    // seen "M1"
	stateM11                   // seen "M11"
	stateM112                  // seen "M112", waiting for a terminator
)

// AbortFunc performs the emergency stop and resets the control state. It is
// called synchronously from Put the moment the emergency token is recognized.
type AbortFunc func()

// RegularInput caches bytes from a software-defined source in a ring and
// screens them as they arrive: leading whitespace is dropped, comments may
// be stripped, and an M112 is acted on before its line is ever drained.
//
// Put is the producer side and FillBuffer the consumer side; each may run on
// its own goroutine.
type RegularInput struct {
	stripComments bool
	state         state
	ring          *ring
	abort         AbortFunc
	uploader      Uploader
	source        uint8
	raw           atomic.Int64 // bytes still to be cached unscreened
}

// NewRegularInput creates an input. abort may be nil when the source can
// never carry an emergency stop.
func NewRegularInput(stripComments bool, abort AbortFunc) *RegularInput {
	return &RegularInput{
		stripComments: stripComments,
		state:         stateIdle,
		ring:          newRing(BufferSize),
		abort:         abort,
	}
}

// SetUploader sets the writer that receives bytes while a consumer uploads
func (in *RegularInput) SetUploader(u Uploader) {
	in.uploader = u
}

// SetSource tags the events this input records
func (in *RegularInput) SetSource(source uint8) {
	in.source = source
}

// PassRaw caches the next n bytes verbatim, bypassing the recognizer and
// comment stripping. A raw upload arms it with its byte count before the
// data is sent. n <= 0 cancels a pending passthrough.
func (in *RegularInput) PassRaw(n int) {
	if n < 0 {
		n = 0
	}
	in.raw.Store(int64(n))
}

// RawPending returns how many bytes will still be cached unscreened
func (in *RegularInput) RawPending() int {
	return int(in.raw.Load())
}

// Reset drops all cached bytes and returns the recognizer to idle
func (in *RegularInput) Reset() {
	in.state = stateIdle
	in.raw.Store(0)
	in.ring.reset()
}

// BytesCached returns the number of bytes not yet drained
func (in *RegularInput) BytesCached() int {
	return in.ring.available()
}

// BufferSpaceLeft returns how many more bytes can be cached
func (in *RegularInput) BufferSpaceLeft() int {
	return in.ring.free()
}

// Put screens one byte and caches it. The byte is dropped when the ring is
// full. Bytes armed by PassRaw are cached as they are.
func (in *RegularInput) Put(c byte) {
	if in.ring.free() == 0 {
		core.RecordEvent(core.EvtOverflow, in.source, 0, uint32(c), 0)
		return
	}

	if in.raw.Load() > 0 {
		in.ring.putByte(c)
		in.raw.Add(-1)
		return
	}

	switch in.state {
	case stateIdle:
		if c <= ' ' {
			// Ignore whitespace at the beginning
			return
		}
		if c == 'M' {
			in.state = stateM
		} else {
			in.state = stateCode
		}

	case stateCode:
		in.advanceCode(c)

	case stateComment:
		if isTerminator(c) {
			in.state = stateIdle
		}

	case stateM:
		if c == '1' {
			in.state = stateM1
		} else {
			in.advanceCode(c)
		}

	case stateM1:
		if c == '1' {
			in.state = stateM11
		} else {
			in.advanceCode(c)
		}

	case stateM11:
		if c == '2' {
			in.state = stateM112
		} else {
			in.advanceCode(c)
		}

	case stateM112:
		if c <= ' ' || c == ';' {
			in.emergencyStop()
			return
		}
		in.advanceCode(c)
	}

	if in.state != stateComment {
		in.ring.putByte(c)
	}
}

// advanceCode applies an in-code byte: a comment marker starts a comment
// when stripping, a terminator ends the line
func (in *RegularInput) advanceCode(c byte) {
	switch {
	case in.stripComments && c == ';':
		in.state = stateComment
	case isTerminator(c):
		in.state = stateIdle
	default:
		in.state = stateCode
	}
}

// emergencyStop runs the abort action and takes the token's cached bytes back
// so they are never replayed to a consumer
func (in *RegularInput) emergencyStop() {
	if in.abort != nil {
		in.abort()
	}
	removed := in.ring.unwrite(emergencyTokenLen)
	in.state = stateIdle
	core.RecordEvent(core.EvtEmergency, in.source, 0, uint32(removed), 0)
	core.DebugAsync("input: emergency stop requested")
}

// PutBytes screens and caches a whole block followed by a NUL terminator.
// Nothing is cached if the block and its terminator do not fit.
func (in *RegularInput) PutBytes(buf []byte) bool {
	if len(buf)+1 > in.BufferSpaceLeft() {
		return false
	}
	for _, c := range buf {
		in.Put(c)
	}
	in.Put(0)
	return true
}

// PutString is PutBytes for a string
func (in *RegularInput) PutString(s string) bool {
	return in.PutBytes([]byte(s))
}

// FillBuffer drains cached bytes into consumer until a full command is
// ready, passing at most one command length per call
func (in *RegularInput) FillBuffer(consumer Consumer) bool {
	bytesToPass := in.BytesCached()
	if bytesToPass > gcode.CommandLength {
		bytesToPass = gcode.CommandLength
	}

	for i := 0; i < bytesToPass; i++ {
		c, ok := in.ring.getByte()
		if !ok {
			break
		}
		if pass(c, consumer, in.uploader) {
			return true
		}
	}

	return false
}

func isTerminator(c byte) bool {
	return c == 0 || c == '\r' || c == '\n'
}
