package input

import "sync"

// ring is a circular byte buffer shared by one producer and one consumer.
// One slot stays unused so that read == write always means empty; at most
// size-1 bytes are buffered.
//
// The producer owns the write cursor and the consumer owns the read cursor.
// Both are guarded by mu so a port pump may produce from its own goroutine
// while the control loop consumes.
type ring struct {
	mu    sync.Mutex
	buf   []byte
	read  int
	write int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{
		buf:  make([]byte, capacity),
		size: capacity,
	}
}

// available returns the number of bytes available for reading
func (r *ring) available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.availableLocked()
}

func (r *ring) availableLocked() int {
	if r.write >= r.read {
		return r.write - r.read
	}
	return r.size - r.read + r.write
}

// free returns the number of bytes available for writing
func (r *ring) free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size - r.availableLocked() - 1
}

// putByte appends one byte, returning false if the buffer is full
func (r *ring) putByte(c byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := (r.write + 1) % r.size
	if next == r.read {
		return false
	}
	r.buf[r.write] = c
	r.write = next
	return true
}

// getByte removes the oldest byte
func (r *ring) getByte() (byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.read == r.write {
		return 0, false
	}
	c := r.buf[r.read]
	r.read = (r.read + 1) % r.size
	return c, true
}

// unwrite takes back up to n of the most recently written bytes that have
// not been consumed yet and returns how many were taken back
func (r *ring) unwrite(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if avail := r.availableLocked(); n > avail {
		n = avail
	}
	r.write = (r.write - n + r.size) % r.size
	return n
}

// writeBlock appends as much of data as fits, wrapping at the end of the
// backing storage, and returns the number of bytes written
func (r *ring) writeBlock(data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if space := r.size - r.availableLocked() - 1; len(data) > space {
		data = data[:space]
	}
	n := copy(r.buf[r.write:], data)
	if n < len(data) {
		copy(r.buf, data[n:])
	}
	r.write = (r.write + len(data)) % r.size
	return len(data)
}

// realign moves both cursors to offset zero when the buffer is drained
func (r *ring) realign() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.read == r.write {
		r.read = 0
		r.write = 0
	}
}

// reset clears the buffer
func (r *ring) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.read = 0
	r.write = 0
}
