// Package queue holds commands whose side effects must line up with the
// motion sequence. A deferred command is stamped with the number of moves
// scheduled when it arrived and is released once that many moves have been
// completed.
package queue

import (
	"fmt"
	"io"

	"gcodeflow/core"
	"gcodeflow/gcode"
)

// MaxQueuedCodes is the size of the slot pool
const MaxQueuedCodes = 8

// noSlot terminates an index-linked list
const noSlot = -1

// MoveCounter exposes the motion engine's progress counters
type MoveCounter interface {
	// ScheduledMoves increases each time a move is accepted
	ScheduledMoves() uint32
	// CompletedMoves increases each time a move has physically finished
	CompletedMoves() uint32
}

// Buffer is the command holder a queued command is taken from and put back into
type Buffer interface {
	Bytes() []byte
	Load(text []byte)
	ToolNumberAdjust() int
	SetToolNumberAdjust(adjust int)
}

// slot is one entry of the fixed pool
type slot struct {
	code             [gcode.CommandLength]byte
	executeAtMove    uint32
	toolNumberAdjust int
	next             int
}

// text returns the stored command up to its terminator
func (s *slot) text() []byte {
	for i, c := range s.code {
		if c == 0 {
			return s.code[:i]
		}
	}
	return s.code[:]
}

// assignFrom copies a command into the slot and stamps it with the
// current scheduled-move count
func (s *slot) assignFrom(buf Buffer, executeAtMove uint32) {
	s.executeAtMove = executeAtMove
	s.toolNumberAdjust = buf.ToolNumberAdjust()
	n := copy(s.code[:len(s.code)-1], buf.Bytes())
	for i := n; i < len(s.code); i++ {
		s.code[i] = 0
	}
}

// assignTo hands the stored command to a buffer
func (s *slot) assignTo(buf Buffer) {
	buf.SetToolNumberAdjust(s.toolNumberAdjust)
	buf.Load(s.text())
}

// Queue is the deferred command queue. All methods are meant to be called
// from a single control loop.
type Queue struct {
	moves MoveCounter
	slots [MaxQueuedCodes]slot

	free int // head of the free list
	head int // oldest pending entry
	tail int // newest pending entry
	size int // number of pending entries

	evicted [gcode.CommandLength]byte // text of the last evicted entry
}

// New creates a queue whose release points follow the given move counter
func New(moves MoveCounter) *Queue {
	q := &Queue{moves: moves}
	q.reset()
	return q
}

// reset threads every slot onto the free list
func (q *Queue) reset() {
	for i := range q.slots {
		q.slots[i].next = i + 1
	}
	q.slots[MaxQueuedCodes-1].next = noSlot
	q.free = 0
	q.head = noSlot
	q.tail = noSlot
	q.size = 0
}

// Deferrable reports whether a command line must wait for the motion
// sequence. It scans the raw bytes and does not allocate.
func Deferrable(line []byte) bool {
	letter, code, ok := gcode.CommandWord(line)
	if !ok {
		return false
	}

	switch letter {
	case 'G':
		// Set active/standby temperatures
		return code == 10 && gcode.HasWord(line, 'P')

	case 'M':
		switch {
		// Fan control
		case code == 106 || code == 107:
			return true
		// Set temperatures and return immediately
		case code == 104 || code == 140 || code == 141 || code == 144:
			return true
		// Display message, beep, servo position, RGB colour
		case code == 117 || code == 300 || code == 280 || code == 420:
			return true
		// Valve control
		case code == 126 || code == 127:
			return true
		// Networking, emulation, compensation, probe and tool configuration
		case code == 540 || (code >= 550 && code <= 563):
			return true
		// Move, heater and auxiliary PWM configuration
		case code >= 566 && code <= 573:
			return true
		}
	}

	return false
}

// QueueCommand decides whether buf must be deferred. It returns true when
// the command was stored and must not be executed now.
//
// When the pool is exhausted the oldest pending command is evicted, the new
// command takes its slot, and buf is overwritten with the evicted text. The
// call then returns false so the caller executes the older command at once.
func (q *Queue) QueueCommand(buf Buffer) bool {
	if !Deferrable(buf.Bytes()) {
		return false
	}

	queued := true
	var evictedLen int
	var evictedAdjust int

	if q.free == noSlot {
		// Copy out before the slot is handed back
		old := &q.slots[q.head]
		evictedLen = copy(q.evicted[:], old.text())
		evictedAdjust = old.toolNumberAdjust
		core.RecordEvent(core.EvtEvicted, uint8(q.head), old.executeAtMove, uint32(q.size), 0)
		if core.IsDebugEnabled() {
			core.DebugAsync("queue: evicting '" + string(q.evicted[:evictedLen]) + "'")
		}
		q.release(q.popHead())
		queued = false
	}

	idx := q.free
	q.free = q.slots[idx].next
	executeAt := q.moves.ScheduledMoves()
	q.slots[idx].assignFrom(buf, executeAt)
	q.append(idx)
	core.RecordEvent(core.EvtDeferred, uint8(idx), executeAt, uint32(q.size), 0)

	if !queued {
		buf.SetToolNumberAdjust(evictedAdjust)
		buf.Load(q.evicted[:evictedLen])
	}

	return queued
}

// FillBuffer loads the oldest pending command into buf once the motion
// engine has completed the moves it was waiting for. At most one command
// is released per call.
func (q *Queue) FillBuffer(buf Buffer) bool {
	if q.head == noSlot {
		return false
	}

	completed := q.moves.CompletedMoves()
	item := &q.slots[q.head]
	if item.executeAtMove > completed {
		return false
	}

	item.assignTo(buf)
	core.RecordEvent(core.EvtReleased, uint8(q.head), item.executeAtMove, completed, 0)
	q.release(q.popHead())
	return true
}

// PurgeEntries drops every pending command that waits for a move which
// will never be completed because skippedMoves scheduled moves were
// abandoned. Entries at or before the threshold stay in place.
func (q *Queue) PurgeEntries(skippedMoves uint32) {
	movesToDo := int64(q.moves.CompletedMoves()) - int64(skippedMoves)

	prev := noSlot
	idx := q.head
	for idx != noSlot {
		next := q.slots[idx].next
		if int64(q.slots[idx].executeAtMove) > movesToDo {
			// Unlink it from the pending list
			if prev == noSlot {
				q.head = next
			} else {
				q.slots[prev].next = next
			}
			if q.tail == idx {
				q.tail = prev
			}
			q.size--
			core.RecordEvent(core.EvtPurged, uint8(idx), q.slots[idx].executeAtMove, skippedMoves, 0)
			q.release(idx)
		} else {
			prev = idx
		}
		idx = next
	}
}

// Clear drops every pending command
func (q *Queue) Clear() {
	for q.head != noSlot {
		q.release(q.popHead())
	}
}

// Len returns the number of pending commands
func (q *Queue) Len() int {
	return q.size
}

// IsEmpty returns true if nothing is pending
func (q *Queue) IsEmpty() bool {
	return q.head == noSlot
}

// Diagnostics writes a human-readable listing of the pending commands
func (q *Queue) Diagnostics(w io.Writer) {
	if q.head == noSlot {
		fmt.Fprintf(w, "Internal code queue is empty.\n")
		return
	}

	fmt.Fprintf(w, "Internal code queue is not empty:\n")
	for idx := q.head; idx != noSlot; idx = q.slots[idx].next {
		fmt.Fprintf(w, "Queued '%s' for move %d\n", q.slots[idx].text(), q.slots[idx].executeAtMove)
	}
	fmt.Fprintf(w, "%d of %d codes have been queued.\n", q.size, MaxQueuedCodes)
}

// popHead unlinks and returns the oldest pending entry
func (q *Queue) popHead() int {
	idx := q.head
	q.head = q.slots[idx].next
	if q.head == noSlot {
		q.tail = noSlot
	}
	q.size--
	return idx
}

// append links a slot at the tail of the pending list
func (q *Queue) append(idx int) {
	q.slots[idx].next = noSlot
	if q.tail == noSlot {
		q.head = idx
	} else {
		q.slots[q.tail].next = idx
	}
	q.tail = idx
	q.size++
}

// release returns a slot to the free list
func (q *Queue) release(idx int) {
	q.slots[idx].next = q.free
	q.free = idx
}
