// Package motion is a time-based move planner. It exposes the counters the
// deferred command queue keys on: moves scheduled and moves completed.
package motion

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrInvalidMove is returned for moves that cannot be timed
var ErrInvalidMove = errors.New("invalid move")

// Position represents a position in machine coordinates
type Position struct {
	X float64
	Y float64
	Z float64
	E float64 // Extruder
}

// Move represents a planned move with timing information
type Move struct {
	Start    Position
	End      Position
	Velocity float64 // Max velocity (mm/s)
	Accel    float64 // Acceleration (mm/s^2)
	Distance float64 // Total distance (mm)

	// Trapezoidal profile parameters
	CruiseVel   float64       // Actual cruise velocity reached
	AccelTime   time.Duration // Time spent accelerating
	CruiseTime  time.Duration // Time spent at cruise velocity
	DecelTime   time.Duration // Time spent decelerating
	Duration    time.Duration // Total duration
}

// Config holds the motion limits used to time moves
type Config struct {
	MaxVelocity   [4]float64 // Per-axis maximum velocity X, Y, Z, E (mm/s)
	MinMoveTime   time.Duration
	SpeedOverride float64 // Multiplier applied to every move duration, 0 means 1
}

// Planner queues moves and completes them as time passes. It is safe for
// concurrent use so an emergency stop may come from an input goroutine.
type Planner struct {
	mu  sync.Mutex
	cfg Config

	// Current state
	currentPos Position
	moveQueue  []*Move
	executing  *Move
	moveEnds   time.Time

	scheduled uint32
	completed uint32

	clock func() time.Time
}

// NewPlanner creates a new motion planner
func NewPlanner(cfg Config) *Planner {
	return &Planner{
		cfg:       cfg,
		moveQueue: make([]*Move, 0, 32),
		clock:     time.Now,
	}
}

// SetClock replaces the time source
func (p *Planner) SetClock(clock func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
}

// QueueMove adds a move to the queue and counts it as scheduled
func (p *Planner) QueueMove(move *Move) error {
	if move == nil || move.Accel <= 0 || move.Velocity <= 0 {
		return ErrInvalidMove
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calculateTrapezoid(move)
	p.moveQueue = append(p.moveQueue, move)
	p.scheduled++
	p.currentPos = move.End

	// Start execution if not already running
	if p.executing == nil {
		p.executeNextMove(p.clock())
	}

	return nil
}

// calculateTrapezoid calculates the trapezoidal velocity profile for a move
func (p *Planner) calculateTrapezoid(move *Move) {
	maxVel := move.Velocity
	deltas := [4]float64{
		math.Abs(move.End.X - move.Start.X),
		math.Abs(move.End.Y - move.Start.Y),
		math.Abs(move.End.Z - move.Start.Z),
		math.Abs(move.End.E - move.Start.E),
	}

	if move.Distance <= 0 {
		// Extrude-only move: time it along the extruder axis
		move.Distance = deltas[3]
	}

	// Limit velocity to axis maximums
	for axis, d := range deltas {
		limit := p.cfg.MaxVelocity[axis]
		if d <= 0 || limit <= 0 || move.Distance <= 0 {
			continue
		}
		if axisVel := maxVel * d / move.Distance; axisVel > limit {
			maxVel = limit * move.Distance / d
		}
	}
	move.Velocity = maxVel

	accelDist := (maxVel * maxVel) / (2.0 * move.Accel)
	var accelTime, cruiseTime float64

	if accelDist*2.0 >= move.Distance {
		// Triangle profile (can't reach full speed)
		move.CruiseVel = math.Sqrt(move.Accel * move.Distance)
		accelTime = move.CruiseVel / move.Accel
	} else {
		// Trapezoidal profile
		move.CruiseVel = maxVel
		accelTime = maxVel / move.Accel
		cruiseTime = (move.Distance - 2.0*accelDist) / maxVel
	}

	scale := p.cfg.SpeedOverride
	if scale <= 0 {
		scale = 1
	}
	move.AccelTime = seconds(accelTime * scale)
	move.CruiseTime = seconds(cruiseTime * scale)
	move.DecelTime = move.AccelTime
	move.Duration = move.AccelTime + move.CruiseTime + move.DecelTime
	if move.Duration < p.cfg.MinMoveTime {
		move.Duration = p.cfg.MinMoveTime
	}
}

// executeNextMove starts the next move in the queue. Must be called with
// the lock held.
func (p *Planner) executeNextMove(now time.Time) {
	if len(p.moveQueue) == 0 {
		p.executing = nil
		return
	}

	p.executing = p.moveQueue[0]
	p.moveQueue = p.moveQueue[1:]
	p.moveEnds = now.Add(p.executing.Duration)
}

// Spin completes every move whose time has elapsed
func (p *Planner) Spin() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	for p.executing != nil && !now.Before(p.moveEnds) {
		p.completed++
		start := p.moveEnds
		p.executeNextMove(start)
	}
}

// ScheduledMoves returns the number of moves accepted so far
func (p *Planner) ScheduledMoves() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scheduled
}

// CompletedMoves returns the number of moves finished so far
func (p *Planner) CompletedMoves() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// GetCurrentPosition returns the position at the end of the last queued move
func (p *Planner) GetCurrentPosition() Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentPos
}

// SetPosition sets the current position without moving
func (p *Planner) SetPosition(pos Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentPos = pos
}

// Pause abandons the moves that have not started yet and returns how many
// were skipped. The move in progress is allowed to finish. Skipped moves
// count as completed so both counters stay monotonic.
func (p *Planner) Pause() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	skipped := uint32(len(p.moveQueue))
	if skipped > 0 && p.executing != nil {
		// Resume from where the printer will actually stop
		p.currentPos = p.executing.End
	}
	p.moveQueue = p.moveQueue[:0]
	p.completed += skipped
	return skipped
}

// ClearQueue drops every move, including the one in progress
func (p *Planner) ClearQueue() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.executing != nil {
		p.currentPos = p.executing.Start
	}
	p.moveQueue = p.moveQueue[:0]
	p.executing = nil
	p.completed = p.scheduled
}

// IsIdle returns true if no moves are queued or executing
func (p *Planner) IsIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executing == nil && len(p.moveQueue) == 0
}

// Pending returns the number of moves scheduled but not completed
func (p *Planner) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.moveQueue)
	if p.executing != nil {
		n++
	}
	return n
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
