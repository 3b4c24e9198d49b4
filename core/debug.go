package core

import "sync"

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// IntakeEvent captures a command-intake event for post-mortem analysis
type IntakeEvent struct {
	EventType uint8  // Event type code
	Source    uint8  // Input source or queue slot
	Move      uint32 // Motion-sequence position at the event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtDeferred  = 1 // Command stored in the deferred queue
	EvtEvicted   = 2 // Oldest deferred command forced out by a new one
	EvtReleased  = 3 // Deferred command handed back for execution
	EvtPurged    = 4 // Deferred command dropped by a pause/cancel
	EvtEmergency = 5 // Emergency token recognized in a byte stream
	EvtRewind    = 6 // File rewound after a file switch
	EvtOverflow  = 7 // Byte dropped because the input ring was full
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Event capture ring buffer (for post-mortem)
	// Guarded by eventMu: a port pump records events from its own goroutine
	eventMu       sync.Mutex
	eventRing     [EventRingSize]IntakeEvent
	eventRingHead uint8       // Next write position
	eventsEnabled bool = true // Always capture intake events

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, a logger, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this once after SetDebugWriter
func InitAsyncDebug() {
	if debugChan != nil {
		return
	}
	debugChan = make(chan string, 16) // Buffer 16 messages
	go debugOutputWorker(debugChan)
}

// debugOutputWorker runs in background, drains debug channel
func debugOutputWorker(ch chan string) {
	for msg := range ch {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
// Blocks if debug is enabled (use DebugAsync for non-blocking)
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if !debugEnabled || debugChan == nil {
		return
	}
	select {
	case debugChan <- msg:
	default:
		// Channel full, drop message (non-blocking)
	}
}

// RecordEvent captures an intake event in the ring buffer
func RecordEvent(eventType, source uint8, move, value1, value2 uint32) {
	if !eventsEnabled {
		return
	}
	eventMu.Lock()
	defer eventMu.Unlock()
	idx := eventRingHead
	eventRing[idx] = IntakeEvent{
		EventType: eventType,
		Source:    source,
		Move:      move,
		Value1:    value1,
		Value2:    value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// RecentEvents returns the recorded events, oldest first
func RecentEvents() []IntakeEvent {
	eventMu.Lock()
	defer eventMu.Unlock()
	events := make([]IntakeEvent, 0, EventRingSize)
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.EventType == 0 {
			continue // Empty slot
		}
		events = append(events, evt)
	}
	return events
}

// EventName returns a short name for an event type code
func EventName(eventType uint8) string {
	switch eventType {
	case EvtDeferred:
		return "DEFERRED"
	case EvtEvicted:
		return "EVICTED!"
	case EvtReleased:
		return "RELEASED"
	case EvtPurged:
		return "PURGED"
	case EvtEmergency:
		return "EMERGENCY!"
	case EvtRewind:
		return "REWIND"
	case EvtOverflow:
		return "OVERFLOW"
	default:
		return "UNKNOWN"
	}
}

// DumpEventRing outputs the event ring buffer (call on shutdown/error)
func DumpEventRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[INTAKE] === Event Ring Dump ===")
	line := make([]byte, 0, 64)
	for _, evt := range RecentEvents() {
		line = formatEvent(line[:0], evt)
		debugPrintln(string(line))
	}
	debugPrintln("[INTAKE] === End Dump ===")
}

// ClearEventRing clears the event buffer
func ClearEventRing() {
	eventMu.Lock()
	defer eventMu.Unlock()
	for i := range eventRing {
		eventRing[i] = IntakeEvent{}
	}
	eventRingHead = 0
}
