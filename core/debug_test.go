package core

import (
	"strings"
	"testing"
)

func TestEventRingOrder(t *testing.T) {
	ClearEventRing()
	defer ClearEventRing()

	RecordEvent(EvtDeferred, 0, 3, 1, 0)
	RecordEvent(EvtReleased, 0, 3, 3, 0)

	events := RecentEvents()
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].EventType != EvtDeferred || events[1].EventType != EvtReleased {
		t.Errorf("Expected oldest first, got %v", events)
	}
}

func TestEventRingWraps(t *testing.T) {
	ClearEventRing()
	defer ClearEventRing()

	for i := 0; i < EventRingSize+5; i++ {
		RecordEvent(EvtOverflow, 1, uint32(i), 0, 0)
	}

	events := RecentEvents()
	if len(events) != EventRingSize {
		t.Fatalf("Expected %d events, got %d", EventRingSize, len(events))
	}
	if events[0].Move != 5 || events[EventRingSize-1].Move != EventRingSize+4 {
		t.Errorf("Expected moves 5..%d, got %d..%d", EventRingSize+4, events[0].Move, events[EventRingSize-1].Move)
	}
}

func TestDumpEventRing(t *testing.T) {
	ClearEventRing()
	defer ClearEventRing()

	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})

	RecordEvent(EvtEmergency, 2, 7, 4, 0)
	DumpEventRing()

	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %v", len(lines), lines)
	}
	if lines[1] != "[INTAKE] EMERGENCY! src=2 move=7 v1=4 v2=0" {
		t.Errorf("Unexpected dump line '%s'", lines[1])
	}
}

func TestDebugPrintlnDisabled(t *testing.T) {
	var got []string
	SetDebugWriter(func(s string) { got = append(got, s) })
	defer SetDebugWriter(func(string) {})

	SetDebugEnabled(false)
	DebugPrintln("hidden")
	SetDebugEnabled(true)
	DebugPrintln("shown")
	SetDebugEnabled(false)

	if strings.Join(got, ",") != "shown" {
		t.Errorf("Expected only 'shown', got %v", got)
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		in   uint32
		want string
	}{
		{0, "0"},
		{7, "7"},
		{1234567, "1234567"},
		{4294967295, "4294967295"},
	}

	for _, test := range tests {
		if got := string(appendUint(nil, test.in)); got != test.want {
			t.Errorf("appendUint(%d): expected '%s', got '%s'", test.in, test.want, got)
		}
	}

	line := formatEvent([]byte("stale"), IntakeEvent{EventType: EvtRewind, Source: 255, Move: 12, Value1: 4096})
	if got := string(line); got != "stale[INTAKE] REWIND src=255 move=12 v1=4096 v2=0" {
		t.Errorf("Unexpected event line '%s'", got)
	}
}
