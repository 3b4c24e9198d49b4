package gcode

import (
	"testing"
)

func TestParseBasicCommands(t *testing.T) {
	tests := []struct {
		input   string
		cmdType byte
		cmdNum  int
		params  map[byte]float64
	}{
		{
			input:   "G0 X10 Y20",
			cmdType: 'G',
			cmdNum:  0,
			params:  map[byte]float64{'X': 10, 'Y': 20},
		},
		{
			input:   "G1 X100.5 Y200.25 F3000",
			cmdType: 'G',
			cmdNum:  1,
			params:  map[byte]float64{'X': 100.5, 'Y': 200.25, 'F': 3000},
		},
		{
			input:   "G28",
			cmdType: 'G',
			cmdNum:  28,
			params:  map[byte]float64{},
		},
		{
			input:   "M104 S200",
			cmdType: 'M',
			cmdNum:  104,
			params:  map[byte]float64{'S': 200},
		},
		{
			input:   "N42 M106 P1 S255*77",
			cmdType: 'M',
			cmdNum:  106,
			params:  map[byte]float64{'P': 1, 'S': 255},
		},
		{
			input:   "G10 P0 R150\n",
			cmdType: 'G',
			cmdNum:  10,
			params:  map[byte]float64{'P': 0, 'R': 150},
		},
	}

	for _, test := range tests {
		cmd := ParseLine(test.input)
		if cmd == nil {
			t.Errorf("Got nil command for '%s'", test.input)
			continue
		}

		if cmd.Type != test.cmdType {
			t.Errorf("Expected type %c, got %c for '%s'", test.cmdType, cmd.Type, test.input)
		}

		if cmd.Number != test.cmdNum {
			t.Errorf("Expected number %d, got %d for '%s'", test.cmdNum, cmd.Number, test.input)
		}

		if !cmd.Is(test.cmdType, test.cmdNum) {
			t.Errorf("Expected Is(%c, %d) for '%s'", test.cmdType, test.cmdNum, test.input)
		}

		for param, value := range test.params {
			if !cmd.HasParameter(param) {
				t.Errorf("Missing parameter %c in '%s'", param, test.input)
			} else if cmd.GetParameter(param, 0) != value {
				t.Errorf("Expected %c=%f, got %c=%f in '%s'",
					param, value, param, cmd.GetParameter(param, 0), test.input)
			}
		}
	}
}

func TestParseNegativeNumbers(t *testing.T) {
	cmd := ParseLine("G1 X-10.5 Y-20")
	if cmd == nil {
		t.Fatal("Failed to parse")
	}

	if cmd.GetParameter('X', 0) != -10.5 {
		t.Errorf("Expected X=-10.5, got X=%f", cmd.GetParameter('X', 0))
	}

	if cmd.GetParameter('Y', 0) != -20 {
		t.Errorf("Expected Y=-20, got Y=%f", cmd.GetParameter('Y', 0))
	}
}

func TestParseComments(t *testing.T) {
	tests := []struct {
		input   string
		comment string
	}{
		{"; This is a comment", "; This is a comment"},
		{"G0 X10 ; Move to X10", "; Move to X10"},
		{"(This is a comment)", "(This is a comment)"},
	}

	for _, test := range tests {
		cmd := ParseLine(test.input)
		if cmd == nil {
			t.Errorf("Got nil command for '%s'", test.input)
			continue
		}

		if cmd.Comment != test.comment {
			t.Errorf("Expected comment '%s', got '%s'", test.comment, cmd.Comment)
		}
	}
}

func TestParseLowercase(t *testing.T) {
	cmd := ParseLine("g1 x10 y20")
	if cmd == nil {
		t.Fatal("Failed to parse")
	}

	if cmd.Type != 'G' {
		t.Errorf("Expected type G, got %c", cmd.Type)
	}

	if cmd.Number != 1 {
		t.Errorf("Expected number 1, got %d", cmd.Number)
	}

	if cmd.GetParameter('X', 0) != 10 {
		t.Errorf("Expected X=10, got X=%f", cmd.GetParameter('X', 0))
	}
}

func TestParseBareLetter(t *testing.T) {
	cmd := ParseLine("G28 X Y")
	if !cmd.HasParameter('X') || !cmd.HasParameter('Y') {
		t.Errorf("Expected bare X and Y to be seen, got %v", cmd.Parameters)
	}
	if cmd.HasParameter('Z') {
		t.Error("Z should not be seen")
	}
}

func TestParseEmptyLine(t *testing.T) {
	for _, line := range []string{"", "   ", "\n", "\x00"} {
		if cmd := ParseLine(line); cmd != nil {
			t.Errorf("Blank line %q should return nil command", line)
		}
	}
}
