package gcode

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	gcodelib "github.com/256dpi/gcode"

	"gcodeflow/motion"
)

// ErrUnsupported is returned for commands the interpreter does not know
var ErrUnsupported = errors.New("unsupported command")

// Planner is the motion planner an interpreter queues moves into
type Planner interface {
	QueueMove(move *motion.Move) error
	GetCurrentPosition() motion.Position
	SetPosition(pos motion.Position)
}

// MachineState is the state changed by executed commands
type MachineState struct {
	Homed             [3]bool            // X, Y, Z
	AbsoluteMode      bool               // Absolute (G90) vs relative (G91) positioning
	RelativeExtrusion bool               // M83 vs M82
	FeedRate          float64            // Current feedrate (mm/s)
	TargetTemp        map[string]float64 // Heater name -> target
	FanSpeed          map[int]float64    // Fan number -> 0..1
	Message           string             // Last M117 message
	ActiveTool        int                // Selected tool, -1 for none
	Dwell             time.Duration      // Accumulated G4 dwell time
}

// Interpreter executes command lines against the machine state and planner
type Interpreter struct {
	state        *MachineState
	planner      Planner
	defaultAccel float64
	emergency    func()
}

// NewInterpreter creates a new G-code interpreter
func NewInterpreter(planner Planner, defaultVelocity, defaultAccel float64) *Interpreter {
	return &Interpreter{
		state: &MachineState{
			AbsoluteMode: true,
			FeedRate:     defaultVelocity,
			TargetTemp:   make(map[string]float64),
			FanSpeed:     make(map[int]float64),
			ActiveTool:   -1,
		},
		planner:      planner,
		defaultAccel: defaultAccel,
	}
}

// SetEmergencyHandler sets the action run for an M112 that reached execution
func (interp *Interpreter) SetEmergencyHandler(handler func()) {
	interp.emergency = handler
}

// words is one parsed line: the command word and its parameters
type words struct {
	letter string
	number int
	params map[string]float64
}

func (w *words) has(letter string) bool {
	_, ok := w.params[letter]
	return ok
}

func (w *words) get(letter string, def float64) float64 {
	if v, ok := w.params[letter]; ok {
		return v
	}
	return def
}

func parseWords(text string) (*words, error) {
	line, err := gcodelib.ParseLine(text)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", text, err)
	}

	w := &words{params: make(map[string]float64)}
	for _, code := range line.Codes {
		letter := strings.ToUpper(code.Letter)
		switch {
		case letter == "N" && w.letter == "":
			// Line number
		case w.letter == "" && (letter == "G" || letter == "M" || letter == "T"):
			w.letter = letter
			w.number = int(code.Value)
		default:
			w.params[letter] = code.Value
		}
	}
	return w, nil
}

// Execute executes one command line. toolNumberAdjust is added to tool
// numbers, as set by the source the command came from.
func (interp *Interpreter) Execute(text string, toolNumberAdjust int) error {
	text = strings.TrimSpace(trimTerminator(text))
	if text == "" {
		return nil
	}

	// M117 carries free text that is not made of words
	if cmd := ParseLine(text); cmd.Is('M', 117) {
		interp.state.Message = messageText(text)
		return nil
	}

	code := codeText(text)
	if code == "" {
		return nil
	}

	w, err := parseWords(code)
	if err != nil {
		return err
	}

	switch w.letter {
	case "G":
		return interp.executeG(w)
	case "M":
		return interp.executeM(w)
	case "T":
		interp.state.ActiveTool = w.number + toolNumberAdjust
		return nil
	case "":
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupported, text)
}

// executeG handles G-codes
func (interp *Interpreter) executeG(w *words) error {
	switch w.number {
	case 0, 1: // G0/G1 - Linear move
		return interp.doMove(w)
	case 4: // G4 - Dwell
		interp.state.Dwell += time.Duration(w.get("P", 0))*time.Millisecond +
			time.Duration(w.get("S", 0)*float64(time.Second))
	case 10: // G10 - Tool temperatures
		if w.has("S") {
			interp.state.TargetTemp[toolHeater(int(w.get("P", 0)))] = w.get("S", 0)
		}
	case 28: // G28 - Home
		return interp.doHome(w)
	case 90: // G90 - Absolute positioning
		interp.state.AbsoluteMode = true
	case 91: // G91 - Relative positioning
		interp.state.AbsoluteMode = false
	case 92: // G92 - Set position
		interp.doSetPosition(w)
	default:
		return fmt.Errorf("%w: G%d", ErrUnsupported, w.number)
	}

	return nil
}

// executeM handles M-codes
func (interp *Interpreter) executeM(w *words) error {
	switch w.number {
	case 82: // M82 - Absolute extrusion
		interp.state.RelativeExtrusion = false
	case 83: // M83 - Relative extrusion
		interp.state.RelativeExtrusion = true
	case 104, 109: // Set extruder temperature
		if w.has("S") {
			interp.state.TargetTemp["extruder"] = w.get("S", 0)
		}
	case 140, 190: // Set bed temperature
		if w.has("S") {
			interp.state.TargetTemp["bed"] = w.get("S", 0)
		}
	case 141: // Set chamber temperature
		if w.has("S") {
			interp.state.TargetTemp["chamber"] = w.get("S", 0)
		}
	case 106: // Fan on
		speed := w.get("S", 255)
		if speed > 1 {
			speed /= 255
		}
		interp.state.FanSpeed[int(w.get("P", 0))] = math.Max(0, math.Min(1, speed))
	case 107: // Fan off
		interp.state.FanSpeed[int(w.get("P", 0))] = 0
	case 112: // Emergency stop that reached execution
		if interp.emergency != nil {
			interp.emergency()
		}
	default:
		return fmt.Errorf("%w: M%d", ErrUnsupported, w.number)
	}

	return nil
}

// doMove executes a linear move (G0/G1)
func (interp *Interpreter) doMove(w *words) error {
	current := interp.planner.GetCurrentPosition()
	target := current

	// Update feedrate if specified
	if w.has("F") {
		interp.state.FeedRate = w.get("F", 0) / 60.0 // Convert mm/min to mm/s
	}

	if interp.state.AbsoluteMode {
		target.X = w.get("X", current.X)
		target.Y = w.get("Y", current.Y)
		target.Z = w.get("Z", current.Z)
	} else {
		target.X = current.X + w.get("X", 0)
		target.Y = current.Y + w.get("Y", 0)
		target.Z = current.Z + w.get("Z", 0)
	}

	if w.has("E") {
		if interp.state.RelativeExtrusion {
			target.E = current.E + w.get("E", 0)
		} else {
			target.E = w.get("E", current.E)
		}
	}

	dx := target.X - current.X
	dy := target.Y - current.Y
	dz := target.Z - current.Z
	de := target.E - current.E
	distance := math.Sqrt(dx*dx + dy*dy + dz*dz)

	// Skip if no movement
	if distance < 0.001 && math.Abs(de) < 0.001 {
		return nil
	}

	return interp.planner.QueueMove(&motion.Move{
		Start:    current,
		End:      target,
		Velocity: interp.state.FeedRate,
		Accel:    interp.defaultAccel,
		Distance: distance,
	})
}

// doHome executes homing (G28) by setting the homed axes to zero
func (interp *Interpreter) doHome(w *words) error {
	pos := interp.planner.GetCurrentPosition()
	all := !w.has("X") && !w.has("Y") && !w.has("Z")

	if all || w.has("X") {
		interp.state.Homed[0] = true
		pos.X = 0
	}
	if all || w.has("Y") {
		interp.state.Homed[1] = true
		pos.Y = 0
	}
	if all || w.has("Z") {
		interp.state.Homed[2] = true
		pos.Z = 0
	}

	interp.planner.SetPosition(pos)
	return nil
}

// doSetPosition sets the current position (G92)
func (interp *Interpreter) doSetPosition(w *words) {
	current := interp.planner.GetCurrentPosition()
	current.X = w.get("X", current.X)
	current.Y = w.get("Y", current.Y)
	current.Z = w.get("Z", current.Z)
	current.E = w.get("E", current.E)
	interp.planner.SetPosition(current)
}

// GetState returns the current machine state
func (interp *Interpreter) GetState() *MachineState {
	return interp.state
}

// messageText returns the text following the M117 word
func messageText(text string) string {
	i := strings.Index(strings.ToUpper(text), "M117")
	msg := strings.TrimSpace(text[i+len("M117"):])
	return strings.Trim(msg, "\"")
}

// codeText cuts a line at a trailing ';' comment or '*' checksum
func codeText(text string) string {
	if i := strings.IndexAny(text, ";*"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

func toolHeater(tool int) string {
	return "tool" + fmt.Sprint(tool)
}
