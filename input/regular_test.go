package input

import (
	"strings"
	"testing"

	"gcodeflow/gcode"
)

// drain pulls every cached byte out of the ring without a consumer
func drain(in *RegularInput) string {
	var sb strings.Builder
	for {
		c, ok := in.ring.getByte()
		if !ok {
			return sb.String()
		}
		sb.WriteByte(c)
	}
}

func feed(in *RegularInput, s string) {
	for i := 0; i < len(s); i++ {
		in.Put(s[i])
	}
}

func TestEmergencyStopRecognized(t *testing.T) {
	for _, line := range []string{"M112\n", "M112 ", "M112\x00", "M112;", "M112\r"} {
		aborts := 0
		in := NewRegularInput(true, func() { aborts++ })

		feed(in, line)

		if aborts != 1 {
			t.Errorf("Expected 1 abort for %q, got %d", line, aborts)
		}
		if in.BytesCached() != 0 {
			t.Errorf("Expected nothing cached for %q, got %q", line, drain(in))
		}
		if in.state != stateIdle {
			t.Errorf("Expected idle state after %q, got %d", line, in.state)
		}
	}
}

func TestEmergencyStopBeforeLineCompletes(t *testing.T) {
	aborts := 0
	in := NewRegularInput(false, func() { aborts++ })

	// The stop fires on the space, while the rest of the line is still missing
	feed(in, "M112 ")
	if aborts != 1 {
		t.Fatalf("Expected abort before line end, got %d", aborts)
	}

	feed(in, "P1\n")
	if aborts != 1 {
		t.Errorf("Abort must fire exactly once, got %d", aborts)
	}
}

func TestEmergencyStopKeepsEarlierLines(t *testing.T) {
	aborts := 0
	in := NewRegularInput(false, func() { aborts++ })

	feed(in, "G1 X5\nM112\n")
	if aborts != 1 {
		t.Fatalf("Expected 1 abort, got %d", aborts)
	}
	if got := drain(in); got != "G1 X5\n" {
		t.Errorf("Expected earlier line to stay cached, got %q", got)
	}
}

func TestNearMissTokens(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"M113\n", "M113\n"},
		{"M1120\n", "M1120\n"},
		{"M11\n", "M11\n"},
		{"M1 S1\n", "M1 S1\n"},
		{"G1 M112\n", "G1 M112\n"},
		{"M104 S200\n", "M104 S200\n"},
	}

	for _, test := range tests {
		aborts := 0
		in := NewRegularInput(false, func() { aborts++ })
		feed(in, test.input)

		if aborts != 0 {
			t.Errorf("Unexpected abort for %q", test.input)
		}
		if got := drain(in); got != test.expected {
			t.Errorf("Expected %q cached, got %q", test.expected, got)
		}
	}
}

func TestEmergencyStopOnSecondLine(t *testing.T) {
	aborts := 0
	in := NewRegularInput(false, func() { aborts++ })

	feed(in, "G28\n  M112\n")
	if aborts != 1 {
		t.Errorf("Expected abort on second line, got %d", aborts)
	}
	if got := drain(in); got != "G28\n" {
		t.Errorf("Expected %q, got %q", "G28\n", got)
	}
}

func TestCommentStripping(t *testing.T) {
	in := NewRegularInput(true, nil)
	feed(in, "G1 X10 ;comment\n")
	if got := drain(in); got != "G1 X10 \n" {
		t.Errorf("Expected %q, got %q", "G1 X10 \n", got)
	}

	keep := NewRegularInput(false, nil)
	feed(keep, "G1 X10 ;comment\n")
	if got := drain(keep); got != "G1 X10 ;comment\n" {
		t.Errorf("Expected comment kept, got %q", got)
	}
}

func TestLeadingWhitespaceSkipped(t *testing.T) {
	in := NewRegularInput(true, nil)
	feed(in, " \t\r\n  G90\n\n\nG91\n")
	if got := drain(in); got != "G90\nG91\n" {
		t.Errorf("Expected %q, got %q", "G90\nG91\n", got)
	}
}

func TestPutDropsWhenFull(t *testing.T) {
	in := NewRegularInput(false, nil)
	feed(in, "G")
	for i := 0; i < BufferSize*2; i++ {
		in.Put('1')
	}

	if in.BytesCached() != BufferSize-1 {
		t.Errorf("Expected %d cached, got %d", BufferSize-1, in.BytesCached())
	}
	if in.BufferSpaceLeft() != 0 {
		t.Errorf("Expected no space left, got %d", in.BufferSpaceLeft())
	}
}

func TestPutBytes(t *testing.T) {
	in := NewRegularInput(false, nil)

	if !in.PutString("M83") {
		t.Fatal("PutString should fit")
	}
	if got := drain(in); got != "M83\x00" {
		t.Errorf("Expected %q, got %q", "M83\x00", got)
	}

	// A block that does not fit is rejected as a whole
	big := strings.Repeat("G", BufferSize)
	before := in.BytesCached()
	if in.PutString(big) {
		t.Error("Oversized block should be rejected")
	}
	if in.BytesCached() != before {
		t.Errorf("Rejected block must not be partially cached, got %d bytes", in.BytesCached())
	}
}

func TestPutBytesEmergency(t *testing.T) {
	aborts := 0
	in := NewRegularInput(false, func() { aborts++ })
	in.PutString("M112")
	if aborts != 1 || in.BytesCached() != 0 {
		t.Errorf("Expected one abort and empty cache, got %d aborts and %d bytes", aborts, in.BytesCached())
	}
}

func TestFillBuffer(t *testing.T) {
	in := NewRegularInput(true, nil)
	gb := gcode.NewCommandBuffer("test")

	if in.FillBuffer(gb) {
		t.Error("Empty input should not produce a command")
	}

	feed(in, "G1 X1 ; first\nG1 X2\n")
	if !in.FillBuffer(gb) {
		t.Fatal("Expected first command")
	}
	if gb.Text() != "G1 X1 " {
		t.Errorf("Expected 'G1 X1 ', got '%s'", gb.Text())
	}
	if in.BytesCached() != len("G1 X2\n") {
		t.Errorf("FillBuffer must stop at the end of the command, %d cached", in.BytesCached())
	}

	if !in.FillBuffer(gb) {
		t.Fatal("Expected second command")
	}
	if gb.Text() != "G1 X2" {
		t.Errorf("Expected 'G1 X2', got '%s'", gb.Text())
	}
}

func TestFillBufferPartialLine(t *testing.T) {
	in := NewRegularInput(false, nil)
	gb := gcode.NewCommandBuffer("test")

	feed(in, "G1 X")
	if in.FillBuffer(gb) {
		t.Error("Partial line should not complete")
	}
	feed(in, "10\n")
	if !in.FillBuffer(gb) {
		t.Fatal("Line should complete once its terminator arrives")
	}
	if gb.Text() != "G1 X10" {
		t.Errorf("Expected 'G1 X10', got '%s'", gb.Text())
	}
}

func TestBytesCachedAcrossWrap(t *testing.T) {
	in := NewRegularInput(false, nil)
	gb := gcode.NewCommandBuffer("test")
	line := "G1 X100 Y100 F3000\n"

	pending := 0
	for round := 0; round < 50; round++ {
		if in.BufferSpaceLeft() >= len(line) {
			feed(in, line)
			pending += len(line)
		}
		if in.BytesCached() != pending {
			t.Fatalf("Round %d: expected %d cached, got %d", round, pending, in.BytesCached())
		}
		if round%3 == 0 && in.FillBuffer(gb) {
			pending -= len(line)
			if gb.Text() != "G1 X100 Y100 F3000" {
				t.Fatalf("Round %d: corrupted command '%s'", round, gb.Text())
			}
		}
	}
}

type recordingUploader struct {
	raw   []byte
	lines []string
	limit int
}

func (u *recordingUploader) UploadByte(c byte) bool {
	u.raw = append(u.raw, c)
	return len(u.raw) >= u.limit
}

func (u *recordingUploader) UploadLine(line []byte) bool {
	if string(line) == "M29" {
		return true
	}
	u.lines = append(u.lines, string(line))
	return false
}

func TestFillBufferRawUpload(t *testing.T) {
	in := NewRegularInput(false, nil)
	up := &recordingUploader{limit: 4}
	in.SetUploader(up)

	gb := gcode.NewCommandBuffer("test")
	gb.SetUpload(gcode.UploadRaw)

	feed(in, "<h1>G1\n")
	if !in.FillBuffer(gb) {
		t.Error("Expected a command once the upload is done")
	}
	if string(up.raw) != "<h1>" {
		t.Errorf("Expected raw '<h1>', got %q", up.raw)
	}
	if gb.Upload() != gcode.UploadNone {
		t.Error("Upload should end once the uploader is done")
	}
	if gb.Text() != "G1" {
		t.Errorf("Bytes after the upload should assemble a command, got '%s'", gb.Text())
	}
}

func TestFillBufferCommandUpload(t *testing.T) {
	in := NewRegularInput(false, nil)
	up := &recordingUploader{}
	in.SetUploader(up)

	gb := gcode.NewCommandBuffer("test")
	gb.SetUpload(gcode.UploadCommands)

	feed(in, "G1 X1\nM29\n")
	if !in.FillBuffer(gb) || !gb.Finished() {
		t.Fatal("Uploaded line should complete and be marked finished")
	}
	if !in.FillBuffer(gb) {
		t.Fatal("Expected M29 line")
	}
	if len(up.lines) != 1 || up.lines[0] != "G1 X1" {
		t.Errorf("Expected uploaded lines [G1 X1], got %v", up.lines)
	}
	if gb.Upload() != gcode.UploadNone {
		t.Error("M29 should end the upload")
	}
}

func TestReset(t *testing.T) {
	in := NewRegularInput(true, nil)
	feed(in, "G1 ;partial")
	in.Reset()
	if in.BytesCached() != 0 || in.state != stateIdle {
		t.Error("Reset should empty the ring and go idle")
	}
}

func TestRawPassthrough(t *testing.T) {
	aborts := 0
	in := NewRegularInput(true, func() { aborts++ })

	data := "  M112 ;c\n"
	in.PassRaw(len(data))
	feed(in, data)
	if aborts != 0 {
		t.Fatalf("Raw data must not trigger an emergency stop, got %d", aborts)
	}
	if in.RawPending() != 0 {
		t.Errorf("Expected passthrough used up, %d left", in.RawPending())
	}

	// Screening resumes right after the raw bytes
	feed(in, "M112\n")
	if aborts != 1 {
		t.Errorf("Expected 1 abort after the raw bytes, got %d", aborts)
	}
	if got := drain(in); got != data {
		t.Errorf("Expected raw bytes cached verbatim, got %q", got)
	}
}

func TestRawPassthroughCancelled(t *testing.T) {
	in := NewRegularInput(true, nil)
	in.PassRaw(10)
	in.Reset()

	feed(in, "G1 ;c\n")
	if got := drain(in); got != "G1 \n" {
		t.Errorf("Expected screened input after reset, got %q", got)
	}
}
