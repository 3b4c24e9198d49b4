package gcode

// CommandLength is the size of a command text field, terminator included.
// A command line holds at most CommandLength-1 bytes of text.
const CommandLength = 100

// UploadMode tells an input where the bytes of a buffer should go
type UploadMode uint8

const (
	// UploadNone: bytes assemble command lines for execution
	UploadNone UploadMode = iota
	// UploadRaw: every byte is written verbatim to the upload file
	UploadRaw
	// UploadCommands: each assembled line is written to the upload file
	UploadCommands
)

// CommandBuffer assembles one command line from single bytes.
// It is the consumer every input drains into.
type CommandBuffer struct {
	name             string
	text             [CommandLength]byte
	length           int
	ready            bool
	overflowed       bool
	toolNumberAdjust int
	upload           UploadMode
	finished         bool
}

// NewCommandBuffer creates an empty buffer for the named source
func NewCommandBuffer(name string) *CommandBuffer {
	return &CommandBuffer{name: name}
}

// Name returns the source name this buffer belongs to
func (b *CommandBuffer) Name() string {
	return b.name
}

// Put accepts one byte and returns true when a full command line is ready.
// A line is complete on NUL, CR or LF; blank lines are ignored. Bytes past
// the text limit are dropped and the line is flagged as overflowed.
func (b *CommandBuffer) Put(c byte) bool {
	if b.ready {
		b.clearLine()
	}

	if c == 0 || c == '\r' || c == '\n' {
		if b.length == 0 {
			return false
		}
		b.ready = true
		return true
	}

	// Ignore leading whitespace
	if b.length == 0 && (c == ' ' || c == '\t') {
		return false
	}

	if b.length >= CommandLength-1 {
		b.overflowed = true
		return false
	}

	b.text[b.length] = c
	b.length++
	return false
}

// PutString feeds a whole string followed by a terminator and reports
// whether a command is ready afterwards
func (b *CommandBuffer) PutString(s string) bool {
	ready := false
	for i := 0; i < len(s); i++ {
		ready = b.Put(s[i])
	}
	if !ready {
		ready = b.Put(0)
	}
	return ready
}

// Load replaces the held command with text, up to its first NUL, and marks
// it ready for execution
func (b *CommandBuffer) Load(text []byte) {
	b.clearLine()
	for _, c := range text {
		if c == 0 || b.length >= CommandLength-1 {
			break
		}
		b.text[b.length] = c
		b.length++
	}
	b.ready = b.length > 0
}

// Bytes returns the held command text
func (b *CommandBuffer) Bytes() []byte {
	return b.text[:b.length]
}

// Text returns the held command text as a string
func (b *CommandBuffer) Text() string {
	return string(b.text[:b.length])
}

// Command parses the held command text
func (b *CommandBuffer) Command() *Command {
	return ParseLine(b.Text())
}

// Ready returns whether a full command line is held
func (b *CommandBuffer) Ready() bool {
	return b.ready
}

// Overflowed returns whether the held line lost bytes past the text limit
func (b *CommandBuffer) Overflowed() bool {
	return b.overflowed
}

// ToolNumberAdjust returns the tool numbering offset in effect for this source
func (b *CommandBuffer) ToolNumberAdjust() int {
	return b.toolNumberAdjust
}

// SetToolNumberAdjust sets the tool numbering offset for this source
func (b *CommandBuffer) SetToolNumberAdjust(adjust int) {
	b.toolNumberAdjust = adjust
}

// Upload returns the current upload mode
func (b *CommandBuffer) Upload() UploadMode {
	return b.upload
}

// SetUpload switches the upload mode
func (b *CommandBuffer) SetUpload(mode UploadMode) {
	b.upload = mode
}

// Finished returns whether the held line was consumed by an upload
func (b *CommandBuffer) Finished() bool {
	return b.finished
}

// SetFinished marks the held line as consumed without execution
func (b *CommandBuffer) SetFinished(finished bool) {
	b.finished = finished
}

// Reset drops the held line and leaves upload mode
func (b *CommandBuffer) Reset() {
	b.clearLine()
	b.upload = UploadNone
}

func (b *CommandBuffer) clearLine() {
	b.length = 0
	b.ready = false
	b.overflowed = false
	b.finished = false
}
