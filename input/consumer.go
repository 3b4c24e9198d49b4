package input

import "gcodeflow/gcode"

// Consumer is the line-level command assembler an input drains into
type Consumer interface {
	// Put accepts one byte and returns true when a full command is ready
	Put(c byte) bool
	Bytes() []byte
	Upload() gcode.UploadMode
	SetUpload(mode gcode.UploadMode)
	SetFinished(finished bool)
}

// Uploader receives the bytes of a consumer that is uploading a file
type Uploader interface {
	// UploadByte writes one raw byte and returns true once the upload is complete
	UploadByte(c byte) bool
	// UploadLine writes one assembled line and returns true once the upload is complete
	UploadLine(line []byte) bool
}

// pass hands one byte to the consumer, or to the uploader while the
// consumer is uploading, and reports whether a command is complete
func pass(c byte, consumer Consumer, up Uploader) bool {
	if consumer.Upload() == gcode.UploadRaw {
		if up == nil || up.UploadByte(c) {
			consumer.SetUpload(gcode.UploadNone)
		}
		return false
	}

	if !consumer.Put(c) {
		return false
	}

	// A completed line of a command upload goes to the file instead
	if consumer.Upload() == gcode.UploadCommands {
		if up == nil || up.UploadLine(consumer.Bytes()) {
			consumer.SetUpload(gcode.UploadNone)
		}
		consumer.SetFinished(true)
	}

	// Code is complete, stop here
	return true
}
