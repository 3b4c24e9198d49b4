// Package controller runs the command intake loop: it drains the serial and
// file inputs, defers commands that must wait for motion, and executes the
// rest.
package controller

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"gcodeflow/config"
	"gcodeflow/core"
	"gcodeflow/gcode"
	"gcodeflow/input"
	"gcodeflow/motion"
	"gcodeflow/queue"
	"gcodeflow/storage"
)

// Event source tags
const (
	SourceSerial uint8 = iota
	SourceFile
	SourceQueue
)

// MaxMacroDepth is the number of files that may be open on the file stack,
// the print file included
const MaxMacroDepth = 5

var (
	// ErrMacroDepth is returned when macros nest too deep
	ErrMacroDepth = errors.New("macro nesting too deep")
	// ErrBadArgument is returned for commands missing a required argument
	ErrBadArgument = errors.New("missing or bad argument")
)

// Manager coordinates the inputs, the deferred queue, the interpreter and
// the planner. Spin must be called from one goroutine; the serial input may
// be fed from another.
type Manager struct {
	cfg         *config.Config
	log         *slog.Logger
	planner     *motion.Planner
	interpreter *gcode.Interpreter
	queue       *queue.Queue

	serialIn  *input.RegularInput
	serialBuf *gcode.CommandBuffer
	fileIn    *input.FileInput
	queueBuf  *gcode.CommandBuffer

	// File stack: the print file at the bottom, macros above it
	files     []fileLevel
	printFile *storage.FileStore
	upload    *storage.Upload

	resetPending atomic.Bool
	emergencies  atomic.Uint32
	paused       bool
	executed     uint64
	failed       uint64

	outputBuffer []byte
}

// fileLevel is one file on the stack with the line it is assembling. A
// nested file never shares the partial line of the file it interrupts.
type fileLevel struct {
	store *storage.FileStore
	buf   *gcode.CommandBuffer
}

// NewManager creates a manager with an existing config
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:          cfg,
		log:          logger,
		planner:      motion.NewPlanner(cfg.Motion()),
		serialBuf:    gcode.NewCommandBuffer("serial"),
		queueBuf:     gcode.NewCommandBuffer("queue"),
		outputBuffer: make([]byte, 0, 256),
	}

	m.queue = queue.New(m.planner)
	m.interpreter = gcode.NewInterpreter(m.planner, cfg.DefaultVelocity, cfg.DefaultAccel)
	m.interpreter.SetEmergencyHandler(m.EmergencyStop)

	m.serialIn = input.NewRegularInput(!cfg.KeepComments, m.EmergencyStop)
	m.serialIn.SetSource(SourceSerial)
	m.fileIn = input.NewFileInput(!cfg.KeepComments)
	m.fileIn.SetSource(SourceFile)

	core.SetDebugWriter(func(msg string) { logger.Debug(msg) })
	core.SetDebugEnabled(cfg.Debug)
	if cfg.Debug {
		core.InitAsyncDebug()
	}

	return m
}

// SerialInput returns the input the host serial link feeds
func (m *Manager) SerialInput() *input.RegularInput {
	return m.serialIn
}

// Planner returns the motion planner
func (m *Manager) Planner() *motion.Planner {
	return m.planner
}

// Queue returns the deferred command queue
func (m *Manager) Queue() *queue.Queue {
	return m.queue
}

// GetState returns the current machine state
func (m *Manager) GetState() *gcode.MachineState {
	return m.interpreter.GetState()
}

// Spin runs one pass of the control loop
func (m *Manager) Spin() {
	if m.resetPending.CompareAndSwap(true, false) {
		m.resetControl()
	}

	m.planner.Spin()

	// Released commands run first, they have waited long enough
	m.releaseDeferred()

	m.spinSerial()
	m.spinFile()
}

// releaseDeferred executes the oldest deferred command once the move it
// waits for has completed. A release caused by an emergency stop that
// landed after the reset check is dropped.
func (m *Manager) releaseDeferred() {
	if !m.queue.FillBuffer(m.queueBuf) {
		return
	}
	// EmergencyStop raises the flag before it clears the planner
	if m.resetPending.Load() {
		m.log.Debug("release dropped by emergency stop", "command", m.queueBuf.Text())
		return
	}
	m.execute(m.queueBuf)
}

// spinSerial handles at most one command line from the host
func (m *Manager) spinSerial() {
	ready := m.serialIn.FillBuffer(m.serialBuf)
	m.checkUpload()
	if !ready {
		return
	}

	if m.serialBuf.Finished() {
		// The line went into the upload file
		m.SendResponse("ok\n")
		return
	}

	if err := m.dispatch(m.serialBuf); err != nil {
		m.SendResponse("Error: " + err.Error() + "\n")
	}
	m.SendResponse("ok\n")
}

// spinFile handles at most one command line from the file on top of the stack
func (m *Manager) spinFile() {
	if m.paused || len(m.files) == 0 {
		return
	}

	top := m.files[len(m.files)-1]
	if m.fileIn.ReadFromFile(top.store) {
		if m.fileIn.FillBuffer(top.buf) {
			m.dispatchFile(top)
		}
		return
	}

	// A last line without terminator still counts
	if top.buf.Put(0) {
		m.dispatchFile(top)
	}
	m.finishFile()
}

func (m *Manager) dispatchFile(level fileLevel) {
	if err := m.dispatch(level.buf); err != nil {
		m.log.Warn("file command failed", "file", level.store.Name(), "command", level.buf.Text(), "err", err)
	}
}

// finishFile pops and closes the file on top of the stack
func (m *Manager) finishFile() {
	top := len(m.files) - 1
	file := m.files[top].store
	m.files[top] = fileLevel{}
	m.files = m.files[:top]

	if err := file.Close(); err != nil {
		m.log.Warn("close failed", "file", file.Name(), "err", err)
	}
	if file == m.printFile {
		m.printFile = nil
		m.log.Info("print finished", "file", file.Name())
	} else {
		m.log.Debug("macro finished", "file", file.Name())
	}

	if len(m.files) == 0 {
		m.fileIn.Reset()
	}
}

// dispatch defers a command that must wait for motion or executes it now.
// A full queue hands back the oldest deferred command, which runs instead.
func (m *Manager) dispatch(buf *gcode.CommandBuffer) error {
	if buf.Overflowed() {
		m.log.Warn("command truncated", "source", buf.Name(), "command", buf.Text())
	}

	if m.queue.QueueCommand(buf) {
		m.log.Debug("command deferred", "source", buf.Name(), "command", buf.Text(),
			"move", m.planner.ScheduledMoves())
		return nil
	}

	return m.execute(buf)
}

// execute runs a command now
func (m *Manager) execute(buf *gcode.CommandBuffer) error {
	text := buf.Text()
	cmd := buf.Command()

	var err error
	switch {
	case cmd.Is('M', 23): // Select print file
		err = m.SelectFile(argument(text, 1))
	case cmd.Is('M', 24): // Start or resume print
		err = m.Resume()
	case cmd.Is('M', 25): // Pause print
		m.Pause()
	case cmd.Is('M', 28): // Begin upload, raw when a byte count is given
		err = m.startUpload(text)
	case cmd.Is('M', 98): // Run macro
		err = m.RunMacro(letterArgument(text, 'P'))
	case cmd.Is('M', 122): // Diagnostics
		var sb strings.Builder
		m.Diagnostics(&sb)
		m.SendResponse(sb.String())
	default:
		err = m.interpreter.Execute(text, buf.ToolNumberAdjust())
	}

	if err != nil {
		m.failed++
		m.log.Warn("command failed", "source", buf.Name(), "command", text, "err", err)
		return err
	}

	m.executed++
	m.log.Debug("command executed", "source", buf.Name(), "command", text)
	return nil
}

// SelectFile opens a print file without starting it
func (m *Manager) SelectFile(name string) error {
	if name == "" {
		return fmt.Errorf("%w: file name", ErrBadArgument)
	}

	fs, err := storage.Open(m.cfg.UploadDir, name, false)
	if err != nil {
		return err
	}

	m.abortFiles()
	m.printFile = fs
	m.log.Info("file selected", "file", name, "size", fs.Length())
	return nil
}

// StartPrint selects and starts a print file
func (m *Manager) StartPrint(name string) error {
	if err := m.SelectFile(name); err != nil {
		return err
	}
	return m.Resume()
}

// Resume starts the selected print or continues a paused one
func (m *Manager) Resume() error {
	if m.printFile == nil {
		return fmt.Errorf("%w: no file selected", ErrBadArgument)
	}

	if len(m.files) == 0 {
		m.files = append(m.files, fileLevel{store: m.printFile, buf: gcode.NewCommandBuffer("file")})
		m.log.Info("print started", "file", m.printFile.Name())
	} else if m.paused {
		m.log.Info("print resumed", "file", m.printFile.Name())
	}
	m.paused = false
	return nil
}

// Pause stops reading from files and abandons the moves that have not
// started. Deferred commands waiting for those moves are dropped.
func (m *Manager) Pause() {
	skipped := m.planner.Pause()
	m.queue.PurgeEntries(skipped)
	m.paused = true
	m.log.Info("paused", "skipped_moves", skipped, "queued", m.queue.Len())
}

// RunMacro pushes a macro file on top of the file stack. The file it
// interrupts continues where it left off once the macro finishes.
func (m *Manager) RunMacro(name string) error {
	if name == "" {
		return fmt.Errorf("%w: macro name", ErrBadArgument)
	}
	if len(m.files) >= MaxMacroDepth {
		return ErrMacroDepth
	}

	fs, err := storage.Open(m.cfg.UploadDir, name, false)
	if err != nil {
		return err
	}

	m.files = append(m.files, fileLevel{store: fs, buf: gcode.NewCommandBuffer("macro")})
	m.log.Debug("macro started", "file", name, "depth", len(m.files))
	return nil
}

// startUpload parses "M28 name" for a command upload or "M28 S<size> name"
// for a raw upload
func (m *Manager) startUpload(text string) error {
	size, err := strconv.ParseInt(letterArgument(text, 'S'), 10, 64)
	if err == nil && size > 0 {
		return m.beginUpload(argument(text, 2), gcode.UploadRaw, size)
	}
	return m.beginUpload(argument(text, 1), gcode.UploadCommands, 0)
}

// beginUpload directs the following serial input to a file
func (m *Manager) beginUpload(name string, mode gcode.UploadMode, size int64) error {
	if name == "" {
		return fmt.Errorf("%w: file name", ErrBadArgument)
	}

	fs, err := storage.Open(m.cfg.UploadDir, name, true)
	if err != nil {
		return err
	}

	if mode == gcode.UploadRaw {
		m.upload = storage.NewRawUpload(fs, size)
	} else {
		m.upload = storage.NewCommandUpload(fs)
	}
	m.serialIn.SetUploader(m.upload)
	m.serialBuf.SetUpload(mode)
	if mode == gcode.UploadRaw {
		// The data may hold anything, M112 and ';' included
		m.serialIn.PassRaw(int(size))
	}
	m.log.Info("upload started", "file", name)
	m.SendResponse("Writing to file: " + name + "\n")
	return nil
}

// checkUpload reports a finished upload
func (m *Manager) checkUpload() {
	if m.upload == nil || !m.upload.Done() {
		return
	}

	if err := m.upload.Err(); err != nil {
		m.log.Error("upload failed", "err", err)
		m.SendResponse("Error: " + err.Error() + "\n")
	} else {
		m.log.Info("upload finished", "lines", m.upload.Lines())
		m.SendResponse("Done saving file.\n")
	}
	m.upload = nil
	m.serialIn.SetUploader(nil)
	m.serialIn.PassRaw(0)
}

// EmergencyStop stops all motion at once. It may be called from the serial
// input goroutine; the rest of the control state is reset on the next Spin.
//
// The reset flag is raised before the planner is cleared, so a deferred
// command made eligible by the cleared counters always sees it.
func (m *Manager) EmergencyStop() {
	m.resetPending.Store(true)
	m.planner.ClearQueue()
	m.emergencies.Add(1)
	m.log.Warn("emergency stop")
}

// Emergencies returns the number of emergency stops seen
func (m *Manager) Emergencies() uint32 {
	return m.emergencies.Load()
}

// resetControl drops every pending command after an emergency stop
func (m *Manager) resetControl() {
	m.queue.Clear()
	m.serialBuf.Reset()
	m.queueBuf.Reset()
	m.abortFiles()
	m.printFile = nil
	m.paused = false

	if m.upload != nil {
		m.serialIn.SetUploader(nil)
		m.serialIn.PassRaw(0)
		m.upload = nil
	}

	if core.IsDebugEnabled() {
		core.DumpEventRing()
	}
}

// abortFiles closes every file on the stack
func (m *Manager) abortFiles() {
	for i := len(m.files) - 1; i >= 0; i-- {
		if err := m.files[i].store.Close(); err != nil {
			m.log.Debug("close failed", "file", m.files[i].store.Name(), "err", err)
		}
		m.files[i] = fileLevel{}
	}
	m.files = m.files[:0]
	m.fileIn.Reset()

	// A selected file that never started is still open
	if m.printFile != nil && m.printFile.IsLive() {
		m.printFile.Close()
	}
}

// IsPrinting returns whether a print file is being read
func (m *Manager) IsPrinting() bool {
	return len(m.files) > 0 && !m.paused
}

// IsPaused returns whether file reading is paused
func (m *Manager) IsPaused() bool {
	return m.paused
}

// Diagnostics writes the intake state
func (m *Manager) Diagnostics(w io.Writer) {
	fmt.Fprintf(w, "Moves scheduled %d, completed %d\n", m.planner.ScheduledMoves(), m.planner.CompletedMoves())
	fmt.Fprintf(w, "Commands executed %d, failed %d, emergency stops %d\n", m.executed, m.failed, m.Emergencies())
	fmt.Fprintf(w, "Serial bytes cached %d, file bytes cached %d\n", m.serialIn.BytesCached(), m.fileIn.BytesCached())
	for i, f := range m.files {
		fmt.Fprintf(w, "File %d: %s at %d of %d\n", i, f.store.Name(), f.store.Position(), f.store.Length())
	}
	m.queue.Diagnostics(w)
}

// SendResponse queues a response to be sent to the host
func (m *Manager) SendResponse(response string) {
	m.outputBuffer = append(m.outputBuffer, []byte(response)...)
}

// GetOutput returns any pending output and clears the buffer
func (m *Manager) GetOutput() []byte {
	if len(m.outputBuffer) == 0 {
		return nil
	}

	output := make([]byte, len(m.outputBuffer))
	copy(output, m.outputBuffer)
	m.outputBuffer = m.outputBuffer[:0]
	return output
}

// Close closes every open file
func (m *Manager) Close() {
	m.abortFiles()
	m.printFile = nil
}

// argument returns the n-th blank-separated field of a command line
// with quotes removed
func argument(text string, n int) string {
	if i := strings.IndexByte(text, ';'); i >= 0 {
		text = text[:i]
	}
	fields := strings.Fields(text)
	if n >= len(fields) {
		return ""
	}
	return strings.Trim(fields[n], "\"")
}

// letterArgument returns the first argument if it starts with letter,
// without the letter and quotes
func letterArgument(text string, letter byte) string {
	arg := argument(text, 1)
	if len(arg) == 0 || (arg[0] != letter && arg[0] != letter+('a'-'A')) {
		return ""
	}
	return strings.Trim(arg[1:], "\"")
}
