package serial

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Sink receives the bytes read from a link, one at a time
type Sink interface {
	Put(c byte)
	// BufferSpaceLeft returns how many more bytes Put can take
	BufferSpaceLeft() int
}

// Link pumps bytes from a port into a sink on its own goroutine and
// writes replies back to the port
type Link struct {
	port Port
	sink Sink
	log  *slog.Logger

	writeMutex sync.Mutex

	// Stop channel for graceful shutdown
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewLink starts pumping port into sink
func NewLink(port Port, sink Sink, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Link{
		port:     port,
		sink:     sink,
		log:      logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	// Start background reader
	go l.readLoop()

	return l
}

// readLoop continuously reads from the port and feeds the sink
func (l *Link) readLoop() {
	defer close(l.doneChan)

	buffer := make([]byte, 256)

	for {
		select {
		case <-l.stopChan:
			return
		default:
		}

		n, err := l.port.Read(buffer)
		for i := 0; i < n; i++ {
			if !l.waitForSpace() {
				return
			}
			l.sink.Put(buffer[i])
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				l.log.Info("serial link closed")
				return
			}
			l.log.Debug("serial read failed", "err", err)
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// waitForSpace blocks until the sink can take a byte. It returns false
// when the link is stopped meanwhile.
func (l *Link) waitForSpace() bool {
	for l.sink.BufferSpaceLeft() == 0 {
		select {
		case <-l.stopChan:
			return false
		case <-time.After(time.Millisecond):
		}
	}
	return true
}

// Write sends a reply to the host
func (l *Link) Write(b []byte) (int, error) {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	return l.port.Write(b)
}

// Done is closed when the read loop has stopped
func (l *Link) Done() <-chan struct{} {
	return l.doneChan
}

// Close stops the read loop and closes the port
func (l *Link) Close() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopChan)
		err = l.port.Close()
		<-l.doneChan // Wait for read loop to finish
	})
	return err
}
