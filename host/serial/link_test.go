package serial

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type pipePort struct {
	r   *io.PipeReader
	mu  sync.Mutex
	out bytes.Buffer
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *pipePort) Close() error { return p.r.Close() }

func (p *pipePort) Flush() error { return nil }

type recordingSink struct {
	mu    sync.Mutex
	got   []byte
	space int
}

func (s *recordingSink) Put(c byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, c)
}

func (s *recordingSink) BufferSpaceLeft() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.space - len(s.got)
}

func (s *recordingSink) received() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.got)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLinkPumpsBytes(t *testing.T) {
	r, w := io.Pipe()
	port := &pipePort{r: r}
	sink := &recordingSink{space: 1024}

	link := NewLink(port, sink, quietLogger())
	defer link.Close()

	go w.Write([]byte("G28\nM105\n"))
	waitFor(t, func() bool { return sink.received() == "G28\nM105\n" })

	if _, err := link.Write([]byte("ok\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	port.mu.Lock()
	out := port.out.String()
	port.mu.Unlock()
	if out != "ok\n" {
		t.Errorf("Expected 'ok', got %q", out)
	}
}

func TestLinkWaitsForSpace(t *testing.T) {
	r, w := io.Pipe()
	sink := &recordingSink{space: 2}

	link := NewLink(&pipePort{r: r}, sink, quietLogger())
	go w.Write([]byte("G1 X1\n"))

	waitFor(t, func() bool { return sink.received() == "G1" })
	time.Sleep(20 * time.Millisecond)
	if sink.received() != "G1" {
		t.Errorf("Expected the link to hold bytes while the sink is full, got %q", sink.received())
	}

	// Close must not hang while waiting for space
	if err := link.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestLinkStopsOnEOF(t *testing.T) {
	r, w := io.Pipe()
	link := NewLink(&pipePort{r: r}, &recordingSink{space: 16}, quietLogger())

	w.Close()
	select {
	case <-link.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Read loop should stop at EOF")
	}
	link.Close()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	if cfg.Device != "/dev/ttyACM0" || cfg.Baud != 115200 {
		t.Errorf("Unexpected default config %+v", cfg)
	}
	if _, err := Open(nil); err == nil {
		t.Error("Expected error for nil config")
	}
}
