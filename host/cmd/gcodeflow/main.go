package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gcodeflow/config"
	"gcodeflow/controller"
	"gcodeflow/host/serial"
)

var (
	configPath = flag.String("config", "", "JSON configuration file")
	device     = flag.String("device", "", "Serial device path (stdin/stdout when empty)")
	baud       = flag.Int("baud", 0, "Baud rate (ignored for USB CDC)")
	file       = flag.String("file", "", "G-code file to print on startup")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("gcodeflow stopped", "err", err)
		os.Exit(1)
	}
}

// applyFlags lets command line flags override the configuration
func applyFlags(cfg *config.Config) {
	if *device != "" {
		cfg.Device = *device
	}
	if *baud != 0 {
		cfg.Baud = *baud
	}
	if *file != "" {
		cfg.File = *file
	}
	if *verbose {
		cfg.LogLevel = "debug"
		cfg.Debug = true
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := controller.NewManager(cfg, logger)
	defer mgr.Close()

	port, err := openPort(cfg)
	if err != nil {
		return err
	}

	link := serial.NewLink(port, mgr.SerialInput(), logger)
	if cfg.Device != "" {
		// A read from standard input cannot be interrupted
		defer link.Close()
	}

	if cfg.File != "" {
		if err := mgr.StartPrint(cfg.File); err != nil {
			return fmt.Errorf("start print: %w", err)
		}
	}

	logger.Info("gcodeflow ready", "device", deviceName(cfg), "spin", cfg.SpinInterval())

	ticker := time.NewTicker(cfg.SpinInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}

		mgr.Spin()
		if out := mgr.GetOutput(); out != nil {
			if _, err := link.Write(out); err != nil {
				return fmt.Errorf("write reply: %w", err)
			}
		}

		// Standard input is done once it is drained and all motion finished
		if cfg.Device == "" && linkDone(link) && idle(mgr) {
			logger.Info("input finished")
			return nil
		}
	}
}

func openPort(cfg *config.Config) (serial.Port, error) {
	if cfg.Device == "" {
		return stdioPort{}, nil
	}

	return serial.Open(&serial.Config{
		Device:      cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeoutMs,
	})
}

func linkDone(link *serial.Link) bool {
	select {
	case <-link.Done():
		return true
	default:
		return false
	}
}

func idle(mgr *controller.Manager) bool {
	return !mgr.IsPrinting() && mgr.SerialInput().BytesCached() == 0 &&
		mgr.Queue().IsEmpty() && mgr.Planner().IsIdle()
}

func deviceName(cfg *config.Config) string {
	if cfg.Device == "" {
		return "stdio"
	}
	return cfg.Device
}

// stdioPort serves the host link over standard input and output
type stdioPort struct{}

func (stdioPort) Read(b []byte) (int, error)  { return os.Stdin.Read(b) }
func (stdioPort) Write(b []byte) (int, error) { return os.Stdout.Write(b) }
func (stdioPort) Close() error                { return nil }
func (stdioPort) Flush() error                { return nil }
