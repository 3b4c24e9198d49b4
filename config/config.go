// Package config loads the host configuration: a JSON file with
// GCODEFLOW_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"gcodeflow/motion"
)

// Config is the host configuration
type Config struct {
	// Serial link
	Device        string `json:"device" env:"GCODEFLOW_DEVICE"`
	Baud          int    `json:"baud" env:"GCODEFLOW_BAUD"`
	ReadTimeoutMs int    `json:"read_timeout_ms" env:"GCODEFLOW_READ_TIMEOUT_MS"`

	// Files
	File         string `json:"file" env:"GCODEFLOW_FILE"`
	UploadDir    string `json:"upload_dir" env:"GCODEFLOW_UPLOAD_DIR"`
	KeepComments bool   `json:"keep_comments" env:"GCODEFLOW_KEEP_COMMENTS"`

	// Motion
	DefaultVelocity float64            `json:"default_velocity" env:"GCODEFLOW_DEFAULT_VELOCITY"`
	DefaultAccel    float64            `json:"default_accel" env:"GCODEFLOW_DEFAULT_ACCEL"`
	MaxVelocity     map[string]float64 `json:"max_velocity"`
	MinMoveTimeMs   int                `json:"min_move_time_ms" env:"GCODEFLOW_MIN_MOVE_TIME_MS"`
	SpeedOverride   float64            `json:"speed_override" env:"GCODEFLOW_SPEED_OVERRIDE"`

	// Control loop and logging
	SpinIntervalMs int    `json:"spin_interval_ms" env:"GCODEFLOW_SPIN_INTERVAL_MS"`
	LogLevel       string `json:"log_level" env:"GCODEFLOW_LOG_LEVEL"`
	LogFormat      string `json:"log_format" env:"GCODEFLOW_LOG_FORMAT"`
	Debug          bool   `json:"debug" env:"GCODEFLOW_DEBUG"`
}

// Load parses a JSON configuration, applies environment overrides and
// fills in defaults
func Load(jsonData []byte) (*Config, error) {
	var cfg Config

	if len(jsonData) > 0 {
		if err := json.Unmarshal(jsonData, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFile reads and loads a configuration file. An empty path loads the
// defaults with environment overrides.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Load(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Load(data)
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(cfg *Config) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeoutMs == 0 {
		cfg.ReadTimeoutMs = 100
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "."
	}

	// Default motion parameters
	if cfg.DefaultVelocity == 0 {
		cfg.DefaultVelocity = 50.0 // 50 mm/s
	}
	if cfg.DefaultAccel == 0 {
		cfg.DefaultAccel = 500.0 // 500 mm/s^2
	}
	if cfg.MaxVelocity == nil {
		cfg.MaxVelocity = map[string]float64{
			"x": 300.0,
			"y": 300.0,
			"z": 10.0,
			"e": 50.0,
		}
	}
	if cfg.MinMoveTimeMs == 0 {
		cfg.MinMoveTimeMs = 1
	}
	if cfg.SpeedOverride == 0 {
		cfg.SpeedOverride = 1.0
	}

	if cfg.SpinIntervalMs == 0 {
		cfg.SpinIntervalMs = 5
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
}

// Motion returns the planner limits
func (cfg *Config) Motion() motion.Config {
	return motion.Config{
		MaxVelocity: [4]float64{
			cfg.MaxVelocity["x"],
			cfg.MaxVelocity["y"],
			cfg.MaxVelocity["z"],
			cfg.MaxVelocity["e"],
		},
		MinMoveTime:   time.Duration(cfg.MinMoveTimeMs) * time.Millisecond,
		SpeedOverride: cfg.SpeedOverride,
	}
}

// ReadTimeout returns the serial read timeout
func (cfg *Config) ReadTimeout() time.Duration {
	return time.Duration(cfg.ReadTimeoutMs) * time.Millisecond
}

// SpinInterval returns the control loop period
func (cfg *Config) SpinInterval() time.Duration {
	return time.Duration(cfg.SpinIntervalMs) * time.Millisecond
}
