// Package config loads and validates the YAML configuration shape
// described in spec.md §6: modules, wiring, execution, and server
// settings.
package config

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/tanged123/hermes/internal/xerror"
)

// Config is the top-level configuration record.
type Config struct {
	Modules   map[string]ModuleConfig `yaml:"modules"`
	Wiring    []WireConfig            `yaml:"wiring"`
	Execution ExecutionConfig         `yaml:"execution"`
	Server    ServerConfig            `yaml:"server"`
}

// ModuleConfig describes one configured module.
type ModuleConfig struct {
	Kind       string         `yaml:"kind"`
	Executable string         `yaml:"executable,omitempty"`
	Script     string         `yaml:"script,omitempty"`
	InprocID   string         `yaml:"inproc_id,omitempty"`
	ConfigPath string         `yaml:"config,omitempty"`
	Signals    []SignalConfig `yaml:"signals"`
	Options    map[string]any `yaml:"options,omitempty"`
}

// SignalConfig describes one declared signal.
type SignalConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type,omitempty"`
	Unit      string `yaml:"unit,omitempty"`
	Writable  bool   `yaml:"writable,omitempty"`
	Published bool   `yaml:"published,omitempty"`
}

// WireConfig describes one wire entry.
type WireConfig struct {
	Src    string  `yaml:"src"`
	Dst    string  `yaml:"dst"`
	Gain   float64 `yaml:"gain"`
	Offset float64 `yaml:"offset"`
}

// ScheduleConfig describes one schedule entry.
type ScheduleConfig struct {
	Name   string  `yaml:"name"`
	RateHz float64 `yaml:"rate_hz,omitempty"`
}

// ExecutionConfig describes pacing and scheduling settings.
type ExecutionConfig struct {
	Mode     string           `yaml:"mode"`
	RateHz   float64          `yaml:"rate_hz"`
	EndTime  *float64         `yaml:"end_time,omitempty"`
	Schedule []ScheduleConfig `yaml:"schedule"`

	// MaxSegmentSize optionally caps the computed backplane layout size,
	// expressed as a human-readable byte size ("4MB") rather than a raw
	// integer count.
	MaxSegmentSize datasize.ByteSize `yaml:"max_segment_size,omitempty"`
}

// ServerConfig describes the control server settings.
type ServerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TelemetryHz float64 `yaml:"telemetry_hz"`
}

// DefaultConfig returns the default configuration: no modules, no
// wiring, AFAP execution at 100 Hz, server enabled on localhost.
func DefaultConfig() *Config {
	return &Config{
		Modules: map[string]ModuleConfig{},
		Wiring:  []WireConfig{},
		Execution: ExecutionConfig{
			Mode:   "afap",
			RateHz: 100,
		},
		Server: ServerConfig{
			Enabled:     true,
			Host:        "127.0.0.1",
			Port:        8765,
			TelemetryHz: 30,
		},
	}
}

// LoadConfig reads path, starts from DefaultConfig, unmarshals the
// file contents over it, and returns the result unvalidated; callers
// run Validate separately, matching spec.md §7's "surfaced at
// configuration load" requirement without conflating parsing and
// validation failures.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, xerror.NewConfigError("parse YAML configuration: %v", err)
	}
	return cfg, nil
}
