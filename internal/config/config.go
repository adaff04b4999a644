// Package config provides configuration management for daq-bufman.
//
// Values come from DefaultConfig, then an optional TOML file, then
// command-line flags, each layer overriding the previous one.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
	"github.com/randomizedcoder/go-daq-bufman/internal/device"
	"github.com/randomizedcoder/go-daq-bufman/internal/supervisor"
)

// Config holds all configuration options for the orchestrator.
type Config struct {
	// Ring
	Buffers  int `toml:"buffers"`
	Channels int `toml:"channels"`
	Samples  int `toml:"samples"`

	// Device
	Device         string        `toml:"device"` // sine, counting
	SampleInterval time.Duration `toml:"sample_interval"`
	TriggerRate    float64       `toml:"trigger_rate"`
	MaxFrames      uint64        `toml:"max_frames"` // 0 = unlimited
	SignalFreq     float64       `toml:"signal_freq"`
	Amplitude      float64       `toml:"amplitude"`
	Noise          float64       `toml:"noise"`
	Seed           int64         `toml:"seed"` // 0 = time based

	// Manager
	LogInterval    time.Duration `toml:"log_interval"`
	StatusInterval time.Duration `toml:"status_interval"`
	StopGrace      time.Duration `toml:"stop_grace"`
	StallTimeout   time.Duration `toml:"stall_timeout"` // 0 = never warn

	// Consumers
	Obligatory        bool          `toml:"obligatory"`
	ObligatoryMode    string        `toml:"obligatory_mode"` // pointer, obligatory-copy
	VoltMeter         bool          `toml:"voltmeter"`
	VoltMeterInterval time.Duration `toml:"voltmeter_interval"`

	// Export
	ExportSocket     string `toml:"export_socket"` // empty = disabled
	ExportTransport  string `toml:"export_transport"`
	ExportMaxClients int    `toml:"export_max_clients"`

	// Persistence
	SummaryDir string `toml:"summary_dir"` // empty = no .sum file
	SummaryDB  string `toml:"summary_db"`  // empty = no sqlite store

	// Logging
	LogFormat    string `toml:"log_format"` // json, text
	LogLevel     string `toml:"log_level"`
	Verbose      bool   `toml:"verbose"`
	RunLogPrefix string `toml:"run_log_prefix"` // empty = no run log file

	// Observability
	MetricsAddr string `toml:"metrics_addr"` // empty = disabled

	// UI
	TUI           bool `toml:"tui"`
	StdinCommands bool `toml:"stdin_commands"`

	// Run
	Duration      time.Duration `toml:"duration"` // 0 = until ended
	AutoRun       bool          `toml:"auto_run"`
	MaxRingBytes  int64         `toml:"max_ring_bytes"`
	SkipPreflight bool          `toml:"skip_preflight"`

	// Restart policy for attached tasks
	MaxRestarts     int           `toml:"max_restarts"` // 0 = unlimited
	BackoffInitial  time.Duration `toml:"backoff_initial"`
	BackoffMax      time.Duration `toml:"backoff_max"`
	BackoffMultiply float64       `toml:"backoff_multiply"`

	// ConfigFile is the TOML file the config was loaded from, if any.
	ConfigFile string `toml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	sim := device.DefaultSimulatorConfig()
	mgr := bufman.DefaultConfig()
	backoff := supervisor.DefaultBackoffConfig()

	return &Config{
		// Ring
		Buffers:  mgr.Buffers,
		Channels: mgr.Channels,
		Samples:  mgr.Samples,

		// Device
		Device:         "sine",
		SampleInterval: sim.SampleInterval,
		TriggerRate:    sim.TriggerRate,
		SignalFreq:     sim.SignalFreq,
		Amplitude:      sim.Amplitude,
		Noise:          sim.Noise,

		// Manager
		LogInterval:    mgr.LogInterval,
		StatusInterval: mgr.StatusInterval,
		StopGrace:      mgr.StopGrace,
		StallTimeout:   mgr.StallTimeout,

		// Consumers
		Obligatory:        true,
		ObligatoryMode:    "pointer",
		VoltMeter:         true,
		VoltMeterInterval: 500 * time.Millisecond,

		// Export
		ExportTransport:  "json",
		ExportMaxClients: 4,

		// Persistence
		SummaryDir: ".",

		// Logging
		LogFormat: "text",
		LogLevel:  "info",

		// Observability
		MetricsAddr: "127.0.0.1:17095",

		// UI
		StdinCommands: true,

		// Run
		AutoRun:      true,
		MaxRingBytes: 256 << 20,

		// Restart policy
		BackoffInitial:  backoff.Initial,
		BackoffMax:      backoff.Max,
		BackoffMultiply: backoff.Multiplier,
	}
}

// LoadFile overlays the TOML file at path onto cfg. Keys absent from the
// file keep their current value.
func LoadFile(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
	}
	cfg.ConfigFile = path
	return nil
}

// ManagerConfig returns the buffer manager settings. Device, logger,
// callbacks and summary writer are left for the caller to wire.
func (c *Config) ManagerConfig() bufman.Config {
	mc := bufman.DefaultConfig()
	mc.Buffers = c.Buffers
	mc.Channels = c.Channels
	mc.Samples = c.Samples
	mc.LogInterval = c.LogInterval
	mc.StatusInterval = c.StatusInterval
	mc.StopGrace = c.StopGrace
	mc.StallTimeout = c.StallTimeout
	mc.TaskMaxRestarts = c.MaxRestarts
	mc.TaskBackoff = supervisor.BackoffConfig{
		Initial:    c.BackoffInitial,
		Max:        c.BackoffMax,
		Multiplier: c.BackoffMultiply,
		JitterPct:  supervisor.DefaultBackoffConfig().JitterPct,
	}
	mc.Seed = c.Seed
	return mc
}

// SimulatorConfig returns the simulated device settings.
func (c *Config) SimulatorConfig() device.SimulatorConfig {
	sim := device.DefaultSimulatorConfig()
	sim.Channels = c.Channels
	sim.Samples = c.Samples
	sim.SampleInterval = c.SampleInterval
	sim.TriggerRate = c.TriggerRate
	sim.SignalFreq = c.SignalFreq
	sim.Amplitude = c.Amplitude
	sim.Noise = c.Noise
	sim.MaxFrames = c.MaxFrames
	sim.Seed = c.Seed
	return sim
}

// ObligatoryConsumerMode parses ObligatoryMode.
func (c *Config) ObligatoryConsumerMode() (bufman.Mode, error) {
	return bufman.ParseMode(c.ObligatoryMode)
}

// RingBytes returns the sample memory the ring will hold.
func (c *Config) RingBytes() int64 {
	return int64(c.Buffers) * int64(c.Channels) * int64(c.Samples) * 4
}
