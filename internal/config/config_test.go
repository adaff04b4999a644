package config

import (
	"bytes"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

func TestFlagType(t *testing.T) {
	testCases := []struct {
		name     string
		defValue string
		expected string
	}{
		{"bool true", "true", ""},
		{"bool false", "false", ""},
		{"int", "42", "int"},
		{"string", "hello", "string"},
		{"duration seconds", "5s", "duration"},
		{"duration minutes", "5m", "duration"},
		{"duration micro", "10µs", "duration"},
		{"float", "3.14", "int"}, // Sscanf parses "3" then stops at decimal
		{"empty", "", "string"},
		{"negative int", "-1", "int"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := &flag.Flag{Name: "test", DefValue: tc.defValue}
			if result := flagType(f); result != tc.expected {
				t.Errorf("flagType(%q) = %q, want %q", tc.defValue, result, tc.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Buffers != 16 || cfg.Channels != 2 || cfg.Samples != 500 {
		t.Errorf("ring = %d×%d×%d, want 16×2×500", cfg.Buffers, cfg.Channels, cfg.Samples)
	}
	if cfg.LogInterval != 60*time.Second {
		t.Errorf("LogInterval = %v, want 60s", cfg.LogInterval)
	}
	if cfg.StatusInterval != time.Second {
		t.Errorf("StatusInterval = %v, want 1s", cfg.StatusInterval)
	}
	if cfg.SampleInterval != 10*time.Microsecond {
		t.Errorf("SampleInterval = %v, want 10µs", cfg.SampleInterval)
	}
	if cfg.Device != "sine" || cfg.ObligatoryMode != "pointer" {
		t.Errorf("Device/ObligatoryMode = %q/%q", cfg.Device, cfg.ObligatoryMode)
	}
	if cfg.MetricsAddr != "127.0.0.1:17095" {
		t.Errorf("MetricsAddr = %q, want %q", cfg.MetricsAddr, "127.0.0.1:17095")
	}
	if !cfg.AutoRun || cfg.TUI {
		t.Errorf("AutoRun/TUI = %v/%v, want true/false", cfg.AutoRun, cfg.TUI)
	}
	if cfg.BackoffMultiply < 1.0 {
		t.Errorf("BackoffMultiply = %f, should be >= 1.0", cfg.BackoffMultiply)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestParseArgs_Flags(t *testing.T) {
	var out bytes.Buffer
	cfg, err := ParseArgs([]string{
		"-buffers", "4",
		"-samples", "100",
		"-device", "counting",
		"-obligatory-mode", "obligatory-copy",
		"-status-interval", "250ms",
		"-tui",
		"-export-socket", "/tmp/bm.sock",
	}, &out)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if cfg.Buffers != 4 || cfg.Samples != 100 {
		t.Errorf("Buffers/Samples = %d/%d, want 4/100", cfg.Buffers, cfg.Samples)
	}
	if cfg.Device != "counting" || cfg.ObligatoryMode != "obligatory-copy" {
		t.Errorf("Device/ObligatoryMode = %q/%q", cfg.Device, cfg.ObligatoryMode)
	}
	if cfg.StatusInterval != 250*time.Millisecond {
		t.Errorf("StatusInterval = %v, want 250ms", cfg.StatusInterval)
	}
	if !cfg.TUI || cfg.ExportSocket != "/tmp/bm.sock" {
		t.Errorf("TUI/ExportSocket = %v/%q", cfg.TUI, cfg.ExportSocket)
	}
}

func TestParseArgs_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown_flag", []string{"-bogus"}},
		{"bad_int", []string{"-buffers", "many"}},
		{"positional", []string{"extra"}},
		{"missing_config", []string{"-config", "/nonexistent/bufman.toml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if _, err := ParseArgs(tt.args, &out); err == nil {
				t.Errorf("ParseArgs(%v) should fail", tt.args)
			}
		})
	}
}

func TestParseArgs_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := ParseArgs([]string{"-h"}, &out)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("ParseArgs(-h) error = %v, want flag.ErrHelp", err)
	}
	for _, want := range []string{"Ring:", "-buffers", "Commands"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("usage missing %q", want)
		}
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bufman.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
buffers = 8
device = "counting"
status_interval = "200ms"
stop_grace = "3s"
voltmeter = false
`)
	cfg := DefaultConfig()
	if err := LoadFile(cfg, path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Buffers != 8 || cfg.Device != "counting" {
		t.Errorf("Buffers/Device = %d/%q", cfg.Buffers, cfg.Device)
	}
	if cfg.StatusInterval != 200*time.Millisecond || cfg.StopGrace != 3*time.Second {
		t.Errorf("durations = %v/%v", cfg.StatusInterval, cfg.StopGrace)
	}
	if cfg.VoltMeter {
		t.Error("VoltMeter should be false from file")
	}
	// untouched keys keep defaults
	if cfg.Samples != 500 {
		t.Errorf("Samples = %d, want default 500", cfg.Samples)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := writeFile(t, "bufers = 8\n")
	if err := LoadFile(DefaultConfig(), path); err == nil {
		t.Error("LoadFile() should reject unknown keys")
	}
}

func TestParseArgs_FlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "buffers = 8\nsamples = 64\n")

	tests := []struct {
		name string
		args []string
	}{
		{"separate", []string{"-config", path, "-buffers", "3"}},
		{"equals", []string{"-buffers", "3", "--config=" + path}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cfg, err := ParseArgs(tt.args, &out)
			if err != nil {
				t.Fatalf("ParseArgs() error = %v", err)
			}
			if cfg.Buffers != 3 {
				t.Errorf("Buffers = %d, want flag value 3", cfg.Buffers)
			}
			if cfg.Samples != 64 {
				t.Errorf("Samples = %d, want file value 64", cfg.Samples)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"buffers", func(c *Config) { c.Buffers = 1 }, "buffers"},
		{"channels", func(c *Config) { c.Channels = 0 }, "channels"},
		{"samples", func(c *Config) { c.Samples = 0 }, "samples"},
		{"device", func(c *Config) { c.Device = "scope" }, "device"},
		{"trigger_rate", func(c *Config) { c.TriggerRate = -1 }, "trigger_rate"},
		{"status_interval", func(c *Config) { c.StatusInterval = 0 }, "status_interval"},
		{"stop_grace", func(c *Config) { c.StopGrace = 0 }, "stop_grace"},
		{"stall_timeout", func(c *Config) { c.StallTimeout = -time.Second }, "stall_timeout"},
		{"bad_mode", func(c *Config) { c.ObligatoryMode = "sideways" }, "obligatory_mode"},
		{"copy_not_obligatory", func(c *Config) { c.ObligatoryMode = "copy" }, "obligatory_mode"},
		{"voltmeter_interval", func(c *Config) { c.VoltMeterInterval = 0 }, "voltmeter_interval"},
		{"transport", func(c *Config) { c.ExportSocket = "/tmp/x"; c.ExportTransport = "udp" }, "export_transport"},
		{"max_clients", func(c *Config) { c.ExportSocket = "/tmp/x"; c.ExportMaxClients = 0 }, "export_max_clients"},
		{"log_format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"log_level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"metrics", func(c *Config) { c.MetricsAddr = "nocolon" }, "metrics_addr"},
		{"backoff_initial", func(c *Config) { c.BackoffInitial = 0 }, "backoff_initial"},
		{"backoff_max", func(c *Config) { c.BackoffMax = time.Millisecond }, "backoff_max"},
		{"backoff_multiply", func(c *Config) { c.BackoffMultiply = 0.5 }, "backoff_multiply"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error %v is not a ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q should mention %s", err, tt.field)
			}
		})
	}
}

func TestValidate_ObligatoryDisabledIgnoresMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Obligatory = false
	cfg.ObligatoryMode = "sideways"
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffers = 0
	cfg.LogFormat = "xml"
	cfg.StopGrace = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected multiple errors")
	}
	for _, field := range []string{"buffers", "log_format", "stop_grace"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Error should mention %s", field)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "test_field", Message: "test message"}
	if got := err.Error(); got != "test_field: test message" {
		t.Errorf("Error string = %q, want %q", got, "test_field: test message")
	}
}

func TestManagerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffers = 5
	cfg.StopGrace = 2 * time.Second
	cfg.MaxRestarts = 3
	cfg.BackoffInitial = 50 * time.Millisecond

	mc := cfg.ManagerConfig()
	if mc.Buffers != 5 || mc.StopGrace != 2*time.Second || mc.TaskMaxRestarts != 3 {
		t.Errorf("ManagerConfig() = %+v", mc)
	}
	if mc.TaskBackoff.Initial != 50*time.Millisecond {
		t.Errorf("TaskBackoff.Initial = %v, want 50ms", mc.TaskBackoff.Initial)
	}
	if mc.Device != nil || mc.Summary != nil {
		t.Error("ManagerConfig() should leave device and summary unset")
	}
}

func TestSimulatorConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = 3
	cfg.MaxFrames = 10
	sim := cfg.SimulatorConfig()
	if sim.Channels != 3 || sim.Samples != 500 || sim.MaxFrames != 10 {
		t.Errorf("SimulatorConfig() = %+v", sim)
	}
}

func TestObligatoryConsumerMode(t *testing.T) {
	cfg := DefaultConfig()
	mode, err := cfg.ObligatoryConsumerMode()
	if err != nil || mode != bufman.PointerRef {
		t.Errorf("ObligatoryConsumerMode() = %v, %v", mode, err)
	}
}

func TestRingBytes(t *testing.T) {
	cfg := DefaultConfig()
	if got, want := cfg.RingBytes(), int64(16*2*500*4); got != want {
		t.Errorf("RingBytes() = %d, want %d", got, want)
	}
}
