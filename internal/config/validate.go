package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem joined into one error.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Ring shape
	if cfg.Buffers < 2 {
		add("buffers", "must be at least 2 (got %d)", cfg.Buffers)
	}
	if cfg.Channels < 1 {
		add("channels", "must be at least 1 (got %d)", cfg.Channels)
	}
	if cfg.Samples < 1 {
		add("samples", "must be at least 1 (got %d)", cfg.Samples)
	}
	if cfg.MaxRingBytes <= 0 {
		add("max_ring_bytes", "must be positive")
	}

	// Device
	validDevices := map[string]bool{"sine": true, "counting": true}
	if !validDevices[cfg.Device] {
		add("device", "must be 'sine' or 'counting' (got %q)", cfg.Device)
	}
	if cfg.TriggerRate < 0 {
		add("trigger_rate", "must not be negative")
	}
	if cfg.SampleInterval < 0 {
		add("sample_interval", "must not be negative")
	}
	if cfg.Noise < 0 {
		add("noise", "must not be negative")
	}

	// Manager intervals
	positive := []struct {
		field string
		d     time.Duration
	}{
		{"log_interval", cfg.LogInterval},
		{"status_interval", cfg.StatusInterval},
		{"stop_grace", cfg.StopGrace},
	}
	for _, p := range positive {
		if p.d <= 0 {
			add(p.field, "must be positive")
		}
	}
	if cfg.StallTimeout < 0 {
		add("stall_timeout", "must not be negative")
	}
	if cfg.Duration < 0 {
		add("duration", "must not be negative")
	}

	// Consumers
	if cfg.Obligatory {
		mode, err := bufman.ParseMode(cfg.ObligatoryMode)
		switch {
		case err != nil:
			add("obligatory_mode", "must be 'pointer' or 'obligatory-copy' (got %q)", cfg.ObligatoryMode)
		case !mode.Obligatory():
			add("obligatory_mode", "%s is not an obligatory mode", mode)
		}
	}
	if cfg.VoltMeter && cfg.VoltMeterInterval <= 0 {
		add("voltmeter_interval", "must be positive")
	}

	// Export
	if cfg.ExportSocket != "" {
		validTransports := map[string]bool{"json": true, "memfd": true}
		if !validTransports[cfg.ExportTransport] {
			add("export_transport", "must be 'json' or 'memfd' (got %q)", cfg.ExportTransport)
		}
		if cfg.ExportMaxClients < 1 {
			add("export_max_clients", "must be at least 1")
		}
	}

	// Logging
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.LogLevel] {
		add("log_level", "must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	// Observability
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			add("metrics_addr", "%v", err)
		}
	}

	// Backoff settings
	if cfg.BackoffInitial <= 0 {
		add("backoff_initial", "must be positive")
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		add("backoff_max", "must be >= backoff_initial")
	}
	if cfg.BackoffMultiply < 1.0 {
		add("backoff_multiply", "must be >= 1.0")
	}
	if cfg.MaxRestarts < 0 {
		add("max_restarts", "must not be negative")
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
