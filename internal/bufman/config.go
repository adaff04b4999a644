package bufman

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/device"
	"github.com/randomizedcoder/go-daq-bufman/internal/supervisor"
)

// Config configures a Manager.
type Config struct {
	Buffers  int // ring capacity
	Channels int
	Samples  int

	LogInterval    time.Duration // rate report period
	StatusInterval time.Duration // status snapshot period
	StopGrace      time.Duration // drain budget for Stop and loop exit budget for End
	StallTimeout   time.Duration // obligatory wait before a stall warning, 0 disables

	MaxConsumers    int                      // local plus external registrations
	TaskMaxRestarts int                      // 0 = unlimited
	TaskBackoff     supervisor.BackoffConfig // zero uses supervisor.DefaultBackoffConfig

	Device        device.Device
	Logger        *slog.Logger
	Callbacks     Callbacks
	TaskCallbacks supervisor.Callbacks // observes attached tasks
	Summary       SummaryWriter        // optional

	// Now overrides the clock used for run time accounting.
	Now func() time.Time

	// Seed drives restart jitter of attached tasks.
	Seed int64
}

// DefaultConfig returns a 16-slot, 2×500 configuration without a device.
func DefaultConfig() Config {
	return Config{
		Buffers:        16,
		Channels:       2,
		Samples:        500,
		LogInterval:    60 * time.Second,
		StatusInterval: time.Second,
		StopGrace:      time.Second,
		StallTimeout:   10 * time.Second,
		MaxConsumers:   32,
	}
}

func (c Config) validate() error {
	var errs []error
	if c.Device == nil {
		errs = append(errs, errors.New("device is required"))
	}
	if c.Buffers < 2 {
		errs = append(errs, fmt.Errorf("buffers must be at least 2, got %d", c.Buffers))
	}
	if c.Channels < 1 || c.Samples < 1 {
		errs = append(errs, fmt.Errorf("invalid frame shape %dx%d", c.Channels, c.Samples))
	}
	if c.StatusInterval <= 0 {
		errs = append(errs, errors.New("status interval must be positive"))
	}
	if c.LogInterval <= 0 {
		errs = append(errs, errors.New("log interval must be positive"))
	}
	if c.StopGrace <= 0 {
		errs = append(errs, errors.New("stop grace must be positive"))
	}
	if c.MaxConsumers < 1 {
		errs = append(errs, errors.New("max consumers must be positive"))
	}
	return errors.Join(errs...)
}
