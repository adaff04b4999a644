package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
	"github.com/randomizedcoder/go-daq-bufman/internal/config"
	"github.com/randomizedcoder/go-daq-bufman/internal/device"
	"github.com/randomizedcoder/go-daq-bufman/internal/runstore"
)

// newDevice selects the acquisition device named by cfg.Device.
func newDevice(cfg *config.Config) (device.Device, error) {
	switch cfg.Device {
	case "", "sine":
		return device.NewSimulator(cfg.SimulatorConfig()), nil
	case "counting":
		var interval time.Duration
		if cfg.TriggerRate > 0 {
			interval = time.Duration(float64(time.Second) / cfg.TriggerRate)
		}
		return &device.Counting{MaxFrames: cfg.MaxFrames, Interval: interval}, nil
	default:
		return nil, fmt.Errorf("unknown device %q", cfg.Device)
	}
}

// openSummaryWriters builds the run summary fan-out: a .sum file per run
// when SummaryDir is set, and a sqlite row when SummaryDB is set.
func openSummaryWriters(ctx context.Context, cfg *config.Config) (runstore.Multi, []io.Closer, error) {
	var (
		writers runstore.Multi
		closers []io.Closer
	)
	if cfg.SummaryDir != "" {
		writers = append(writers, runstore.NewFileWriter(cfg.SummaryDir))
	}
	if cfg.SummaryDB != "" {
		db, err := runstore.OpenSQLite(ctx, cfg.SummaryDB)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, db)
		closers = append(closers, db)
	}
	return writers, closers, nil
}

// summaryRecorder keeps every run summary for the exit report and passes
// it on to the configured writers.
type summaryRecorder struct {
	next bufman.SummaryWriter

	mu   sync.Mutex
	runs []bufman.RunSummary
}

// WriteSummary implements bufman.SummaryWriter.
func (r *summaryRecorder) WriteSummary(ctx context.Context, s bufman.RunSummary) error {
	r.mu.Lock()
	r.runs = append(r.runs, s)
	r.mu.Unlock()
	if r.next == nil {
		return nil
	}
	return r.next.WriteSummary(ctx, s)
}

// Runs returns the recorded summaries.
func (r *summaryRecorder) Runs() []bufman.RunSummary {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bufman.RunSummary(nil), r.runs...)
}
