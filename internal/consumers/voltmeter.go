package consumers

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

// Reading is one voltmeter sample.
type Reading struct {
	Seq       uint64
	Timestamp float64
	Mean      []float64 // per channel, volts
	RMS       []float64 // per channel, volts
	Peak      []float64 // per channel, absolute maximum
}

// VoltMeter takes a copy of the current frame every interval and keeps
// per-channel averages. It never holds up the dispatcher.
type VoltMeter struct {
	src      Source
	id       bufman.ConsumerID
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	latest   Reading
	readings uint64
}

// NewVoltMeter registers with src.
func NewVoltMeter(src Source, interval time.Duration, logger *slog.Logger) (*VoltMeter, error) {
	id, err := src.Register()
	if err != nil {
		return nil, err
	}
	return &VoltMeter{
		src:      src,
		id:       id,
		interval: interval,
		logger:   logger.With("consumer", "voltmeter", "id", id),
	}, nil
}

// Name implements supervisor.Task.
func (v *VoltMeter) Name() string { return "voltmeter" }

// Run samples until the manager ends.
func (v *VoltMeter) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		if err := v.src.Request(v.id, bufman.DataCopy); err != nil {
			return taskResult(err)
		}
		ev, err := v.src.Await(ctx, v.id)
		if err != nil {
			return taskResult(err)
		}
		v.record(Measure(ev))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (v *VoltMeter) record(r Reading) {
	v.mu.Lock()
	v.latest = r
	v.readings++
	n := v.readings
	v.mu.Unlock()

	v.logger.Debug("voltmeter_reading", "seq", r.Seq, "mean", r.Mean, "rms", r.RMS, "n", n)
}

// Latest returns the most recent reading and how many have been taken.
func (v *VoltMeter) Latest() (Reading, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest, v.readings
}

// Measure computes mean, RMS and peak per channel of ev.
func Measure(ev bufman.Event) Reading {
	r := Reading{
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
		Mean:      make([]float64, ev.Channels),
		RMS:       make([]float64, ev.Channels),
		Peak:      make([]float64, ev.Channels),
	}
	for c := 0; c < ev.Channels; c++ {
		row := ev.Channel(c)
		if len(row) == 0 {
			continue
		}
		var sum, sq, peak float64
		for _, s := range row {
			x := float64(s)
			sum += x
			sq += x * x
			if a := math.Abs(x); a > peak {
				peak = a
			}
		}
		n := float64(len(row))
		r.Mean[c] = sum / n
		r.RMS[c] = math.Sqrt(sq / n)
		r.Peak[c] = peak
	}
	return r
}
