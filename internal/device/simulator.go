package device

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulatorConfig configures a simulated oscilloscope.
type SimulatorConfig struct {
	Channels       int
	Samples        int
	SampleInterval time.Duration // time between samples
	TriggerRate    float64       // mean triggers per second; 0 triggers immediately
	SetupTime      time.Duration // arming overhead, not counted as life time
	SignalFreq     float64       // Hz
	Amplitude      float64       // volts
	Noise          float64       // volts, uniform
	MaxFrames      uint64        // 0 = unlimited
	Seed           int64
}

// DefaultSimulatorConfig returns a two-channel 50 Hz trigger source.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Channels:       2,
		Samples:        500,
		SampleInterval: 10 * time.Microsecond,
		TriggerRate:    50,
		SetupTime:      time.Millisecond,
		SignalFreq:     1000,
		Amplitude:      1.0,
		Noise:          0.05,
	}
}

// Simulator produces sine waveforms with per-channel phase offsets and
// triggers at exponentially distributed intervals.
type Simulator struct {
	cfg SimulatorConfig

	mu     sync.Mutex
	rng    *rand.Rand
	frames uint64
}

// NewSimulator creates a simulated device.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// AcquireInto waits for the next simulated trigger and fills buf.
func (s *Simulator) AcquireInto(ctx context.Context, buf []float32) (Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxFrames > 0 && s.frames >= s.cfg.MaxFrames {
		return Trigger{}, ErrEndOfStream
	}

	if err := sleep(ctx, s.cfg.SetupTime); err != nil {
		return Trigger{}, err
	}

	armed := time.Now()
	if s.cfg.TriggerRate > 0 {
		wait := time.Duration(s.rng.ExpFloat64() / s.cfg.TriggerRate * float64(time.Second))
		if err := sleep(ctx, wait); err != nil {
			return Trigger{}, err
		}
	}
	fired := time.Now()

	phase := s.rng.Float64() * 2 * math.Pi
	dt := s.cfg.SampleInterval.Seconds()
	for c := 0; c < s.cfg.Channels; c++ {
		offset := float64(c) * math.Pi / 2
		row := buf[c*s.cfg.Samples : (c+1)*s.cfg.Samples]
		for i := range row {
			v := s.cfg.Amplitude * math.Sin(2*math.Pi*s.cfg.SignalFreq*float64(i)*dt+phase+offset)
			if s.cfg.Noise > 0 {
				v += s.cfg.Noise * (2*s.rng.Float64() - 1)
			}
			row[i] = float32(v)
		}
	}

	s.frames++
	return Trigger{Time: fired, LifeTime: fired.Sub(armed)}, nil
}

// Frames returns the number of frames produced so far.
func (s *Simulator) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Counting fills every sample of frame n with the value n, starting at 1.
// It is useful for checking ordering and copy semantics.
type Counting struct {
	MaxFrames uint64        // 0 = unlimited
	Interval  time.Duration // delay per frame, counted as life time

	mu sync.Mutex
	n  uint64
}

// AcquireInto fills buf with the next frame number.
func (c *Counting) AcquireInto(ctx context.Context, buf []float32) (Trigger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.MaxFrames > 0 && c.n >= c.MaxFrames {
		return Trigger{}, ErrEndOfStream
	}
	start := time.Now()
	if err := sleep(ctx, c.Interval); err != nil {
		return Trigger{}, err
	}
	c.n++
	for i := range buf {
		buf[i] = float32(c.n)
	}
	now := time.Now()
	return Trigger{Time: now, LifeTime: now.Sub(start)}, nil
}

// Frames returns the number of frames produced so far.
func (c *Counting) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
