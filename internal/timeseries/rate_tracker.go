// Package timeseries provides time-windowed trigger rate tracking.
//
// It tracks the cumulative trigger count and computes rolling rates over
// fixed windows (1s, 30s, 60s, 300s) from a ring of periodic samples.
//
// Thread-safe: Add/Observe use an atomic counter, GetStats takes a read lock.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize is the number of samples to retain (5 minutes at 1 sample/sec)
	ringBufferSize = 300

	// Window durations for rolling averages
	window1s   = 1 * time.Second
	window30s  = 30 * time.Second
	window60s  = 60 * time.Second
	window300s = 300 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type sample struct {
	timestamp time.Time
	count     uint64
}

// RateTracker tracks a cumulative trigger count and computes rolling
// rates.
//
// Usage:
//
//	tracker := NewRateTracker()
//	tracker.Observe(status.Triggers) // on every status snapshot
//	tracker.RecordSample()           // once per second
//	stats := tracker.GetStats()
type RateTracker struct {
	total atomic.Uint64

	samples  []sample
	writeIdx int // next write position once the ring is full
	mu       sync.RWMutex

	startTime time.Time
	clock     Clock
}

// RateStats contains rolling rates at a point in time.
type RateStats struct {
	Total uint64

	// Rolling rates (triggers per second)
	Avg1s   float64
	Avg30s  float64
	Avg60s  float64
	Avg300s float64

	// AvgOverall is the rate since tracking started
	AvgOverall float64
}

// NewRateTracker creates a tracker with the real clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(realClock{})
}

// NewRateTrackerWithClock creates a tracker with a custom clock for testing.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	now := clock.Now()
	t := &RateTracker{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	t.samples = append(t.samples, sample{timestamp: now})
	return t
}

// Add adds n triggers to the total.
func (t *RateTracker) Add(n uint64) {
	t.total.Add(n)
}

// Observe sets the cumulative total. A total lower than the current one
// means a new run started, and the history is reset.
func (t *RateTracker) Observe(total uint64) {
	if total < t.total.Load() {
		t.Reset()
	}
	t.total.Store(total)
}

// RecordSample records the current total with a timestamp.
// Call this periodically (e.g., every 1 second via ticker).
func (t *RateTracker) RecordSample() {
	now := t.clock.Now()
	current := t.total.Load()

	t.mu.Lock()
	defer t.mu.Unlock()

	s := sample{timestamp: now, count: current}
	if len(t.samples) < ringBufferSize {
		t.samples = append(t.samples, s)
	} else {
		t.samples[t.writeIdx] = s
		t.writeIdx = (t.writeIdx + 1) % ringBufferSize
	}
}

// GetStats computes the current rates. It always uses whatever history
// is available, so a short history yields a rate over a shorter span.
func (t *RateTracker) GetStats() RateStats {
	now := t.clock.Now()
	current := t.total.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := RateStats{Total: current}

	if elapsed := now.Sub(t.startTime).Seconds(); elapsed > 0 {
		stats.AvgOverall = float64(current) / elapsed
	}

	stats.Avg1s = t.avgOverWindow(now, current, window1s)
	stats.Avg30s = t.avgOverWindow(now, current, window30s)
	stats.Avg60s = t.avgOverWindow(now, current, window60s)
	stats.Avg300s = t.avgOverWindow(now, current, window300s)

	return stats
}

// avgOverWindow must be called with mu held.
func (t *RateTracker) avgOverWindow(now time.Time, current uint64, window time.Duration) float64 {
	if len(t.samples) == 0 {
		return 0
	}

	targetTime := now.Add(-window)

	// sample closest to, but not after, targetTime
	var best *sample
	var bestDiff time.Duration = -1
	for i := range t.samples {
		s := &t.samples[i]
		if s.timestamp.After(targetTime) {
			continue
		}
		diff := targetTime.Sub(s.timestamp)
		if bestDiff < 0 || diff < bestDiff {
			best = s
			bestDiff = diff
		}
	}
	if best == nil {
		best = t.oldestSample()
	}
	if best == nil || current < best.count {
		return 0
	}

	elapsed := now.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(current-best.count) / elapsed
}

// oldestSample must be called with mu held.
func (t *RateTracker) oldestSample() *sample {
	if len(t.samples) == 0 {
		return nil
	}
	if len(t.samples) < ringBufferSize {
		return &t.samples[0]
	}
	return &t.samples[t.writeIdx]
}

// Reset clears all data and restarts tracking.
func (t *RateTracker) Reset() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.Store(0)
	t.samples = t.samples[:0]
	t.samples = append(t.samples, sample{timestamp: now})
	t.writeIdx = 0
	t.startTime = now
}

// SampleCount returns the number of samples in the ring buffer.
func (t *RateTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}
