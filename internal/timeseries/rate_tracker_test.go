package timeseries

import (
	"sync"
	"testing"
	"time"
)

// mockClock provides deterministic time for testing.
type mockClock struct {
	mu   sync.Mutex
	time time.Time
}

func newMockClock(t time.Time) *mockClock {
	return &mockClock{time: t}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = c.time.Add(d)
}

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRateTracker_Add(t *testing.T) {
	tests := []struct {
		name     string
		adds     []uint64
		expected uint64
	}{
		{"single add", []uint64{10}, 10},
		{"multiple adds", []uint64{1, 2, 3}, 6},
		{"zero", []uint64{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewRateTrackerWithClock(newMockClock(baseTime))
			for _, n := range tt.adds {
				tracker.Add(n)
			}
			if got := tracker.GetStats().Total; got != tt.expected {
				t.Errorf("Total = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestRateTracker_RollingAverage(t *testing.T) {
	t.Run("constant rate", func(t *testing.T) {
		clock := newMockClock(baseTime)
		tracker := NewRateTrackerWithClock(clock)

		// 50 triggers per second for 10 seconds
		for i := 0; i < 10; i++ {
			tracker.Add(50)
			clock.Advance(time.Second)
			tracker.RecordSample()
		}

		stats := tracker.GetStats()
		if stats.Avg1s < 45 || stats.Avg1s > 55 {
			t.Errorf("Avg1s = %f, want ~50", stats.Avg1s)
		}
		if stats.AvgOverall < 45 || stats.AvgOverall > 55 {
			t.Errorf("AvgOverall = %f, want ~50", stats.AvgOverall)
		}
	})

	t.Run("burst then idle", func(t *testing.T) {
		clock := newMockClock(baseTime)
		tracker := NewRateTrackerWithClock(clock)

		tracker.Add(1000)
		tracker.RecordSample()
		for i := 0; i < 10; i++ {
			clock.Advance(time.Second)
			tracker.RecordSample()
		}

		stats := tracker.GetStats()
		if stats.Avg1s > 1 {
			t.Errorf("Avg1s = %f, want ~0", stats.Avg1s)
		}
		if stats.Total != 1000 {
			t.Errorf("Total = %d, want 1000", stats.Total)
		}
	})

	t.Run("short history", func(t *testing.T) {
		clock := newMockClock(baseTime)
		tracker := NewRateTrackerWithClock(clock)

		tracker.Add(20)
		clock.Advance(2 * time.Second)
		tracker.RecordSample()

		// 300s window falls back to the oldest sample (t=0)
		stats := tracker.GetStats()
		if stats.Avg300s < 9 || stats.Avg300s > 11 {
			t.Errorf("Avg300s = %f, want ~10", stats.Avg300s)
		}
	})
}

func TestRateTracker_Observe(t *testing.T) {
	clock := newMockClock(baseTime)
	tracker := NewRateTrackerWithClock(clock)

	for i := uint64(1); i <= 5; i++ {
		clock.Advance(time.Second)
		tracker.Observe(i * 10)
		tracker.RecordSample()
	}
	if got := tracker.GetStats().Avg1s; got < 9 || got > 11 {
		t.Errorf("Avg1s = %f, want ~10", got)
	}

	// a lower total is a new run
	tracker.Observe(3)
	if got := tracker.SampleCount(); got != 1 {
		t.Errorf("SampleCount after reset = %d, want 1", got)
	}
	if got := tracker.GetStats().Total; got != 3 {
		t.Errorf("Total = %d, want 3", got)
	}
}

func TestRateTracker_RingBufferOverflow(t *testing.T) {
	clock := newMockClock(baseTime)
	tracker := NewRateTrackerWithClock(clock)

	for i := 0; i < ringBufferSize+50; i++ {
		tracker.Add(7)
		clock.Advance(time.Second)
		tracker.RecordSample()
	}

	if tracker.SampleCount() != ringBufferSize {
		t.Errorf("SampleCount = %d, want %d", tracker.SampleCount(), ringBufferSize)
	}
	stats := tracker.GetStats()
	if stats.Avg300s < 6.5 || stats.Avg300s > 7.5 {
		t.Errorf("Avg300s = %f, want ~7", stats.Avg300s)
	}
	if stats.Total != uint64(ringBufferSize+50)*7 {
		t.Errorf("Total = %d, want %d", stats.Total, (ringBufferSize+50)*7)
	}
}

func TestRateTracker_Reset(t *testing.T) {
	clock := newMockClock(baseTime)
	tracker := NewRateTrackerWithClock(clock)
	for i := 0; i < 5; i++ {
		tracker.Add(10)
		clock.Advance(time.Second)
		tracker.RecordSample()
	}

	tracker.Reset()
	stats := tracker.GetStats()
	if stats.Total != 0 || stats.Avg1s != 0 || stats.AvgOverall != 0 {
		t.Errorf("after Reset stats = %+v, want zeros", stats)
	}
}

func TestRateTracker_ConcurrentAddAndRead(t *testing.T) {
	tracker := NewRateTracker()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tracker.Add(1)
				if j%100 == 0 {
					tracker.RecordSample()
					_ = tracker.GetStats()
				}
			}
		}()
	}
	wg.Wait()

	if got := tracker.GetStats().Total; got != 8000 {
		t.Errorf("Total = %d, want 8000", got)
	}
}
