package bufman

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/device"
	"github.com/randomizedcoder/go-daq-bufman/internal/supervisor"
)

// =============================================================================
// Test helpers
// =============================================================================

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// blockingDevice never triggers until its context is cancelled.
var blockingDevice = device.Func(func(ctx context.Context, buf []float32) (device.Trigger, error) {
	<-ctx.Done()
	return device.Trigger{}, ctx.Err()
})

func testConfig(dev device.Device) Config {
	cfg := DefaultConfig()
	cfg.Buffers = 4
	cfg.Channels = 2
	cfg.Samples = 8
	cfg.StatusInterval = 10 * time.Millisecond
	cfg.StopGrace = 200 * time.Millisecond
	cfg.StallTimeout = 0
	cfg.Device = dev
	cfg.Seed = 1
	return cfg
}

func newStarted(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		m.End()
		<-m.Done()
	})
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not end")
	}
}

func taskFunc(name string, fn func(ctx context.Context) error) supervisor.TaskFunc {
	return supervisor.TaskFunc{TaskName: name, Fn: fn}
}
