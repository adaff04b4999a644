package bufman

import (
	"context"
	"errors"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/device"
)

// triggersPerRateUpdate is how many triggers make up one rate window.
const triggersPerRateUpdate = 10

// counters are the run statistics, guarded by Manager.statsMu.
type counters struct {
	triggers    uint64
	lastTrigger float64 // seconds since run start
	lifeTime    time.Duration
	rate        float64 // Hz
	dutyCycle   float64 // percent
	window      rateWindow
}

// rateWindow accumulates triggers and life time until it holds `every`
// triggers, then yields rate and duty cycle over the wall time it spanned.
type rateWindow struct {
	every int
	n     int
	start time.Time
	life  time.Duration
}

func (w *rateWindow) reset(now time.Time) {
	w.n = 0
	w.life = 0
	w.start = now
}

func (w *rateWindow) observe(now time.Time, life time.Duration) (rate, duty float64, ok bool) {
	if w.start.IsZero() {
		w.start = now
	}
	w.n++
	w.life += life
	if w.n < w.every {
		return 0, 0, false
	}
	if dt := now.Sub(w.start).Seconds(); dt > 0 {
		rate = float64(w.n) / dt
		duty = 100 * w.life.Seconds() / dt
		ok = true
	}
	w.reset(now)
	return rate, duty, ok
}

// produce is the producer loop: wait for Running, take the next writable
// slot, let the device fill it, stamp it and publish it.
func (m *Manager) produce(ctx context.Context) {
	defer m.wg.Done()
	defer m.store.Finish()

	logger := m.logger.With("loop", "producer")

	for {
		if !m.waitRunning(ctx) {
			logger.Debug("producer_exit", "state", m.State().String())
			return
		}

		idx, err := m.store.NextWritable(ctx)
		if err != nil {
			return
		}
		slot := m.store.Slot(idx)

		trig, err := m.device.AcquireInto(ctx, slot.Data)
		switch {
		case errors.Is(err, device.ErrEndOfStream):
			logger.Info("producer_end_of_stream", "triggers", m.triggerCount())
			m.endOfStream.Store(true)
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Error("device_error", "error", err, "triggers", m.triggerCount())
			m.endOfStream.Store(true)
			return
		}

		// A frame acquired across Stop is discarded.
		if m.State().IsTerminal() {
			return
		}

		seq, ts := m.recordTrigger(trig)
		slot.Stamp(seq, ts)

		if err := m.store.Publish(ctx, idx); err != nil {
			return
		}
	}
}

// recordTrigger updates the counters for one trigger and returns the
// frame's sequence number and timestamp.
func (m *Manager) recordTrigger(trig device.Trigger) (uint64, float64) {
	m.mu.Lock()
	runStart := m.runStart
	m.mu.Unlock()

	now := m.now()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	c := &m.counters
	c.triggers++
	c.lifeTime += trig.LifeTime

	at := trig.Time
	if at.IsZero() {
		at = now
	}
	c.lastTrigger = at.Sub(runStart).Seconds()

	if rate, duty, ok := c.window.observe(now, trig.LifeTime); ok {
		c.rate = rate
		c.dutyCycle = duty
	}
	return c.triggers, c.lastTrigger
}

func (m *Manager) triggerCount() uint64 {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.counters.triggers
}

func (m *Manager) resetCounters(now time.Time) {
	m.statsMu.Lock()
	m.counters = counters{window: rateWindow{every: triggersPerRateUpdate}}
	m.counters.window.reset(now)
	m.statsMu.Unlock()
}
