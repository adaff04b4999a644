package bufman

import (
	"context"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/mailbox"
)

// Status is a point-in-time view of the run.
type Status struct {
	State             State
	Running           bool
	Elapsed           time.Duration // excludes pauses
	Triggers          uint64
	LastTrigger       float64 // seconds since run start
	LifeTime          time.Duration
	Rate              float64 // Hz over the last rate window
	DutyCycle         float64 // percent
	Occupancy         float64 // percent of ring capacity queued
	Consumers         int
	Externals         int
	ConsistencyFaults uint64
}

// Status builds a snapshot on demand.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		State:   m.state,
		Running: m.state == StateRunning,
		Elapsed: m.elapsedLocked(),
	}
	m.mu.Unlock()

	m.statsMu.Lock()
	st.Triggers = m.counters.triggers
	st.LastTrigger = m.counters.lastTrigger
	st.LifeTime = m.counters.lifeTime
	st.Rate = m.counters.rate
	st.DutyCycle = m.counters.dutyCycle
	m.statsMu.Unlock()

	st.Occupancy = m.store.Occupancy()
	st.Consumers, st.Externals = m.Consumers()
	st.ConsistencyFaults = m.faults.Load()
	return st
}

// StatusBox is the single-slot mailbox the status publisher fills. A new
// snapshot is placed only after the previous one has been taken.
func (m *Manager) StatusBox() *mailbox.Cell[Status] {
	return m.status
}

func (m *Manager) publishStatus(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.StatusInterval)
	defer ticker.Stop()

	m.status.Offer(m.Status())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.status.Offer(m.Status())
		}
	}
}
