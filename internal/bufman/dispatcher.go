package bufman

import (
	"context"
	"errors"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/ring"
)

// dispatch is the dispatcher loop. Each round exposes one published slot,
// answers pending consumer requests, offers copies to external channels,
// waits for obligatory consumers and releases the slot.
func (m *Manager) dispatch(ctx context.Context) {
	defer m.wg.Done()

	logger := m.logger.With("loop", "dispatcher")

	var (
		n       uint64
		lastLog = m.now()
		lastN   uint64
	)

	for {
		idx, err := m.store.TakeNext(ctx)
		if errors.Is(err, ring.ErrDrained) {
			logger.Debug("dispatcher_drained", "rounds", n)
			if m.endOfStream.Load() {
				go m.Submit(CmdEnd)
			}
			return
		}
		if err != nil {
			return
		}

		if err := m.store.Expose(idx); err != nil {
			logger.Error("slot_expose_failed", "slot", idx, "error", err)
			continue
		}
		exposed := time.Now()
		slot := m.store.Slot(idx)

		info, obligatory := m.serve(slot)

		waitStart := time.Now()
		completed := m.awaitObligatory(ctx, obligatory, slot.Seq)
		info.ObligatoryWait = time.Since(waitStart)

		m.store.Release()
		info.Hold = time.Since(exposed)
		if !completed {
			return
		}

		n++
		m.rounds.Store(n)
		if slot.Seq != n {
			m.faults.Add(1)
			logger.Warn("consistency_fault",
				"expected", n,
				"observed", slot.Seq,
			)
			if m.callbacks.OnConsistencyFault != nil {
				m.callbacks.OnConsistencyFault(n, slot.Seq)
			}
			n = slot.Seq
		}

		if now := m.now(); now.Sub(lastLog) >= m.cfg.LogInterval {
			st := m.Status()
			logger.Info("rate_report",
				"events", n,
				"since_last", n-lastN,
				"rate_hz", round2(st.Rate),
				"life_pct", round2(st.DutyCycle),
				"occupancy_pct", round2(st.Occupancy),
			)
			lastLog = now
			lastN = n
		}

		if m.callbacks.OnRound != nil {
			m.callbacks.OnRound(info)
		}
	}
}

// serve answers every pending local request and fills empty external
// channels. It returns the registrations that must be waited for.
func (m *Manager) serve(slot *ring.Slot) (RoundInfo, []*registration) {
	info := RoundInfo{Seq: slot.Seq, Slot: slot.Index()}
	locals, externals := m.snapshotRegistrations()

	var obligatory []*registration
	for _, r := range locals {
		mode, ok := r.requests.TryTake()
		if !ok {
			continue
		}

		ev := Event{Mode: mode}
		switch mode {
		case PointerRef:
			ev.Frame = slot.Frame
		case DataCopy, ObligatoryCopy:
			ev.Frame = slot.Frame.Clone()
		default:
			// Request validates modes, so this is a programming error.
			m.logger.Error("invalid_request_mode", "consumer", r.id, "mode", int(mode), "fatal", true)
			continue
		}
		if mode.Obligatory() {
			obligatory = append(obligatory, r)
		}

		if _, err := r.responses.Overwrite(ev); err != nil {
			continue
		}
		r.served.Add(1)
		info.Serviced++
	}
	info.Obligatory = len(obligatory)

	for _, c := range externals {
		if !c.cell.Full() && c.cell.Offer(Event{Frame: slot.Frame.Clone(), Mode: DataCopy}) {
			info.ExternalDelivered++
			continue
		}
		c.skipped.Add(1)
		info.ExternalSkipped++
	}
	return info, obligatory
}

// awaitObligatory blocks until every registration in regs has posted its
// next request. It returns false if ctx ends first.
func (m *Manager) awaitObligatory(ctx context.Context, regs []*registration, seq uint64) bool {
	if len(regs) == 0 {
		return true
	}

	var stall <-chan time.Time
	if m.cfg.StallTimeout > 0 {
		t := time.NewTimer(m.cfg.StallTimeout)
		defer t.Stop()
		stall = t.C
	}
	start := time.Now()

	for {
		pending := 0
		for _, r := range regs {
			if !r.requests.Full() && !r.requests.Closed() {
				pending++
			}
		}
		if pending == 0 {
			return ctx.Err() == nil
		}

		select {
		case <-m.reqNotify:
		case <-ctx.Done():
			return false
		case <-stall:
			m.stalls.Add(1)
			m.logger.Warn("obligatory_consumer_stalled",
				"seq", seq,
				"pending", pending,
				"waited", time.Since(start).String(),
			)
		}
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
