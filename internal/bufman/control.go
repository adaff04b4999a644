package bufman

import (
	"context"
	"errors"
	"time"
)

// Run begins sampling. From Paused it behaves like Resume.
func (m *Manager) Run() error { return m.do(CmdRun) }

// Pause suspends sampling and freezes the elapsed run time.
func (m *Manager) Pause() error { return m.do(CmdPause) }

// Resume continues a paused run.
func (m *Manager) Resume() error { return m.do(CmdResume) }

// Stop ends the run, drains in-flight frames within StopGrace and writes
// the run summary. Sampling cannot be resumed afterwards.
func (m *Manager) Stop() error { return m.do(CmdStop) }

// End stops the run if needed, then shuts down every loop and task.
// It is safe to call from any state.
func (m *Manager) End() error { return m.do(CmdEnd) }

// Submit queues cmd without waiting for it to be applied. Commands are
// applied in submission order.
func (m *Manager) Submit(cmd Command) error {
	select {
	case <-m.done:
		return ErrManagerEnded
	default:
	}
	if m.State() == StateIdle {
		if cmd == CmdEnd {
			m.endIdle()
			return nil
		}
		return m.rejectNotStarted(cmd)
	}
	select {
	case m.commands <- commandRequest{cmd: cmd}:
		return nil
	case <-m.done:
		return ErrManagerEnded
	}
}

func (m *Manager) do(cmd Command) error {
	select {
	case <-m.done:
		return ErrManagerEnded
	default:
	}

	switch st := m.State(); {
	case st == StateIdle && cmd == CmdEnd:
		m.endIdle()
		return nil
	case st == StateIdle:
		return m.rejectNotStarted(cmd)
	}

	reply := make(chan error, 1)
	select {
	case m.commands <- commandRequest{cmd: cmd, reply: reply}:
	case <-m.done:
		return ErrManagerEnded
	}

	select {
	case err := <-reply:
		return err
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrManagerEnded
		}
	}
}

// commandLoop applies commands one at a time until End succeeds.
func (m *Manager) commandLoop() {
	defer m.doneOnce.Do(func() { close(m.done) })

	for req := range m.commands {
		err := m.execute(req.cmd)
		if err != nil {
			var te *TransitionError
			if errors.As(err, &te) {
				m.logger.Warn("command_rejected",
					"cmd", req.cmd.String(),
					"state", te.From.String(),
				)
			}
		}
		if req.reply != nil {
			req.reply <- err
		}
		if req.cmd == CmdEnd && err == nil {
			return
		}
	}
}

func (m *Manager) rejectNotStarted(cmd Command) error {
	m.logger.Warn("command_rejected",
		"cmd", cmd.String(),
		"state", StateIdle.String(),
		"error", ErrNotStarted,
	)
	return ErrNotStarted
}

func (m *Manager) execute(cmd Command) error {
	switch cmd {
	case CmdRun:
		return m.doRun()
	case CmdPause:
		return m.doPause()
	case CmdResume:
		return m.doResume()
	case CmdStop:
		return m.doStop()
	case CmdEnd:
		return m.doEnd()
	default:
		return &TransitionError{From: m.State(), Cmd: cmd}
	}
}

func (m *Manager) doRun() error {
	m.mu.Lock()
	switch m.state {
	case StateActive:
	case StatePaused:
		m.mu.Unlock()
		return m.doResume()
	default:
		st := m.state
		m.mu.Unlock()
		return &TransitionError{From: st, Cmd: CmdRun}
	}

	now := m.now()
	m.hasRun = true
	m.runStart = now
	m.pausedTotal = 0
	m.pausedAt = time.Time{}
	m.stoppedAt = time.Time{}
	m.runStartNano.Store(now.UnixNano())
	m.resetCounters(now)
	old := m.setStateLocked(StateRunning)
	m.mu.Unlock()

	m.notifyState(old, StateRunning)
	m.logger.Info("run_started", "at", now.Format(time.RFC3339))
	return nil
}

func (m *Manager) doPause() error {
	m.mu.Lock()
	if m.state != StateRunning {
		st := m.state
		m.mu.Unlock()
		return &TransitionError{From: st, Cmd: CmdPause}
	}
	m.pausedAt = m.now()
	old := m.setStateLocked(StatePaused)
	m.mu.Unlock()

	m.statsMu.Lock()
	m.counters.rate = 0
	m.statsMu.Unlock()

	m.notifyState(old, StatePaused)
	return nil
}

func (m *Manager) doResume() error {
	m.mu.Lock()
	if m.state != StatePaused {
		st := m.state
		m.mu.Unlock()
		return &TransitionError{From: st, Cmd: CmdResume}
	}
	now := m.now()
	m.pausedTotal += now.Sub(m.pausedAt)
	m.pausedAt = time.Time{}
	old := m.setStateLocked(StateRunning)
	m.mu.Unlock()

	m.statsMu.Lock()
	m.counters.window.reset(now)
	m.statsMu.Unlock()

	m.notifyState(old, StateRunning)
	return nil
}

func (m *Manager) doStop() error {
	m.mu.Lock()
	if !m.state.IsSampling() {
		st := m.state
		m.mu.Unlock()
		return &TransitionError{From: st, Cmd: CmdStop}
	}
	now := m.now()
	if m.state == StatePaused {
		m.pausedTotal += now.Sub(m.pausedAt)
		m.pausedAt = time.Time{}
	}
	m.stoppedAt = now
	started := m.runStart
	elapsed := m.elapsedLocked()
	old := m.setStateLocked(StateStopped)
	m.mu.Unlock()

	m.statsMu.Lock()
	m.counters.rate = 0
	m.statsMu.Unlock()

	m.notifyState(old, StateStopped)

	// Let frames already published reach the consumers.
	ctx, cancel := context.WithTimeout(m.loopCtx, m.cfg.StopGrace)
	if err := m.store.WaitIdle(ctx); err != nil {
		m.logger.Warn("stop_drain_incomplete",
			"queued", m.store.Len(),
			"error", err,
		)
	}
	cancel()

	m.statsMu.Lock()
	summary := RunSummary{
		Started:           started,
		RunTime:           elapsed,
		Triggers:          m.counters.triggers,
		LifeTime:          m.counters.lifeTime,
		ConsistencyFaults: m.faults.Load(),
	}
	m.statsMu.Unlock()

	m.logger.Info("run_summary",
		"started", summary.Started.Format(time.ANSIC),
		"run_time", round2(summary.RunTime.Seconds()),
		"triggers", summary.Triggers,
		"life_time", round2(summary.LifeTime.Seconds()),
		"duty_pct", round2(summary.DutyCycle()),
	)

	if m.cfg.Summary != nil {
		wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer wcancel()
		if err := m.cfg.Summary.WriteSummary(wctx, summary); err != nil {
			m.logger.Error("summary_write_failed", "error", err)
		}
	}
	return nil
}

func (m *Manager) doEnd() error {
	if m.State().IsSampling() {
		if err := m.doStop(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	old := m.setStateLocked(StateEnded)
	handles := m.handles
	m.mu.Unlock()
	m.notifyState(old, StateEnded)

	m.loopCancel()
	m.store.Close()
	m.closeMailboxes()

	for _, h := range handles {
		if err := h.Stop(m.cfg.StopGrace); err != nil {
			m.logger.Warn("task_stop_failed", "task", h.Supervisor().Name(), "error", err)
		}
	}

	exited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(m.cfg.StopGrace):
		m.logger.Warn("loops_did_not_exit", "grace", m.cfg.StopGrace.String())
	}

	m.status.Overwrite(m.Status())
	m.status.Close()

	m.logger.Info("manager_ended", "rounds", m.rounds.Load(), "faults", m.faults.Load())
	return nil
}

// endIdle ends a manager that was never started.
func (m *Manager) endIdle() {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return
	}
	old := m.setStateLocked(StateEnded)
	m.mu.Unlock()

	m.notifyState(old, StateEnded)
	m.store.Close()
	m.closeMailboxes()
	m.status.Close()
	m.doneOnce.Do(func() { close(m.done) })
}
