package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrMaxRestarts is returned by Run when the restart budget is exhausted.
var ErrMaxRestarts = errors.New("supervisor: max restarts reached")

// Task is a long-running unit of work. Run should block until ctx is
// cancelled or the work is complete. Returning nil means the task finished
// and must not be restarted.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

// Name returns the task name.
func (f TaskFunc) Name() string { return f.TaskName }

// Run calls Fn.
func (f TaskFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. A task returning it is
// stopped instead of restarted.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the task state changes.
	OnStateChange func(name string, oldState, newState State)

	// OnExit is called each time the task returns.
	OnExit func(name string, err error, uptime time.Duration)

	// OnRestart is called before a restart attempt.
	OnRestart func(name string, attempt int, delay time.Duration)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Task        Task
	Backoff     *Backoff
	Logger      *slog.Logger
	Callbacks   Callbacks
	MaxRestarts int // 0 = unlimited
}

// Supervisor runs a single task, restarting it with backoff on failure.
type Supervisor struct {
	task      Task
	backoff   *Backoff
	logger    *slog.Logger
	callbacks Callbacks

	stateMu   sync.RWMutex
	state     State
	startTime time.Time
	restarts  int
	lastErr   error

	maxRestarts int
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	b := cfg.Backoff
	if b == nil {
		b = NewBackoff(0, time.Now().UnixNano(), DefaultBackoffConfig())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		task:        cfg.Task,
		backoff:     b,
		logger:      logger,
		callbacks:   cfg.Callbacks,
		state:       StatePending,
		maxRestarts: cfg.MaxRestarts,
	}
}

// Run executes the task until it finishes, fails permanently, exhausts
// the restart budget, or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	name := s.task.Name()
	s.logger.Debug("task_starting", "task", name)

	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateFinished)
			return nil
		}

		uptime, err := s.runOnce(ctx)

		if s.callbacks.OnExit != nil {
			s.callbacks.OnExit(name, err, uptime)
		}

		switch {
		case err == nil:
			s.setState(StateFinished)
			s.logger.Debug("task_finished", "task", name, "uptime", uptime.String())
			return nil
		case ctx.Err() != nil:
			s.setState(StateFinished)
			return nil
		case IsPermanent(err):
			s.setState(StateFailed)
			s.logger.Error("task_failed_permanently", "task", name, "error", err)
			return err
		}

		if s.maxRestarts > 0 && s.Restarts() >= s.maxRestarts {
			s.setState(StateFailed)
			s.logger.Warn("max_restarts_reached",
				"task", name,
				"restarts", s.Restarts(),
				"max", s.maxRestarts,
			)
			return fmt.Errorf("%w: %s: %v", ErrMaxRestarts, name, err)
		}

		if ShouldReset(uptime, err) {
			s.backoff.Reset()
		}
		delay := s.backoff.Next()

		s.stateMu.Lock()
		s.restarts++
		attempt := s.restarts
		s.stateMu.Unlock()

		if s.callbacks.OnRestart != nil {
			s.callbacks.OnRestart(name, attempt, delay)
		}
		s.logger.Warn("task_restart_scheduled",
			"task", name,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)

		s.setState(StateBackoff)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.setState(StateFinished)
			return nil
		case <-t.C:
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) (uptime time.Duration, err error) {
	s.stateMu.Lock()
	s.startTime = time.Now()
	s.stateMu.Unlock()
	s.setState(StateRunning)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", s.task.Name(), r)
		}
		uptime = time.Since(s.startTime)
		s.stateMu.Lock()
		s.lastErr = err
		s.stateMu.Unlock()
	}()

	return 0, s.task.Run(ctx)
}

// Name returns the supervised task's name.
func (s *Supervisor) Name() string {
	return s.task.Name()
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(s.task.Name(), oldState, newState)
	}
}

// Restarts returns the number of restarts that have occurred.
func (s *Supervisor) Restarts() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.restarts
}

// LastError returns the error from the most recent task exit.
func (s *Supervisor) LastError() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastErr
}

// Uptime returns the current uptime if running, or 0 if not.
func (s *Supervisor) Uptime() time.Duration {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.state != StateRunning {
		return 0
	}
	return time.Since(s.startTime)
}
