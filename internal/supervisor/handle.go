package supervisor

import (
	"context"
	"errors"
	"time"
)

// ErrStopTimeout is returned by Handle.Stop when the task does not exit
// within the timeout.
var ErrStopTimeout = errors.New("supervisor: task did not stop in time")

// Handle owns a supervisor running in its own goroutine.
type Handle struct {
	sup    *Supervisor
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start runs s in a new goroutine and returns its handle.
func Start(ctx context.Context, s *Supervisor) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		sup:    s,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		h.err = s.Run(ctx)
	}()
	return h
}

// Supervisor returns the underlying supervisor.
func (h *Handle) Supervisor() *Supervisor {
	return h.sup
}

// Done is closed when the task has exited for good.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the supervisor result. Only valid after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Stop cancels the task and waits up to timeout for it to exit.
func (h *Handle) Stop(timeout time.Duration) error {
	h.cancel()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.done:
		return h.err
	case <-t.C:
		return ErrStopTimeout
	}
}
