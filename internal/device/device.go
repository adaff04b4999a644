// Package device defines the acquisition device contract used by the
// buffer manager's producer, plus simulated devices for demos and tests.
package device

import (
	"context"
	"errors"
	"time"
)

// ErrEndOfStream is returned by AcquireInto when the device has no more
// frames. It is a normal termination, not a failure.
var ErrEndOfStream = errors.New("device: end of stream")

// Trigger describes one acquisition.
type Trigger struct {
	Time     time.Time     // when the trigger fired
	LifeTime time.Duration // time spent waiting for the trigger
}

// Device fills a frame buffer in place. AcquireInto must not return
// successfully until buf is fully populated. The layout of buf is
// channel-major: channel c occupies buf[c*samples : (c+1)*samples].
type Device interface {
	AcquireInto(ctx context.Context, buf []float32) (Trigger, error)
}

// Func adapts an ordinary function to the Device interface.
type Func func(ctx context.Context, buf []float32) (Trigger, error)

// AcquireInto calls f.
func (f Func) AcquireInto(ctx context.Context, buf []float32) (Trigger, error) {
	return f(ctx, buf)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
