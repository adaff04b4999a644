// Package mailbox provides a single-slot cell used for request, response,
// status and external delivery handoffs between goroutines.
//
// A Cell holds at most one value. Writers choose the policy per call:
//   - Overwrite replaces an unconsumed value (latest wins)
//   - Offer places a value only if the cell is empty (oldest kept)
//
// Readers either poll with TryTake or block with Take until a value arrives,
// the context is cancelled, or the cell is closed.
package mailbox

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed cell.
var ErrClosed = errors.New("mailbox: closed")

// Stats are cumulative counters for a cell.
type Stats struct {
	Delivered  uint64 // values placed into the cell
	Overwrites uint64 // Overwrite calls that replaced an unconsumed value
	Rejected   uint64 // Offer calls refused because the cell was full
	Taken      uint64 // values removed by a reader
}

// Cell is a single-slot mailbox. The zero value is not usable; use New.
type Cell[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	val    T
	full   bool
	closed bool
	stats  Stats
}

// New returns an empty cell.
func New[T any]() *Cell[T] {
	c := &Cell[T]{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Overwrite stores v, replacing any unconsumed value.
// It reports whether an unconsumed value was replaced.
func (c *Cell[T]) Overwrite(v T) (replaced bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}
	if c.full {
		replaced = true
		c.stats.Overwrites++
	}
	c.val = v
	c.full = true
	c.stats.Delivered++
	c.cond.Broadcast()
	return replaced, nil
}

// Offer stores v only if the cell is empty. It never blocks.
func (c *Cell[T]) Offer(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if c.full {
		c.stats.Rejected++
		return false
	}
	c.val = v
	c.full = true
	c.stats.Delivered++
	c.cond.Broadcast()
	return true
}

// TryTake removes and returns the value if present.
func (c *Cell[T]) TryTake() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takeLocked()
}

// Take blocks until a value is available and removes it.
// A value already in the cell is returned even if the cell has been closed.
func (c *Cell[T]) Take(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.full {
		var zero T
		if c.closed {
			return zero, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		c.cond.Wait()
	}
	v, _ := c.takeLocked()
	return v, nil
}

func (c *Cell[T]) takeLocked() (T, bool) {
	var zero T
	if !c.full {
		return zero, false
	}
	v := c.val
	c.val = zero
	c.full = false
	c.stats.Taken++
	c.cond.Broadcast()
	return v, true
}

// Full reports whether the cell holds an unconsumed value.
func (c *Cell[T]) Full() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.full
}

// Close wakes all blocked readers. Subsequent writes are refused.
// Close is idempotent.
func (c *Cell[T]) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Closed reports whether Close has been called.
func (c *Cell[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Stats returns a copy of the cell counters.
func (c *Cell[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
