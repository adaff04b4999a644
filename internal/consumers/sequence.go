package consumers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

// SequenceStats are the checker's counters.
type SequenceStats struct {
	Received  uint64
	Gaps      uint64 // frames missing between deliveries
	Reordered uint64 // deliveries at or below the previous sequence
	LastSeq   uint64
	Samples   uint64
}

// SequenceChecker is an obligatory consumer that verifies every frame
// arrives exactly once and in order.
type SequenceChecker struct {
	src    Source
	id     bufman.ConsumerID
	mode   bufman.Mode
	hold   time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	stats SequenceStats
}

// NewSequenceChecker registers with src. mode should be PointerRef or
// ObligatoryCopy; hold simulates per-frame processing time.
func NewSequenceChecker(src Source, mode bufman.Mode, hold time.Duration, logger *slog.Logger) (*SequenceChecker, error) {
	id, err := src.Register()
	if err != nil {
		return nil, err
	}
	return &SequenceChecker{
		src:    src,
		id:     id,
		mode:   mode,
		hold:   hold,
		logger: logger.With("consumer", "sequence", "id", id),
	}, nil
}

// Name implements supervisor.Task.
func (c *SequenceChecker) Name() string { return "sequence-checker" }

// ID returns the registration id.
func (c *SequenceChecker) ID() bufman.ConsumerID { return c.id }

// Run consumes frames until the manager ends.
func (c *SequenceChecker) Run(ctx context.Context) error {
	if err := c.src.Request(c.id, c.mode); err != nil {
		return taskResult(err)
	}
	for {
		ev, err := c.src.Await(ctx, c.id)
		if err != nil {
			return taskResult(err)
		}
		c.observe(ev)

		if c.hold > 0 {
			select {
			case <-time.After(c.hold):
			case <-ctx.Done():
				return nil
			}
		}

		// Asking for the next frame releases this one.
		if err := c.src.Request(c.id, c.mode); err != nil {
			return taskResult(err)
		}
	}
}

func (c *SequenceChecker) observe(ev bufman.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.stats
	switch {
	case s.Received == 0 || ev.Seq == s.LastSeq+1:
	case ev.Seq > s.LastSeq+1:
		missing := ev.Seq - s.LastSeq - 1
		s.Gaps += missing
		c.logger.Warn("sequence_gap", "after", s.LastSeq, "seq", ev.Seq, "missing", missing)
	default:
		s.Reordered++
		c.logger.Warn("sequence_reordered", "after", s.LastSeq, "seq", ev.Seq)
	}
	s.Received++
	s.Samples += uint64(len(ev.Data))
	s.LastSeq = ev.Seq
}

// Stats returns a copy of the counters.
func (c *SequenceChecker) Stats() SequenceStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
