package bufman

import (
	"context"
	"time"
)

// RunSummary is written once per run when the run stops.
type RunSummary struct {
	Started           time.Time
	RunTime           time.Duration // excludes pauses
	Triggers          uint64
	LifeTime          time.Duration
	ConsistencyFaults uint64
}

// DutyCycle returns life time as a percentage of run time.
func (s RunSummary) DutyCycle() float64 {
	if s.RunTime <= 0 {
		return 0
	}
	return 100 * s.LifeTime.Seconds() / s.RunTime.Seconds()
}

// SummaryWriter persists run summaries.
type SummaryWriter interface {
	WriteSummary(ctx context.Context, s RunSummary) error
}

// SummaryFunc adapts a function to SummaryWriter.
type SummaryFunc func(ctx context.Context, s RunSummary) error

// WriteSummary calls f.
func (f SummaryFunc) WriteSummary(ctx context.Context, s RunSummary) error {
	return f(ctx, s)
}
