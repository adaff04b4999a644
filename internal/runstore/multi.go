package runstore

import (
	"context"
	"errors"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

// Multi writes a summary to every writer and joins their errors.
type Multi []bufman.SummaryWriter

// WriteSummary implements bufman.SummaryWriter.
func (m Multi) WriteSummary(ctx context.Context, s bufman.RunSummary) error {
	var errs []error
	for _, w := range m {
		if w == nil {
			continue
		}
		if err := w.WriteSummary(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
