// Package consumers contains in-process consumers of the buffer manager:
// a sequence checker that is waited for on every frame, and a voltmeter
// that samples copies at its own pace.
package consumers

import (
	"context"
	"errors"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
	"github.com/randomizedcoder/go-daq-bufman/internal/supervisor"
)

// Source is the consumer side of the manager.
type Source interface {
	Register() (bufman.ConsumerID, error)
	Request(id bufman.ConsumerID, mode bufman.Mode) error
	Await(ctx context.Context, id bufman.ConsumerID) (bufman.Event, error)
}

// taskResult maps manager errors to supervisor semantics: the manager
// ending is a normal finish, a bad mode is not worth retrying.
func taskResult(err error) error {
	switch {
	case err == nil, errors.Is(err, bufman.ErrManagerEnded), errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, bufman.ErrInvalidMode), errors.Is(err, bufman.ErrUnknownConsumer):
		return supervisor.Permanent(err)
	default:
		return err
	}
}
