package bufman

import (
	"errors"
	"fmt"
)

var (
	// ErrManagerEnded is returned by blocking calls once End has run.
	ErrManagerEnded = errors.New("bufman: manager ended")

	// ErrNotStarted is returned for commands issued before Start.
	ErrNotStarted = errors.New("bufman: manager not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("bufman: manager already started")

	// ErrIllegalTransition is wrapped by TransitionError.
	ErrIllegalTransition = errors.New("bufman: illegal state transition")

	// ErrInvalidMode is returned for a request mode the dispatcher does not
	// know. It indicates a misconfigured consumer.
	ErrInvalidMode = errors.New("bufman: invalid request mode")

	// ErrUnknownConsumer is returned for an id that was never registered.
	ErrUnknownConsumer = errors.New("bufman: unknown consumer")

	// ErrTooManyConsumers is returned when the registration table is full.
	ErrTooManyConsumers = errors.New("bufman: too many consumers")
)

// TransitionError reports a command that is not valid in the current state.
// The state is left unchanged.
type TransitionError struct {
	From State
	Cmd  Command
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("bufman: cannot %s while %s", e.Cmd, e.From)
}

// Unwrap lets errors.Is match ErrIllegalTransition.
func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}
