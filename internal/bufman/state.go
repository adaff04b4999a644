// Package bufman is the buffer manager at the centre of the DAQ pipeline.
//
// A single producer goroutine fills frame slots from a device and publishes
// them; a single dispatcher goroutine exposes each published slot to the
// registered consumers, waits for the obligatory ones, and releases the
// slot back to the producer. Run state changes arrive as commands on one
// channel and are applied in order by a dedicated goroutine.
package bufman

// State is the run state of the manager.
type State int

const (
	// StateIdle is the state before Start.
	StateIdle State = iota

	// StateActive means the loops are running but sampling has not begun.
	StateActive

	// StateRunning means the producer is acquiring frames.
	StateRunning

	// StatePaused means acquisition is suspended and elapsed time is frozen.
	StatePaused

	// StateStopped means the run is over; the summary has been written.
	StateStopped

	// StateEnded means every loop has exited.
	StateEnded
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// IsSampling returns true while a run is in progress (running or paused).
func (s State) IsSampling() bool {
	return s == StateRunning || s == StatePaused
}

// IsTerminal returns true once sampling can no longer resume.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateEnded
}
