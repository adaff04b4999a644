// Package supervisor runs auxiliary tasks (consumers, exporters, servers)
// on behalf of the buffer manager. Each task gets a handle with a defined
// start/stop contract and is restarted with backoff when it fails.
package supervisor

// State is the lifecycle position of a supervised task.
type State int

const (
	StatePending  State = iota // not yet run
	StateRunning               // inside Task.Run
	StateBackoff               // failed, waiting to restart
	StateFinished              // returned nil or was cancelled
	StateFailed                // permanent error or restart budget spent
)

var stateNames = [...]string{
	StatePending:  "pending",
	StateRunning:  "running",
	StateBackoff:  "backoff",
	StateFinished: "finished",
	StateFailed:   "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// IsTerminal reports whether the task will never run again.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateFailed
}
