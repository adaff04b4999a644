package bufman

import (
	"fmt"
	"strings"
)

// Command is a run control request.
type Command int

const (
	CmdRun Command = iota
	CmdPause
	CmdResume
	CmdStop
	CmdEnd
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdRun:
		return "run"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdStop:
		return "stop"
	case CmdEnd:
		return "end"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// ParseCommand accepts the single letter tokens P, R, S, E (and G for run)
// as well as the full command names, case-insensitively.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "g", "go", "run":
		return CmdRun, nil
	case "p", "pause":
		return CmdPause, nil
	case "r", "resume":
		return CmdResume, nil
	case "s", "stop":
		return CmdStop, nil
	case "e", "end", "q", "quit":
		return CmdEnd, nil
	default:
		return 0, fmt.Errorf("bufman: unknown command %q", s)
	}
}

type commandRequest struct {
	cmd   Command
	reply chan error // nil for fire-and-forget
}
