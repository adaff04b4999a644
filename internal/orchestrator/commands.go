package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

// readCommands reads whitespace separated command tokens (P, R, S, E, or
// the long names) from r and submits them in order. It returns at EOF,
// on End, or when the manager has ended.
func (o *Orchestrator) readCommands(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		token := strings.TrimSpace(scanner.Text())
		cmd, err := bufman.ParseCommand(token)
		if err != nil {
			o.logger.Warn("unknown_command", "token", token)
			continue
		}
		o.logger.Debug("command_received", "cmd", cmd.String())
		if err := o.manager.Submit(cmd); err != nil {
			if errors.Is(err, bufman.ErrManagerEnded) {
				return
			}
			o.logger.Warn("command_submit_failed", "cmd", cmd.String(), "error", err)
		}
		if cmd == bufman.CmdEnd {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		o.logger.Warn("command_read_failed", "error", err)
	}
}
