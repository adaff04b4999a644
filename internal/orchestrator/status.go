package orchestrator

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
	"github.com/randomizedcoder/go-daq-bufman/internal/stats"
	"github.com/randomizedcoder/go-daq-bufman/internal/tui"
)

// statusLoop takes each status snapshot the manager publishes and feeds
// the rate tracker and the metrics. It returns once the status mailbox is
// closed, after the final snapshot.
func (o *Orchestrator) statusLoop() {
	box := o.manager.StatusBox()
	for {
		st, err := box.Take(context.Background())
		if err != nil {
			return
		}

		o.rates.Observe(st.Triggers)
		o.rates.RecordSample()

		o.metrics.RecordStatus(st)
		o.metrics.RecordRates(o.rates.GetStats())
		o.metrics.RecordLatency(o.rounds.Snapshot())
		o.metrics.SetStalls(o.manager.Stalls())

		o.mu.Lock()
		o.latest = st
		o.mu.Unlock()
	}
}

// Snapshot implements tui.Source.
func (o *Orchestrator) Snapshot() tui.Snapshot {
	o.mu.Lock()
	st := o.latest
	o.mu.Unlock()

	return tui.Snapshot{
		Status:    st,
		Rates:     o.rates.GetStats(),
		Rounds:    o.rounds.Snapshot(),
		Stalls:    o.manager.Stalls(),
		Consumers: o.consumerLines(),
	}
}

// consumerLines describes each attached consumer for the dashboard and
// the exit summary.
func (o *Orchestrator) consumerLines() []stats.ConsumerLine {
	var lines []stats.ConsumerLine

	if o.sequence != nil {
		s := o.sequence.Stats()
		lines = append(lines, stats.ConsumerLine{
			Name: o.sequence.Name(),
			Detail: fmt.Sprintf("received %d, gaps %d, reordered %d, last seq %d",
				s.Received, s.Gaps, s.Reordered, s.LastSeq),
		})
	}

	if o.voltmeter != nil {
		r, n := o.voltmeter.Latest()
		detail := fmt.Sprintf("%d readings", n)
		if n > 0 {
			means := make([]string, len(r.Mean))
			for i, v := range r.Mean {
				means[i] = fmt.Sprintf("ch%d %.3f V (rms %.3f)", i, v, r.RMS[i])
			}
			detail += ", " + strings.Join(means, ", ")
		}
		lines = append(lines, stats.ConsumerLine{Name: o.voltmeter.Name(), Detail: detail})
	}

	if o.exporter != nil {
		s := o.exporter.Stats()
		lines = append(lines, stats.ConsumerLine{
			Name: o.exporter.Name(),
			Detail: fmt.Sprintf("%d active, %d accepted, %d rejected, %d sent",
				s.Active, s.Accepted, s.Rejected, s.Sent),
		})
	}
	return lines
}

// startTUI runs the dashboard in its own goroutine. done is closed when
// the program exits.
func (o *Orchestrator) startTUI(done chan struct{}) *tea.Program {
	model := tui.New(tui.Config{
		Device:      o.config.Device,
		Buffers:     o.config.Buffers,
		MetricsAddr: o.config.MetricsAddr,
		Source:      o,
		Controller:  o.manager,
		Logs:        o.sink,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())
	go func() {
		defer close(done)
		if _, err := p.Run(); err != nil {
			o.logger.Error("tui_error", "error", err)
		}
		// quitting the dashboard ends the run
		o.manager.Submit(bufman.CmdEnd)
	}()
	return p
}
