package stats

import (
	"fmt"
	"strings"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// ConsumerLine is one row of the consumer section.
type ConsumerLine struct {
	Name   string
	Detail string
}

// SummaryConfig holds everything the exit summary displays.
type SummaryConfig struct {
	// WallTime is how long the process ran
	WallTime time.Duration

	// Final is the last manager status
	Final bufman.Status

	// Rounds is the dispatch round aggregate (may be zero)
	Rounds RoundSnapshot

	// Consumers lists per-consumer results in display order
	Consumers []ConsumerLine

	// Runs lists the summaries written during this process
	Runs []bufman.RunSummary

	// Stalls is the number of obligatory wait stall warnings
	Stalls uint64

	// TaskFailures lists tasks that exited with a permanent error
	TaskFailures []string

	// RingBytes is the sample memory held by the ring
	RingBytes int64

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string
}

// FormatExitSummary formats the end-of-process report.
func FormatExitSummary(cfg SummaryConfig) string {
	var b strings.Builder
	st := cfg.Final

	b.WriteString("\n")
	b.WriteString(heavyRule)
	b.WriteString("                          daq-bufman Exit Summary\n")
	b.WriteString(heavyRule + "\n")

	fmt.Fprintf(&b, "Wall Time:              %s\n", FormatDuration(cfg.WallTime))
	fmt.Fprintf(&b, "Run Time:               %s (pauses excluded)\n", FormatDuration(st.Elapsed))
	fmt.Fprintf(&b, "Final State:            %s\n", st.State)
	if cfg.RingBytes > 0 {
		fmt.Fprintf(&b, "Ring Memory:            %s\n", FormatBytes(cfg.RingBytes))
	}
	b.WriteString("\n")

	// Acquisition
	section(&b, "Acquisition")
	fmt.Fprintf(&b, "  Triggers:             %s\n", FormatNumber(int64(st.Triggers)))
	fmt.Fprintf(&b, "  Average Rate:         %s\n", FormatRate(averageRate(st)))
	fmt.Fprintf(&b, "  Life Time:            %.1fs\n", st.LifeTime.Seconds())
	fmt.Fprintf(&b, "  Duty Cycle:           %.1f%%\n\n", dutyCycle(st))

	// Dispatch
	r := cfg.Rounds
	if r.Rounds > 0 {
		section(&b, "Dispatch")
		fmt.Fprintf(&b, "  Rounds:               %s (%s obligatory)\n",
			FormatNumber(int64(r.Rounds)), FormatNumber(int64(r.ObligatoryRounds)))
		fmt.Fprintf(&b, "  %-20s %10s %10s %10s %10s\n", "Latency", "P50", "P95", "P99", "Max")
		b.WriteString("  " + strings.Repeat("─", 64) + "\n")
		latencyRow(&b, "Slot hold", r.Hold)
		if r.ObligatoryWait.Count > 0 {
			latencyRow(&b, "Obligatory wait", r.ObligatoryWait)
		}
		if r.ExternalDelivered+r.ExternalSkipped > 0 {
			fmt.Fprintf(&b, "\n  External delivered:   %s\n", FormatNumber(int64(r.ExternalDelivered)))
			fmt.Fprintf(&b, "  External skipped:     %s (%.1f%%)\n", FormatNumber(int64(r.ExternalSkipped)), r.ExternalSkipRate())
		}
		b.WriteString("\n")
	}

	// Consumers
	if len(cfg.Consumers) > 0 {
		section(&b, "Consumers")
		for _, c := range cfg.Consumers {
			fmt.Fprintf(&b, "  %-20s %s\n", c.Name+":", c.Detail)
		}
		b.WriteString("\n")
	}

	// Runs
	if len(cfg.Runs) > 0 {
		section(&b, "Runs")
		for i, run := range cfg.Runs {
			fmt.Fprintf(&b, "  #%d  started %s  Trun=%.1fs  Ntrig=%d  Tlife=%.1fs\n",
				i+1, run.Started.Format(time.TimeOnly), run.RunTime.Seconds(), run.Triggers, run.LifeTime.Seconds())
		}
		b.WriteString("\n")
	}

	// Faults
	if st.ConsistencyFaults > 0 || cfg.Stalls > 0 || len(cfg.TaskFailures) > 0 {
		section(&b, "Faults")
		if st.ConsistencyFaults > 0 {
			fmt.Fprintf(&b, "  Consistency faults:   %d\n", st.ConsistencyFaults)
		}
		if cfg.Stalls > 0 {
			fmt.Fprintf(&b, "  Obligatory stalls:    %d\n", cfg.Stalls)
		}
		for _, f := range cfg.TaskFailures {
			fmt.Fprintf(&b, "  Task failed:          %s\n", f)
		}
		b.WriteString("\n")
	}

	b.WriteString(heavyRule)
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics were available at: http://%s/metrics\n", cfg.MetricsAddr)
	}
	return b.String()
}

func section(b *strings.Builder, title string) {
	b.WriteString(lightRule)
	pad := (len([]rune(lightRule)) - 1 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(lightRule + "\n")
}

func latencyRow(b *strings.Builder, name string, p LatencyPercentiles) {
	fmt.Fprintf(b, "  %-20s %10s %10s %10s %10s\n", name, FormatMs(p.P50), FormatMs(p.P95), FormatMs(p.P99), FormatMs(p.Max))
}

func averageRate(st bufman.Status) float64 {
	if st.Elapsed <= 0 {
		return 0
	}
	return float64(st.Triggers) / st.Elapsed.Seconds()
}

func dutyCycle(st bufman.Status) float64 {
	if st.Elapsed <= 0 {
		return 0
	}
	return 100 * st.LifeTime.Seconds() / st.Elapsed.Seconds()
}

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
