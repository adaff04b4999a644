package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs builds a Config from defaults, the file named by -config (if
// any) and then args. Usage and parse errors are written to out.
func ParseArgs(args []string, out io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	// the file layer must be applied before flags so flags win
	if path := findConfigArg(args); path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	fs := flag.NewFlagSet("daq-bufman", flag.ContinueOnError)
	fs.SetOutput(out)
	var configPath string

	fs.Usage = func() {
		fmt.Fprintf(out, `daq-bufman - data acquisition buffer manager

Usage:
  daq-bufman [flags]

Config:
`)
		printFlagCategory(fs, out, []string{"config"})

		fmt.Fprintf(out, "\nRing:\n")
		printFlagCategory(fs, out, []string{"buffers", "channels", "samples", "max-ring-bytes"})

		fmt.Fprintf(out, "\nDevice:\n")
		printFlagCategory(fs, out, []string{"device", "sample-interval", "trigger-rate", "max-frames", "signal-freq", "amplitude", "noise", "seed"})

		fmt.Fprintf(out, "\nManager:\n")
		printFlagCategory(fs, out, []string{"log-interval", "status-interval", "stop-grace", "stall-timeout", "max-restarts"})

		fmt.Fprintf(out, "\nConsumers:\n")
		printFlagCategory(fs, out, []string{"obligatory", "obligatory-mode", "voltmeter", "voltmeter-interval"})

		fmt.Fprintf(out, "\nExport:\n")
		printFlagCategory(fs, out, []string{"export-socket", "export-transport", "export-max-clients"})

		fmt.Fprintf(out, "\nPersistence:\n")
		printFlagCategory(fs, out, []string{"summary-dir", "summary-db"})

		fmt.Fprintf(out, "\nObservability:\n")
		printFlagCategory(fs, out, []string{"metrics", "v", "log-format", "log-level", "run-log"})

		fmt.Fprintf(out, "\nRun Control:\n")
		printFlagCategory(fs, out, []string{"duration", "auto-run", "tui", "stdin", "skip-preflight"})

		fmt.Fprintf(out, `
Commands (stdin when -tui=false):
  g  run      p  pause      r  resume      s  stop      e  end

Examples:
  # Simulated scope, four slots, summary in /tmp
  daq-bufman -buffers 4 -summary-dir /tmp

  # Stream frames to other processes
  daq-bufman -export-socket /tmp/bm.sock -export-transport memfd

`)
	}

	fs.StringVar(&configPath, "config", "", "TOML config file (flags override file values)")

	// Ring
	fs.IntVar(&cfg.Buffers, "buffers", cfg.Buffers, "Number of frame slots in the ring")
	fs.IntVar(&cfg.Channels, "channels", cfg.Channels, "Channels per frame")
	fs.IntVar(&cfg.Samples, "samples", cfg.Samples, "Samples per channel")
	fs.Int64Var(&cfg.MaxRingBytes, "max-ring-bytes", cfg.MaxRingBytes, "Refuse rings larger than this many bytes")

	// Device
	fs.StringVar(&cfg.Device, "device", cfg.Device, `Device: "sine" or "counting"`)
	fs.DurationVar(&cfg.SampleInterval, "sample-interval", cfg.SampleInterval, "Time between samples")
	fs.Float64Var(&cfg.TriggerRate, "trigger-rate", cfg.TriggerRate, "Mean triggers per second (0 = free running)")
	fs.Uint64Var(&cfg.MaxFrames, "max-frames", cfg.MaxFrames, "End of stream after this many frames (0 = unlimited)")
	fs.Float64Var(&cfg.SignalFreq, "signal-freq", cfg.SignalFreq, "Simulated signal frequency in Hz")
	fs.Float64Var(&cfg.Amplitude, "amplitude", cfg.Amplitude, "Simulated signal amplitude in volts")
	fs.Float64Var(&cfg.Noise, "noise", cfg.Noise, "Simulated noise in volts")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed (0 = time based)")

	// Manager
	fs.DurationVar(&cfg.LogInterval, "log-interval", cfg.LogInterval, "Rate report interval")
	fs.DurationVar(&cfg.StatusInterval, "status-interval", cfg.StatusInterval, "Status snapshot interval")
	fs.DurationVar(&cfg.StopGrace, "stop-grace", cfg.StopGrace, "Drain budget when stopping")
	fs.DurationVar(&cfg.StallTimeout, "stall-timeout", cfg.StallTimeout, "Warn when an obligatory consumer holds a frame this long (0 = never)")
	fs.IntVar(&cfg.MaxRestarts, "max-restarts", cfg.MaxRestarts, "Restart limit for consumer tasks (0 = unlimited)")

	// Consumers
	fs.BoolVar(&cfg.Obligatory, "obligatory", cfg.Obligatory, "Run the obligatory sequence checker")
	fs.StringVar(&cfg.ObligatoryMode, "obligatory-mode", cfg.ObligatoryMode, `Sequence checker mode: "pointer" or "obligatory-copy"`)
	fs.BoolVar(&cfg.VoltMeter, "voltmeter", cfg.VoltMeter, "Run the sampling voltmeter")
	fs.DurationVar(&cfg.VoltMeterInterval, "voltmeter-interval", cfg.VoltMeterInterval, "Voltmeter sampling interval")

	// Export
	fs.StringVar(&cfg.ExportSocket, "export-socket", cfg.ExportSocket, "Unix socket for external consumers (empty = disabled)")
	fs.StringVar(&cfg.ExportTransport, "export-transport", cfg.ExportTransport, `Export transport: "json" or "memfd"`)
	fs.IntVar(&cfg.ExportMaxClients, "export-max-clients", cfg.ExportMaxClients, "Maximum concurrent external clients")

	// Persistence
	fs.StringVar(&cfg.SummaryDir, "summary-dir", cfg.SummaryDir, "Directory for run summary files (empty = disabled)")
	fs.StringVar(&cfg.SummaryDB, "summary-db", cfg.SummaryDB, "SQLite database for run summaries (empty = disabled)")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.StringVar(&cfg.RunLogPrefix, "run-log", cfg.RunLogPrefix, "Write logs to <prefix>_yymmdd-HHMM.log as well")

	// Run control
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "End after this long (0 = until ended)")
	fs.BoolVar(&cfg.AutoRun, "auto-run", cfg.AutoRun, "Start sampling immediately")
	fs.BoolVar(&cfg.TUI, "tui", cfg.TUI, "Enable live terminal dashboard")
	fs.BoolVar(&cfg.StdinCommands, "stdin", cfg.StdinCommands, "Read run commands from stdin when the dashboard is off")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return cfg, nil
}

// findConfigArg returns the value of -config/--config without parsing the
// other flags.
func findConfigArg(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return ""
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		switch {
		case name == "config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(name, "config="):
			return strings.TrimPrefix(name, "config=")
		}
	}
	return ""
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, out io.Writer, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(out, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(out, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(out)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
