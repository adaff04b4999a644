// Package main provides the daq-bufman CLI entry point.
//
// daq-bufman runs a data acquisition buffer manager: a simulated device
// fills a ring of frame buffers, and in-process and external consumers
// read the frames under obligatory or best-effort delivery.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/randomizedcoder/go-daq-bufman/internal/config"
	"github.com/randomizedcoder/go-daq-bufman/internal/logging"
	"github.com/randomizedcoder/go-daq-bufman/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/daq-bufman
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("daq-bufman %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	if !cfg.TUI {
		printBanner(cfg)
	}

	orch := orchestrator.New(cfg, orchestrator.Options{
		Version:       version,
		Stdin:         os.Stdin,
		HandleSignals: true,
	})
	logger := orch.Logger()
	logging.SetDefault(logger)

	logger.Info("starting",
		"version", version,
		"device", cfg.Device,
		"buffers", cfg.Buffers,
		"channels", cfg.Channels,
		"samples", cfg.Samples,
		"config_file", cfg.ConfigFile,
		"metrics_addr", cfg.MetricsAddr,
	)

	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		return 1
	}
	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                          daq-bufman                               ║")
	fmt.Println("║          DAQ Frame Ring with Obligatory and Best-Effort Readers   ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Ring:        %d buffers of %d×%d samples\n", cfg.Buffers, cfg.Channels, cfg.Samples)
	fmt.Printf("  Device:      %s at %.1f Hz\n", cfg.Device, cfg.TriggerRate)
	if cfg.Obligatory {
		fmt.Printf("  Obligatory:  sequence checker (%s)\n", cfg.ObligatoryMode)
	}
	if cfg.ExportSocket != "" {
		fmt.Printf("  Export:      %s (%s, %d clients)\n", cfg.ExportSocket, cfg.ExportTransport, cfg.ExportMaxClients)
	}
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
	if cfg.StdinCommands {
		fmt.Println("Commands: G run, P pause, R resume, S stop, E end. Ctrl+C ends.")
	} else {
		fmt.Println("Press Ctrl+C to stop.")
	}
	fmt.Println()
}
