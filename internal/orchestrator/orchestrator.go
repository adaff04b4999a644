// Package orchestrator builds the buffer manager and everything around it
// from a Config, runs it until it ends, and prints the exit summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
	"github.com/randomizedcoder/go-daq-bufman/internal/config"
	"github.com/randomizedcoder/go-daq-bufman/internal/consumers"
	"github.com/randomizedcoder/go-daq-bufman/internal/export"
	"github.com/randomizedcoder/go-daq-bufman/internal/logging"
	"github.com/randomizedcoder/go-daq-bufman/internal/metrics"
	"github.com/randomizedcoder/go-daq-bufman/internal/preflight"
	"github.com/randomizedcoder/go-daq-bufman/internal/stats"
	"github.com/randomizedcoder/go-daq-bufman/internal/supervisor"
	"github.com/randomizedcoder/go-daq-bufman/internal/timeseries"
	"github.com/randomizedcoder/go-daq-bufman/internal/tui"
)

// ErrTaskFailed is returned by Run when an attached task failed
// permanently. The process should exit with status 1.
var ErrTaskFailed = errors.New("attached task failed permanently")

// Options are the process-level inputs that do not come from Config.
type Options struct {
	Version string

	// Stdin supplies command tokens when the TUI is off; nil disables it.
	Stdin io.Reader

	// Out receives preflight results and the exit summary. Defaults to os.Stdout.
	Out io.Writer

	// LogOutput receives log lines when the TUI is off. Defaults to os.Stderr.
	LogOutput io.Writer

	// HandleSignals installs SIGINT/SIGTERM handling.
	HandleSignals bool
}

// Orchestrator coordinates all components of a run.
type Orchestrator struct {
	config *config.Config
	opts   Options
	logger *slog.Logger
	sink   *logging.Sink

	manager  *bufman.Manager
	registry *prometheus.Registry
	metrics  *metrics.Collector
	server   *metrics.Server
	rounds   *stats.RoundRecorder
	rates    *timeseries.RateTracker
	summary  *summaryRecorder
	closers  []io.Closer

	sequence  *consumers.SequenceChecker
	voltmeter *consumers.VoltMeter
	exporter  *export.Server

	failures chan string

	mu     sync.Mutex
	latest bufman.Status

	startTime time.Time
}

// New creates an Orchestrator. Nothing is started until Run.
func New(cfg *config.Config, opts Options) *Orchestrator {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}

	sink := logging.NewSink(0)
	var w io.Writer = io.MultiWriter(opts.LogOutput, sink)
	if cfg.TUI {
		// the dashboard owns the terminal; lines are shown in its log panel
		w = sink
	}
	logger := logging.NewLoggerTo(w, cfg.LogFormat, cfg.LogLevel, cfg.Verbose)

	return &Orchestrator{
		config:   cfg,
		opts:     opts,
		logger:   logger,
		sink:     sink,
		rounds:   stats.NewRoundRecorder(),
		rates:    timeseries.NewRateTracker(),
		failures: make(chan string, 8),
	}
}

// Logger returns the orchestrator's logger.
func (o *Orchestrator) Logger() *slog.Logger {
	return o.logger
}

// Run executes the run. It blocks until the manager ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()
	defer o.sink.Close()

	if !o.config.SkipPreflight {
		result := preflight.RunAll(preflight.Options{
			RingBytes:     o.config.RingBytes(),
			MaxRingBytes:  o.config.MaxRingBytes,
			SummaryDir:    o.config.SummaryDir,
			ExportSocket:  o.config.ExportSocket,
			ExportClients: o.config.ExportMaxClients,
		})
		preflight.PrintResults(o.opts.Out, result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	if err := o.openRunLog(); err != nil {
		return err
	}
	if err := o.build(ctx); err != nil {
		o.closeAll()
		return err
	}
	defer o.closeAll()

	if o.server != nil {
		if err := o.server.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := o.manager.Start(ctx); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}

	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		o.statusLoop()
	}()

	if o.config.AutoRun {
		if err := o.manager.Run(); err != nil {
			o.logger.Warn("auto_run_failed", "error", err)
		}
	}

	var program *tea.Program
	tuiDone := make(chan struct{})
	if o.config.TUI {
		program = o.startTUI(tuiDone)
	} else {
		close(tuiDone)
		if o.config.StdinCommands && o.opts.Stdin != nil {
			go o.readCommands(ctx, o.opts.Stdin)
		}
	}

	var sigCh chan os.Signal
	if o.opts.HandleSignals {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigCh)
	}

	var durationTimer <-chan time.Time
	if o.config.Duration > 0 {
		t := time.NewTimer(o.config.Duration)
		defer t.Stop()
		durationTimer = t.C
	}

	var failed []string
	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-durationTimer:
		o.logger.Info("duration_elapsed", "duration", o.config.Duration.String())
	case name := <-o.failures:
		failed = append(failed, name)
		o.logger.Error("task_failed_ending_run", "task", name)
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	case <-o.manager.Done():
	}

	if err := o.manager.End(); err != nil && !errors.Is(err, bufman.ErrManagerEnded) {
		o.logger.Warn("end_failed", "error", err)
	}
	<-o.manager.Done()
	<-statusDone

	if program != nil {
		tui.SendQuit(program)
		<-tuiDone
	}

	if o.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.server.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
		shutdownCancel()
	}

	failed = o.collectFailures(failed)
	o.printExitSummary(failed)

	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", ErrTaskFailed, failed)
	}
	return nil
}

// openRunLog tees log output to <prefix>_yymmdd-HHMM.log in the summary
// directory when a prefix is configured.
func (o *Orchestrator) openRunLog() error {
	if o.config.RunLogPrefix == "" {
		return nil
	}
	dir := o.config.SummaryDir
	if dir == "" {
		dir = "."
	}
	f, err := logging.OpenRunLog(dir, o.config.RunLogPrefix, o.startTime)
	if err != nil {
		return err
	}
	o.sink.Tee(f)
	o.logger.Info("run_log_opened", "path", f.Name())
	return nil
}

// build creates the manager and attaches consumers, the export server,
// the summary writers and the metrics.
func (o *Orchestrator) build(ctx context.Context) error {
	dev, err := newDevice(o.config)
	if err != nil {
		return err
	}

	writers, closers, err := openSummaryWriters(ctx, o.config)
	if err != nil {
		return err
	}
	o.closers = append(o.closers, closers...)
	o.summary = &summaryRecorder{next: writers}

	o.registry = prometheus.NewRegistry()
	o.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:        o.opts.Version,
		Device:         o.config.Device,
		ObligatoryMode: o.obligatoryModeLabel(),
		Buffers:        o.config.Buffers,
	}, o.registry)

	mc := o.config.ManagerConfig()
	mc.Device = dev
	mc.Logger = o.logger
	mc.Summary = o.summary
	mc.Callbacks = o.metrics.Callbacks(bufman.Callbacks{
		OnRound: o.rounds.Record,
	})
	mc.TaskCallbacks = supervisor.Callbacks{
		OnExit:    o.onTaskExit,
		OnRestart: o.onTaskRestart,
	}

	m, err := bufman.New(mc)
	if err != nil {
		return err
	}
	o.manager = m

	if err := o.attachConsumers(); err != nil {
		return err
	}

	if o.config.MetricsAddr != "" {
		o.server = metrics.NewServer(metrics.ServerConfig{
			Addr:     o.config.MetricsAddr,
			Gatherer: o.registry,
			Ready:    o.ready,
			Logger:   o.logger,
		})
	}
	return nil
}

func (o *Orchestrator) attachConsumers() error {
	logger := o.manager.Logger()

	if o.config.Obligatory {
		mode, err := o.config.ObligatoryConsumerMode()
		if err != nil {
			return err
		}
		seq, err := consumers.NewSequenceChecker(o.manager, mode, 0, logger)
		if err != nil {
			return fmt.Errorf("register sequence checker: %w", err)
		}
		o.sequence = seq
		if err := o.manager.Attach(seq); err != nil {
			return err
		}
	}

	if o.config.VoltMeter {
		vm, err := consumers.NewVoltMeter(o.manager, o.config.VoltMeterInterval, logger)
		if err != nil {
			return fmt.Errorf("register voltmeter: %w", err)
		}
		o.voltmeter = vm
		if err := o.manager.Attach(vm); err != nil {
			return err
		}
	}

	if o.config.ExportSocket != "" {
		transport, err := export.Lookup(o.config.ExportTransport)
		if err != nil {
			return err
		}
		srv, err := export.NewServer(o.manager, export.ServerConfig{
			Path:       o.config.ExportSocket,
			Transport:  transport,
			MaxClients: o.config.ExportMaxClients,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		o.exporter = srv
		if err := o.manager.Attach(srv); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) obligatoryModeLabel() string {
	if !o.config.Obligatory {
		return "none"
	}
	return o.config.ObligatoryMode
}

// ready reports readiness for the metrics server.
func (o *Orchestrator) ready() bool {
	if o.manager == nil {
		return false
	}
	st := o.manager.State()
	return st != bufman.StateIdle && st != bufman.StateEnded
}

func (o *Orchestrator) closeAll() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i].Close(); err != nil {
			o.logger.Warn("close_failed", "error", err)
		}
	}
	o.closers = nil
}

// Callback handlers

func (o *Orchestrator) onTaskExit(name string, err error, uptime time.Duration) {
	if err == nil || !supervisor.IsPermanent(err) {
		return
	}
	o.logger.Error("task_exit_permanent", "task", name, "error", err, "uptime", uptime.String())
	select {
	case o.failures <- name:
	default:
	}
}

func (o *Orchestrator) onTaskRestart(name string, attempt int, delay time.Duration) {
	o.metrics.RecordTaskRestart(name)
	if o.config.Verbose {
		o.logger.Debug("task_restart_scheduled",
			"task", name,
			"attempt", attempt,
			"delay", delay.String(),
		)
	}
}

// collectFailures adds tasks whose handles ended with a permanent error
// to the ones already reported.
func (o *Orchestrator) collectFailures(failed []string) []string {
	seen := make(map[string]bool, len(failed))
	for _, f := range failed {
		seen[f] = true
	}
	for _, h := range o.manager.Tasks() {
		if err := h.Err(); err != nil && supervisor.IsPermanent(err) {
			name := h.Supervisor().Name()
			if !seen[name] {
				seen[name] = true
				failed = append(failed, name)
			}
		}
	}
	return failed
}

// printExitSummary prints a summary of the run.
func (o *Orchestrator) printExitSummary(failed []string) {
	fmt.Fprint(o.opts.Out, stats.FormatExitSummary(stats.SummaryConfig{
		WallTime:     time.Since(o.startTime),
		Final:        o.manager.Status(),
		Rounds:       o.rounds.Snapshot(),
		Consumers:    o.consumerLines(),
		Runs:         o.summary.Runs(),
		Stalls:       o.manager.Stalls(),
		TaskFailures: failed,
		RingBytes:    o.config.RingBytes(),
		MetricsAddr:  o.config.MetricsAddr,
	}))
}

// Manager returns the buffer manager. Nil before Run.
func (o *Orchestrator) Manager() *bufman.Manager {
	return o.manager
}

// Registry returns the metrics registry. Nil before Run.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}
