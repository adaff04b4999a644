// Package metrics provides Prometheus metrics for daq-bufman.
//
// The collector is fed from three places: status snapshots (gauges that
// mirror the manager's view), dispatcher round callbacks (counters and
// histograms), and the rolling rate tracker.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
	"github.com/randomizedcoder/go-daq-bufman/internal/stats"
	"github.com/randomizedcoder/go-daq-bufman/internal/timeseries"
)

const namespace = "daq_bufman"

// Collector manages all Prometheus metrics for the manager.
type Collector struct {
	// --- Panel 1: Run Overview ---
	info       *prometheus.GaugeVec
	state      prometheus.Gauge
	running    prometheus.Gauge
	elapsed    prometheus.Gauge
	buffers    prometheus.Gauge
	consumers  *prometheus.GaugeVec
	stateTrans *prometheus.CounterVec

	// --- Panel 2: Acquisition ---
	triggersTotal prometheus.Counter
	triggerRate   prometheus.Gauge
	lifeTime      prometheus.Gauge
	dutyCycle     prometheus.Gauge
	lastTrigger   prometheus.Gauge
	rateAvg       *prometheus.GaugeVec

	// --- Panel 3: Ring & Dispatch ---
	occupancy      prometheus.Gauge
	roundsTotal    prometheus.Counter
	holdSeconds    prometheus.Histogram
	waitSeconds    prometheus.Histogram
	latencyQuantil *prometheus.GaugeVec

	// --- Panel 4: External Delivery ---
	externalDelivered prometheus.Counter
	externalSkipped   prometheus.Counter

	// --- Panel 5: Faults ---
	consistencyFaults prometheus.Counter
	stalls            prometheus.Gauge
	taskRestarts      *prometheus.CounterVec

	mu           sync.Mutex
	prevTriggers uint64
}

// CollectorConfig holds static labels for the info metric.
type CollectorConfig struct {
	Version        string
	Device         string
	ObligatoryMode string
	Buffers        int
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the run (value always 1)",
		}, []string{"version", "device", "obligatory_mode"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Run state (0 idle, 1 active, 2 running, 3 paused, 4 stopped, 5 ended)",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while sampling",
		}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_elapsed_seconds",
			Help:      "Run time excluding pauses",
		}),
		buffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_buffers",
			Help:      "Configured ring capacity",
		}),
		consumers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumers",
			Help:      "Registered consumers by kind",
		}, []string{"kind"}),
		stateTrans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Run state transitions by target state",
		}, []string{"to"}),

		triggersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Frames acquired",
		}),
		triggerRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trigger_rate_hz",
			Help:      "Trigger rate over the manager's last rate window",
		}),
		lifeTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "life_time_seconds",
			Help:      "Cumulative time the device was armed and acquiring",
		}),
		dutyCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duty_cycle_percent",
			Help:      "Life time as a share of recent wall time",
		}),
		lastTrigger: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_trigger_seconds",
			Help:      "Time of the last trigger relative to run start",
		}),
		rateAvg: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trigger_rate_avg_hz",
			Help:      "Rolling trigger rate by window",
		}, []string{"window"}),

		occupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_occupancy_percent",
			Help:      "Share of ring slots published and waiting for dispatch",
		}),
		roundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_rounds_total",
			Help:      "Frames dispatched to consumers",
		}),
		holdSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_hold_seconds",
			Help:      "Time a slot stayed exposed to consumers",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs .. ~2.6s
		}),
		waitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "obligatory_wait_seconds",
			Help:      "Time spent waiting for obligatory consumers",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		latencyQuantil: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_quantile_seconds",
			Help:      "Dispatch latency quantiles from the t-digest",
		}, []string{"kind", "quantile"}),

		externalDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_delivered_total",
			Help:      "Snapshots placed in external channels",
		}),
		externalSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_skipped_total",
			Help:      "External offers skipped because the previous snapshot was unread",
		}),

		consistencyFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_faults_total",
			Help:      "Frames whose sequence number was not the expected next value",
		}),
		stalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "obligatory_stalls",
			Help:      "Rounds in which an obligatory consumer exceeded the stall timeout",
		}),
		taskRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_restarts_total",
			Help:      "Restarts of attached consumer tasks",
		}, []string{"task"}),
	}

	registry.MustRegister(
		c.info, c.state, c.running, c.elapsed, c.buffers, c.consumers, c.stateTrans,
		c.triggersTotal, c.triggerRate, c.lifeTime, c.dutyCycle, c.lastTrigger, c.rateAvg,
		c.occupancy, c.roundsTotal, c.holdSeconds, c.waitSeconds, c.latencyQuantil,
		c.externalDelivered, c.externalSkipped,
		c.consistencyFaults, c.stalls, c.taskRestarts,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Device, cfg.ObligatoryMode).Set(1)
	c.buffers.Set(float64(cfg.Buffers))
	return c
}

// =============================================================================
// Update Methods
// =============================================================================

// RecordStatus mirrors a status snapshot.
func (c *Collector) RecordStatus(st bufman.Status) {
	c.state.Set(float64(st.State))
	c.running.Set(boolFloat(st.Running))
	c.elapsed.Set(st.Elapsed.Seconds())
	c.triggerRate.Set(st.Rate)
	c.lifeTime.Set(st.LifeTime.Seconds())
	c.dutyCycle.Set(st.DutyCycle)
	c.lastTrigger.Set(st.LastTrigger)
	c.occupancy.Set(st.Occupancy)
	c.consumers.WithLabelValues("local").Set(float64(st.Consumers))
	c.consumers.WithLabelValues("external").Set(float64(st.Externals))

	// counters only move forward; a new run restarts the manager's count
	c.mu.Lock()
	if st.Triggers < c.prevTriggers {
		c.prevTriggers = 0
	}
	delta := st.Triggers - c.prevTriggers
	c.prevTriggers = st.Triggers
	c.mu.Unlock()
	if delta > 0 {
		c.triggersTotal.Add(float64(delta))
	}
}

// RecordRound records one dispatch round.
func (c *Collector) RecordRound(info bufman.RoundInfo) {
	c.roundsTotal.Inc()
	c.holdSeconds.Observe(info.Hold.Seconds())
	if info.Obligatory > 0 {
		c.waitSeconds.Observe(info.ObligatoryWait.Seconds())
	}
	if info.ExternalDelivered > 0 {
		c.externalDelivered.Add(float64(info.ExternalDelivered))
	}
	if info.ExternalSkipped > 0 {
		c.externalSkipped.Add(float64(info.ExternalSkipped))
	}
}

// RecordConsistencyFault counts a sequence fault.
func (c *Collector) RecordConsistencyFault() {
	c.consistencyFaults.Inc()
}

// RecordStateChange counts a transition.
func (c *Collector) RecordStateChange(_, to bufman.State) {
	c.stateTrans.WithLabelValues(to.String()).Inc()
	c.state.Set(float64(to))
	c.running.Set(boolFloat(to == bufman.StateRunning))
}

// RecordTaskRestart counts a task restart.
func (c *Collector) RecordTaskRestart(task string) {
	c.taskRestarts.WithLabelValues(task).Inc()
}

// SetStalls sets the stall count.
func (c *Collector) SetStalls(n uint64) {
	c.stalls.Set(float64(n))
}

// RecordRates sets the rolling rate gauges.
func (c *Collector) RecordRates(r timeseries.RateStats) {
	c.rateAvg.WithLabelValues("1s").Set(r.Avg1s)
	c.rateAvg.WithLabelValues("30s").Set(r.Avg30s)
	c.rateAvg.WithLabelValues("60s").Set(r.Avg60s)
	c.rateAvg.WithLabelValues("300s").Set(r.Avg300s)
}

// RecordLatency sets the quantile gauges from a round snapshot.
func (c *Collector) RecordLatency(s stats.RoundSnapshot) {
	c.setQuantiles("hold", s.Hold)
	c.setQuantiles("obligatory_wait", s.ObligatoryWait)
}

func (c *Collector) setQuantiles(kind string, p stats.LatencyPercentiles) {
	if p.Count == 0 {
		return
	}
	c.latencyQuantil.WithLabelValues(kind, "0.5").Set(p.P50.Seconds())
	c.latencyQuantil.WithLabelValues(kind, "0.95").Set(p.P95.Seconds())
	c.latencyQuantil.WithLabelValues(kind, "0.99").Set(p.P99.Seconds())
	c.latencyQuantil.WithLabelValues(kind, "1").Set(p.Max.Seconds())
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Callbacks returns manager callbacks that feed the collector. Existing
// callbacks in base are still called.
func (c *Collector) Callbacks(base bufman.Callbacks) bufman.Callbacks {
	return bufman.Callbacks{
		OnStateChange: func(old, new bufman.State) {
			c.RecordStateChange(old, new)
			if base.OnStateChange != nil {
				base.OnStateChange(old, new)
			}
		},
		OnRound: func(info bufman.RoundInfo) {
			c.RecordRound(info)
			if base.OnRound != nil {
				base.OnRound(info)
			}
		},
		OnConsistencyFault: func(expected, observed uint64) {
			c.RecordConsistencyFault()
			if base.OnConsistencyFault != nil {
				base.OnConsistencyFault(expected, observed)
			}
		},
	}
}
