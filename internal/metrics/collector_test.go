package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
	"github.com/randomizedcoder/go-daq-bufman/internal/stats"
	"github.com/randomizedcoder/go-daq-bufman/internal/timeseries"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestCollector creates a collector with a test registry.
func newTestCollector() (*Collector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(CollectorConfig{
		Version:        "test",
		Device:         "counting",
		ObligatoryMode: "pointer",
		Buffers:        4,
	}, registry)
	return c, registry
}

// =============================================================================
// Tests
// =============================================================================

func TestNewCollector_Registers(t *testing.T) {
	c, registry := newTestCollector()

	if got := testutil.ToFloat64(c.buffers); got != 4 {
		t.Errorf("ring_buffers = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.info.WithLabelValues("test", "counting", "pointer")); got != 1 {
		t.Errorf("info = %v, want 1", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"daq_bufman_info", "daq_bufman_ring_buffers", "daq_bufman_triggers_total"} {
		if !names[want] {
			t.Errorf("gathered families missing %s", want)
		}
	}
}

func TestNewCollector_DefaultVersion(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(CollectorConfig{Device: "sine"}, registry)
	if got := testutil.ToFloat64(c.info.WithLabelValues("dev", "sine", "")); got != 1 {
		t.Errorf("info{version=dev} = %v, want 1", got)
	}
}

func TestRecordStatus(t *testing.T) {
	c, _ := newTestCollector()

	c.RecordStatus(bufman.Status{
		State:       bufman.StateRunning,
		Running:     true,
		Elapsed:     10 * time.Second,
		Triggers:    100,
		LastTrigger: 9.5,
		LifeTime:    2 * time.Second,
		Rate:        10,
		DutyCycle:   20,
		Occupancy:   25,
		Consumers:   2,
		Externals:   1,
	})

	tests := []struct {
		name   string
		metric prometheus.Collector
		want   float64
	}{
		{"state", c.state, float64(bufman.StateRunning)},
		{"running", c.running, 1},
		{"elapsed", c.elapsed, 10},
		{"triggers_total", c.triggersTotal, 100},
		{"trigger_rate", c.triggerRate, 10},
		{"life_time", c.lifeTime, 2},
		{"duty_cycle", c.dutyCycle, 20},
		{"last_trigger", c.lastTrigger, 9.5},
		{"occupancy", c.occupancy, 25},
		{"consumers_local", c.consumers.WithLabelValues("local"), 2},
		{"consumers_external", c.consumers.WithLabelValues("external"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.metric); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestRecordStatus_TriggerDeltas(t *testing.T) {
	c, _ := newTestCollector()

	steps := []struct {
		triggers uint64
		want     float64
	}{
		{10, 10},
		{25, 25},
		{25, 25},
		// new run: manager count restarts
		{5, 30},
		{8, 33},
	}
	for _, s := range steps {
		c.RecordStatus(bufman.Status{Triggers: s.triggers})
		if got := testutil.ToFloat64(c.triggersTotal); got != s.want {
			t.Errorf("after %d: triggers_total = %v, want %v", s.triggers, got, s.want)
		}
	}
}

func TestRecordRound(t *testing.T) {
	c, registry := newTestCollector()

	c.RecordRound(bufman.RoundInfo{Seq: 1, Obligatory: 1, ExternalDelivered: 2, Hold: time.Millisecond, ObligatoryWait: time.Millisecond})
	c.RecordRound(bufman.RoundInfo{Seq: 2, ExternalSkipped: 3, Hold: time.Millisecond})

	if got := testutil.ToFloat64(c.roundsTotal); got != 2 {
		t.Errorf("rounds = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.externalDelivered); got != 2 {
		t.Errorf("external_delivered = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.externalSkipped); got != 3 {
		t.Errorf("external_skipped = %v, want 3", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	counts := map[string]uint64{}
	for _, mf := range families {
		switch mf.GetName() {
		case "daq_bufman_slot_hold_seconds", "daq_bufman_obligatory_wait_seconds":
			counts[mf.GetName()] = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	if counts["daq_bufman_slot_hold_seconds"] != 2 {
		t.Errorf("hold samples = %d, want 2", counts["daq_bufman_slot_hold_seconds"])
	}
	if counts["daq_bufman_obligatory_wait_seconds"] != 1 {
		t.Errorf("wait samples = %d, want 1", counts["daq_bufman_obligatory_wait_seconds"])
	}
}

func TestRecordStateChange(t *testing.T) {
	c, _ := newTestCollector()
	c.RecordStateChange(bufman.StateActive, bufman.StateRunning)
	c.RecordStateChange(bufman.StateRunning, bufman.StatePaused)
	c.RecordStateChange(bufman.StatePaused, bufman.StateRunning)

	if got := testutil.ToFloat64(c.stateTrans.WithLabelValues("running")); got != 2 {
		t.Errorf("transitions{to=running} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.running); got != 1 {
		t.Errorf("running = %v, want 1", got)
	}
}

func TestCallbacks_Chain(t *testing.T) {
	c, _ := newTestCollector()

	var rounds, faults, changes int
	cb := c.Callbacks(bufman.Callbacks{
		OnRound:            func(bufman.RoundInfo) { rounds++ },
		OnConsistencyFault: func(uint64, uint64) { faults++ },
		OnStateChange:      func(bufman.State, bufman.State) { changes++ },
	})
	cb.OnRound(bufman.RoundInfo{})
	cb.OnConsistencyFault(2, 3)
	cb.OnStateChange(bufman.StateIdle, bufman.StateActive)

	if rounds != 1 || faults != 1 || changes != 1 {
		t.Errorf("base callbacks = %d/%d/%d, want 1/1/1", rounds, faults, changes)
	}
	if got := testutil.ToFloat64(c.consistencyFaults); got != 1 {
		t.Errorf("consistency_faults = %v, want 1", got)
	}

	// nil base callbacks are fine
	empty := c.Callbacks(bufman.Callbacks{})
	empty.OnRound(bufman.RoundInfo{})
	empty.OnConsistencyFault(1, 2)
	empty.OnStateChange(bufman.StateActive, bufman.StateRunning)
}

func TestRecordRates(t *testing.T) {
	c, _ := newTestCollector()
	c.RecordRates(timeseries.RateStats{Avg1s: 1, Avg30s: 30, Avg60s: 60, Avg300s: 300})

	for _, w := range []struct {
		window string
		want   float64
	}{{"1s", 1}, {"30s", 30}, {"60s", 60}, {"300s", 300}} {
		if got := testutil.ToFloat64(c.rateAvg.WithLabelValues(w.window)); got != w.want {
			t.Errorf("rate{window=%s} = %v, want %v", w.window, got, w.want)
		}
	}
}

func TestRecordLatency(t *testing.T) {
	c, _ := newTestCollector()
	c.RecordLatency(stats.RoundSnapshot{
		Hold: stats.LatencyPercentiles{Count: 1, P50: time.Millisecond, P95: 2 * time.Millisecond, P99: 3 * time.Millisecond, Max: 4 * time.Millisecond},
	})

	if got := testutil.ToFloat64(c.latencyQuantil.WithLabelValues("hold", "0.95")); got != 0.002 {
		t.Errorf("hold p95 = %v, want 0.002", got)
	}
	// empty digests leave no series behind
	if n := testutil.CollectAndCount(c.latencyQuantil); n != 4 {
		t.Errorf("quantile series = %d, want 4", n)
	}
}

func TestTaskRestartsAndStalls(t *testing.T) {
	c, _ := newTestCollector()
	c.RecordTaskRestart("voltmeter")
	c.RecordTaskRestart("voltmeter")
	c.SetStalls(3)

	if got := testutil.ToFloat64(c.taskRestarts.WithLabelValues("voltmeter")); got != 2 {
		t.Errorf("task_restarts{voltmeter} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.stalls); got != 3 {
		t.Errorf("stalls = %v, want 3", got)
	}
}
