// Package stats provides latency percentiles for dispatch rounds and the
// exit summary printed when the program ends.
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

// LatencyDigest accumulates durations into a t-digest.
// Memory stays bounded (~100 centroids) regardless of observation count.
type LatencyDigest struct {
	mu     sync.Mutex
	digest *tdigest.TDigest
	count  uint64
	sum    time.Duration
	max    time.Duration
}

// NewLatencyDigest returns an empty digest.
func NewLatencyDigest() *LatencyDigest {
	return &LatencyDigest{digest: tdigest.NewWithCompression(100)}
}

// Add records one observation.
func (d *LatencyDigest) Add(v time.Duration) {
	if v < 0 {
		v = 0
	}
	d.mu.Lock()
	d.digest.Add(float64(v.Nanoseconds()), 1)
	d.count++
	d.sum += v
	if v > d.max {
		d.max = v
	}
	d.mu.Unlock()
}

// LatencyPercentiles summarises a digest.
type LatencyPercentiles struct {
	Count uint64
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
}

// Percentiles returns the current summary. All fields are zero when
// nothing was recorded.
func (d *LatencyDigest) Percentiles() LatencyPercentiles {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count == 0 {
		return LatencyPercentiles{}
	}
	return LatencyPercentiles{
		Count: d.count,
		P50:   time.Duration(d.digest.Quantile(0.50)),
		P95:   time.Duration(d.digest.Quantile(0.95)),
		P99:   time.Duration(d.digest.Quantile(0.99)),
		Max:   d.max,
		Mean:  d.sum / time.Duration(d.count),
	}
}

// Reset discards all observations.
func (d *LatencyDigest) Reset() {
	d.mu.Lock()
	d.digest = tdigest.NewWithCompression(100)
	d.count = 0
	d.sum = 0
	d.max = 0
	d.mu.Unlock()
}

// RoundRecorder aggregates bufman.RoundInfo reports. Record is meant to
// be installed as the manager's OnRound callback, possibly alongside
// other observers.
type RoundRecorder struct {
	hold *LatencyDigest
	wait *LatencyDigest

	mu                sync.Mutex
	rounds            uint64
	obligatoryRounds  uint64
	externalDelivered uint64
	externalSkipped   uint64
	lastSeq           uint64
}

// NewRoundRecorder returns an empty recorder.
func NewRoundRecorder() *RoundRecorder {
	return &RoundRecorder{hold: NewLatencyDigest(), wait: NewLatencyDigest()}
}

// Record adds one dispatch round.
func (r *RoundRecorder) Record(info bufman.RoundInfo) {
	r.hold.Add(info.Hold)
	if info.Obligatory > 0 {
		r.wait.Add(info.ObligatoryWait)
	}

	r.mu.Lock()
	r.rounds++
	if info.Obligatory > 0 {
		r.obligatoryRounds++
	}
	r.externalDelivered += uint64(info.ExternalDelivered)
	r.externalSkipped += uint64(info.ExternalSkipped)
	r.lastSeq = info.Seq
	r.mu.Unlock()
}

// RoundSnapshot is a point-in-time view of a RoundRecorder.
type RoundSnapshot struct {
	Rounds            uint64
	ObligatoryRounds  uint64
	ExternalDelivered uint64
	ExternalSkipped   uint64
	LastSeq           uint64
	Hold              LatencyPercentiles
	ObligatoryWait    LatencyPercentiles
}

// Snapshot returns the aggregated rounds.
func (r *RoundRecorder) Snapshot() RoundSnapshot {
	r.mu.Lock()
	s := RoundSnapshot{
		Rounds:            r.rounds,
		ObligatoryRounds:  r.obligatoryRounds,
		ExternalDelivered: r.externalDelivered,
		ExternalSkipped:   r.externalSkipped,
		LastSeq:           r.lastSeq,
	}
	r.mu.Unlock()
	s.Hold = r.hold.Percentiles()
	s.ObligatoryWait = r.wait.Percentiles()
	return s
}

// ExternalSkipRate returns the percentage of external offers that were
// skipped.
func (s RoundSnapshot) ExternalSkipRate() float64 {
	total := s.ExternalDelivered + s.ExternalSkipped
	if total == 0 {
		return 0
	}
	return 100 * float64(s.ExternalSkipped) / float64(total)
}
