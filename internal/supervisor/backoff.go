package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds the restart delay policy for a task.
type BackoffConfig struct {
	Initial    time.Duration // first restart delay
	Max        time.Duration // cap on the delay
	Multiplier float64       // growth per attempt
	JitterPct  float64       // jitter as a fraction of the delay, split ±
}

// DefaultBackoffConfig returns the restart policy used for manager tasks.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2.0,
		JitterPct:  0.2,
	}
}

// BackoffResetThreshold is the minimum uptime before backoff is reset.
// A task that ran this long before failing is treated as having recovered.
const BackoffResetThreshold = 30 * time.Second

// ShouldReset reports whether a task exit should clear the backoff.
func ShouldReset(uptime time.Duration, err error) bool {
	return err == nil || uptime >= BackoffResetThreshold
}

// Backoff yields exponential restart delays for one task. Not safe for
// concurrent use; each supervisor owns its own.
type Backoff struct {
	cfg      BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff returns a Backoff whose jitter sequence is fixed by taskID
// and seed.
func NewBackoff(taskID int, seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg, rng: taskRand(taskID, seed)}
}

// Next returns the delay for the current attempt and advances.
func (b *Backoff) Next() time.Duration {
	d := b.Calculate()
	b.attempts++
	return d
}

// Calculate returns the delay for the current attempt without advancing.
func (b *Backoff) Calculate() time.Duration {
	d := math.Min(
		float64(b.cfg.Initial)*math.Pow(b.cfg.Multiplier, float64(b.attempts)),
		float64(b.cfg.Max),
	)
	if span := d * b.cfg.JitterPct; span > 0 {
		d += span * (b.rng.Float64() - 0.5)
	}
	return time.Duration(math.Max(d, 0))
}

// Reset sets the attempt counter back to zero.
func (b *Backoff) Reset() { b.attempts = 0 }

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int { return b.attempts }

// JitterSource hands out per-task seeds so restarts of different tasks do
// not line up.
type JitterSource struct {
	seed int64
}

// NewJitterSource creates a jitter source with the given seed.
func NewJitterSource(seed int64) *JitterSource {
	return &JitterSource{seed: seed}
}

// ForTask returns a generator seeded for taskID. The same taskID always
// produces the same sequence.
func (j *JitterSource) ForTask(taskID int) *rand.Rand {
	return taskRand(taskID, j.seed)
}

// Backoff returns a Backoff for taskID using this source's seed.
func (j *JitterSource) Backoff(taskID int, cfg BackoffConfig) *Backoff {
	return NewBackoff(taskID, j.seed, cfg)
}

func taskRand(taskID int, seed int64) *rand.Rand {
	return rand.New(rand.NewSource(int64(taskID) ^ seed))
}
