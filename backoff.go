package redismpx

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffConfig configures the delay sequence produced by Backoff. The zero
// value is not usable directly; use DefaultBackoffConfig as a starting point.
type BackoffConfig struct {
	// Base is the delay before jitter for the first attempt.
	Base time.Duration
	// Cap is the maximum delay before jitter, regardless of attempt count.
	Cap time.Duration
	// Factor is the per-attempt growth rate; delay(n) = Base * Factor^(n-1).
	Factor float64
	// Jitter is the fraction of the computed delay perturbed by a uniform
	// random sample in [0, delay]. Only full jitter (1.0) is supported by
	// Next; the field is kept for documentation and future partial-jitter
	// strategies.
	Jitter float64
}

// DefaultBackoffConfig returns a 100ms initial delay, a 30s cap and
// doubling per attempt, with full jitter per attempt rather than a fixed
// delay.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:   100 * time.Millisecond,
		Cap:    30 * time.Second,
		Factor: 2,
		Jitter: 1,
	}
}

// Backoff produces a bounded, jittered delay sequence for reconnect attempts.
// It is safe for concurrent use.
type Backoff struct {
	cfg  BackoffConfig
	mu   sync.Mutex
	n    int
	rand *rand.Rand
}

// NewBackoff constructs a Backoff from cfg, filling in DefaultBackoffConfig
// values for any zero field.
func NewBackoff(cfg BackoffConfig) *Backoff {
	d := DefaultBackoffConfig()
	if cfg.Base <= 0 {
		cfg.Base = d.Base
	}
	if cfg.Cap <= 0 {
		cfg.Cap = d.Cap
	}
	if cfg.Factor <= 0 {
		cfg.Factor = d.Factor
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = d.Jitter
	}
	return &Backoff{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay for the next reconnect attempt and advances the
// internal attempt counter. delay = min(cap, base*factor^(n-1)), perturbed by
// full jitter: a uniform sample in [0, delay].
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.n++
	raw := float64(b.cfg.Base) * math.Pow(b.cfg.Factor, float64(b.n-1))
	if raw > float64(b.cfg.Cap) || math.IsInf(raw, 1) {
		raw = float64(b.cfg.Cap)
	}
	if raw < 0 {
		raw = 0
	}
	return time.Duration(b.rand.Float64() * raw)
}

// Reset sets the attempt counter back to zero, so the next call to Next
// returns a delay for attempt 1 again. Called after a successful reconnect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n = 0
}
