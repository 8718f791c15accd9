// Package resilience protects the synthesis pipeline from failing backends.
//
// [Breaker] is a three-state circuit breaker (closed → open → half-open) that
// stops the pipeline from hammering a backend that keeps failing. [Chain]
// composes several synthesis backends behind one [synth.Backend]: each entry
// carries its own breaker, and a request falls through to the next healthy
// entry when the one before it fails or is open.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the breaker is open and the cool-off
// period has not yet elapsed.
var ErrOpen = errors.New("resilience: circuit open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// Closed forwards every call.
	Closed BreakerState = iota

	// Open rejects every call with [ErrOpen] until the cool-off elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through; success closes
	// the breaker, any failure re-opens it.
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// Threshold is how many consecutive failures open the breaker. Default 3.
	Threshold int

	// CoolOff is how long the breaker stays open before probing. Default 30 s.
	CoolOff time.Duration

	// Probes is the half-open probe budget. Default 2.
	Probes int
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name      string
	threshold int
	coolOff   time.Duration
	probes    int

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	probeUsed int
	probeOK   int
}

// NewBreaker creates a closed [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		coolOff:   cfg.CoolOff,
		probes:    cfg.Probes,
	}
}

// Do runs fn if the breaker admits the call, and records the outcome. In the
// open state fn is not called and Do returns [ErrOpen].
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.coolOff {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probeUsed = 0
		b.probeOK = 0
		slog.Info("circuit half-open, probing backend", "breaker", b.name)
	case HalfOpen:
		if b.probeUsed >= b.probes {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == HalfOpen
	if probing {
		b.probeUsed++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.fail(probing)
	} else {
		b.ok(probing)
	}
	return err
}

// fail records a failed call. Caller holds b.mu.
func (b *Breaker) fail(probing bool) {
	b.openedAt = time.Now()
	if probing {
		b.state = Open
		b.failures = b.threshold
		slog.Warn("circuit re-opened, probe failed", "breaker", b.name)
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = Open
		slog.Warn("circuit opened", "breaker", b.name, "consecutive_failures", b.failures)
	}
}

// ok records a successful call. Caller holds b.mu.
func (b *Breaker) ok(probing bool) {
	if probing {
		b.probeOK++
		if b.probeOK >= b.probes {
			b.state = Closed
			b.failures = 0
			slog.Info("circuit closed, backend recovered", "breaker", b.name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's current state. An open breaker whose cool-off
// has elapsed reports [HalfOpen]; the transition itself happens on the next
// [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.coolOff {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probeUsed = 0
	b.probeOK = 0
}
