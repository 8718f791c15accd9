// Package guard gates expensive synthesis work on the process's memory
// footprint.
//
// Before a request is allowed to run local synthesis, the guard compares the
// process's resident set size against a configured ceiling. Requests over the
// ceiling are denied so the pipeline can degrade to text-only output instead
// of risking the whole process being OOM-killed.
//
// The guard fails open: when the footprint cannot be measured (e.g. on
// platforms without procfs) it admits the request and logs a warning, because
// a broken probe must not silence the service.
package guard

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/procfs"
)

// ErrMemoryPressure indicates the process is over its memory ceiling and the
// request should degrade rather than synthesize.
var ErrMemoryPressure = errors.New("guard: memory ceiling exceeded")

// Measurer reports the process's current resident set size in bytes.
type Measurer func() (uint64, error)

// Guard admits or denies synthesis work based on resident memory.
type Guard struct {
	ceiling uint64
	measure Measurer
}

// Option configures a Guard.
type Option func(*Guard)

// WithMeasurer replaces the default procfs-based probe. Intended for tests
// and for platforms without /proc.
func WithMeasurer(m Measurer) Option {
	return func(g *Guard) { g.measure = m }
}

// New creates a Guard with the given ceiling in bytes. A zero ceiling
// disables the guard; every request is admitted.
func New(ceilingBytes uint64, opts ...Option) *Guard {
	g := &Guard{
		ceiling: ceilingBytes,
		measure: procRSS,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Check returns nil when the request may run synthesis, or an error wrapping
// [ErrMemoryPressure] when the process is over its ceiling. Measurement
// failures admit the request.
func (g *Guard) Check() error {
	if g.ceiling == 0 {
		return nil
	}
	rss, err := g.measure()
	if err != nil {
		slog.Warn("memory probe failed, admitting request", "error", err)
		return nil
	}
	if rss > g.ceiling {
		return fmt.Errorf("%w: rss %d bytes over ceiling %d bytes", ErrMemoryPressure, rss, g.ceiling)
	}
	return nil
}

// procRSS reads the process's resident set size from procfs.
func procRSS() (uint64, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, fmt.Errorf("guard: open procfs: %w", err)
	}
	stat, err := p.Stat()
	if err != nil {
		return 0, fmt.Errorf("guard: read proc stat: %w", err)
	}
	return uint64(stat.ResidentMemory()), nil
}
