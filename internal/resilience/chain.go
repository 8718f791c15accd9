package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxprep/voxprep/pkg/synth"
)

// Compile-time interface assertion.
var _ synth.Backend = (*Chain)(nil)

// Chain composes synthesis backends in preference order behind one
// [synth.Backend]. The first entry is the primary; each entry has its own
// [Breaker], and a request falls through to the next entry when the current
// one fails or its breaker is open.
type Chain struct {
	entries []chainEntry
	cfg     BreakerConfig
}

type chainEntry struct {
	backend synth.Backend
	breaker *Breaker
}

// NewChain creates a [Chain] with primary as the preferred backend. The
// breaker config applies to every entry; the per-entry breaker name is the
// backend's own name.
func NewChain(primary synth.Backend, cfg BreakerConfig) *Chain {
	c := &Chain{cfg: cfg}
	c.add(primary)
	return c
}

// Append registers an additional backend, tried after all earlier entries.
func (c *Chain) Append(backend synth.Backend) {
	c.add(backend)
}

func (c *Chain) add(backend synth.Backend) {
	cfg := c.cfg
	cfg.Name = backend.Name()
	c.entries = append(c.entries, chainEntry{
		backend: backend,
		breaker: NewBreaker(cfg),
	})
}

// Synthesize tries each backend in order and returns the first success.
func (c *Chain) Synthesize(ctx context.Context, text string, voice synth.Voice) (*synth.Result, error) {
	res, _, err := c.Do(ctx, text, voice)
	return res, err
}

// Do is Synthesize plus the name of the backend that served the request, so
// callers can tell a primary result from a degraded fallback one. When every
// backend fails or is open, the returned error wraps
// [synth.ErrBackendUnavailable].
func (c *Chain) Do(ctx context.Context, text string, voice synth.Voice) (*synth.Result, string, error) {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]
		var res *synth.Result
		err := entry.breaker.Do(func() error {
			var innerErr error
			res, innerErr = entry.backend.Synthesize(ctx, text, voice)
			return innerErr
		})
		if err == nil {
			return res, entry.backend.Name(), nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping synthesis backend, circuit open",
				"backend", entry.backend.Name())
		} else {
			slog.Warn("synthesis backend failed, trying next",
				"backend", entry.backend.Name(), "error", err)
		}
		// A cancelled request should not burn through the remaining entries.
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("resilience: synthesis aborted: %w", ctx.Err())
		}
	}
	return nil, "", fmt.Errorf("%w: all backends failed: %v", synth.ErrBackendUnavailable, lastErr)
}

// Available reports whether at least one backend is currently admitting
// calls. Used by the readiness probe.
func (c *Chain) Available() bool {
	for i := range c.entries {
		if c.entries[i].breaker.State() != Open {
			return true
		}
	}
	return false
}

// Primary returns the name of the preferred backend.
func (c *Chain) Primary() string {
	return c.entries[0].backend.Name()
}

// Name identifies the chain in logs.
func (c *Chain) Name() string { return "chain" }

// Close closes every backend in the chain and joins their errors.
func (c *Chain) Close() error {
	var errs []error
	for _, entry := range c.entries {
		if err := entry.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", entry.backend.Name(), err))
		}
	}
	return errors.Join(errs...)
}
