// Package mock provides a configurable in-memory synth.Backend for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxprep/voxprep/pkg/synth"
)

// Backend is a test double for [synth.Backend]. Configure behaviour via the
// function fields; unset fields fall back to a fixed one-sample frame per
// character of input. All calls are recorded.
type Backend struct {
	SynthesizeFunc func(ctx context.Context, text string, voice synth.Voice) (*synth.Result, error)
	CloseFunc      func() error
	NameValue      string

	mu    sync.Mutex
	calls []Call
}

// Call records the arguments of one Synthesize invocation.
type Call struct {
	Text  string
	Voice synth.Voice
}

// Synthesize delegates to SynthesizeFunc, or returns a deterministic frame:
// one zero sample per input byte at 16 kHz mono.
func (b *Backend) Synthesize(ctx context.Context, text string, voice synth.Voice) (*synth.Result, error) {
	b.mu.Lock()
	b.calls = append(b.calls, Call{Text: text, Voice: voice})
	b.mu.Unlock()

	if b.SynthesizeFunc != nil {
		return b.SynthesizeFunc(ctx, text, voice)
	}
	return &synth.Result{
		Frame: &synth.AudioFrame{
			Samples:    make([]int16, len(text)),
			SampleRate: 16000,
			Channels:   1,
		},
	}, nil
}

// Name returns NameValue, defaulting to "mock".
func (b *Backend) Name() string {
	if b.NameValue == "" {
		return "mock"
	}
	return b.NameValue
}

// Close delegates to CloseFunc, defaulting to a no-op.
func (b *Backend) Close() error {
	if b.CloseFunc != nil {
		return b.CloseFunc()
	}
	return nil
}

// Calls returns a copy of all recorded Synthesize calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

var _ synth.Backend = (*Backend)(nil)
