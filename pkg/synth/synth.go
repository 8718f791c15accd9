// Package synth defines the Backend interface for speech synthesis engines.
//
// A synthesis backend turns one bounded chunk of text plus a voice into audio.
// Two families of backends exist: local model engines that render raw PCM
// sample buffers in-process, and remote HTTP APIs that return pre-encoded
// audio blobs. Both are unified behind [Backend] so the delivery pipeline is
// backend-agnostic; any payload-shape conversion happens inside the backend,
// never downstream.
//
// Implementations may serialize calls internally (local model engines are
// typically not reentrant) but must be safe to call from multiple goroutines.
package synth

import (
	"context"
	"errors"
	"fmt"
)

// ErrBackendUnavailable indicates the backend cannot produce audio at all —
// the model failed to load, the process could not start, or every provider in
// a chain is down. Callers should degrade to text-only output rather than
// retry.
var ErrBackendUnavailable = errors.New("synth: backend unavailable")

// RemoteAPIError is returned by remote backends when the provider answers
// with a non-success status. It carries the provider's own status and message
// so the caller can surface them without string-parsing.
type RemoteAPIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("synth: %s returned status %d: %s", e.Provider, e.Status, e.Message)
}

// Voice identifies the speaker to synthesize with. Key is the canonical voice
// key; AssetPath points at the on-disk voice model for local engines (empty
// for remote backends); ProviderID is the provider-specific identifier used
// by remote APIs (empty for local engines).
type Voice struct {
	Key        string
	AssetPath  string
	ProviderID string
}

// AudioFrame is one chunk's worth of raw audio: signed 16-bit samples at a
// known rate. Ownership transfers to the caller; backends must not reuse the
// sample buffer after returning it.
type AudioFrame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// EncodedBlob is pre-encoded audio as delivered by a remote provider, with
// its content type.
type EncodedBlob struct {
	Data        []byte
	ContentType string
}

// Result is the outcome of synthesizing one chunk: exactly one of Frame or
// Blob is non-nil.
type Result struct {
	Frame *AudioFrame
	Blob  *EncodedBlob
}

// Backend is the abstraction over any speech synthesis engine.
type Backend interface {
	// Synthesize renders text with the given voice. It may block for the
	// duration of model inference or a network round-trip; callers should
	// bound it with ctx. Errors are recoverable at the caller: a failed
	// chunk degrades the response, it never aborts the process.
	Synthesize(ctx context.Context, text string, voice Voice) (*Result, error)

	// Name returns a short label for logs and metrics.
	Name() string

	// Close releases any held resources (model memory, subprocesses).
	Close() error
}
