package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voxprep/voxprep/internal/guard"
	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/pkg/audio/pcm"
	"github.com/voxprep/voxprep/pkg/audio/wav"
	"github.com/voxprep/voxprep/pkg/synth"
	"github.com/voxprep/voxprep/pkg/textchunk"
)

// skippedUnitsMessage is surfaced to clients when some units failed mid-request.
const skippedUnitsMessage = "some of the reply could not be synthesized"

// assembler drives chunk-by-chunk synthesis and packages the audio. The first
// unit is always synthesized before any delivery commitment is made, so a
// request whose synthesis is broken outright can still degrade to text-only
// output. Failures after the first unit skip that unit and keep going.
type assembler struct {
	chain   Synthesizer
	guard   *guard.Guard
	metrics *observe.Metrics
}

// abandon reports whether a unit failure dooms the remaining units too: when
// the whole chain is unavailable, probing every later chunk against dead
// backends only adds latency.
func abandon(err error) bool {
	return errors.Is(err, synth.ErrBackendUnavailable)
}

// admit re-checks the memory guard before a subsequent unit. Pressure that
// builds up mid-request stops further synthesis; what was already rendered is
// still delivered.
func (a *assembler) admit(ctx context.Context) bool {
	if err := a.guard.Check(); err != nil {
		slog.Warn("stopping synthesis mid-request", "reason", err)
		a.metrics.RecordChunk(ctx, "skipped")
		return false
	}
	return true
}

// unit is one synthesized chunk.
type unit struct {
	frame   *synth.AudioFrame
	blob    *synth.EncodedBlob
	backend string
}

// synthesize runs one chunk through the chain and records the outcome.
func (a *assembler) synthesize(ctx context.Context, chunk textchunk.Chunk, voice synth.Voice) (*unit, error) {
	start := time.Now()
	res, backend, err := a.chain.Do(ctx, chunk.Content, voice)
	secs := time.Since(start).Seconds()
	if err != nil {
		a.metrics.RecordSynthesis(ctx, "none", "error", secs)
		a.metrics.RecordChunk(ctx, "skipped")
		return nil, err
	}
	if res == nil || (res.Frame == nil && res.Blob == nil) {
		a.metrics.RecordSynthesis(ctx, backend, "error", secs)
		a.metrics.RecordChunk(ctx, "skipped")
		return nil, errors.New("pipeline: backend returned no audio")
	}
	a.metrics.RecordSynthesis(ctx, backend, "ok", secs)
	a.metrics.RecordChunk(ctx, "ok")
	return &unit{frame: res.Frame, blob: res.Blob, backend: backend}, nil
}

// payload renders a unit as standalone bytes: raw frames become a complete
// WAV file, encoded blobs pass through.
func (u *unit) payload() ([]byte, string, error) {
	if u.frame != nil {
		data, err := wav.Encode(u.frame.Samples, u.frame.SampleRate, u.frame.Channels)
		if err != nil {
			return nil, "", err
		}
		return data, "audio/wav", nil
	}
	return u.blob.Data, u.blob.ContentType, nil
}

// buffered synthesizes all units and returns one complete audio payload.
// Frame-producing backends yield a single WAV holding every unit's samples;
// blob-producing backends yield the concatenated encoded stream.
func (a *assembler) buffered(ctx context.Context, chunks []textchunk.Chunk, voice synth.Voice) *Result {
	first, err := a.synthesize(ctx, chunks[0], voice)
	if err != nil {
		slog.Warn("first unit failed, degrading to text-only output", "error", err)
		return &Result{
			State:    StateTextFallback,
			Degraded: true,
			Message:  "speech synthesis is currently unavailable",
		}
	}

	degraded := first.backend != a.chain.Primary()
	skipped := 0

	if first.frame != nil {
		rate, channels := first.frame.SampleRate, first.frame.Channels
		samples := append([]int16(nil), first.frame.Samples...)

		for i, chunk := range chunks[1:] {
			rest := len(chunks) - 1 - i
			if ctx.Err() != nil {
				skipped += rest
				break
			}
			if !a.admit(ctx) {
				skipped += rest
				break
			}
			u, err := a.synthesize(ctx, chunk, voice)
			if err != nil {
				skipped++
				if abandon(err) {
					skipped += rest - 1
					break
				}
				continue
			}
			if u.frame == nil {
				skipped++
				continue
			}
			// A fallback backend may speak a different format; conform it to
			// the first unit's instead of dropping the audio.
			samples = append(samples, pcm.Conform(
				u.frame.Samples, u.frame.SampleRate, u.frame.Channels, rate, channels)...)
		}

		data, err := wav.Encode(samples, rate, channels)
		if err != nil {
			slog.Error("encoding assembled audio failed", "error", err)
			return &Result{
				State:    StateTextFallback,
				Degraded: true,
				Message:  "speech synthesis is currently unavailable",
			}
		}
		return a.finish(data, "audio/wav", degraded, skipped)
	}

	contentType := first.blob.ContentType
	data := append([]byte(nil), first.blob.Data...)
	for i, chunk := range chunks[1:] {
		rest := len(chunks) - 1 - i
		if ctx.Err() != nil {
			skipped += rest
			break
		}
		if !a.admit(ctx) {
			skipped += rest
			break
		}
		u, err := a.synthesize(ctx, chunk, voice)
		if err != nil {
			skipped++
			if abandon(err) {
				skipped += rest - 1
				break
			}
			continue
		}
		if u.blob == nil || u.blob.ContentType != contentType {
			skipped++
			continue
		}
		data = append(data, u.blob.Data...)
	}
	return a.finish(data, contentType, degraded, skipped)
}

// finish builds the buffered-mode result.
func (a *assembler) finish(data []byte, contentType string, degraded bool, skipped int) *Result {
	res := &Result{
		State:       StateDone,
		Degraded:    degraded || skipped > 0,
		ContentType: contentType,
		Audio:       data,
	}
	if skipped > 0 {
		res.Message = skippedUnitsMessage
	}
	return res
}

// stream synthesizes the first unit up front, then feeds the remaining units
// through a channel as they complete. Each payload on the channel is
// standalone (a complete WAV per unit, or one encoded blob). Units that fail
// mid-stream are skipped; the Degraded flag only reflects what is known
// before delivery starts.
func (a *assembler) stream(ctx context.Context, chunks []textchunk.Chunk, voice synth.Voice) *Result {
	first, err := a.synthesize(ctx, chunks[0], voice)
	if err != nil {
		slog.Warn("first unit failed, degrading to text-only output", "error", err)
		return &Result{
			State:    StateTextFallback,
			Degraded: true,
			Message:  "speech synthesis is currently unavailable",
		}
	}

	firstPayload, contentType, err := first.payload()
	if err != nil {
		slog.Error("encoding first unit failed", "error", err)
		return &Result{
			State:    StateTextFallback,
			Degraded: true,
			Message:  "speech synthesis is currently unavailable",
		}
	}

	ch := make(chan []byte, len(chunks))
	ch <- firstPayload

	go func() {
		defer close(ch)
		for _, chunk := range chunks[1:] {
			if ctx.Err() != nil {
				return
			}
			if !a.admit(ctx) {
				return
			}
			u, err := a.synthesize(ctx, chunk, voice)
			if err != nil {
				if abandon(err) {
					return
				}
				continue
			}
			data, ct, err := u.payload()
			if err != nil || ct != contentType {
				a.metrics.RecordChunk(ctx, "skipped")
				continue
			}
			select {
			case ch <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Result{
		State:       StateStreaming,
		Degraded:    first.backend != a.chain.Primary(),
		ContentType: contentType,
		Stream:      ch,
	}
}
