// Package pipeline turns a user's interview answer into a spoken coach reply.
//
// The flow is: generate the reply text, gate on the memory guard, resolve the
// requested voice to a local asset, split the reply into synthesis units, and
// synthesize them through the backend chain. Every failure past reply
// generation degrades the request instead of failing it: the caller always
// gets the reply text back, with audio when the pipeline could produce it.
//
// A request moves through the states Pending → Chunking → Synthesizing →
// Streaming → Done. Requests that cannot or may not synthesize end in
// StateTextFallback; only a request with no deliverable text ends in
// StateFailed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxprep/voxprep/internal/guard"
	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/internal/voicecache"
	"github.com/voxprep/voxprep/pkg/reply"
	"github.com/voxprep/voxprep/pkg/synth"
	"github.com/voxprep/voxprep/pkg/textchunk"
)

// State is the delivery state a request ended in.
type State string

const (
	StatePending      State = "pending"
	StateChunking     State = "chunking"
	StateSynthesizing State = "synthesizing"
	StateStreaming    State = "streaming"
	StateDone         State = "done"
	StateTextFallback State = "text_fallback"
	StateFailed       State = "failed"
)

// ErrGeneration indicates the reply text could not be produced. There is
// nothing to deliver, so this is the one pipeline error that is fatal for the
// request.
var ErrGeneration = errors.New("pipeline: reply generation failed")

// Synthesizer is the backend chain the pipeline drives. Implemented by
// [resilience.Chain].
type Synthesizer interface {
	// Do synthesizes one unit and reports which backend served it.
	Do(ctx context.Context, text string, voice synth.Voice) (*synth.Result, string, error)

	// Primary is the name of the preferred backend.
	Primary() string
}

// Request is one voice or text request.
type Request struct {
	// Text is the user's message.
	Text string

	// Voice is the requested voice identifier. Empty means the default voice.
	Voice string

	// Stream requests incremental per-unit delivery instead of one buffered
	// audio blob.
	Stream bool
}

// Result is the outcome of a request.
type Result struct {
	// Transcript is the generated reply text. Always set on success.
	Transcript string

	// State is the final delivery state.
	State State

	// Degraded reports that the response is not primary-voice audio: a
	// fallback backend served it, units were skipped, or audio was dropped
	// entirely.
	Degraded bool

	// Message explains a degraded response to the client.
	Message string

	// ContentType is the MIME type of Audio / Stream payloads.
	ContentType string

	// Audio is the complete audio payload in buffered mode.
	Audio []byte

	// Stream yields per-unit audio payloads in streaming mode. Closed when
	// delivery finishes. Nil unless Request.Stream was set.
	Stream <-chan []byte
}

// Config tunes an Orchestrator.
type Config struct {
	// MaxChunkLen is the synthesis unit length limit in runes. 0 uses
	// [textchunk.DefaultMaxLen].
	MaxChunkLen int
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	gen       reply.Generator
	chain     Synthesizer
	cache     *voicecache.Cache
	guard     *guard.Guard
	metrics   *observe.Metrics
	assembler *assembler
	maxLen    int
}

// New creates an Orchestrator. All collaborators are required except metrics,
// which defaults to [observe.DefaultMetrics].
func New(gen reply.Generator, chain Synthesizer, cache *voicecache.Cache, g *guard.Guard, metrics *observe.Metrics, cfg Config) *Orchestrator {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	maxLen := cfg.MaxChunkLen
	if maxLen <= 0 {
		maxLen = textchunk.DefaultMaxLen
	}
	return &Orchestrator{
		gen:       gen,
		chain:     chain,
		cache:     cache,
		guard:     g,
		metrics:   metrics,
		assembler: &assembler{chain: chain, guard: g, metrics: metrics},
		maxLen:    maxLen,
	}
}

// Text runs the text-only operation: generate a reply, no synthesis.
func (o *Orchestrator) Text(ctx context.Context, req Request) (*Result, error) {
	transcript, err := o.generate(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	return &Result{Transcript: transcript, State: StateDone}, nil
}

// Voice runs the full pipeline. The returned error is non-nil only when the
// request produced nothing deliverable; all synthesis trouble is reported
// through the Result's State, Degraded, and Message fields instead.
func (o *Orchestrator) Voice(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	o.metrics.ActiveRequests.Add(ctx, 1)
	defer func() {
		o.metrics.ActiveRequests.Add(ctx, -1)
		o.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	}()

	transcript, err := o.generate(ctx, req.Text)
	if err != nil {
		return nil, err
	}

	if err := o.guard.Check(); err != nil {
		slog.Warn("degrading to text-only output", "reason", err)
		return o.textFallback(ctx, transcript, "service is under memory pressure, audio is temporarily unavailable"), nil
	}

	asset, err := o.cache.Resolve(ctx, req.Voice)
	if err != nil {
		slog.Warn("degrading to text-only output", "reason", err)
		return o.textFallback(ctx, transcript, "the requested voice is unavailable"), nil
	}
	voice := synth.Voice{Key: asset.Key, AssetPath: asset.Path}

	chunks, err := textchunk.Split(transcript, o.maxLen)
	if err != nil {
		return nil, fmt.Errorf("pipeline: chunk transcript: %w", err)
	}

	var res *Result
	if req.Stream {
		res = o.assembler.stream(ctx, chunks, voice)
	} else {
		res = o.assembler.buffered(ctx, chunks, voice)
	}
	res.Transcript = transcript

	switch res.State {
	case StateTextFallback:
		o.metrics.RecordDegraded(ctx, "text_fallback")
	default:
		if res.Degraded {
			o.metrics.RecordDegraded(ctx, "backend_fallback")
		}
	}
	return res, nil
}

// generate produces and normalizes the coach reply.
func (o *Orchestrator) generate(ctx context.Context, userText string) (string, error) {
	start := time.Now()
	text, err := o.gen.Generate(ctx, userText)
	o.metrics.ReplyDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	text = reply.Normalize(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty reply", ErrGeneration)
	}
	return text, nil
}

// textFallback builds the text-only degraded result.
func (o *Orchestrator) textFallback(ctx context.Context, transcript, message string) *Result {
	o.metrics.RecordDegraded(ctx, "text_fallback")
	return &Result{
		Transcript: transcript,
		State:      StateTextFallback,
		Degraded:   true,
		Message:    message,
	}
}
