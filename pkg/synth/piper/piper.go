// Package piper provides a local synth.Backend backed by the Piper TTS
// binary. It implements the synth.Backend interface.
//
// The engine keeps one long-lived piper process with the voice model loaded.
// The process is started lazily on the first synthesis call and restarted
// when a request asks for a different voice model. Requests are written as
// JSON lines to the process's stdin; piper renders each request to a WAV file
// in a scratch directory and prints the file path on stdout.
//
// Loading a model is expensive, so the process is normally kept warm between
// requests. Under a memory-constrained policy (WithLowMemoryMode) the engine
// instead tears the process down after every request, trading reload latency
// for a smaller resident footprint.
package piper

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/voxprep/voxprep/pkg/audio/wav"
	"github.com/voxprep/voxprep/pkg/synth"
)

// Compile-time interface assertion.
var _ synth.Backend = (*Engine)(nil)

const defaultTimeout = 30 * time.Second

// newCommand is swapped out in tests to run a helper process instead of the
// real piper binary.
var newCommand = exec.Command

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithTimeout bounds how long one synthesis request may take before the
// engine gives up and restarts the process. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithLowMemoryMode makes the engine release the model process after every
// request instead of keeping it warm. The next request pays the model reload
// cost again.
func WithLowMemoryMode(enabled bool) Option {
	return func(e *Engine) { e.lowMemory = enabled }
}

// Engine implements synth.Backend using a piper subprocess. The underlying
// model is not reentrant, so all synthesis calls are serialized on an
// internal mutex; the engine itself is safe for concurrent use.
type Engine struct {
	binPath   string
	timeout   time.Duration
	lowMemory bool

	// mu guards proc and serializes synthesis. Lazy initialization happens
	// under the same lock so concurrent first-requests cannot start the
	// process twice.
	mu   sync.Mutex
	proc *modelProcess
}

// New creates an Engine that will run the piper binary at binPath. The
// binary is not started until the first synthesis call.
func New(binPath string, opts ...Option) (*Engine, error) {
	if binPath == "" {
		return nil, errors.New("piper: binPath must not be empty")
	}
	e := &Engine{
		binPath: binPath,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name returns "piper".
func (e *Engine) Name() string { return "piper" }

// synthesisRequest is one JSON line written to piper's stdin.
type synthesisRequest struct {
	Text string `json:"text"`
}

// Synthesize renders text using the voice model at voice.AssetPath and
// returns the raw PCM frame decoded from piper's WAV output. The first call
// (or a call with a different voice model) starts or restarts the process;
// start failures are reported as [synth.ErrBackendUnavailable].
func (e *Engine) Synthesize(ctx context.Context, text string, voice synth.Voice) (*synth.Result, error) {
	if voice.AssetPath == "" {
		return nil, fmt.Errorf("%w: piper requires a local voice asset", synth.ErrBackendUnavailable)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureProcess(voice.AssetPath); err != nil {
		return nil, err
	}
	if e.lowMemory {
		defer e.release()
	}

	line, err := json.Marshal(synthesisRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("piper: marshal request: %w", err)
	}
	line = append(line, '\n')
	if _, err := e.proc.stdin.Write(line); err != nil {
		// A dead process cannot serve the next request either.
		e.release()
		return nil, fmt.Errorf("%w: write to piper: %v", synth.ErrBackendUnavailable, err)
	}

	outPath, err := e.readOutputPath(ctx)
	if err != nil {
		e.release()
		return nil, err
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("piper: read output %q: %w", outPath, err)
	}
	_ = os.Remove(outPath)

	h, err := wav.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("piper: parse output: %w", err)
	}
	samples, err := wav.Samples(data)
	if err != nil {
		return nil, fmt.Errorf("piper: decode output: %w", err)
	}

	return &synth.Result{
		Frame: &synth.AudioFrame{
			Samples:    samples,
			SampleRate: h.SampleRate,
			Channels:   h.Channels,
		},
	}, nil
}

// readOutputPath reads one line (the rendered WAV path) from the process's
// stdout, bounded by ctx and the engine timeout. A wedged process is killed
// by the caller via release.
func (e *Engine) readOutputPath(ctx context.Context) (string, error) {
	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	reader := e.proc.stdout
	go func() {
		line, err := reader.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("%w: piper output: %v", synth.ErrBackendUnavailable, res.err)
		}
		return strings.TrimSpace(res.line), nil
	case <-timer.C:
		return "", fmt.Errorf("piper: synthesis timed out after %v", e.timeout)
	case <-ctx.Done():
		return "", fmt.Errorf("piper: %w", ctx.Err())
	}
}

// ensureProcess starts the piper process for modelPath if it is not already
// running with that model. Must be called with e.mu held.
func (e *Engine) ensureProcess(modelPath string) error {
	if e.proc != nil {
		if e.proc.modelPath == modelPath {
			return nil
		}
		// Voice switch: unload the current model first.
		e.release()
	}

	outDir, err := os.MkdirTemp("", "piper-out-*")
	if err != nil {
		return fmt.Errorf("piper: create scratch dir: %w", err)
	}

	cmd := newCommand(e.binPath,
		"--model", modelPath,
		"--json-input",
		"--output_dir", outDir,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = os.RemoveAll(outDir)
		return fmt.Errorf("piper: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = os.RemoveAll(outDir)
		return fmt.Errorf("piper: stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(outDir)
		return fmt.Errorf("%w: start piper: %v", synth.ErrBackendUnavailable, err)
	}

	slog.Info("piper model process started", "model", modelPath)
	e.proc = &modelProcess{
		modelPath: modelPath,
		cmd:       cmd,
		stdin:     stdin,
		stdout:    bufio.NewReader(stdout),
		outDir:    outDir,
	}
	return nil
}

// release tears down the running process and its scratch directory. Must be
// called with e.mu held.
func (e *Engine) release() {
	if e.proc == nil {
		return
	}
	_ = e.proc.stdin.Close()
	_ = e.proc.cmd.Process.Kill()
	_ = e.proc.cmd.Wait()
	_ = os.RemoveAll(e.proc.outDir)
	slog.Debug("piper model process released", "model", e.proc.modelPath)
	e.proc = nil
}

// Close releases the model process. The engine may be reused afterwards; the
// next synthesis call reloads the model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.release()
	return nil
}

// modelProcess is one running piper instance with a loaded voice model.
type modelProcess struct {
	modelPath string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	outDir    string
}
