// Package server exposes the HTTP API.
//
// Two request endpoints share one JSON body shape:
//
//   - POST /api/text  — coach reply as JSON.
//   - POST /api/voice — coach reply as audio. Successful responses carry the
//     binary audio payload with the reply text in the X-Response-Text header;
//     requests that degraded to text-only output get a JSON envelope with
//     "status": "partial_success" and "degraded": true instead.
//
// Probe routes (/healthz, /readyz) and /metrics are mounted alongside.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxprep/voxprep/internal/health"
	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/internal/pipeline"
)

// maxBodyBytes bounds request bodies; coach exchanges are short text.
const maxBodyBytes = 64 << 10

// Pipeline is the request pipeline the server fronts. Implemented by
// [pipeline.Orchestrator].
type Pipeline interface {
	Voice(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	Text(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Server handles the HTTP API.
type Server struct {
	pipe    Pipeline
	metrics *observe.Metrics
	health  *health.Handler
}

// New creates a Server. health may be nil, in which case bare probes with no
// checkers are mounted.
func New(pipe Pipeline, metrics *observe.Metrics, h *health.Handler) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if h == nil {
		h = health.New()
	}
	return &Server{pipe: pipe, metrics: metrics, health: h}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	r.Get("/", s.handleWelcome)
	r.Post("/api/voice", s.handleVoice)
	r.Post("/api/text", s.handleText)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	s.health.Register(r)

	return r
}

// apiRequest is the JSON body shared by both endpoints.
type apiRequest struct {
	// Text is the user's interview answer or question. Required.
	Text string `json:"text"`

	// Voice selects the synthesis voice. Optional.
	Voice string `json:"voice,omitempty"`

	// Stream requests incremental audio delivery on /api/voice. Optional.
	Stream bool `json:"stream,omitempty"`

	// Format selects the /api/voice response shape: "binary" (default) for a
	// raw audio body, "json" for an envelope with base64 audio. Streaming
	// responses are always binary.
	Format string `json:"format,omitempty"`
}

// apiResponse is the JSON envelope for non-binary responses. Audio carries
// the base64-encoded payload in JSON format mode, with Format naming its MIME
// type.
type apiResponse struct {
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
	Audio    string `json:"audio,omitempty"`
	Format   string `json:"format,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleWelcome serves a small service descriptor at the root path.
func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"service":"voxprep","endpoints":["/api/voice","/api/text","/healthz","/readyz","/metrics"]}` + "\n"))
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	res, err := s.pipe.Text(r.Context(), pipeline.Request{Text: req.Text})
	if err != nil {
		s.pipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Status:   "success",
		Response: res.Transcript,
	})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	res, err := s.pipe.Voice(r.Context(), pipeline.Request{
		Text:   req.Text,
		Voice:  req.Voice,
		Stream: req.Stream,
	})
	if err != nil {
		s.pipelineError(w, r, err)
		return
	}

	if res.State == pipeline.StateTextFallback {
		writeJSON(w, http.StatusOK, apiResponse{
			Status:   "partial_success",
			Response: res.Transcript,
			Degraded: true,
			Message:  res.Message,
		})
		return
	}

	if req.Format == "json" {
		writeJSON(w, http.StatusOK, apiResponse{
			Status:   "success",
			Response: res.Transcript,
			Audio:    base64.StdEncoding.EncodeToString(res.Audio),
			Format:   res.ContentType,
			Degraded: res.Degraded,
			Message:  res.Message,
		})
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("X-Response-Text", headerSafe(res.Transcript))
	// Browser clients need the custom headers exposed across origins.
	w.Header().Set("Access-Control-Expose-Headers", "X-Response-Text, X-Degraded, X-Request-ID")
	if res.Degraded {
		w.Header().Set("X-Degraded", "true")
	}

	if res.Stream != nil {
		s.writeStream(w, r, res)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(res.Audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Audio); err != nil {
		slog.Warn("writing audio response failed",
			"request_id", observe.RequestID(r.Context()), "error", err)
	}
}

// writeStream delivers per-unit payloads as they arrive, flushing after each
// so the client hears audio before the tail units are synthesized.
func (s *Server) writeStream(w http.ResponseWriter, r *http.Request, res *pipeline.Result) {
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for data := range res.Stream {
		if _, err := w.Write(data); err != nil {
			slog.Warn("client dropped mid-stream",
				"request_id", observe.RequestID(r.Context()), "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// decode parses and validates the request body, writing the error response
// itself when the body is unusable.
func (s *Server) decode(w http.ResponseWriter, r *http.Request) (*apiRequest, bool) {
	defer r.Body.Close()

	req := &apiRequest{}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{
			Status: "error",
			Error:  "invalid JSON body: " + err.Error(),
		})
		return nil, false
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{
			Status: "error",
			Error:  "text must not be empty",
		})
		return nil, false
	}
	if req.Format != "" && req.Format != "binary" && req.Format != "json" {
		writeJSON(w, http.StatusBadRequest, apiResponse{
			Status: "error",
			Error:  `format must be "binary" or "json"`,
		})
		return nil, false
	}
	if req.Format == "json" && req.Stream {
		writeJSON(w, http.StatusBadRequest, apiResponse{
			Status: "error",
			Error:  "streaming responses are always binary",
		})
		return nil, false
	}
	return req, true
}

// pipelineError maps pipeline failures to HTTP responses.
func (s *Server) pipelineError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("request failed",
		"request_id", observe.RequestID(r.Context()), "error", err)

	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, pipeline.ErrGeneration):
		status = http.StatusBadGateway
		msg = "reply generation is currently unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		msg = "request timed out"
	}
	writeJSON(w, status, apiResponse{Status: "error", Error: msg})
}

// headerSafe strips characters that cannot appear in an HTTP header value.
func headerSafe(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\r' || c == '\n' {
			c = ' '
		}
		b = append(b, c)
	}
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v apiResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully within the given timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
