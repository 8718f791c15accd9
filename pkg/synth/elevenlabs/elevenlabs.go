// Package elevenlabs provides a remote synth.Backend backed by the
// ElevenLabs REST API. It implements the synth.Backend interface.
//
// Unlike local engines, the provider returns pre-encoded audio blobs with a
// known content type rather than raw PCM. Non-success responses are reported
// as a structured [synth.RemoteAPIError] carrying the provider's own status
// and message, so callers can degrade gracefully instead of aborting.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxprep/voxprep/pkg/synth"
)

// Compile-time interface assertion.
var _ synth.Backend = (*Client)(nil)

const (
	defaultBaseURL      = "https://api.elevenlabs.io"
	defaultModel        = "eleven_multilingual_v2"
	defaultOutputFormat = "mp3_44100_128"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM" // Rachel
	defaultTimeout      = 30 * time.Second
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_turbo_v2").
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithOutputFormat sets the requested audio output format (e.g.,
// "mp3_44100_128", "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(c *Client) { c.outputFormat = format }
}

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s. A timed
// out request surfaces as an ordinary synthesis error.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// Client implements synth.Backend against the ElevenLabs text-to-speech
// endpoint. It is safe for concurrent use.
type Client struct {
	apiKey       string
	model        string
	outputFormat string
	baseURL      string
	httpClient   *http.Client
}

// New creates an ElevenLabs Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	c := &Client{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFormat,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Name returns "elevenlabs".
func (c *Client) Name() string { return "elevenlabs" }

// ttsRequest is the JSON body for POST /v1/text-to-speech/{voice}.
type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// apiError mirrors the ElevenLabs error payload.
type apiError struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// Synthesize issues one synchronous synthesis request and returns the
// provider's encoded audio blob. Non-2xx responses return a
// *synth.RemoteAPIError; the call never panics on provider failures.
func (c *Client) Synthesize(ctx context.Context, text string, voice synth.Voice) (*synth.Result, error) {
	voiceID := voice.ProviderID
	if voiceID == "" {
		voiceID = defaultVoiceID
	}

	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: c.model,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", c.baseURL, voiceID, c.outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: POST text-to-speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.remoteError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = formatContentType(c.outputFormat)
	}
	return &synth.Result{
		Blob: &synth.EncodedBlob{
			Data:        data,
			ContentType: contentType,
		},
	}, nil
}

// remoteError decodes the provider's error payload best-effort and wraps it
// in a structured RemoteAPIError.
func (c *Client) remoteError(resp *http.Response) error {
	msg := http.StatusText(resp.StatusCode)
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(raw) > 0 {
		var payload apiError
		if json.Unmarshal(raw, &payload) == nil && payload.Detail.Message != "" {
			msg = payload.Detail.Message
		} else {
			msg = strings.TrimSpace(string(raw))
		}
	}
	return &synth.RemoteAPIError{
		Provider: "elevenlabs",
		Status:   resp.StatusCode,
		Message:  msg,
	}
}

// formatContentType maps an ElevenLabs output format name to a MIME type.
func formatContentType(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3_"):
		return "audio/mpeg"
	case strings.HasPrefix(format, "pcm_"):
		return "audio/pcm"
	case strings.HasPrefix(format, "ulaw_"):
		return "audio/basic"
	default:
		return "application/octet-stream"
	}
}

// Close is a no-op; the client holds no persistent resources.
func (c *Client) Close() error { return nil }
