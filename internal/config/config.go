// Package config provides the configuration schema, loader, and file watcher
// for the voxprep server.
package config

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// BackendName selects a synthesis backend.
type BackendName string

const (
	// BackendPiper runs the local piper engine.
	BackendPiper BackendName = "piper"

	// BackendElevenLabs calls the ElevenLabs REST API.
	BackendElevenLabs BackendName = "elevenlabs"
)

// IsValid reports whether b is a recognised backend name.
func (b BackendName) IsValid() bool {
	return b == BackendPiper || b == BackendElevenLabs
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reply     ReplyConfig     `yaml:"reply"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Voices    VoicesConfig    `yaml:"voices"`
	Guard     GuardConfig     `yaml:"guard"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ReplyConfig configures the language-generation service that produces coach
// replies.
type ReplyConfig struct {
	// Provider selects the generator implementation ("openai" or "mock").
	Provider string `yaml:"provider"`

	// APIKey authenticates with the provider. May also come from the
	// environment (OPENAI_API_KEY); the config value wins when both are set.
	APIKey string `yaml:"api_key"`

	// Model is the provider-specific model name (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// TimeoutSeconds bounds one generation call. 0 uses the provider default.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// SynthesisConfig configures the speech-synthesis backends and how the
// pipeline drives them.
type SynthesisConfig struct {
	// Primary selects the preferred backend. The other configured backend, if
	// any, becomes the fallback.
	Primary BackendName `yaml:"primary"`

	// MaxChunkLen is the synthesis unit length limit in runes. 0 uses the
	// built-in default.
	MaxChunkLen int `yaml:"max_chunk_len"`

	// LowMemory releases the local engine's loaded model after each request.
	LowMemory bool `yaml:"low_memory"`

	Piper      PiperConfig      `yaml:"piper"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Breaker    BreakerConfig    `yaml:"breaker"`
}

// PiperConfig configures the local synthesis engine.
type PiperConfig struct {
	// BinPath is the piper executable. Empty disables the backend.
	BinPath string `yaml:"bin_path"`

	// TimeoutSeconds bounds one chunk synthesis. 0 uses the engine default.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ElevenLabsConfig configures the remote synthesis backend.
type ElevenLabsConfig struct {
	// APIKey authenticates with ElevenLabs. Empty disables the backend.
	APIKey string `yaml:"api_key"`

	// Model is the ElevenLabs model ID (e.g. "eleven_multilingual_v2").
	Model string `yaml:"model"`

	// OutputFormat selects the encoded audio format (e.g. "mp3_44100_128").
	OutputFormat string `yaml:"output_format"`

	// BaseURL overrides the default API endpoint. Useful for tests.
	BaseURL string `yaml:"base_url"`

	// TimeoutSeconds bounds one synthesis call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// BreakerConfig tunes the per-backend circuit breakers.
type BreakerConfig struct {
	// Threshold is how many consecutive failures open a breaker.
	Threshold int `yaml:"threshold"`

	// CoolOffSeconds is how long an open breaker waits before probing.
	CoolOffSeconds int `yaml:"cool_off_seconds"`

	// Probes is the half-open probe budget.
	Probes int `yaml:"probes"`
}

// VoicesConfig configures the on-disk voice asset cache.
type VoicesConfig struct {
	// Dir is the cache directory for downloaded voice model assets.
	Dir string `yaml:"dir"`

	// Default is the canonical key used for unknown voice identifiers.
	Default string `yaml:"default"`

	// AssetBaseURL is the remote store assets are downloaded from.
	AssetBaseURL string `yaml:"asset_base_url"`

	// Aliases maps user-facing voice names to canonical keys.
	Aliases map[string]string `yaml:"aliases"`

	// Essential lists canonical keys never evicted from the cache.
	Essential []string `yaml:"essential"`

	// RetentionDays is how long unused non-essential assets are kept.
	RetentionDays int `yaml:"retention_days"`

	// JanitorIntervalSeconds is how often the background eviction pass runs.
	// 0 uses the built-in default.
	JanitorIntervalSeconds int `yaml:"janitor_interval_seconds"`
}

// GuardConfig configures the memory guard that degrades requests under
// pressure.
type GuardConfig struct {
	// MaxRSSMB is the resident-memory ceiling in MiB. 0 disables the guard.
	MaxRSSMB int `yaml:"max_rss_mb"`
}
