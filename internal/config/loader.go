package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// knownReplyProviders lists recognised reply provider names. Unrecognised
// names only warn, so new providers don't hard-fail old binaries.
var knownReplyProviders = []string{"openai", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown YAML fields are rejected so typos surface at startup.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	validateReply(cfg, &errs)
	validateSynthesis(cfg, &errs)

	if cfg.Voices.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("voices.retention_days %d must not be negative", cfg.Voices.RetentionDays))
	}
	if cfg.Voices.JanitorIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("voices.janitor_interval_seconds %d must not be negative", cfg.Voices.JanitorIntervalSeconds))
	}
	for alias, key := range cfg.Voices.Aliases {
		if key == "" {
			errs = append(errs, fmt.Errorf("voices.aliases[%q] maps to an empty key", alias))
		}
	}
	if cfg.Voices.AssetBaseURL == "" {
		slog.Warn("voices.asset_base_url is empty; only pre-installed voice assets will be available")
	}

	if cfg.Guard.MaxRSSMB < 0 {
		errs = append(errs, fmt.Errorf("guard.max_rss_mb %d must not be negative", cfg.Guard.MaxRSSMB))
	}

	return errors.Join(errs...)
}

func validateReply(cfg *Config, errs *[]error) {
	name := cfg.Reply.Provider
	if name == "" {
		return
	}
	known := false
	for _, k := range knownReplyProviders {
		if k == name {
			known = true
			break
		}
	}
	if !known {
		slog.Warn("unknown reply provider name — may be a typo",
			"name", name, "known", knownReplyProviders)
	}
	if name == "openai" && cfg.Reply.Model == "" {
		*errs = append(*errs, errors.New("reply.model is required when reply.provider is openai"))
	}
	if cfg.Reply.TimeoutSeconds < 0 {
		*errs = append(*errs, fmt.Errorf("reply.timeout_seconds %d must not be negative", cfg.Reply.TimeoutSeconds))
	}
}

func validateSynthesis(cfg *Config, errs *[]error) {
	s := &cfg.Synthesis

	if s.Primary != "" && !s.Primary.IsValid() {
		*errs = append(*errs, fmt.Errorf("synthesis.primary %q is invalid; valid values: piper, elevenlabs", s.Primary))
	}
	if s.MaxChunkLen < 0 {
		*errs = append(*errs, fmt.Errorf("synthesis.max_chunk_len %d must not be negative", s.MaxChunkLen))
	}

	piperOn := s.Piper.BinPath != ""
	elevenOn := s.ElevenLabs.APIKey != ""

	switch s.Primary {
	case BackendPiper:
		if !piperOn {
			*errs = append(*errs, errors.New("synthesis.primary is piper but synthesis.piper.bin_path is not set"))
		}
	case BackendElevenLabs:
		if !elevenOn {
			*errs = append(*errs, errors.New("synthesis.primary is elevenlabs but synthesis.elevenlabs.api_key is not set"))
		}
	}
	if !piperOn && !elevenOn {
		*errs = append(*errs, errors.New("no synthesis backend configured; set synthesis.piper.bin_path or synthesis.elevenlabs.api_key"))
	}
	if piperOn != elevenOn {
		slog.Warn("only one synthesis backend configured; requests have no backend fallback")
	}

	if s.Breaker.Threshold < 0 || s.Breaker.CoolOffSeconds < 0 || s.Breaker.Probes < 0 {
		*errs = append(*errs, errors.New("synthesis.breaker values must not be negative"))
	}
}
