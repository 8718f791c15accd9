// Command voxprep is the interview-coach speech server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxprep/voxprep/internal/config"
	"github.com/voxprep/voxprep/internal/guard"
	"github.com/voxprep/voxprep/internal/health"
	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/internal/pipeline"
	"github.com/voxprep/voxprep/internal/resilience"
	"github.com/voxprep/voxprep/internal/server"
	"github.com/voxprep/voxprep/internal/voicecache"
	"github.com/voxprep/voxprep/pkg/reply"
	replymock "github.com/voxprep/voxprep/pkg/reply/mock"
	replyopenai "github.com/voxprep/voxprep/pkg/reply/openai"
	"github.com/voxprep/voxprep/pkg/synth"
	"github.com/voxprep/voxprep/pkg/synth/elevenlabs"
	"github.com/voxprep/voxprep/pkg/synth/piper"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxprep: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxprep: %v\n", err)
		}
		return 1
	}
	applyEnvOverrides(cfg)

	logLevel := &slog.LevelVar{}
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("voxprep starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxprep"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	cache, err := voicecache.New(voicecache.Config{
		Dir:        cfg.Voices.Dir,
		DefaultKey: cfg.Voices.Default,
		BaseURL:    cfg.Voices.AssetBaseURL,
		Aliases:    cfg.Voices.Aliases,
		Essential:  cfg.Voices.Essential,
		Retention:  time.Duration(cfg.Voices.RetentionDays) * 24 * time.Hour,
		Metrics:    metrics,
	})
	if err != nil {
		slog.Error("failed to initialise voice cache", "err", err)
		return 1
	}
	cache.StartJanitor(ctx, time.Duration(cfg.Voices.JanitorIntervalSeconds)*time.Second)

	chain, err := buildChain(cfg)
	if err != nil {
		slog.Error("failed to build synthesis backends", "err", err)
		return 1
	}
	defer func() {
		if err := chain.Close(); err != nil {
			slog.Warn("backend close error", "err", err)
		}
	}()

	gen, err := buildGenerator(cfg)
	if err != nil {
		slog.Error("failed to build reply generator", "err", err)
		return 1
	}

	memGuard := guard.New(uint64(cfg.Guard.MaxRSSMB) << 20)

	orch := pipeline.New(gen, chain, cache, memGuard, metrics, pipeline.Config{
		MaxChunkLen: cfg.Synthesis.MaxChunkLen,
	})

	healthz := health.New(
		health.DirWritable("voice_cache", cache.Dir()),
		health.Checker{
			Name: "synthesis",
			Check: func(context.Context) error {
				if !chain.Available() {
					return errors.New("all synthesis backends are circuit-open")
				}
				return nil
			},
		},
	)

	// Hot-reload log level on config edits; everything else needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if old.Server.LogLevel != new.Server.LogLevel {
			logLevel.Set(slogLevel(new.Server.LogLevel))
			slog.Info("log level changed", "level", new.Server.LogLevel)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	srv := server.New(orch, metrics, healthz)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	var certFile, keyFile string
	if cfg.Server.TLS != nil {
		certFile, keyFile = cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
	}

	slog.Info("server ready", "addr", addr)
	if err := srv.ListenAndServe(ctx, addr, certFile, keyFile, shutdownTimeout); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyEnvOverrides fills credentials from the environment when the config
// file leaves them empty.
func applyEnvOverrides(cfg *config.Config) {
	if cfg.Reply.APIKey == "" {
		cfg.Reply.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Synthesis.ElevenLabs.APIKey == "" {
		cfg.Synthesis.ElevenLabs.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	}
}

// buildChain constructs the configured backends with the primary first.
func buildChain(cfg *config.Config) (*resilience.Chain, error) {
	var local, remote synth.Backend

	if bin := cfg.Synthesis.Piper.BinPath; bin != "" {
		opts := []piper.Option{piper.WithLowMemoryMode(cfg.Synthesis.LowMemory)}
		if s := cfg.Synthesis.Piper.TimeoutSeconds; s > 0 {
			opts = append(opts, piper.WithTimeout(time.Duration(s)*time.Second))
		}
		engine, err := piper.New(bin, opts...)
		if err != nil {
			return nil, fmt.Errorf("piper: %w", err)
		}
		local = engine
	}

	if key := cfg.Synthesis.ElevenLabs.APIKey; key != "" {
		var opts []elevenlabs.Option
		if m := cfg.Synthesis.ElevenLabs.Model; m != "" {
			opts = append(opts, elevenlabs.WithModel(m))
		}
		if f := cfg.Synthesis.ElevenLabs.OutputFormat; f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if u := cfg.Synthesis.ElevenLabs.BaseURL; u != "" {
			opts = append(opts, elevenlabs.WithBaseURL(u))
		}
		if s := cfg.Synthesis.ElevenLabs.TimeoutSeconds; s > 0 {
			opts = append(opts, elevenlabs.WithTimeout(time.Duration(s)*time.Second))
		}
		client, err := elevenlabs.New(key, opts...)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: %w", err)
		}
		remote = client
	}

	ordered := []synth.Backend{local, remote}
	if cfg.Synthesis.Primary == config.BackendElevenLabs {
		ordered = []synth.Backend{remote, local}
	}

	breakerCfg := resilience.BreakerConfig{
		Threshold: cfg.Synthesis.Breaker.Threshold,
		CoolOff:   time.Duration(cfg.Synthesis.Breaker.CoolOffSeconds) * time.Second,
		Probes:    cfg.Synthesis.Breaker.Probes,
	}

	var chain *resilience.Chain
	for _, b := range ordered {
		if b == nil {
			continue
		}
		if chain == nil {
			chain = resilience.NewChain(b, breakerCfg)
		} else {
			chain.Append(b)
		}
		slog.Info("synthesis backend registered", "backend", b.Name())
	}
	if chain == nil {
		return nil, errors.New("no synthesis backend configured")
	}
	return chain, nil
}

// buildGenerator constructs the reply generator named in the config. An
// unset provider falls back to the echoing mock, which keeps the server
// usable for synthesis testing without credentials.
func buildGenerator(cfg *config.Config) (reply.Generator, error) {
	switch cfg.Reply.Provider {
	case "openai":
		var opts []replyopenai.Option
		if u := cfg.Reply.BaseURL; u != "" {
			opts = append(opts, replyopenai.WithBaseURL(u))
		}
		if s := cfg.Reply.TimeoutSeconds; s > 0 {
			opts = append(opts, replyopenai.WithTimeout(time.Duration(s)*time.Second))
		}
		return replyopenai.New(cfg.Reply.APIKey, cfg.Reply.Model, opts...)
	case "mock", "":
		slog.Warn("reply provider not configured; echoing user text")
		return &replymock.Generator{}, nil
	default:
		return nil, fmt.Errorf("unknown reply provider %q", cfg.Reply.Provider)
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
