// Command pitchside is the voice activity-logging server: it accepts spoken
// activity descriptions over a websocket, runs the turn-based extraction
// conversation, and archives the structured results.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/pitchside-ai/pitchside/internal/config"
	"github.com/pitchside-ai/pitchside/internal/conversation"
	"github.com/pitchside-ai/pitchside/internal/extract"
	"github.com/pitchside-ai/pitchside/internal/observe"
	"github.com/pitchside-ai/pitchside/internal/resilience"
	"github.com/pitchside-ai/pitchside/internal/schema"
	"github.com/pitchside-ai/pitchside/internal/segment"
	"github.com/pitchside-ai/pitchside/internal/server"
	"github.com/pitchside-ai/pitchside/internal/store"
	"github.com/pitchside-ai/pitchside/internal/store/postgres"
	"github.com/pitchside-ai/pitchside/internal/voicecmd"
	"github.com/pitchside-ai/pitchside/pkg/audio"
	"github.com/pitchside-ai/pitchside/pkg/provider/llm"
	"github.com/pitchside-ai/pitchside/pkg/provider/llm/anyllm"
	llmopenai "github.com/pitchside-ai/pitchside/pkg/provider/llm/openai"
	"github.com/pitchside-ai/pitchside/pkg/provider/stt"
	"github.com/pitchside-ai/pitchside/pkg/provider/stt/deepgram"
	sttopenai "github.com/pitchside-ai/pitchside/pkg/provider/stt/openai"
	"github.com/pitchside-ai/pitchside/pkg/provider/vad"
	"github.com/pitchside-ai/pitchside/pkg/provider/vad/energy"
	"github.com/pitchside-ai/pitchside/pkg/provider/vad/webrtc"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pitchside: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pitchside: %v\n", err)
		}
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("pitchside starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "pitchside",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// Activity schemas: built-ins unless a schema file overrides them.
	var schemas *schema.Registry
	if cfg.SchemaFile != "" {
		schemas, err = schema.LoadFile(cfg.SchemaFile)
		if err != nil {
			slog.Error("failed to load schema file", "path", cfg.SchemaFile, "err", err)
			return 1
		}
		slog.Info("activity schemas loaded", "path", cfg.SchemaFile)
	} else {
		schemas = schema.Builtin()
	}

	transcriber, err := buildTranscriber(cfg, reg)
	if err != nil {
		slog.Error("failed to build STT chain", "err", err)
		return 1
	}

	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "name", cfg.Providers.LLM.Name, "err", err)
		return 1
	}
	extractor, err := extract.New(llmProvider, schemas)
	if err != nil {
		slog.Error("failed to build extractor", "err", err)
		return 1
	}

	vadEngine, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		slog.Error("failed to create vad engine", "name", cfg.Providers.VAD.Name, "err", err)
		return 1
	}

	// Storage: postgres when a DSN is configured, in-memory otherwise.
	var (
		st       store.Store
		checkers []server.Checker
	)
	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		st = pg
		checkers = append(checkers, server.Checker{Name: "database", Check: pg.Ping})
		slog.Info("session store ready", "backend", "postgres")
	} else {
		st = store.NewMemStore()
		slog.Warn("no postgres_dsn configured, sessions are stored in memory only")
	}

	srv, err := server.New(server.Deps{
		Engine: conversation.Deps{
			Schemas:       schemas,
			Transcriber:   transcriber,
			Extractor:     extractor,
			CancelPhrases: voicecmd.New(),
			NewBuffer:     bufferFactory(cfg, vadEngine),
			Config: conversation.Config{
				CompletionThreshold: cfg.Conversation.CompletionThreshold,
				MaxTurns:            cfg.Conversation.MaxTurns,
				InactivityTimeout:   time.Duration(cfg.Conversation.InactivityTimeoutSeconds) * time.Second,
				RetryBudget:         cfg.Conversation.RetryBudget,
			},
		},
		Store:    st,
		Checkers: checkers,
	})
	if err != nil {
		slog.Error("failed to build server", "err", err)
		return 1
	}

	// Hot-reload the log level on config file changes.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(d.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.ConversationChanged || d.SchemaFileChanged {
			slog.Warn("conversation or schema settings changed, restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	var certFile, keyFile string
	if cfg.Server.TLS != nil {
		certFile, keyFile = cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
	}

	slog.Info("server ready", "addr", cfg.Server.ListenAddr)
	if err := srv.Run(ctx, cfg.Server.ListenAddr, certFile, keyFile); err != nil &&
		!errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// anyLLMProviders lists the LLM backends served through the any-llm bridge.
// "openai" goes through the native client instead.
var anyLLMProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyLLMProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) {
		return webrtc.New(), nil
	})
}

// buildTranscriber creates the STT fallback chain from the configured
// provider list. The first entry is primary; the rest are fallbacks in order.
func buildTranscriber(cfg *config.Config, reg *config.Registry) (*resilience.FallbackGroup[stt.Provider], error) {
	if len(cfg.Providers.STT) == 0 {
		return nil, errors.New("at least one STT provider is required")
	}

	primary, err := reg.CreateSTT(cfg.Providers.STT[0])
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT[0].Name, err)
	}
	group := resilience.NewFallbackGroup[stt.Provider](cfg.Providers.STT[0].Name, primary, resilience.FallbackConfig{})
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT[0].Name, "role", "primary")

	for _, entry := range cfg.Providers.STT[1:] {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		group.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "role", "fallback")
	}
	return group, nil
}

// bufferFactory returns the per-session utterance buffer constructor derived
// from the audio settings.
func bufferFactory(cfg *config.Config, engine vad.Engine) func() (*segment.Buffer, error) {
	format := audio.Format{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	}
	segCfg := segment.Config{
		Format: format,
		VAD: vad.Config{
			Format:          format,
			FrameSizeMs:     cfg.Audio.FrameSizeMs,
			EnergyThreshold: cfg.Audio.VADSilenceThreshold,
			Aggressiveness:  cfg.Audio.VADAggressiveness,
		},
		MaxUtterance: time.Duration(cfg.Audio.MaxUtteranceSeconds) * time.Second,
	}
	return func() (*segment.Buffer, error) {
		return segment.New(engine, segCfg)
	}
}

// optString reads a string value from a provider's free-form options map.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}
