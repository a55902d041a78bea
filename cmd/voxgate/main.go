// Command voxgate is the main entry point for the voxgate voice gateway server.
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

	"github.com/voxgate/voxgate/internal/app"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/resilience"
	"github.com/voxgate/voxgate/pkg/provider/embeddings"
	ollamaembed "github.com/voxgate/voxgate/pkg/provider/embeddings/ollama"
	oaembed "github.com/voxgate/voxgate/pkg/provider/embeddings/openai"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/llm/anyllm"
	oallm "github.com/voxgate/voxgate/pkg/provider/llm/openai"
	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/provider/stt/deepgram"
	"github.com/voxgate/voxgate/pkg/provider/stt/whisper"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	"github.com/voxgate/voxgate/pkg/provider/tts/elevenlabs"
	"github.com/voxgate/voxgate/pkg/provider/tts/google"
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
			fmt.Fprintf(os.Stderr, "voxgate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("voxgate starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "voxgate",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with voxgate. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"tts":        {"google", "elevenlabs"},
	"embeddings": {"openai", "ollama"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory turns a config.ProviderEntry into a provider from the real
// implementation packages; cfg supplies the handful of settings that live
// outside the entry, like the shared STT language and the male voice list.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// openai goes through the native SDK client; the other hosted LLMs share
	// the any-llm pattern of optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
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

	// ollama is a local server; BaseURL is the address, no API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if cfg.STT.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.STT.Language))
		}
		if cfg.STT.SampleRate > 0 {
			opts = append(opts, deepgram.WithSampleRate(cfg.STT.SampleRate))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if cfg.STT.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.STT.Language))
		}
		if cfg.STT.SampleRate > 0 {
			opts = append(opts, whisper.WithSampleRate(cfg.STT.SampleRate))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if cfg.STT.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(cfg.STT.Language))
		}
		if cfg.STT.SampleRate > 0 {
			opts = append(opts, whisper.WithNativeSampleRate(cfg.STT.SampleRate))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterTTS("google", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []google.Option
		if len(cfg.TTS.MaleVoices) > 0 {
			opts = append(opts, google.WithMaleVoices(cfg.TTS.MaleVoices))
		}
		return google.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// assembleProvider creates the provider entry names plus its fallback chain.
// chain, when non-nil, wraps the primary in a resilience group and returns
// the wrapped provider together with a function for appending fallbacks.
// ok is false when the entry is empty or names a provider that has no
// registered factory yet; that is a skip, not an error.
func assembleProvider[T any](
	kind string,
	entry config.ProviderEntry,
	create func(config.ProviderEntry) (T, error),
	chain func(primary T) (T, func(name string, p T)),
) (p T, ok bool, err error) {
	var zero T
	if entry.Name == "" {
		return zero, false, nil
	}
	p, err = create(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Debug("provider not yet implemented — skipping", "kind", kind, "name", entry.Name)
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}

	if len(entry.Fallbacks) > 0 && chain != nil {
		wrapped, addFallback := chain(p)
		for _, fb := range entry.Fallbacks {
			fp, err := create(fb)
			if err != nil {
				return zero, false, fmt.Errorf("create %s fallback %q: %w", kind, fb.Name, err)
			}
			addFallback(fb.Name, fp)
			slog.Info("fallback registered", "kind", kind, "name", fb.Name)
		}
		p = wrapped
	}

	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, true, nil
}

// buildProviders instantiates every provider named in cfg and hands them to
// the application as an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	llmP, ok, err := assembleProvider("llm", cfg.Providers.LLM, reg.CreateLLM,
		func(primary llm.Provider) (llm.Provider, func(string, llm.Provider)) {
			group := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
			return group, group.AddFallback
		})
	if err != nil {
		return nil, err
	}
	if ok {
		ps.LLM = llmP
	}

	sttP, ok, err := assembleProvider("stt", cfg.Providers.STT, reg.CreateSTT,
		func(primary stt.Provider) (stt.Provider, func(string, stt.Provider)) {
			group := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, resilience.FallbackConfig{})
			return group, group.AddFallback
		})
	if err != nil {
		return nil, err
	}
	if ok {
		ps.STT = sttP
	}

	ttsP, ok, err := assembleProvider("tts", cfg.Providers.TTS, reg.CreateTTS,
		func(primary tts.Provider) (tts.Provider, func(string, tts.Provider)) {
			group := resilience.NewTTSFallback(primary, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
			return group, group.AddFallback
		})
	if err != nil {
		return nil, err
	}
	if ok {
		ps.TTS = ttsP
	}

	// Embeddings are queried per turn, not streamed, so they go without a
	// fallback chain for now.
	embP, ok, err := assembleProvider("embeddings", cfg.Providers.Embeddings, reg.CreateEmbeddings, nil)
	if err != nil {
		return nil, err
	}
	if ok {
		ps.Embeddings = embP
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxgate — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Session.Redis.Addr != "" {
		printRow("Sessions", "redis @ "+cfg.Session.Redis.Addr)
	} else {
		printRow("Sessions", "in-memory")
	}
	if cfg.Documents.PostgresDSN != "" {
		printRow("Documents", "postgres/pgvector")
	} else {
		printRow("Documents", "(disabled)")
	}
	if len(cfg.Agent.Tables) > 0 {
		printRow("Agent tables", fmt.Sprintf("%d", len(cfg.Agent.Tables)))
	} else {
		printRow("Agent tables", "(disabled)")
	}
	printRow("API keys", fmt.Sprintf("%d", len(cfg.Security.APIKeys)))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

var logLevels = map[config.LogLevel]slog.Level{
	config.LogDebug: slog.LevelDebug,
	config.LogWarn:  slog.LevelWarn,
	config.LogError: slog.LevelError,
}

func newLogger(level config.LogLevel) *slog.Logger {
	lvl, ok := logLevels[level]
	if !ok {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString pulls a string out of a provider Options map; "" when the map is
// nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
