package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"tts":        {"google", "elevenlabs"},
	"embeddings": {"openai", "ollama"},
}

// Default values applied by [ApplyDefaults] for fields left unset.
const (
	DefaultListenAddr     = ":8080"
	DefaultSessionTTL     = 24 * time.Hour
	DefaultHistoryCap     = 5
	DefaultMaxAudioBytes  = 10 << 20
	DefaultSTTLanguage    = "en-US"
	DefaultSTTSampleRate  = 48000
	DefaultSTTQueueSize   = 200
	DefaultReplayCap      = 10 << 20
	DefaultTranscriptWait = 5 * time.Second
	DefaultTTSSampleRate  = 24000
	DefaultSpeakingRate   = 1.1
	DefaultTTSWorkers     = 3
	DefaultGapGrace       = 100 * time.Millisecond
	DefaultEmbeddingDims  = 1536
	DefaultTopK           = 8
	DefaultAgentMaxLoops  = 10
)

// DefaultMaleVoices is the default allowlist of voices synthesised with a
// male SSML gender.
var DefaultMaleVoices = []string{
	"en-US-Neural2-A",
	"en-US-Neural2-D",
	"en-US-Neural2-I",
	"en-US-Neural2-J",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = Duration(DefaultSessionTTL)
	}
	if cfg.Session.HistoryCap == 0 {
		cfg.Session.HistoryCap = DefaultHistoryCap
	}
	if cfg.Session.MaxAudioBytes == 0 {
		cfg.Session.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if cfg.STT.Language == "" {
		cfg.STT.Language = DefaultSTTLanguage
	}
	if cfg.STT.Encoding == "" {
		cfg.STT.Encoding = "linear16"
	}
	if cfg.STT.SampleRate == 0 {
		cfg.STT.SampleRate = DefaultSTTSampleRate
	}
	if cfg.STT.QueueSize == 0 {
		cfg.STT.QueueSize = DefaultSTTQueueSize
	}
	if cfg.STT.ReplayCapBytes == 0 {
		cfg.STT.ReplayCapBytes = DefaultReplayCap
	}
	if cfg.STT.TranscriptWait == 0 {
		cfg.STT.TranscriptWait = Duration(DefaultTranscriptWait)
	}
	if cfg.TTS.SampleRate == 0 {
		cfg.TTS.SampleRate = DefaultTTSSampleRate
	}
	if cfg.TTS.SpeakingRate == 0 {
		cfg.TTS.SpeakingRate = DefaultSpeakingRate
	}
	if cfg.TTS.Workers == 0 {
		cfg.TTS.Workers = DefaultTTSWorkers
	}
	if cfg.TTS.MaleVoices == nil {
		cfg.TTS.MaleVoices = slices.Clone(DefaultMaleVoices)
	}
	if cfg.TTS.GapGrace == 0 {
		cfg.TTS.GapGrace = Duration(DefaultGapGrace)
	}
	if cfg.Documents.EmbeddingDimensions == 0 {
		cfg.Documents.EmbeddingDimensions = DefaultEmbeddingDims
	}
	if cfg.Documents.TopK == 0 {
		cfg.Documents.TopK = DefaultTopK
	}
	if cfg.Agent.MaxLoops == 0 {
		cfg.Agent.MaxLoops = DefaultAgentMaxLoops
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// STT
	if cfg.STT.Encoding != "" && !cfg.STT.Encoding.IsValid() {
		errs = append(errs, fmt.Errorf("stt.encoding %q is invalid; valid values: linear16, webm_opus, ogg_opus", cfg.STT.Encoding))
	}
	if cfg.STT.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("stt.queue_size %d must not be negative", cfg.STT.QueueSize))
	}

	// TTS
	if cfg.TTS.SpeakingRate < 0 {
		errs = append(errs, fmt.Errorf("tts.speaking_rate %.2f must not be negative", cfg.TTS.SpeakingRate))
	}
	if cfg.TTS.Workers < 1 {
		errs = append(errs, fmt.Errorf("tts.workers %d must be at least 1", cfg.TTS.Workers))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for _, fb := range cfg.Providers.LLM.Fallbacks {
		validateProviderName("llm", fb.Name)
	}
	for _, fb := range cfg.Providers.STT.Fallbacks {
		validateProviderName("stt", fb.Name)
	}
	for _, fb := range cfg.Providers.TTS.Fallbacks {
		validateProviderName("tts", fb.Name)
	}

	// Document mode needs an embeddings provider to embed queries.
	if cfg.Documents.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("documents.postgres_dsn is set but providers.embeddings is not configured; document mode will be unavailable")
	}

	// Agent
	if cfg.Agent.MaxLoops < 1 {
		errs = append(errs, fmt.Errorf("agent.max_loops %d must be at least 1", cfg.Agent.MaxLoops))
	}
	tablesSeen := make(map[string]int, len(cfg.Agent.Tables))
	for i, table := range cfg.Agent.Tables {
		if table == "" {
			errs = append(errs, fmt.Errorf("agent.tables[%d] must not be empty", i))
			continue
		}
		if prev, ok := tablesSeen[table]; ok {
			errs = append(errs, fmt.Errorf("agent.tables[%d] %q is a duplicate of agent.tables[%d]", i, table, prev))
		}
		tablesSeen[table] = i
	}

	// Security
	keysSeen := make(map[string]int, len(cfg.Security.APIKeys))
	for i, entry := range cfg.Security.APIKeys {
		if entry.Key == "" {
			errs = append(errs, fmt.Errorf("security.api_keys[%d].key must not be empty", i))
			continue
		}
		if prev, ok := keysSeen[entry.Key]; ok {
			errs = append(errs, fmt.Errorf("security.api_keys[%d] duplicates security.api_keys[%d]", i, prev))
		}
		keysSeen[entry.Key] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
