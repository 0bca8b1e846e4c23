package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "deepgram"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp"},
	"vad": {"energy", "webrtc"},
}

// webrtcSampleRates lists the sample rates the webrtc VAD engine accepts.
var webrtcSampleRates = []int{8000, 16000, 32000, 48000}

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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-value fields with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Conversation.CompletionThreshold == 0 {
		cfg.Conversation.CompletionThreshold = 0.75
	}
	if cfg.Conversation.MaxTurns == 0 {
		cfg.Conversation.MaxTurns = 6
	}
	if cfg.Conversation.InactivityTimeoutSeconds == 0 {
		cfg.Conversation.InactivityTimeoutSeconds = 600
	}
	if cfg.Conversation.RetryBudget == 0 {
		cfg.Conversation.RetryBudget = 3
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.FrameSizeMs == 0 {
		cfg.Audio.FrameSizeMs = 20
	}
	if cfg.Audio.VADSilenceThreshold == 0 {
		cfg.Audio.VADSilenceThreshold = 0.015
	}
	if cfg.Audio.VADAggressiveness == 0 {
		cfg.Audio.VADAggressiveness = 2
	}
	if cfg.Audio.MaxUtteranceSeconds == 0 {
		cfg.Audio.MaxUtteranceSeconds = 300
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	for i, entry := range cfg.Providers.STT {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt[%d].name is required", i))
			continue
		}
		validateProviderName("stt", entry.Name)
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	if len(cfg.Providers.STT) == 0 {
		slog.Warn("no STT provider configured; utterances cannot be transcribed")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; transcripts cannot be extracted")
	}

	c := cfg.Conversation
	if c.CompletionThreshold < 0 || c.CompletionThreshold > 1 {
		errs = append(errs, fmt.Errorf("conversation.completion_threshold %.2f is out of range [0, 1]", c.CompletionThreshold))
	}
	if c.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("conversation.max_turns %d must be at least 1", c.MaxTurns))
	}
	if c.InactivityTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("conversation.inactivity_timeout_seconds %d must be positive", c.InactivityTimeoutSeconds))
	}
	if c.RetryBudget < 0 {
		errs = append(errs, fmt.Errorf("conversation.retry_budget %d must not be negative", c.RetryBudget))
	}

	a := cfg.Audio
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.Channels != 1 && a.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", a.Channels))
	}
	if a.VADSilenceThreshold < 0 || a.VADSilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.vad_silence_threshold %.3f is out of range [0, 1]", a.VADSilenceThreshold))
	}
	if a.VADAggressiveness < 0 || a.VADAggressiveness > 3 {
		errs = append(errs, fmt.Errorf("audio.vad_aggressiveness %d is out of range [0, 3]", a.VADAggressiveness))
	}
	if a.MaxUtteranceSeconds < 1 {
		errs = append(errs, fmt.Errorf("audio.max_utterance_seconds %d must be positive", a.MaxUtteranceSeconds))
	}
	if cfg.Providers.VAD.Name == "webrtc" {
		if !slices.Contains(webrtcSampleRates, a.SampleRate) {
			errs = append(errs, fmt.Errorf("audio.sample_rate %d is not supported by the webrtc VAD engine; valid values: %v", a.SampleRate, webrtcSampleRates))
		}
		if a.Channels != 1 {
			errs = append(errs, fmt.Errorf("audio.channels %d: the webrtc VAD engine requires mono audio", a.Channels))
		}
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
