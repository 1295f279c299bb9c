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
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	p := cfg.Pipeline
	if p.MinSegments < 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_segments %d must be at least 1", p.MinSegments))
	}
	if p.MaxSegments != 0 && p.MaxSegments < p.MinSegments {
		errs = append(errs, fmt.Errorf("pipeline.max_segments %d is below pipeline.min_segments %d", p.MaxSegments, p.MinSegments))
	}
	if p.MinSegmentSentences < 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_segment_sentences %d must be at least 1", p.MinSegmentSentences))
	}
	if p.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency %d must be at least 1", p.Concurrency))
	}
	if p.ProviderTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("pipeline.provider_timeout_seconds %d must be at least 1", p.ProviderTimeoutSeconds))
	}
	if p.AcceptThreshold < 0 || p.AcceptThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.accept_threshold %.2f is out of range [0, 1]", p.AcceptThreshold))
	}
	if p.RelaxedThreshold < 0 || p.RelaxedThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.relaxed_threshold %.2f is out of range [0, 1]", p.RelaxedThreshold))
	}
	if p.RelaxedThreshold > p.AcceptThreshold {
		errs = append(errs, fmt.Errorf("pipeline.relaxed_threshold %.2f exceeds pipeline.accept_threshold %.2f", p.RelaxedThreshold, p.AcceptThreshold))
	}
	if p.MatchAlpha < 0 || p.MatchAlpha > 1 {
		errs = append(errs, fmt.Errorf("pipeline.match_alpha %.2f is out of range [0, 1]", p.MatchAlpha))
	}
	if p.MinMatchScore < 0 || p.MinMatchScore > 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_match_score %.2f is out of range [0, 1]", p.MinMatchScore))
	}
	if p.MaxTranscriptSources < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_transcript_sources %d must be at least 1", p.MaxTranscriptSources))
	}
	if p.MaxKnowledgeSources < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_knowledge_sources %d must not be negative", p.MaxKnowledgeSources))
	}
	if cfg.Knowledge.RetrievalLimit < 1 {
		errs = append(errs, fmt.Errorf("knowledge.retrieval_limit %d must be at least 1", cfg.Knowledge.RetrievalLimit))
	}

	// Unknown provider names only warn; third-party builds may register more.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	if cfg.Providers.LLMFallback != nil {
		validateProviderName("llm", cfg.Providers.LLMFallback.Name)
		if cfg.Providers.LLMFallback.Name == "" {
			errs = append(errs, errors.New("providers.llm_fallback.name is required when llm_fallback is present"))
		}
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Availability warnings.
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; the pipeline cannot generate steps")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("no embeddings provider configured; grounding will use lexical matching only")
	}
	if cfg.Knowledge.PostgresDSN == "" {
		slog.Warn("knowledge.postgres_dsn is empty; store-backed excerpt retrieval is disabled")
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
