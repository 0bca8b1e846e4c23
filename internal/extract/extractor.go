// Package extract implements the extraction adapter: it turns a free-text
// transcript into a typed, schema-constrained partial payload by prompting an
// LLM backend and validating the untyped JSON it returns at this boundary.
//
// Nothing unchecked flows out of this package: unknown fields are dropped,
// constraint-violating values are rejected (the field stays missing), and a
// response that cannot be parsed against the schema at all is reported as
// [ErrMalformedResponse] so the state machine can fall back to preserving the
// raw transcript.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pitchside-ai/pitchside/internal/schema"
	"github.com/pitchside-ai/pitchside/pkg/provider/llm"
)

// ErrMalformedResponse indicates the model's output could not be parsed
// against the schema. Not retryable: the same prompt would likely fail the
// same way, and the turn falls back to raw-transcript preservation instead.
var ErrMalformedResponse = errors.New("extract: malformed response")

// maxCompletionTokens bounds the extraction reply; a delta over four
// schemas' worth of fields fits comfortably.
const maxCompletionTokens = 1024

// Result is the validated outcome of one extraction call.
type Result struct {
	// Delta holds the typed values newly extracted this turn. Fields the
	// transcript did not mention are absent, never defaulted.
	Delta map[string]any

	// Confidences holds the per-field confidence in [0, 1] for every key in
	// Delta.
	Confidences map[string]float64

	// Missing lists the required fields still unfilled after merging Delta
	// over the prior accumulated state, in schema priority order.
	Missing []string

	// Rejected lists fields the model offered but the schema refused
	// (constraint violations). They remain missing rather than being
	// clamped.
	Rejected []string
}

// Extractor drives schema-constrained extraction through an LLM backend.
// Safe for concurrent use across sessions.
type Extractor struct {
	provider llm.Provider
	registry *schema.Registry
}

// New creates an Extractor.
func New(provider llm.Provider, registry *schema.Registry) (*Extractor, error) {
	if provider == nil {
		return nil, fmt.Errorf("extract: provider must not be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("extract: registry must not be nil")
	}
	return &Extractor{provider: provider, registry: registry}, nil
}

// wire mirrors the JSON document the model is instructed to produce.
type wire struct {
	Fields     map[string]any     `json:"fields"`
	Confidence map[string]float64 `json:"confidence"`
}

// Extract runs one extraction pass over transcript, given the session's
// prior accumulated fields so later turns can correct earlier ones.
//
// Transport failures from the backend surface unchanged (wrapped around
// llm.ErrServiceUnavailable when transient) for the retry layer to classify;
// unparseable model output surfaces as [ErrMalformedResponse].
func (e *Extractor) Extract(ctx context.Context, at schema.ActivityType, transcript string, accumulated map[string]any) (Result, error) {
	s, err := e.registry.Lookup(at)
	if err != nil {
		return Result{}, err
	}

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(s, accumulated),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: transcript},
		},
		Temperature: 0,
		MaxTokens:   maxCompletionTokens,
		JSONOnly:    true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("extract: completion: %w", err)
	}

	parsed, err := parseWire(resp.Content)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Delta:       make(map[string]any, len(parsed.Fields)),
		Confidences: make(map[string]float64, len(parsed.Fields)),
	}

	for name, raw := range parsed.Fields {
		if raw == nil {
			continue
		}
		value, err := s.Validate(name, raw)
		switch {
		case errors.Is(err, schema.ErrUnknownField):
			slog.Debug("extraction returned undeclared field, dropping",
				"activity_type", at, "field", name)
			continue
		case errors.Is(err, schema.ErrConstraint):
			slog.Info("extraction value rejected by schema constraint",
				"activity_type", at, "field", name, "value", raw)
			result.Rejected = append(result.Rejected, name)
			continue
		case err != nil:
			return Result{}, fmt.Errorf("extract: validate %q: %w", name, err)
		}

		conf, ok := parsed.Confidence[name]
		if !ok {
			// The model filled a field without scoring it; treat as
			// uncertain rather than failing the whole turn.
			conf = 0.5
		}
		if conf < 0 || conf > 1 {
			return Result{}, fmt.Errorf("%w: confidence %v for field %q outside [0,1]", ErrMalformedResponse, conf, name)
		}

		result.Delta[name] = value
		result.Confidences[name] = conf
	}

	// Missing is computed here, not taken from the model: the schema is the
	// authority on what is still required.
	merged := make(map[string]any, len(accumulated)+len(result.Delta))
	for k, v := range accumulated {
		merged[k] = v
	}
	for k, v := range result.Delta {
		merged[k] = v
	}
	result.Missing = s.MissingRequired(merged)

	return result, nil
}

// parseWire decodes the model's reply, tolerating a Markdown code fence
// around the JSON document.
func parseWire(content string) (wire, error) {
	text := strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(text, "```json"); ok {
		text = after
	} else if after, ok := strings.CutPrefix(text, "```"); ok {
		text = after
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	var parsed wire
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return wire{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Fields == nil {
		return wire{}, fmt.Errorf("%w: missing \"fields\" object", ErrMalformedResponse)
	}
	return parsed, nil
}
