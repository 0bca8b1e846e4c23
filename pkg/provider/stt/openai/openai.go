// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (Whisper). It implements the stt.Provider interface.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pitchside-ai/pitchside/pkg/audio"
	"github.com/pitchside-ai/pitchside/pkg/provider/stt"
)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	language string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets the ISO-639-1 language hint (e.g., "en"). The engine only
// supports English conversations, so this defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs an OpenAI STT Provider. apiKey must be non-empty; model
// defaults to whisper-1 when empty.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}

	cfg := &config{language: "en"}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Transcribe implements stt.Provider. The raw PCM utterance is wrapped in a
// WAV container because the endpoint accepts file uploads, not raw samples.
func (p *Provider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Empty() {
		return stt.Transcript{}, fmt.Errorf("openai stt: empty utterance: %w", stt.ErrInvalidAudioFormat)
	}

	wav := audio.EncodeWAV(u.PCM, u.Format)

	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:     oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model:    oai.AudioModel(p.model),
		Language: oai.String(p.language),
	})
	if err != nil {
		return stt.Transcript{}, classify(err)
	}

	// The transcription endpoint does not report a confidence score, so the
	// Transcript's Confidence stays nil and downstream treats it as advisory.
	return stt.Transcript{Text: resp.Text}, nil
}

// classify maps an openai-go error onto the stt error taxonomy.
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusBadRequest,
			apiErr.StatusCode == http.StatusUnsupportedMediaType:
			return fmt.Errorf("openai stt: %w: %v", stt.ErrInvalidAudioFormat, err)
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return fmt.Errorf("openai stt: %w: %v", stt.ErrServiceUnavailable, err)
		default:
			return fmt.Errorf("openai stt: transcribe: %w", err)
		}
	}
	// Transport-level failures (DNS, refused connection, timeout) are
	// transient from the engine's point of view.
	return fmt.Errorf("openai stt: %w: %v", stt.ErrServiceUnavailable, err)
}
