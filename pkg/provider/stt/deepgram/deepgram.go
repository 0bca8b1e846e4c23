// Package deepgram provides a Deepgram-backed STT provider using the
// pre-recorded transcription REST API. It implements the stt.Provider
// interface.
//
// The engine transcribes complete, bounded utterances, so the pre-recorded
// endpoint is a better fit than Deepgram's streaming WebSocket API: one POST
// per utterance, one authoritative transcript (with confidence) back.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pitchside-ai/pitchside/pkg/audio"
	"github.com/pitchside-ai/pitchside/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the API endpoint. Used in tests to point the
// provider at a local httptest server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// Provider implements stt.Provider backed by the Deepgram pre-recorded API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// response mirrors the subset of the Deepgram pre-recorded response the
// provider consumes.
type response struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Empty() {
		return stt.Transcript{}, fmt.Errorf("deepgram: empty utterance: %w", stt.ErrInvalidAudioFormat)
	}

	q := url.Values{}
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("smart_format", "true")

	wav := audio.EncodeWAV(u.PCM, u.Format)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"?"+q.Encode(), bytes.NewReader(wav))
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w: %v", stt.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnsupportedMediaType:
		return stt.Transcript{}, fmt.Errorf("deepgram: status %d: %w", resp.StatusCode, stt.ErrInvalidAudioFormat)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return stt.Transcript{}, fmt.Errorf("deepgram: status %d: %w", resp.StatusCode, stt.ErrServiceUnavailable)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Transcript{}, fmt.Errorf("deepgram: status %d: %s", resp.StatusCode, body)
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return stt.Transcript{}, fmt.Errorf("deepgram: response contains no alternatives")
	}

	alt := parsed.Results.Channels[0].Alternatives[0]
	conf := alt.Confidence
	return stt.Transcript{Text: alt.Transcript, Confidence: &conf}, nil
}
