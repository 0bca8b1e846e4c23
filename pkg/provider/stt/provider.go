// Package stt defines the Provider interface for speech-to-text backends.
//
// Unlike streaming recognisers, providers here transcribe one bounded,
// VAD-trimmed utterance per call: the conversation engine always finalizes a
// complete spoken answer before asking for text, so the natural contract is a
// single request/response exchange rather than a channel of partials.
//
// Error classification matters to callers: transient transport failures must
// be reported as (or wrapped around) [ErrServiceUnavailable] so the retry
// layer can tell them apart from permanent failures such as
// [ErrInvalidAudioFormat], which are surfaced immediately.
//
// Implementations must be safe for concurrent use; the engine transcribes
// utterances from many independent sessions in parallel.
package stt

import (
	"context"
	"errors"

	"github.com/pitchside-ai/pitchside/pkg/audio"
)

// ErrServiceUnavailable indicates a transient transport or backend failure
// (connection refused, timeout, HTTP 5xx, rate limiting). Safe to retry.
var ErrServiceUnavailable = errors.New("stt: service unavailable")

// ErrInvalidAudioFormat indicates the provider rejected the audio payload
// itself. Retrying the same payload cannot succeed.
var ErrInvalidAudioFormat = errors.New("stt: invalid audio format")

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the provider's overall confidence in [0, 1], when
	// reported. Nil when the backend does not expose a confidence score.
	Confidence *float64
}

// Provider is the abstraction over any bounded-utterance STT backend.
type Provider interface {
	// Transcribe sends one non-empty utterance to the backend and returns its
	// transcript. The utterance is guaranteed non-empty by the segment
	// buffer; implementations may reject empty input with
	// [ErrInvalidAudioFormat] as a defence.
	//
	// Transient failures are wrapped around [ErrServiceUnavailable];
	// unprocessable audio is wrapped around [ErrInvalidAudioFormat]. Context
	// cancellation is propagated promptly.
	Transcribe(ctx context.Context, u audio.Utterance) (Transcript, error)
}
