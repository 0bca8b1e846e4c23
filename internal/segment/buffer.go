// Package segment implements the per-session audio segment buffer: it
// accumulates raw PCM chunks arriving over the transport and, on finalize,
// applies voice activity detection to produce one silence-trimmed utterance
// ready for transcription.
//
// Each Buffer is exclusively owned by its session and is not safe for
// concurrent use; the session runner serialises all access.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/pitchside-ai/pitchside/pkg/audio"
	"github.com/pitchside-ai/pitchside/pkg/provider/vad"
)

// ErrBufferOverflow is returned by Append once the buffered audio exceeds the
// hard ceiling. Protects memory against a transport that never signals
// end-of-utterance.
var ErrBufferOverflow = errors.New("segment: buffer overflow")

// ErrNoSpeechDetected is returned by Finalize when no frame clears the voice
// activity threshold. Reported to the user, not retried.
var ErrNoSpeechDetected = errors.New("segment: no speech detected")

// ErrDurationExceeded is returned by Finalize when the buffered recording is
// longer than the configured maximum utterance duration.
var ErrDurationExceeded = errors.New("segment: utterance duration exceeded")

// overflowFactor sizes the append-time hard ceiling relative to the maximum
// utterance duration. Slack above the cap lets Finalize report the more
// specific ErrDurationExceeded for slightly-too-long recordings instead of
// dropping chunks mid-stream.
const overflowFactor = 2

// Config holds the tuning knobs for a Buffer. All values come from
// configuration; none are hard-coded policy.
type Config struct {
	// Format is the PCM format of incoming chunks.
	Format audio.Format

	// VAD configures the frame classifier.
	VAD vad.Config

	// MaxUtterance is the longest recording accepted by Finalize.
	MaxUtterance time.Duration
}

// Buffer accumulates one session's audio chunks between utterance boundaries.
type Buffer struct {
	cfg      Config
	detector vad.Detector
	pcm      []byte
	maxBytes int
	capBytes int
}

// New creates a Buffer using a detector from the given VAD engine.
func New(engine vad.Engine, cfg Config) (*Buffer, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	if cfg.MaxUtterance <= 0 {
		return nil, fmt.Errorf("segment: max utterance duration must be positive, got %v", cfg.MaxUtterance)
	}
	det, err := engine.NewDetector(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("segment: create detector: %w", err)
	}

	maxBytes := int(cfg.MaxUtterance.Seconds() * float64(cfg.Format.BytesPerSecond()))
	return &Buffer{
		cfg:      cfg,
		detector: det,
		maxBytes: maxBytes,
		capBytes: maxBytes * overflowFactor,
	}, nil
}

// Append adds one chunk of raw PCM to the buffer. Returns
// [ErrBufferOverflow] when the accumulated audio would exceed the hard
// ceiling; the chunk is dropped and the buffer left intact so the session can
// still finalize what it has.
func (b *Buffer) Append(chunk []byte) error {
	if len(b.pcm)+len(chunk) > b.capBytes {
		return fmt.Errorf("%w: %d bytes buffered, ceiling %d", ErrBufferOverflow, len(b.pcm), b.capBytes)
	}
	b.pcm = append(b.pcm, chunk...)
	return nil
}

// Buffered returns the duration of audio currently held.
func (b *Buffer) Buffered() time.Duration {
	return audio.Duration(b.pcm, b.cfg.Format)
}

// Finalize runs voice activity detection over the buffered recording and
// returns the voiced intervals concatenated into a single utterance, with
// leading, trailing, and inter-phrase silence discarded.
//
// The buffer is cleared regardless of outcome: a failed finalize means the
// recording is gone and the user must speak again.
func (b *Buffer) Finalize() (audio.Utterance, error) {
	pcm := b.pcm
	b.pcm = nil
	b.detector.Reset()

	if audio.Duration(pcm, b.cfg.Format) > b.cfg.MaxUtterance {
		return audio.Utterance{}, fmt.Errorf("%w: %v buffered, cap %v",
			ErrDurationExceeded, audio.Duration(pcm, b.cfg.Format), b.cfg.MaxUtterance)
	}

	frameBytes := b.cfg.VAD.FrameBytes()
	if frameBytes <= 0 {
		return audio.Utterance{}, fmt.Errorf("segment: invalid VAD frame size")
	}

	voiced := make([]byte, 0, len(pcm))
	lastVoiced := false
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		frame := pcm[off : off+frameBytes]
		speech, err := b.detector.IsSpeech(frame)
		if err != nil {
			return audio.Utterance{}, fmt.Errorf("segment: vad: %w", err)
		}
		if speech {
			voiced = append(voiced, frame...)
		}
		lastVoiced = speech
	}
	// A trailing partial frame is too short for the detector; keep it when
	// speech ran right up to the end of the recording.
	if rem := len(pcm) % frameBytes; rem != 0 && lastVoiced {
		voiced = append(voiced, pcm[len(pcm)-rem:]...)
	}

	if len(voiced) == 0 {
		return audio.Utterance{}, ErrNoSpeechDetected
	}

	return audio.Utterance{
		PCM:            voiced,
		Format:         b.cfg.Format,
		SpeechDuration: audio.Duration(voiced, b.cfg.Format),
	}, nil
}

// Close releases the buffer's detector and drops any buffered audio.
func (b *Buffer) Close() error {
	b.pcm = nil
	return b.detector.Close()
}
