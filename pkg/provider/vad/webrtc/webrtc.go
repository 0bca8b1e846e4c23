// Package webrtc provides a VAD backend built on the WebRTC voice activity
// detector via github.com/maxhawkins/go-webrtcvad. It implements the
// vad.Engine interface.
//
// The WebRTC VAD supports 8, 16, 32, and 48 kHz mono 16-bit PCM with frame
// sizes of 10, 20, or 30 ms, and four aggressiveness modes (0–3).
package webrtc

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/pitchside-ai/pitchside/pkg/provider/vad"
)

// Engine implements vad.Engine backed by the WebRTC detector.
type Engine struct{}

// New creates a WebRTC VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewDetector implements vad.Engine.
func (e *Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	switch cfg.Format.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("webrtc vad: unsupported sample rate %d (want 8/16/32/48 kHz)", cfg.Format.SampleRate)
	}
	if cfg.Format.Channels != 1 {
		return nil, fmt.Errorf("webrtc vad: requires mono input, got %d channels", cfg.Format.Channels)
	}
	switch cfg.FrameSizeMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("webrtc vad: unsupported frame size %dms (want 10/20/30)", cfg.FrameSizeMs)
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		return nil, fmt.Errorf("webrtc vad: aggressiveness %d out of range [0,3]", cfg.Aggressiveness)
	}

	inner, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := inner.SetMode(cfg.Aggressiveness); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Aggressiveness, err)
	}

	return &detector{
		inner:      inner,
		sampleRate: cfg.Format.SampleRate,
		frameBytes: cfg.FrameBytes(),
	}, nil
}

// detector wraps one webrtcvad instance for a single recording.
type detector struct {
	inner      *webrtcvad.VAD
	sampleRate int
	frameBytes int
	closed     bool
}

// IsSpeech implements vad.Detector.
func (d *detector) IsSpeech(frame []byte) (bool, error) {
	if d.closed {
		return false, fmt.Errorf("webrtc vad: detector is closed")
	}
	if len(frame) != d.frameBytes {
		return false, fmt.Errorf("webrtc vad: frame is %d bytes, want %d", len(frame), d.frameBytes)
	}
	active, err := d.inner.Process(d.sampleRate, frame)
	if err != nil {
		return false, fmt.Errorf("webrtc vad: process frame: %w", err)
	}
	return active, nil
}

// Reset implements vad.Detector. The WebRTC detector is frame-stateless, so
// there is nothing to clear.
func (d *detector) Reset() {}

// Close implements vad.Detector.
func (d *detector) Close() error {
	d.closed = true
	return nil
}
