// Package energy provides a dependency-free VAD backend that classifies
// frames by RMS amplitude against a configurable threshold.
//
// It is deliberately simple: no spectral analysis, no model. A short hangover
// keeps the detector in the speech state for a few frames after the energy
// drops, so natural intra-word dips do not split an utterance. It works well
// for close-mic dictation (the common case for activity logging) and serves
// as the fallback when the WebRTC backend is not compiled in.
package energy

import (
	"fmt"

	"github.com/pitchside-ai/pitchside/pkg/audio"
	"github.com/pitchside-ai/pitchside/pkg/provider/vad"
)

// hangoverFrames is the number of consecutive sub-threshold frames tolerated
// before the detector reports silence again.
const hangoverFrames = 3

// Engine implements vad.Engine for the energy backend.
type Engine struct{}

// New creates an energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewDetector implements vad.Engine.
func (e *Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("energy vad: %w", err)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: frame size must be positive, got %dms", cfg.FrameSizeMs)
	}
	if cfg.EnergyThreshold < 0 || cfg.EnergyThreshold > 1 {
		return nil, fmt.Errorf("energy vad: threshold %v out of range [0,1]", cfg.EnergyThreshold)
	}
	return &detector{cfg: cfg, frameBytes: cfg.FrameBytes()}, nil
}

// detector holds the per-recording hangover state.
type detector struct {
	cfg        vad.Config
	frameBytes int
	quietRun   int
	inSpeech   bool
	closed     bool
}

// IsSpeech implements vad.Detector.
func (d *detector) IsSpeech(frame []byte) (bool, error) {
	if d.closed {
		return false, fmt.Errorf("energy vad: detector is closed")
	}
	if len(frame) != d.frameBytes {
		return false, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), d.frameBytes)
	}

	loud := audio.RMS(frame) >= d.cfg.EnergyThreshold
	switch {
	case loud:
		d.inSpeech = true
		d.quietRun = 0
	case d.inSpeech:
		d.quietRun++
		if d.quietRun > hangoverFrames {
			d.inSpeech = false
		}
	}
	return d.inSpeech, nil
}

// Reset implements vad.Detector.
func (d *detector) Reset() {
	d.quietRun = 0
	d.inSpeech = false
}

// Close implements vad.Detector.
func (d *detector) Close() error {
	d.closed = true
	return nil
}
