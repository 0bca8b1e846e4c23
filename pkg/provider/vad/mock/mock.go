// Package mock provides a scriptable vad.Detector and vad.Engine for tests.
package mock

import "github.com/pitchside-ai/pitchside/pkg/provider/vad"

// Engine implements vad.Engine and hands out the configured Detector.
type Engine struct {
	// Detector is returned by NewDetector. If nil, a zero-value Detector
	// (classifying every frame as silence) is returned.
	Detector *Detector

	// Err is returned by NewDetector when non-nil.
	Err error
}

// NewDetector implements vad.Engine.
func (e *Engine) NewDetector(vad.Config) (vad.Detector, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Detector != nil {
		return e.Detector, nil
	}
	return &Detector{}, nil
}

// Detector implements vad.Detector with a scripted per-frame verdict list.
type Detector struct {
	// Verdicts is consumed one entry per IsSpeech call. Calls beyond the end
	// of the list return false.
	Verdicts []bool

	// Err is returned by every IsSpeech call when non-nil.
	Err error

	// Calls counts IsSpeech invocations.
	Calls int

	// Resets counts Reset invocations.
	Resets int

	// Closed records whether Close was called.
	Closed bool
}

// IsSpeech implements vad.Detector.
func (d *Detector) IsSpeech([]byte) (bool, error) {
	i := d.Calls
	d.Calls++
	if d.Err != nil {
		return false, d.Err
	}
	if i < len(d.Verdicts) {
		return d.Verdicts[i], nil
	}
	return false, nil
}

// Reset implements vad.Detector.
func (d *Detector) Reset() { d.Resets++ }

// Close implements vad.Detector.
func (d *Detector) Close() error {
	d.Closed = true
	return nil
}
