// Package vad defines the Detector interface for voice activity detection
// backends.
//
// A detector classifies fixed-size PCM frames as speech or silence. The
// segment buffer walks a bounded recording frame by frame and uses the
// detector's verdicts to trim leading and trailing silence and to locate the
// voiced intervals of an utterance.
//
// Detection is synchronous by design: IsSpeech returns immediately, making it
// suitable for the finalize pass over an already-buffered recording. A single
// Detector should not be shared across goroutines unless the implementation
// explicitly documents thread safety.
package vad

import "github.com/pitchside-ai/pitchside/pkg/audio"

// Config holds the parameters for a detector. All thresholds are expressed in
// the backend's native scale; see each backend's documentation for
// recommended starting values.
type Config struct {
	// Format is the PCM format of the frames passed to IsSpeech. Most
	// backends require mono 16-bit PCM at 8, 16, 32, or 48 kHz.
	Format audio.Format

	// FrameSizeMs is the duration of each frame in milliseconds. Backends
	// typically operate on fixed frame sizes (10, 20, or 30 ms) and return an
	// error for frames of any other length.
	FrameSizeMs int

	// EnergyThreshold is the normalised RMS amplitude above which a frame is
	// classified as speech by the energy backend. Range: [0.0, 1.0].
	// Typical: 0.02. Ignored by backends with their own models.
	EnergyThreshold float64

	// Aggressiveness tunes model-based backends (0 = least aggressive about
	// filtering out non-speech, 3 = most aggressive). Ignored by the energy
	// backend.
	Aggressiveness int
}

// FrameBytes returns the expected byte length of one frame under cfg.
func (c Config) FrameBytes() int {
	return c.Format.BytesPerSecond() * c.FrameSizeMs / 1000
}

// Detector classifies individual PCM frames as speech or silence.
//
// Implementations are stateful per recording; call Reset between recordings
// so smoothing state from one utterance does not leak into the next.
type Detector interface {
	// IsSpeech classifies one frame of raw little-endian 16-bit PCM. The
	// frame must match the Format and FrameSizeMs the detector was created
	// with; a wrong-sized frame is an error.
	IsSpeech(frame []byte) (bool, error)

	// Reset clears accumulated detection state without releasing the detector.
	Reset()

	// Close releases backend resources. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for detectors. Implementations must be safe for
// concurrent use: multiple goroutines may call NewDetector simultaneously to
// create independent detectors, one per session.
type Engine interface {
	// NewDetector creates a detector with the given configuration. Returns an
	// error if the configuration is invalid for the backend (unsupported
	// sample rate or frame size, threshold out of range).
	NewDetector(cfg Config) (Detector, error)
}
