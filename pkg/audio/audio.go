// Package audio provides the PCM audio types shared by the segment buffer and
// the speech-to-text providers, plus small helpers for working with raw
// 16-bit little-endian PCM: frame energy computation and WAV container
// encoding for providers that accept file uploads rather than raw samples.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// bytesPerSample is the sample width for 16-bit PCM.
const bytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000, 48000.
	SampleRate int

	// Channels is the number of interleaved channels. 1 = mono.
	Channels int
}

// Validate reports whether f describes a usable PCM format.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("audio: channels must be 1 or 2, got %d", f.Channels)
	}
	return nil
}

// BytesPerSecond returns the byte rate of 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// Utterance is one voice-activity-trimmed span of speech, ready for
// transcription. PCM is raw 16-bit little-endian samples in Format.
type Utterance struct {
	// PCM holds the trimmed speech samples. Never empty for a valid utterance.
	PCM []byte

	// Format describes the PCM encoding of the samples.
	Format Format

	// SpeechDuration is the total duration of the voiced intervals.
	SpeechDuration time.Duration
}

// Empty reports whether the utterance carries no samples.
func (u Utterance) Empty() bool {
	return len(u.PCM) == 0
}

// Duration computes the playback length of a PCM byte slice in the given format.
func Duration(pcm []byte, f Format) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(pcm)) * time.Second / time.Duration(bps)
}

// RMS computes the root-mean-square amplitude of a 16-bit PCM frame,
// normalised to [0, 1]. Frames with an odd byte count ignore the trailing
// byte. An empty frame has zero energy.
func RMS(frame []byte) float64 {
	n := len(frame) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*bytesPerSample:]))
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
