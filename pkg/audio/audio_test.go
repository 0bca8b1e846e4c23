package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/pitchside-ai/pitchside/pkg/audio"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

func TestDuration(t *testing.T) {
	t.Parallel()

	// One second of 16 kHz mono 16-bit PCM is 32000 bytes.
	if got := audio.Duration(make([]byte, 32000), mono16k); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
	if got := audio.Duration(nil, mono16k); got != 0 {
		t.Errorf("Duration(nil) = %v, want 0", got)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(make([]byte, 640)); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}

	// Full-scale square wave has RMS ~1.0.
	loud := make([]byte, 640)
	for i := 0; i < len(loud); i += 2 {
		binary.LittleEndian.PutUint16(loud[i:], uint16(int16(32767)))
	}
	if got := audio.RMS(loud); got < 0.99 || got > 1.0 {
		t.Errorf("RMS(full scale) = %v, want ~1.0", got)
	}

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 1000)
	wav := audio.EncodeWAV(pcm, mono16k)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 16000 {
		t.Errorf("sample rate field = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:]); got != 32000 {
		t.Errorf("byte rate field = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:]); got != uint32(len(pcm)) {
		t.Errorf("data chunk size = %d, want %d", got, len(pcm))
	}
}

func TestFormat_Validate(t *testing.T) {
	t.Parallel()

	if err := mono16k.Validate(); err != nil {
		t.Errorf("valid format rejected: %v", err)
	}
	if err := (audio.Format{SampleRate: 0, Channels: 1}).Validate(); err == nil {
		t.Error("zero sample rate accepted")
	}
	if err := (audio.Format{SampleRate: 16000, Channels: 3}).Validate(); err == nil {
		t.Error("3-channel format accepted")
	}
}
