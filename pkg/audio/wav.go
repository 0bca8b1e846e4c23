package audio

import (
	"bytes"
	"encoding/binary"
)

// EncodeWAV wraps raw 16-bit little-endian PCM in a minimal RIFF/WAVE
// container. Providers that accept audio as a file upload (the Whisper API,
// Deepgram's pre-recorded endpoint) need a self-describing container; this
// produces the canonical 44-byte-header PCM WAV they all accept.
func EncodeWAV(pcm []byte, f Format) []byte {
	const headerSize = 44

	byteRate := f.BytesPerSecond()
	blockAlign := f.Channels * bytesPerSample

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16)) // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))  // PCM
	binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bytesPerSample*8)) // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
