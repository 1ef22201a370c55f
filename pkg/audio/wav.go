// Package audio wraps raw PCM into the container formats the fallback
// batch providers need to hand to third-party HTTP APIs.
package audio

import (
	"bytes"
	"encoding/binary"
)

// Format describes the PCM layout a WAV header should advertise.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// MonoPCM16 is the format the capture pipeline actually produces: single
// channel, 16-bit signed samples.
func MonoPCM16(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
}

// NewWavBuffer wraps pcm in a canonical 44-byte RIFF/WAVE header built from
// format, computing byteRate and blockAlign rather than assuming mono
// 16-bit the way a single hardcoded header would.
func NewWavBuffer(pcm []byte, format Format) []byte {
	blockAlign := format.Channels * format.BitsPerSample / 8
	byteRate := format.SampleRate * blockAlign

	buf := new(bytes.Buffer)
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(format.BitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// NewMonoPCM16WavBuffer is the convenience wrapper every current caller
// uses: the capture pipeline only ever emits mono 16-bit PCM.
func NewMonoPCM16WavBuffer(pcm []byte, sampleRate int) []byte {
	return NewWavBuffer(pcm, MonoPCM16(sampleRate))
}
