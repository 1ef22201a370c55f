package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestNewMonoPCM16WavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 16000
	wav := NewMonoPCM16WavBuffer(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("expected RIFF prefix")
	}
	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("expected length %d, got %d", expectedLen, len(wav))
	}

	gotRate := binary.LittleEndian.Uint32(wav[24:28])
	if int(gotRate) != sampleRate {
		t.Errorf("expected sample rate %d in header, got %d", sampleRate, gotRate)
	}
}

func TestNewWavBufferStereo(t *testing.T) {
	pcm := make([]byte, 16)
	format := Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16}
	wav := NewWavBuffer(pcm, format)

	wantBlockAlign := uint16(4)
	gotBlockAlign := binary.LittleEndian.Uint16(wav[32:34])
	if gotBlockAlign != wantBlockAlign {
		t.Errorf("expected block align %d, got %d", wantBlockAlign, gotBlockAlign)
	}

	wantByteRate := uint32(48000 * 4)
	gotByteRate := binary.LittleEndian.Uint32(wav[28:32])
	if gotByteRate != wantByteRate {
		t.Errorf("expected byte rate %d, got %d", wantByteRate, gotByteRate)
	}

	wantChannels := uint16(2)
	gotChannels := binary.LittleEndian.Uint16(wav[22:24])
	if gotChannels != wantChannels {
		t.Errorf("expected channels %d, got %d", wantChannels, gotChannels)
	}
}
