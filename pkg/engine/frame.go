// Package engine implements the audio capture, fan-out, voice-activity and
// hotword-detection pipeline: everything upstream of a conversational turn.
package engine

import "fmt"

// BytesPerSample is the width of one PCM16 sample.
const BytesPerSample = 2

// DefaultSampleRate and DefaultFrameSamples match the hardware/model
// constraints the rest of the pipeline assumes: 80ms frames at 16kHz mono,
// the chunk size openWakeWord-style hotword models expect.
const (
	DefaultSampleRate   = 16000
	DefaultFrameSamples = 1280
)

// Frame is an immutable, fixed-length slice of PCM16 mono audio captured at
// a single point in time. It can only be constructed via NewFrame, which
// refuses any buffer that isn't exactly samples*BytesPerSample long.
type Frame struct {
	samples int
	data    []byte
}

// NewFrame copies data into a new Frame, validating its length against the
// expected sample count.
func NewFrame(data []byte, samples int) (Frame, error) {
	want := samples * BytesPerSample
	if len(data) != want {
		return Frame{}, fmt.Errorf("engine: frame must be %d bytes for %d samples, got %d", want, samples, len(data))
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return Frame{samples: samples, data: buf}, nil
}

// Bytes returns the frame's raw PCM16 payload. Callers must not mutate it.
func (f Frame) Bytes() []byte { return f.data }

// Samples returns the number of PCM16 samples in the frame.
func (f Frame) Samples() int { return f.samples }

// Len returns the frame's byte length.
func (f Frame) Len() int { return len(f.data) }
