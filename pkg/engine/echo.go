package engine

import (
	"bytes"
	"math"
	"sync"
	"time"
)

// EchoGuard detects loudspeaker bleed-back into the capture path by
// correlating incoming frames against recently played-out audio, so the
// VoiceActivityTracker and DetectionLoop don't self-trigger on the
// engine's own TTS output during barge-in. Adapted from an
// EchoSuppressor design, generalized off its hardcoded 44.1kHz assumption to the
// engine's configured sample rate.
type EchoGuard struct {
	mu         sync.Mutex
	played     *bytes.Buffer
	maxBufSize int
	threshold  float64
	silenceFor time.Duration
	lastPlayed time.Time
	enabled    bool
	sampleRate int
}

// NewEchoGuard builds an EchoGuard sized for sampleRate, holding roughly
// two seconds of played-audio history for correlation.
func NewEchoGuard(sampleRate int) *EchoGuard {
	return &EchoGuard{
		played:     new(bytes.Buffer),
		maxBufSize: sampleRate * BytesPerSample * 2,
		threshold:  0.55,
		silenceFor: 1200 * time.Millisecond,
		enabled:    true,
		sampleRate: sampleRate,
	}
}

// RecordPlayedAudio records a chunk the SpeakerService just sent to the
// output device, so subsequent capture frames can be checked against it.
func (g *EchoGuard) RecordPlayedAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return
	}
	g.played.Write(chunk)
	g.lastPlayed = time.Now()
	if g.played.Len() > g.maxBufSize {
		data := g.played.Bytes()
		trimmed := data[len(data)-g.maxBufSize:]
		g.played.Reset()
		g.played.Write(trimmed)
	}
}

// IsEcho reports whether inputChunk correlates strongly enough with
// recently played audio to be considered self-echo rather than a user
// utterance.
func (g *EchoGuard) IsEcho(inputChunk []byte) bool {
	if len(inputChunk) == 0 {
		return false
	}

	g.mu.Lock()
	if !g.enabled || time.Since(g.lastPlayed) > g.silenceFor {
		g.mu.Unlock()
		return false
	}
	played := make([]byte, g.played.Len())
	copy(played, g.played.Bytes())
	threshold := g.threshold
	g.mu.Unlock()

	if len(played) == 0 {
		return false
	}

	if correlate(inputChunk, played) > threshold {
		return true
	}
	envCorr := maxEnvelopeCorrelation(bytesToSamples(inputChunk), bytesToSamples(played), 8)
	return envCorr > threshold+0.05
}

// RemoveEchoRealtime returns a fresh copy of input, with the segment that
// was compared against the recently played buffer muted if it's classified
// as echo; otherwise the copy is unmodified. input itself is never changed. Cheap sliding search bounded by stride, safe
// to call from the capture callback.
func (g *EchoGuard) RemoveEchoRealtime(input []byte) []byte {
	out := make([]byte, len(input))
	copy(out, input)
	if len(input) == 0 {
		return out
	}

	g.mu.Lock()
	if !g.enabled || time.Since(g.lastPlayed) > g.silenceFor {
		g.mu.Unlock()
		return out
	}
	ref := make([]byte, g.played.Len())
	copy(ref, g.played.Bytes())
	threshold := g.threshold
	g.mu.Unlock()

	if len(ref) == 0 {
		return out
	}

	inSamples := bytesToSamples(input)
	refSamples := bytesToSamples(ref)
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return out
	}

	compareLen := len(inSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	inSeg := inSamples[:compareLen]
	inEnergy := calculateEnergy(inSeg)
	if inEnergy == 0 {
		return out
	}

	corr := slidingCorrelation(inSeg, refSamples, compareLen)
	if corr < threshold {
		envCorr := maxEnvelopeCorrelation(inSeg, refSamples, 8)
		if envCorr < threshold+0.05 {
			return out
		}
	}

	muted := make([]byte, len(input))
	if len(muted) > compareLen*BytesPerSample {
		copy(muted[compareLen*BytesPerSample:], input[compareLen*BytesPerSample:])
	}
	return muted
}

func slidingCorrelation(inSeg, refSamples []float64, compareLen int) float64 {
	inEnergy := calculateEnergy(inSeg)
	if inEnergy == 0 {
		return 0
	}
	stride := compareLen / 4
	if stride < 8 {
		stride = 8
	}
	searchRange := len(refSamples) - compareLen + 1
	maxCorr := 0.0
	for pos := 0; pos < searchRange; pos += stride {
		seg := refSamples[pos : pos+compareLen]
		segEnergy := calculateEnergy(seg)
		if segEnergy == 0 {
			continue
		}
		dot := 0.0
		for i := 0; i < compareLen; i++ {
			dot += inSeg[i] * seg[i]
		}
		corr := dot / math.Sqrt(inEnergy*segEnergy)
		if corr > maxCorr {
			maxCorr = corr
			if maxCorr >= 0.999 {
				break
			}
		}
	}
	return maxCorr
}

func correlate(input, reference []byte) float64 {
	inputSamples := bytesToSamples(input)
	refSamples := bytesToSamples(reference)
	if len(inputSamples) == 0 || len(refSamples) == 0 {
		return 0
	}

	compareLen := len(inputSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	refStart := len(refSamples) - compareLen
	refCompare := refSamples[refStart:]

	inputEnergy := calculateEnergy(inputSamples)
	refEnergy := calculateEnergy(refCompare)
	if inputEnergy == 0 || refEnergy == 0 {
		return 0
	}

	dot := 0.0
	for i := 0; i < len(inputSamples) && i < len(refCompare); i++ {
		dot += inputSamples[i] * refCompare[i]
	}
	norm := math.Sqrt(inputEnergy * refEnergy)
	if norm == 0 {
		return 0
	}
	corr := dot / norm
	if corr < 0 {
		return 0
	}
	if corr > 1 {
		return 1
	}
	return corr
}

func bytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(uint16(data[i]) | uint16(data[i+1])<<8)
		samples = append(samples, float64(sample)/32768.0)
	}
	return samples
}

func calculateEnergy(samples []float64) float64 {
	energy := 0.0
	for _, s := range samples {
		energy += s * s
	}
	return energy
}

// maxEnvelopeCorrelation compares downsampled absolute-value envelopes,
// catching phase-shifted fricatives ("s" sounds) that raw cross-correlation
// misses.
func maxEnvelopeCorrelation(inSamples, refSamples []float64, decimation int) float64 {
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return 0
	}
	inEnv := envelope(inSamples, decimation)
	refEnv := envelope(refSamples, decimation)

	compareLen := len(inEnv)
	if compareLen > len(refEnv) {
		compareLen = len(refEnv)
	}
	if compareLen == 0 {
		return 0
	}

	inMean := mean(inEnv[:compareLen])
	centered := make([]float64, compareLen)
	inVar := 0.0
	for i := 0; i < compareLen; i++ {
		centered[i] = inEnv[i] - inMean
		inVar += centered[i] * centered[i]
	}
	if inVar <= 0 {
		return 0
	}

	stride := compareLen / 4
	if stride < 2 {
		stride = 2
	}
	searchRange := len(refEnv) - compareLen + 1
	maxCorr := 0.0
	for pos := 0; pos < searchRange; pos += stride {
		refMean := mean(refEnv[pos : pos+compareLen])
		dot, refVar := 0.0, 0.0
		for i := 0; i < compareLen; i++ {
			r := refEnv[pos+i] - refMean
			dot += centered[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			corr := dot / math.Sqrt(inVar*refVar)
			if corr > maxCorr {
				maxCorr = corr
			}
		}
	}
	return maxCorr
}

func envelope(samples []float64, decimation int) []float64 {
	env := make([]float64, len(samples)/decimation)
	for i := range env {
		sum := 0.0
		for j := 0; j < decimation; j++ {
			sum += math.Abs(samples[i*decimation+j])
		}
		env[i] = sum
	}
	return env
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// ClearBuffer discards played-audio history. The session manager does not
// call it on interruption; old history ages out through the size cap and
// the silence window.
func (g *EchoGuard) ClearBuffer() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.played.Reset()
}

// SetThreshold adjusts detection sensitivity; out-of-range values are
// ignored.
func (g *EchoGuard) SetThreshold(threshold float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if threshold >= 0 && threshold <= 1 {
		g.threshold = threshold
	}
}

// SetEnabled toggles echo suppression on or off.
func (g *EchoGuard) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}
