package engine

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// openWakeWord pipeline constants: a single chunk is exactly one Frame's
// worth of 16kHz/80ms audio, reduced to a melspectrogram, reduced again to
// an embedding, then scored independently per registered wakeword. Grounded
// on other_examples' internal/wakeword ONNX detector (melspec → embedding →
// per-word scoring head), adapted from its single-wakeword/single-device
// design into the multi-word map[string]float64 shape HotwordDetector.GetScores
// requires and decoupled entirely from audio capture, which this engine's
// AudioSource already owns.
const (
	onnxChunkSamples = 1280
	melWindowSize    = 76
	melStepSize      = 8
	embeddingDim     = 96
	nEmbedFrames     = 16
	melBins          = 32
	nMelFrames       = 5
)

// ONNXModelPaths locates the three shared-pipeline models plus one scoring
// model per wakeword name.
type ONNXModelPaths struct {
	OnnxRuntimeLib string
	MelspecModel   string
	EmbeddingModel string
	// Wakewords maps a wakeword name (as it will appear in GetScores'
	// returned map) to its scoring model path.
	Wakewords map[string]string
}

type onnxSession struct {
	session *ort.AdvancedSession
	in      *ort.Tensor[float32]
	out     *ort.Tensor[float32]
}

// ONNXHotwordDetector runs the openWakeWord-style melspectrogram →
// embedding → per-word scoring pipeline over frames handed to it by a
// DetectionLoop. It does not open an audio device itself — the caller feeds
// it frames already captured by an AudioSource/Broadcaster consumer queue.
type ONNXHotwordDetector struct {
	mu sync.Mutex

	melspec  onnxSession
	embed    onnxSession
	scorers  map[string]onnxSession
	initOnce sync.Once
	initErr  error
	paths    ONNXModelPaths

	melBuffer   []float32
	embedBuffer []float32
	audioRem    []int16
}

// NewONNXHotwordDetector constructs a detector bound to paths. Model
// loading is deferred to the first GetScores call so a misconfigured
// detector can still be wired into a DetectionLoop and fail loudly rather
// than panicking at construction.
func NewONNXHotwordDetector(paths ONNXModelPaths) *ONNXHotwordDetector {
	return &ONNXHotwordDetector{
		paths:       paths,
		scorers:     make(map[string]onnxSession, len(paths.Wakewords)),
		embedBuffer: make([]float32, nEmbedFrames*embeddingDim),
	}
}

func (d *ONNXHotwordDetector) ensureInit() error {
	d.initOnce.Do(func() {
		ort.SetSharedLibraryPath(d.paths.OnnxRuntimeLib)
		if err := ort.InitializeEnvironment(); err != nil {
			d.initErr = fmt.Errorf("hotword: onnx runtime init: %w", err)
			return
		}

		var err error
		d.melspec, err = newOnnxSession(d.paths.MelspecModel, ort.NewShape(1, onnxChunkSamples), ort.NewShape(1, 1, nMelFrames, melBins))
		if err != nil {
			d.initErr = fmt.Errorf("hotword: melspec model: %w", err)
			return
		}
		d.embed, err = newOnnxSession(d.paths.EmbeddingModel, ort.NewShape(1, melWindowSize, melBins, 1), ort.NewShape(1, 1, 1, embeddingDim))
		if err != nil {
			d.initErr = fmt.Errorf("hotword: embedding model: %w", err)
			return
		}
		for name, path := range d.paths.Wakewords {
			sess, err := newOnnxSession(path, ort.NewShape(1, nEmbedFrames, embeddingDim), ort.NewShape(1, 1))
			if err != nil {
				d.initErr = fmt.Errorf("hotword: wakeword model %q: %w", name, err)
				return
			}
			d.scorers[name] = sess
		}
	})
	return d.initErr
}

func newOnnxSession(modelPath string, inShape, outShape ort.Shape) (onnxSession, error) {
	in, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return onnxSession{}, err
	}
	out, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		in.Destroy()
		return onnxSession{}, err
	}
	inInfo, outInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return onnxSession{}, err
	}
	sess, err := ort.NewAdvancedSession(modelPath,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{in}, []ort.Value{out}, nil)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return onnxSession{}, err
	}
	return onnxSession{session: sess, in: in, out: out}, nil
}

// GetScores pushes one Frame's worth of PCM16 audio through the pipeline
// and returns a score for every registered wakeword whenever the frame
// completes a new embedding window. A frame that does not complete one
// returns an empty map (the embedding step runs slower than the frame rate).
func (d *ONNXHotwordDetector) GetScores(frame []byte) (map[string]float64, error) {
	if err := d.ensureInit(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	samples := bytesToInt16(frame)
	d.audioRem = append(d.audioRem, samples...)

	scores := make(map[string]float64, len(d.scorers))
	for len(d.audioRem) >= onnxChunkSamples {
		chunk := d.audioRem[:onnxChunkSamples]
		n := copy(d.audioRem, d.audioRem[onnxChunkSamples:])
		d.audioRem = d.audioRem[:n]

		if err := d.runMelspec(chunk); err != nil {
			return nil, err
		}
		newEmbed, err := d.runEmbedding()
		if err != nil {
			return nil, err
		}
		if !newEmbed {
			continue
		}
		for name, got := range d.runScorers() {
			scores[name] = got
		}
	}
	return scores, nil
}

func (d *ONNXHotwordDetector) runMelspec(chunk []int16) error {
	inData := d.melspec.in.GetData()
	for i, v := range chunk {
		inData[i] = float32(v)
	}
	if err := d.melspec.session.Run(); err != nil {
		return fmt.Errorf("hotword: melspec run: %w", err)
	}
	melData := d.melspec.out.GetData()
	for f := 0; f < nMelFrames; f++ {
		for b := 0; b < melBins; b++ {
			idx := f*melBins + b
			if idx < len(melData) {
				d.melBuffer = append(d.melBuffer, melData[idx]/10.0+2.0)
			}
		}
	}
	return nil
}

func (d *ONNXHotwordDetector) runEmbedding() (bool, error) {
	newEmbed := false
	totalMel := len(d.melBuffer) / melBins
	for totalMel >= melWindowSize {
		eData := d.embed.in.GetData()
		copy(eData, d.melBuffer[:melWindowSize*melBins])
		if err := d.embed.session.Run(); err != nil {
			return newEmbed, fmt.Errorf("hotword: embed run: %w", err)
		}
		eOut := d.embed.out.GetData()
		copy(d.embedBuffer, d.embedBuffer[embeddingDim:])
		copy(d.embedBuffer[(nEmbedFrames-1)*embeddingDim:], eOut[:embeddingDim])
		newEmbed = true

		n := copy(d.melBuffer, d.melBuffer[melStepSize*melBins:])
		d.melBuffer = d.melBuffer[:n]
		totalMel = len(d.melBuffer) / melBins
	}
	if totalMel > melWindowSize {
		excess := (totalMel - melWindowSize) * melBins
		n := copy(d.melBuffer, d.melBuffer[excess:])
		d.melBuffer = d.melBuffer[:n]
	}
	return newEmbed, nil
}

func (d *ONNXHotwordDetector) runScorers() map[string]float64 {
	out := make(map[string]float64, len(d.scorers))
	for name, sess := range d.scorers {
		wwData := sess.in.GetData()
		copy(wwData, d.embedBuffer)
		if err := sess.session.Run(); err != nil {
			continue
		}
		out[name] = float64(sess.out.GetData()[0])
	}
	return out
}

// Reset flushes accumulated mel/embedding state so stale audio context
// doesn't bleed into the next detection. The engine's own pipeline does not
// call it.
func (d *ONNXHotwordDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.melBuffer = d.melBuffer[:0]
	for i := range d.embedBuffer {
		d.embedBuffer[i] = 0
	}
	d.audioRem = d.audioRem[:0]
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}
