// Package speaker implements queued audio playback with completion
// semantics, grounded on original_source's core/speaker_service.py
// (SpeakerService) for the queue/device-selection shape and on a
// malgo playback-callback idiom for the Go native device binding.
package speaker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// Logger is the structured logging seam.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...interface{}) {}
func (NoOpLogger) Info(string, ...interface{})  {}
func (NoOpLogger) Warn(string, ...interface{})  {}
func (NoOpLogger) Error(string, ...interface{}) {}

func orDefault(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}

// Publisher is the minimal event-bus surface SpeakerService needs to
// announce that playback has finished.
type Publisher interface {
	Publish(topic string, payload interface{})
}

// EchoRecorder receives a copy of everything actually written to the
// output device, so an engine.EchoGuard on the capture path can correlate
// against it. Satisfied by *engine.EchoGuard without this package
// importing pkg/engine.
type EchoRecorder interface {
	RecordPlayedAudio(chunk []byte)
}

// TopicSpeakingFinished is published once queued audio has fully drained
// after MarkContentDone, per §9's is_playing()-as-queue-emptiness fix.
const TopicSpeakingFinished = "speaking_finished"

// SpeakingFinishedEvent is the payload published on TopicSpeakingFinished.
type SpeakingFinishedEvent struct {
	Timestamp time.Time
}

// Service is a queued audio player owning an exclusive output device
// handle. Play enqueues PCM16 chunks; the device callback drains them in
// order. is_playing() is fixed as literal queue-emptiness (including any
// partially-consumed chunk), not a separately tracked boolean that can
// drift out of sync with the queue — the §9 redesign flag this engine
// applies.
type Service struct {
	ctx          *malgo.AllocatedContext
	deviceName   string
	sampleRate   int
	bufferFrames int
	logger       Logger
	bus          Publisher
	recorder     EchoRecorder

	mu          sync.Mutex
	queue       [][]byte
	current     []byte
	contentDone bool
	emptyPulls  int

	device  *malgo.Device
	running bool
}

// New builds a Service bound to ctx. deviceName is matched as a
// case-insensitive substring against enumerated playback devices; an empty
// string selects the platform default.
func New(ctx *malgo.AllocatedContext, deviceName string, sampleRate, bufferFrames int, bus Publisher, recorder EchoRecorder, logger Logger) *Service {
	return &Service{
		ctx:          ctx,
		deviceName:   deviceName,
		sampleRate:   sampleRate,
		bufferFrames: bufferFrames,
		bus:          bus,
		recorder:     recorder,
		logger:       orDefault(logger),
	}
}

// Start opens the playback device and begins draining the queue.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("speaker: already running")
	}
	s.mu.Unlock()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(s.sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(s.bufferFrames)

	if id, err := s.resolveDevice(); err != nil {
		s.logger.Warn("speaker: device enumeration failed, using default", "error", err)
	} else if id != nil {
		deviceConfig.Playback.DeviceID = id
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			s.onSamples(output)
		},
	}

	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("speaker: init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("speaker: start playback device: %w", err)
	}

	s.mu.Lock()
	s.device = device
	s.running = true
	s.mu.Unlock()
	s.logger.Info("speaker: playback started", "sample_rate", s.sampleRate)
	return nil
}

func (s *Service) resolveDevice() (*malgo.DeviceID, error) {
	if s.deviceName == "" {
		return nil, nil
	}
	infos, err := s.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(s.deviceName)
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), want) {
			s.logger.Info("speaker: matched playback device", "name", infos[i].Name())
			id := infos[i].ID
			return &id, nil
		}
	}
	s.logger.Warn("speaker: no playback device matched, falling back to default", "wanted", s.deviceName)
	return nil, nil
}

// Play enqueues chunk to be played once any previously queued audio has
// drained.
func (s *Service) Play(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	s.mu.Lock()
	s.queue = append(s.queue, buf)
	s.contentDone = false
	s.emptyPulls = 0
	s.mu.Unlock()
	return nil
}

// MarkContentDone signals that no further chunks are coming for the
// current response; once the queue drains, TopicSpeakingFinished fires.
func (s *Service) MarkContentDone() {
	s.mu.Lock()
	s.contentDone = true
	s.emptyPulls = 0
	s.mu.Unlock()
}

// ClearQueue discards anything queued or partially played, used on
// interruption.
func (s *Service) ClearQueue() {
	s.mu.Lock()
	s.queue = nil
	s.current = nil
	s.contentDone = false
	s.emptyPulls = 0
	s.mu.Unlock()
}

// IsPlaying reports whether there is still audio queued or mid-playback.
func (s *Service) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.current) > 0 || len(s.queue) > 0
}

// QueueDepth returns the number of whole chunks still queued, for
// debugging/monitoring (mirrors original_source's get_queue_size).
func (s *Service) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// onSamples fills output from the queue, emitting silence once it's
// drained. Two consecutive empty pulls after MarkContentDone is the
// callback-model stand-in for original_source's two consecutive 1.0s
// dequeue timeouts: at this device's bufferFrames/sampleRate period the
// two pulls cover a far shorter span, but the property that matters
// (exactly one speaking_finished per response, fired once the queue is
// provably empty) still holds.
func (s *Service) onSamples(output []byte) {
	s.mu.Lock()
	filled := copy(output, s.current)
	s.current = s.current[filled:]
	for filled < len(output) && len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.current = next
		n := copy(output[filled:], s.current)
		s.current = s.current[n:]
		filled += n
	}

	remaining := len(s.current) > 0 || len(s.queue) > 0
	fireFinished := false
	if remaining || filled > 0 {
		s.emptyPulls = 0
	} else if s.contentDone {
		s.emptyPulls++
		if s.emptyPulls >= 2 {
			fireFinished = true
			s.contentDone = false
			s.emptyPulls = 0
		}
	}
	s.mu.Unlock()

	for i := filled; i < len(output); i++ {
		output[i] = 0
	}

	if s.recorder != nil && filled > 0 {
		s.recorder.RecordPlayedAudio(output[:filled])
	}
	if fireFinished && s.bus != nil {
		s.bus.Publish(TopicSpeakingFinished, SpeakingFinishedEvent{Timestamp: time.Now()})
	}
}

// Stop closes the playback device.
func (s *Service) Stop() error {
	s.mu.Lock()
	device := s.device
	running := s.running
	s.running = false
	s.mu.Unlock()
	if !running || device == nil {
		return nil
	}
	return device.Uninit()
}
