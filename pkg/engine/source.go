package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// QueuePolicy controls how a ConsumerQueue behaves when its buffer fills.
type QueuePolicy int

const (
	// PolicyFIFO never skips frames; on overflow the newest frame is
	// dropped so earlier frames already queued are preserved in order.
	// Used by the utterance-buffer queue.
	PolicyFIFO QueuePolicy = iota
	// PolicySkipAhead keeps only the most recently broadcast frames; a
	// reader drains any backlog before blocking for the next one. Used by
	// the hotword-latest queue.
	PolicySkipAhead
)

// ConsumerQueue is one fan-out destination registered with a Broadcaster.
// Grounded on original_source's AudioHandler.hotword_queue/audio_queue:
// both are plain bounded queues, the policy difference lives entirely in
// how they are read, not how they are written (writes are always a
// non-blocking put that silently drops on overflow).
type ConsumerQueue struct {
	policy QueuePolicy
	ch     chan []byte

	mu      sync.Mutex
	dropped uint64
}

func newConsumerQueue(policy QueuePolicy, capacity int) *ConsumerQueue {
	return &ConsumerQueue{policy: policy, ch: make(chan []byte, capacity)}
}

func (q *ConsumerQueue) offer(frame []byte) {
	select {
	case q.ch <- frame:
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
	}
}

// Dropped returns the number of frames silently discarded on overflow.
func (q *ConsumerQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len reports the number of frames currently buffered. It is inherently
// racy against concurrent readers/writers, the same way qsize() is in the
// Python source it's grounded on; it is used only for skip-ahead draining
// and debug status, never for correctness-critical decisions.
func (q *ConsumerQueue) Len() int { return len(q.ch) }

// ReadFIFO blocks up to timeout for the next frame in arrival order.
func (q *ConsumerQueue) ReadFIFO(timeout time.Duration) ([]byte, bool) {
	select {
	case f := <-q.ch:
		return f, true
	case <-time.After(timeout):
		return nil, false
	}
}

// ReadLatest discards any backlog beyond the single most recent frame, then
// blocks up to timeout for it. Grounded on
// audio_handler.py::read_hotword_chunk.
func (q *ConsumerQueue) ReadLatest(timeout time.Duration) ([]byte, bool) {
	for len(q.ch) > 1 {
		select {
		case <-q.ch:
		default:
		}
	}
	select {
	case f := <-q.ch:
		return f, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Drain empties the queue immediately, returning the number of frames
// discarded. Used when a SessionManager restarts an interrupted turn and
// needs a clean utterance buffer.
func (q *ConsumerQueue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Broadcaster fans a single audio stream out to any number of
// ConsumerQueues, each with its own overflow policy. Grounded on
// audio_handler.py::AudioHandler (consumer_queues list, _audio_callback
// broadcast loop, register_queue).
type Broadcaster struct {
	mu     sync.RWMutex
	queues []*ConsumerQueue
	logger Logger
}

// NewBroadcaster builds an empty Broadcaster. Queues are added with
// RegisterQueue before the AudioSource starts delivering frames.
func NewBroadcaster(logger Logger) *Broadcaster {
	return &Broadcaster{logger: orDefault(logger)}
}

// RegisterQueue creates and attaches a new consumer queue with the given
// policy and capacity, returning it for the caller to read from.
func (b *Broadcaster) RegisterQueue(policy QueuePolicy, capacity int) *ConsumerQueue {
	q := newConsumerQueue(policy, capacity)
	b.mu.Lock()
	b.queues = append(b.queues, q)
	b.mu.Unlock()
	b.logger.Debug("broadcaster: queue registered", "policy", policy, "capacity", capacity)
	return q
}

// Broadcast delivers frame to every registered queue, never blocking.
func (b *Broadcaster) Broadcast(frame []byte) {
	b.mu.RLock()
	queues := b.queues
	b.mu.RUnlock()
	for _, q := range queues {
		q.offer(frame)
	}
}

// FrameHandler receives one captured frame. It runs on the capture
// callback's goroutine and must not block.
type FrameHandler func(frame []byte)

// AudioSource owns a capture-only malgo device and delivers frames to a
// FrameHandler. Unlike a single duplex device, capture and
// playback use separate device handles here (see pkg/speaker): AudioSource
// and SpeakerService each exclusively own their own hardware handle.
type AudioSource struct {
	ctx          *malgo.AllocatedContext
	deviceName   string
	sampleRate   int
	frameSamples int
	logger       Logger

	mu      sync.Mutex
	device  *malgo.Device
	running bool
}

// NewAudioSource builds an AudioSource bound to ctx. deviceName is matched
// as a case-insensitive substring against enumerated capture devices; an
// empty string selects the platform default.
func NewAudioSource(ctx *malgo.AllocatedContext, deviceName string, sampleRate, frameSamples int, logger Logger) *AudioSource {
	return &AudioSource{
		ctx:          ctx,
		deviceName:   deviceName,
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		logger:       orDefault(logger),
	}
}

// Start opens the capture device and begins delivering frames to onFrame
// until Stop is called. Each delivered slice is a fresh copy owned by the
// caller.
func (s *AudioSource) Start(onFrame FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("engine: audio source already running")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(s.sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(s.frameSamples)

	if id, err := s.resolveDevice(); err != nil {
		s.logger.Warn("audio source: device enumeration failed, using default", "error", err)
	} else if id != nil {
		deviceConfig.Capture.DeviceID = id
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) == 0 {
				return
			}
			frame := make([]byte, len(input))
			copy(frame, input)
			onFrame(frame)
		},
	}

	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("engine: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("engine: start capture device: %w", err)
	}

	s.device = device
	s.running = true
	s.logger.Info("audio source: capture started", "sample_rate", s.sampleRate, "frame_samples", s.frameSamples)
	return nil
}

func (s *AudioSource) resolveDevice() (*malgo.DeviceID, error) {
	if s.deviceName == "" {
		return nil, nil
	}
	infos, err := s.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(s.deviceName)
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), want) {
			s.logger.Info("audio source: matched capture device", "name", infos[i].Name())
			id := infos[i].ID
			return &id, nil
		}
	}
	s.logger.Warn("audio source: no capture device matched, falling back to default", "wanted", s.deviceName)
	return nil, nil
}

// Stop closes the capture device. It is safe to call even if Start failed
// or was never called.
func (s *AudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.device == nil {
		return nil
	}
	err := s.device.Uninit()
	s.running = false
	s.logger.Info("audio source: capture stopped")
	return err
}
