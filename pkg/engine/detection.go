package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TopicHotwordDetected is the event-bus topic DetectionLoop publishes to.
const TopicHotwordDetected = "hotword_detected"

// HotwordEvent mirrors original_source's HotwordEvent dataclass.
type HotwordEvent struct {
	Timestamp         time.Time
	HotwordName       string
	Score             float64
	UtteranceQueueDepth int
}

// Publisher is the minimal surface DetectionLoop needs from an event bus.
type Publisher interface {
	Publish(topic string, payload interface{})
}

// DetectionLoop reads frames from the hotword-latest queue, scores them
// with a HotwordDetector, and publishes a HotwordEvent per hotword whenever
// its score crosses threshold and its per-word cooldown has elapsed.
// Grounded on original_source's detection_service.py (VoiceDetectionService):
// 200ms blocking read, per-model last-fire timestamp, 100ms sleep after a
// publish to avoid re-firing on the same utterance.
type DetectionLoop struct {
	queue     *ConsumerQueue
	detector  HotwordDetector
	bus       Publisher
	threshold float64
	cooldown  time.Duration
	logger    Logger

	utteranceDepth func() int

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// NewDetectionLoop builds a DetectionLoop. utteranceDepth, if non-nil, is
// called to annotate each HotwordEvent with the utterance-buffer queue's
// current depth (purely informational, per original_source's
// audio_queue_size field).
func NewDetectionLoop(queue *ConsumerQueue, detector HotwordDetector, bus Publisher, threshold float64, cooldown time.Duration, utteranceDepth func() int, logger Logger) *DetectionLoop {
	return &DetectionLoop{
		queue:          queue,
		detector:       detector,
		bus:            bus,
		threshold:      threshold,
		cooldown:       cooldown,
		utteranceDepth: utteranceDepth,
		lastFired:      make(map[string]time.Time),
		logger:         orDefault(logger),
	}
}

// Run blocks, reading and scoring frames, until ctx is cancelled. It is
// meant to run on its own goroutine.
func (d *DetectionLoop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, ok := d.queue.ReadLatest(200 * time.Millisecond)
		if !ok {
			continue
		}

		scores, err := d.safeScores(frame)
		if err != nil {
			d.logger.Error("detection loop: scorer error", "error", err)
			continue
		}

		fired := false
		for word, score := range scores {
			if score < d.threshold {
				continue
			}
			if !d.accept(word) {
				continue
			}
			depth := 0
			if d.utteranceDepth != nil {
				depth = d.utteranceDepth()
			}
			d.bus.Publish(TopicHotwordDetected, HotwordEvent{
				Timestamp:           time.Now(),
				HotwordName:         word,
				Score:               score,
				UtteranceQueueDepth: depth,
			})
			d.logger.Info("detection loop: hotword detected", "word", word, "score", score)
			fired = true
		}

		if fired {
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *DetectionLoop) safeScores(frame []byte) (scores map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: detector panic: %v", r)
		}
	}()
	return d.detector.GetScores(frame)
}

func (d *DetectionLoop) accept(word string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if last, ok := d.lastFired[word]; ok && now.Sub(last) < d.cooldown {
		return false
	}
	d.lastFired[word] = now
	return true
}
