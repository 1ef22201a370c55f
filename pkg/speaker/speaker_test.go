package speaker

import (
	"sync"
	"testing"
	"time"
)

type fakeBus struct {
	mu     sync.Mutex
	events []interface{}
}

func (b *fakeBus) Publish(topic string, payload interface{}) {
	if topic != TopicSpeakingFinished {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, payload)
	b.mu.Unlock()
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func newTestService(bus Publisher) *Service {
	return &Service{bus: bus, logger: NoOpLogger{}}
}

func TestIsPlayingReflectsQueueEmptiness(t *testing.T) {
	s := newTestService(nil)
	if s.IsPlaying() {
		t.Fatal("expected not playing when nothing has been queued")
	}
	if err := s.Play([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.IsPlaying() {
		t.Fatal("expected playing immediately after Play")
	}

	out := make([]byte, 4)
	s.onSamples(out)
	if s.IsPlaying() {
		t.Fatal("expected not playing once the queue and current chunk are drained")
	}
}

func TestSpeakingFinishedFiresAfterTwoEmptyPullsPostContentDone(t *testing.T) {
	bus := &fakeBus{}
	s := newTestService(bus)

	if err := s.Play([]byte{1, 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.MarkContentDone()

	out := make([]byte, 2)
	s.onSamples(out) // drains the one queued chunk; not yet finished (remaining transitions)
	if bus.count() != 0 {
		t.Fatal("did not expect speaking_finished on the draining pull")
	}

	s.onSamples(out) // first empty pull post-drain
	if bus.count() != 0 {
		t.Fatal("did not expect speaking_finished after only one empty pull")
	}

	s.onSamples(out) // second empty pull
	if bus.count() != 1 {
		t.Fatalf("expected exactly one speaking_finished event, got %d", bus.count())
	}
}

func TestClearQueueResetsState(t *testing.T) {
	s := newTestService(nil)
	_ = s.Play([]byte{1, 2, 3, 4})
	s.MarkContentDone()
	s.ClearQueue()
	if s.IsPlaying() {
		t.Fatal("expected ClearQueue to leave the service not playing")
	}
	if s.QueueDepth() != 0 {
		t.Fatal("expected ClearQueue to empty the queue")
	}
}

func TestPlayAfterContentDoneResetsContentDone(t *testing.T) {
	s := newTestService(nil)
	_ = s.Play([]byte{1, 2})
	s.MarkContentDone()
	_ = s.Play([]byte{3, 4})

	s.mu.Lock()
	done := s.contentDone
	s.mu.Unlock()
	if done {
		t.Fatal("expected a new Play to reset contentDone until MarkContentDone is called again")
	}
	_ = time.Now()
}
