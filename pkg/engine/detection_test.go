package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []HotwordEvent
}

func (p *fakePublisher) Publish(topic string, payload interface{}) {
	if topic != TopicHotwordDetected {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload.(HotwordEvent))
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestDetectionLoopFiresAboveThreshold(t *testing.T) {
	b := NewBroadcaster(nil)
	q := b.RegisterQueue(PolicySkipAhead, 3)
	detector := NewNullScorer("hey_vox", 0.9)
	pub := &fakePublisher{}

	loop := NewDetectionLoop(q, detector, pub, 0.5, time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	defer cancel()

	b.Broadcast(make([]byte, DefaultFrameSamples*BytesPerSample))

	deadline := time.After(time.Second)
	for pub.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a hotword event to be published")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDetectionLoopRespectsCooldown(t *testing.T) {
	b := NewBroadcaster(nil)
	q := b.RegisterQueue(PolicySkipAhead, 3)
	detector := NewNullScorer("hey_vox", 0.9)
	pub := &fakePublisher{}

	loop := NewDetectionLoop(q, detector, pub, 0.5, time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	defer cancel()

	for i := 0; i < 5; i++ {
		b.Broadcast(make([]byte, DefaultFrameSamples*BytesPerSample))
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	if pub.count() > 1 {
		t.Fatalf("expected at most one event within the cooldown window, got %d", pub.count())
	}
}
