package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kestrelvox/voxcore/pkg/engine"
	"github.com/kestrelvox/voxcore/pkg/eventbus"
	"github.com/kestrelvox/voxcore/pkg/providers"
)

type fakeQueue struct {
	mu     sync.Mutex
	frames [][]byte
}

func (q *fakeQueue) push(frame []byte) {
	q.mu.Lock()
	q.frames = append(q.frames, frame)
	q.mu.Unlock()
}

func (q *fakeQueue) ReadFIFO(timeout time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		if len(q.frames) > 0 {
			f := q.frames[0]
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return f, true
		}
		q.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	return nil, false
}

func (q *fakeQueue) Drain() int {
	q.mu.Lock()
	n := len(q.frames)
	q.frames = nil
	q.mu.Unlock()
	return n
}

type fakePlayer struct {
	mu           sync.Mutex
	played       [][]byte
	contentDone  int
	clearedQueue int
}

func (p *fakePlayer) Play(chunk []byte) error {
	p.mu.Lock()
	p.played = append(p.played, chunk)
	p.mu.Unlock()
	return nil
}
func (p *fakePlayer) MarkContentDone() {
	p.mu.Lock()
	p.contentDone++
	p.mu.Unlock()
}
func (p *fakePlayer) ClearQueue() {
	p.mu.Lock()
	p.clearedQueue++
	p.mu.Unlock()
}

type fakeRemote struct {
	mu         sync.Mutex
	connected  bool
	submitted  [][]byte
	cancelCall int

	onAudioDelta      func([]byte)
	onTranscriptDelta func(string)
	onResponseDone    func()
	onError           func(string)
}

func (r *fakeRemote) Connect(ctx context.Context) error {
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	return nil
}
func (r *fakeRemote) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}
func (r *fakeRemote) SendCompleteUtterance(ctx context.Context, pcm []byte) error {
	r.mu.Lock()
	r.submitted = append(r.submitted, pcm)
	r.mu.Unlock()
	return nil
}
func (r *fakeRemote) CancelResponse(ctx context.Context) (bool, error) {
	r.mu.Lock()
	r.cancelCall++
	r.mu.Unlock()
	return true, nil
}
func (r *fakeRemote) SetCallbacks(onAudioDelta func([]byte), onTranscriptDelta func(string), onResponseDone func(), onError func(string)) {
	r.onAudioDelta = onAudioDelta
	r.onTranscriptDelta = onTranscriptDelta
	r.onResponseDone = onResponseDone
	r.onError = onError
}
func (r *fakeRemote) Close() error { return nil }

func TestManagerColdStartCollectsAndSubmits(t *testing.T) {
	bus := eventbus.New(4, nil)
	defer bus.Close()

	queue := &fakeQueue{}
	player := &fakePlayer{}
	remote := &fakeRemote{}

	mgr := NewManager(bus, queue, player, remote, ManagerConfig{UtteranceReadTimeout: 10 * time.Millisecond}, nil)
	defer mgr.Close()

	bus.Publish(engine.TopicHotwordDetected, engine.HotwordEvent{HotwordName: "hey_vox"})
	time.Sleep(30 * time.Millisecond)

	queue.push([]byte{1, 2, 3, 4})
	time.Sleep(30 * time.Millisecond)

	bus.Publish(TopicVoiceStopped, VoiceActivityEvent{Kind: engine.ActivityStopped})
	time.Sleep(30 * time.Millisecond)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.submitted) != 1 {
		t.Fatalf("expected exactly one submitted utterance, got %d", len(remote.submitted))
	}
	if string(remote.submitted[0]) != "\x01\x02\x03\x04" {
		t.Fatalf("unexpected submitted payload: %v", remote.submitted[0])
	}
}

func TestManagerVoiceStoppedIgnoredOutsideConversation(t *testing.T) {
	bus := eventbus.New(4, nil)
	defer bus.Close()

	queue := &fakeQueue{}
	player := &fakePlayer{}
	remote := &fakeRemote{}

	mgr := NewManager(bus, queue, player, remote, ManagerConfig{UtteranceReadTimeout: 10 * time.Millisecond}, nil)
	defer mgr.Close()

	bus.Publish(TopicVoiceStopped, VoiceActivityEvent{Kind: engine.ActivityStopped})
	time.Sleep(20 * time.Millisecond)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.submitted) != 0 {
		t.Fatalf("expected no submission when no conversation is active, got %d", len(remote.submitted))
	}
}

type fakeSTT struct{ transcript string }

func (s *fakeSTT) Transcribe(ctx context.Context, pcm []byte, lang providers.Language) (string, error) {
	return s.transcript, nil
}
func (s *fakeSTT) Name() string { return "fake-stt" }

type fakeLLM struct{ reply string }

func (l *fakeLLM) Complete(ctx context.Context, messages []providers.Message) (string, error) {
	return l.reply, nil
}
func (l *fakeLLM) Name() string { return "fake-llm" }

type fakeTTS struct{ chunks [][]byte }

func (t *fakeTTS) Synthesize(ctx context.Context, text string, voice providers.Voice, lang providers.Language) ([]byte, error) {
	var out []byte
	for _, c := range t.chunks {
		out = append(out, c...)
	}
	return out, nil
}
func (t *fakeTTS) StreamSynthesize(ctx context.Context, text string, voice providers.Voice, lang providers.Language, onChunk func([]byte) error) error {
	for _, c := range t.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}
func (t *fakeTTS) Name() string { return "fake-tts" }

func TestProcessBatchTurnStreamsAudioAndPublishesReply(t *testing.T) {
	bus := eventbus.New(4, nil)
	defer bus.Close()

	player := &fakePlayer{}
	remote := &fakeRemote{}
	mgr := NewManager(bus, &fakeQueue{}, player, remote, ManagerConfig{MinWordsToInterrupt: 2}, nil)
	defer mgr.Close()

	var gotReply string
	sub := bus.Subscribe(TopicBotResponse, func(payload interface{}) {
		if s, ok := payload.(string); ok {
			gotReply = s
		}
	})
	defer sub.Unsubscribe()

	stt := &fakeSTT{transcript: "what time is it"}
	llm := &fakeLLM{reply: "it is noon"}
	tts := &fakeTTS{chunks: [][]byte{{1, 2}, {3, 4}}}

	err := mgr.ProcessBatchTurn(context.Background(), []byte{0, 0}, stt, llm, tts, providers.LanguageEn, providers.VoiceF1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	player.mu.Lock()
	playedCount := len(player.played)
	doneCount := player.contentDone
	player.mu.Unlock()
	if playedCount != 2 {
		t.Fatalf("expected 2 played chunks, got %d", playedCount)
	}
	if doneCount != 1 {
		t.Fatalf("expected MarkContentDone called once, got %d", doneCount)
	}

	time.Sleep(20 * time.Millisecond)
	if gotReply != "it is noon" {
		t.Fatalf("expected bot_response %q, got %q", "it is noon", gotReply)
	}
}

func TestProcessBatchTurnDropsShortTranscript(t *testing.T) {
	bus := eventbus.New(4, nil)
	defer bus.Close()

	player := &fakePlayer{}
	remote := &fakeRemote{}
	mgr := NewManager(bus, &fakeQueue{}, player, remote, ManagerConfig{MinWordsToInterrupt: 3}, nil)
	defer mgr.Close()

	stt := &fakeSTT{transcript: "uh"}
	llm := &fakeLLM{reply: "should not be called"}
	tts := &fakeTTS{chunks: [][]byte{{9, 9}}}

	if err := mgr.ProcessBatchTurn(context.Background(), []byte{0, 0}, stt, llm, tts, providers.LanguageEn, providers.VoiceF1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	player.mu.Lock()
	playedCount := len(player.played)
	player.mu.Unlock()
	if playedCount != 0 {
		t.Fatalf("expected no audio played for a below-threshold transcript, got %d chunks", playedCount)
	}
}

func TestNewBatchManagerRunsProcessBatchTurnOnVoiceStopped(t *testing.T) {
	bus := eventbus.New(4, nil)
	defer bus.Close()

	queue := &fakeQueue{}
	player := &fakePlayer{}
	stt := &fakeSTT{transcript: "what is the weather today"}
	llm := &fakeLLM{reply: "sunny all week"}
	tts := &fakeTTS{chunks: [][]byte{{1, 2}, {3, 4}}}

	mgr := NewBatchManager(bus, queue, player, stt, llm, tts, providers.LanguageEn, providers.VoiceF1,
		ManagerConfig{UtteranceReadTimeout: 10 * time.Millisecond, MinWordsToInterrupt: 2}, nil)
	defer mgr.Close()

	var gotReply string
	sub := bus.Subscribe(TopicBotResponse, func(payload interface{}) {
		if s, ok := payload.(string); ok {
			gotReply = s
		}
	})
	defer sub.Unsubscribe()

	bus.Publish(engine.TopicHotwordDetected, engine.HotwordEvent{HotwordName: "hey_vox"})
	time.Sleep(20 * time.Millisecond)

	queue.push([]byte{1, 2, 3, 4})
	time.Sleep(20 * time.Millisecond)

	bus.Publish(TopicVoiceStopped, VoiceActivityEvent{Kind: engine.ActivityStopped})
	time.Sleep(50 * time.Millisecond)

	if gotReply != "sunny all week" {
		t.Fatalf("expected bot_response %q, got %q", "sunny all week", gotReply)
	}

	history := mgr.ConversationHistory().Snapshot()
	if len(history) != 2 {
		t.Fatalf("expected history to gain a user+assistant turn, got %d entries", len(history))
	}

	player.mu.Lock()
	playedCount := len(player.played)
	player.mu.Unlock()
	if playedCount != 2 {
		t.Fatalf("expected 2 played chunks, got %d", playedCount)
	}

	if mgr.session.InConversation() {
		t.Fatal("expected conversation to end once the batch turn completes")
	}
}

func TestNewBatchManagerDropsShortTranscriptWithoutReply(t *testing.T) {
	bus := eventbus.New(4, nil)
	defer bus.Close()

	queue := &fakeQueue{}
	player := &fakePlayer{}
	stt := &fakeSTT{transcript: "uh"}
	llm := &fakeLLM{reply: "should not be called"}
	tts := &fakeTTS{chunks: [][]byte{{9, 9}}}

	mgr := NewBatchManager(bus, queue, player, stt, llm, tts, providers.LanguageEn, providers.VoiceF1,
		ManagerConfig{UtteranceReadTimeout: 10 * time.Millisecond, MinWordsToInterrupt: 3}, nil)
	defer mgr.Close()

	bus.Publish(engine.TopicHotwordDetected, engine.HotwordEvent{HotwordName: "hey_vox"})
	time.Sleep(20 * time.Millisecond)

	queue.push([]byte{1, 2})
	time.Sleep(20 * time.Millisecond)

	bus.Publish(TopicVoiceStopped, VoiceActivityEvent{Kind: engine.ActivityStopped})
	time.Sleep(40 * time.Millisecond)

	player.mu.Lock()
	playedCount := len(player.played)
	player.mu.Unlock()
	if playedCount != 0 {
		t.Fatalf("expected no audio played for a below-threshold transcript, got %d chunks", playedCount)
	}
}

func TestManagerHotwordDuringConversationInterrupts(t *testing.T) {
	bus := eventbus.New(4, nil)
	defer bus.Close()

	queue := &fakeQueue{}
	player := &fakePlayer{}
	remote := &fakeRemote{}

	mgr := NewManager(bus, queue, player, remote, ManagerConfig{UtteranceReadTimeout: 10 * time.Millisecond}, nil)
	defer mgr.Close()

	bus.Publish(engine.TopicHotwordDetected, engine.HotwordEvent{HotwordName: "hey_vox"})
	time.Sleep(20 * time.Millisecond)

	mgr.session.SetResponseActive(true, "resp_1")

	bus.Publish(engine.TopicHotwordDetected, engine.HotwordEvent{HotwordName: "hey_vox"})
	time.Sleep(20 * time.Millisecond)

	if mgr.Generation() == 0 {
		t.Fatal("expected a restart to bump the generation counter")
	}
	player.mu.Lock()
	cleared := player.clearedQueue
	player.mu.Unlock()
	if cleared == 0 {
		t.Fatal("expected interruption to clear the speaker queue")
	}
}
