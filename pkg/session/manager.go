package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kestrelvox/voxcore/pkg/engine"
	"github.com/kestrelvox/voxcore/pkg/eventbus"
	"github.com/kestrelvox/voxcore/pkg/providers"
)

// Bus-facing topics Manager subscribes to and publishes on. The hotword
// topic is engine.TopicHotwordDetected; voice-activity topics are
// published by whatever wraps a VoiceActivityTracker's results onto the
// bus (see cmd/agent).
const (
	TopicVoiceStarted      = "voice_activity_started"
	TopicVoiceStopped      = "voice_activity_stopped"
	TopicBotResponse       = "bot_response"
	TopicResponseAudio     = "response_audio_delta"
	TopicInterrupted       = "interrupted"
	TopicSessionError      = "session_error"
)

// VoiceActivityEvent mirrors engine.ActivityResult for bus transport,
// grounded on original_source's VoiceActivityEvent dataclass.
type VoiceActivityEvent struct {
	Timestamp time.Time
	Kind      engine.ActivityKind
	Duration  time.Duration
}

// RemoteClient is the conversational AI connection Manager drives. See
// pkg/remoteai.Client for the concrete websocket implementation.
type RemoteClient interface {
	Connect(ctx context.Context) error
	Connected() bool
	SendCompleteUtterance(ctx context.Context, pcm []byte) error
	CancelResponse(ctx context.Context) (bool, error)
	SetCallbacks(onAudioDelta func([]byte), onTranscriptDelta func(string), onResponseDone func(), onError func(string))
	Close() error
}

// Player is the minimal surface Manager needs from a speaker service.
type Player interface {
	Play(chunk []byte) error
	MarkContentDone()
	ClearQueue()
}

// UtteranceSource is the FIFO utterance-buffer consumer queue handed out by
// an engine.Broadcaster.
type UtteranceSource interface {
	ReadFIFO(timeout time.Duration) ([]byte, bool)
	Drain() int
}

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

// ManagerConfig tunes Manager's behavior.
type ManagerConfig struct {
	UtteranceReadTimeout time.Duration
	ConnectTimeout       time.Duration
	// MinWordsToInterrupt gates ProcessBatchTurn's LLM call: a transcript
	// with fewer words than this is treated as noise and dropped rather
	// than answered. Grounded on an orphaned
	// GetConfig().MinWordsToInterrupt reference in managed_stream.go.
	MinWordsToInterrupt int
}

// nonCriticalErrorSubstrings mirrors original_source's realtime_consumer.py
// _on_error allow-list: errors matching these are logged at Debug rather
// than surfaced as a SessionError, because they're expected races (e.g.
// cancelling a response that already finished).
var nonCriticalErrorSubstrings = []string{
	"no active response",
	"cancellation failed",
}

// Latency mirrors ManagedStream.LatencyBreakdown, exposed as
// a supplemented feature (SPEC_FULL §D.1).
type Latency struct {
	HotwordToSubmit  time.Duration
	SubmitToFirstAudio time.Duration
}

// managerMode selects which turn-processing path onVoiceStopped drives:
// the realtime websocket RemoteClient, or the fallback batch STT/LLM/TTS
// pipeline run in-process via ProcessBatchTurn.
type managerMode int

const (
	modeRealtime managerMode = iota
	modeBatch
)

// Manager is the hardest subsystem in the engine: it subscribes to
// hotword/voice-stop events, coordinates the remote AI connection
// lifecycle, collects utterance audio, handles interruption/barge-in, and
// relays streamed responses to the speaker. Grounded on original_source's
// consumers/realtime_consumer.py (RealtimeConsumer), keeping
// ManagedStream's concurrency idioms: mutex-guarded flags retrieved then
// released before calling out (avoids deadlock across suspension points),
// a generation counter that marks the collector goroutine and pending batch
// turns of an interrupted turn as stale, and a sync.Once-guarded Close.
type Manager struct {
	bus       *eventbus.Bus
	utterance UtteranceSource
	player    Player
	remote    RemoteClient
	logger    Logger
	cfg       ManagerConfig
	mode      managerMode

	// batchSTT/batchLLM/batchTTS and batchLang/batchVoice are only set in
	// modeBatch, where onVoiceStopped drives ProcessBatchTurn directly
	// instead of going through remote.
	batchSTT   providers.STTProvider
	batchLLM   providers.LLMProvider
	batchTTS   providers.TTSProvider
	batchLang  providers.Language
	batchVoice providers.Voice

	hotwordSub *eventbus.Subscription
	voiceSub   *eventbus.Subscription

	generation int64 // incremented on every interrupt/restart

	mu            sync.Mutex
	session       *Session
	collecting    bool
	collectorDone chan struct{}
	responseText  strings.Builder
	hotwordAt     time.Time
	submittedAt   time.Time
	firstAudioAt  time.Time
	lastLatency   Latency
	lastUserAudio []byte
	history       *ConversationHistory

	closeOnce sync.Once
	closed    bool
}

// NewManager wires subscriptions and remote callbacks; the Manager is live
// as soon as this returns. It drives turns through remote, the realtime
// websocket connection.
func NewManager(bus *eventbus.Bus, utterance UtteranceSource, player Player, remote RemoteClient, cfg ManagerConfig, logger Logger) *Manager {
	m := newManager(bus, utterance, player, cfg, logger)
	m.mode = modeRealtime
	m.remote = remote
	remote.SetCallbacks(m.onAudioDelta, m.onTranscriptDelta, m.onResponseDone, m.onError)
	return m
}

// NewBatchManager wires a Manager that drives each turn through the
// fallback STT/LLM/TTS pipeline (ProcessBatchTurn) directly from
// onVoiceStopped, instead of through a RemoteClient. This is the production
// home for ProcessBatchTurn: deployments without a realtime websocket
// endpoint construct a Manager this way rather than adapting the batch
// providers behind a RemoteClient shim.
func NewBatchManager(bus *eventbus.Bus, utterance UtteranceSource, player Player, stt providers.STTProvider, llm providers.LLMProvider, tts providers.TTSProvider, lang providers.Language, voice providers.Voice, cfg ManagerConfig, logger Logger) *Manager {
	m := newManager(bus, utterance, player, cfg, logger)
	m.mode = modeBatch
	m.batchSTT = stt
	m.batchLLM = llm
	m.batchTTS = tts
	m.batchLang = lang
	m.batchVoice = voice
	return m
}

func newManager(bus *eventbus.Bus, utterance UtteranceSource, player Player, cfg ManagerConfig, logger Logger) *Manager {
	if cfg.UtteranceReadTimeout <= 0 {
		cfg.UtteranceReadTimeout = 200 * time.Millisecond
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	m := &Manager{
		bus:       bus,
		utterance: utterance,
		player:    player,
		cfg:       cfg,
		logger:    orDefault(logger),
		session:   New(),
		history:   NewConversationHistory(0),
	}
	m.hotwordSub = bus.Subscribe(engine.TopicHotwordDetected, m.onHotwordDetected)
	m.voiceSub = bus.Subscribe(TopicVoiceStopped, m.onVoiceStopped)
	return m
}

func (m *Manager) onHotwordDetected(payload interface{}) {
	_, ok := payload.(engine.HotwordEvent)
	if !ok {
		return
	}

	if m.session.InConversation() {
		m.restart()
		return
	}
	m.coldStart()
}

// coldStart begins a new conversation: connects the remote client if
// needed and starts the utterance collector.
func (m *Manager) coldStart() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.session = New()
	m.hotwordAt = time.Now()
	m.mu.Unlock()

	m.session.SetInConversation(true)

	if m.mode == modeRealtime {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		defer cancel()
		if !m.remote.Connected() {
			if err := m.remote.Connect(ctx); err != nil {
				m.logger.Error("session manager: connect failed", "error", err)
				m.session.SetInConversation(false)
				m.bus.Publish(TopicSessionError, err.Error())
				return
			}
		}
	}

	m.startCollector()
}

// restart implements barge-in: cancel any active response, clear the
// speaker queue, stop the running collector, clear the utterance backlog,
// bump the generation counter so the interrupted turn's collector and any
// pending batch turn see themselves as stale, and begin collecting a fresh
// utterance. Realtime remote callbacks are not filtered by generation. Grounded on managed_stream.go's
// interrupt()/internalInterrupt() lock-retrieve-unlock-cancel pattern.
func (m *Manager) restart() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.hotwordAt = time.Now()
	m.mu.Unlock()

	if m.mode == modeRealtime {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if active, _ := m.session.ResponseActive(); active {
			if _, err := m.remote.CancelResponse(ctx); err != nil {
				m.logger.Warn("session manager: cancel response failed", "error", err)
			}
		}
	}

	m.player.ClearQueue()
	m.stopCollector()
	m.utterance.Drain()
	m.session.TakeCollected()
	m.session.SetResponseActive(false, "")
	m.bus.Publish(TopicInterrupted, m.session.ID)

	m.startCollector()
}

// startCollector spawns the goroutine that reads frames off the
// utterance-buffer queue and appends them to the active session until
// stopCollector is called (on voice-stopped or interruption).
func (m *Manager) startCollector() {
	m.mu.Lock()
	if m.collecting {
		m.mu.Unlock()
		return
	}
	m.collecting = true
	done := make(chan struct{})
	m.collectorDone = done
	gen := m.generation
	m.mu.Unlock()

	m.session.SetStreaming(true)

	go func() {
		defer close(done)
		for m.session.Streaming() {
			m.mu.Lock()
			stale := gen != m.generation
			m.mu.Unlock()
			if stale {
				return
			}
			frame, ok := m.utterance.ReadFIFO(m.cfg.UtteranceReadTimeout)
			if !ok {
				continue
			}
			m.session.AppendCollected(frame)
		}
	}()
}

func (m *Manager) stopCollector() {
	m.session.SetStreaming(false)
	m.mu.Lock()
	done := m.collectorDone
	m.collecting = false
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// onVoiceStopped submits the collected utterance: to the remote client in
// realtime mode, or to runBatchTurn in batch mode. Ignored when no conversation is in progress, matching
// realtime_consumer.py's on_voice_stopped guard.
func (m *Manager) onVoiceStopped(payload interface{}) {
	if !m.session.InConversation() {
		return
	}
	m.stopCollector()

	pcm := m.session.TakeCollected()
	if len(pcm) == 0 {
		m.logger.Warn("session manager: voice stopped with nothing collected")
		m.session.SetInConversation(false)
		return
	}

	m.mu.Lock()
	m.submittedAt = time.Now()
	m.lastUserAudio = pcm
	gen := m.generation
	m.mu.Unlock()

	if m.mode == modeBatch {
		m.session.SetResponseActive(true, "")
		go m.runBatchTurn(gen, pcm)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.remote.SendCompleteUtterance(ctx, pcm); err != nil {
		m.logger.Error("session manager: submit utterance failed", "error", err)
		m.bus.Publish(TopicSessionError, err.Error())
		m.session.SetInConversation(false)
		return
	}
	m.session.SetResponseActive(true, "")
}

// runBatchTurn drives one fallback-provider turn outside the bus-dispatch
// goroutine, then finalizes it the way onResponseDone finalizes a realtime
// turn. gen pins this call to the generation active when the utterance was
// submitted: if a hotword interrupts and bumps the generation before this
// turn finishes, its final session-state update is skipped so it does not
// end the turn that superseded it. Audio and the reply that ProcessBatchTurn
// already sent to the player and the bus are not withdrawn.
func (m *Manager) runBatchTurn(gen int64, pcm []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := m.ProcessBatchTurn(ctx, pcm, m.batchSTT, m.batchLLM, m.batchTTS, m.batchLang, m.batchVoice)

	m.mu.Lock()
	stale := gen != m.generation
	m.mu.Unlock()
	if stale {
		return
	}

	m.session.SetResponseActive(false, "")
	if err != nil {
		m.session.SetInConversation(false)
		return
	}
	m.session.SetInConversation(false)
}

func (m *Manager) onAudioDelta(chunk []byte) {
	m.mu.Lock()
	if m.firstAudioAt.IsZero() {
		m.firstAudioAt = time.Now()
	}
	m.mu.Unlock()

	if err := m.player.Play(chunk); err != nil {
		m.logger.Error("session manager: speaker play failed", "error", err)
	}
	m.bus.Publish(TopicResponseAudio, chunk)
}

func (m *Manager) onTranscriptDelta(text string) {
	m.mu.Lock()
	m.responseText.WriteString(text)
	m.mu.Unlock()
}

// onResponseDone finalizes a turn: marks the response inactive, tells the
// speaker no more audio is coming for this turn, publishes the accumulated
// transcript as a BotResponse event, and ends the conversation so the next
// hotword starts a fresh cold start. Grounded on
// realtime_consumer.py::_on_response_done, which likewise clears state and
// flips in_conversation False without waiting for the speaker to finish
// draining its queue.
func (m *Manager) onResponseDone() {
	m.session.SetResponseActive(false, "")
	m.player.MarkContentDone()

	m.mu.Lock()
	text := m.responseText.String()
	m.responseText.Reset()
	m.mu.Unlock()
	m.recordLatency()

	if text != "" {
		m.bus.Publish(TopicBotResponse, text)
	}
	m.session.SetInConversation(false)
}

// recordLatency computes the HotwordToSubmit/SubmitToFirstAudio breakdown
// for the turn that's finishing and stores it for LatencyBreakdown and
// EndToEndLatencyMillis, then resets firstAudioAt for the next turn. Shared
// by the realtime onResponseDone path and the batch ProcessBatchTurn path.
func (m *Manager) recordLatency() {
	m.mu.Lock()
	defer m.mu.Unlock()
	latency := Latency{}
	if !m.hotwordAt.IsZero() && !m.submittedAt.IsZero() {
		latency.HotwordToSubmit = m.submittedAt.Sub(m.hotwordAt)
	}
	if !m.submittedAt.IsZero() && !m.firstAudioAt.IsZero() {
		latency.SubmitToFirstAudio = m.firstAudioAt.Sub(m.submittedAt)
	}
	m.lastLatency = latency
	m.firstAudioAt = time.Time{}
}

// onError relays remote-client errors to the bus, except the narrow set of
// expected races original_source's Python treats as non-critical.
func (m *Manager) onError(msg string) {
	lower := strings.ToLower(msg)
	for _, substr := range nonCriticalErrorSubstrings {
		if strings.Contains(lower, substr) {
			m.logger.Debug("session manager: non-critical remote error", "error", msg)
			return
		}
	}
	m.logger.Error("session manager: remote error", "error", msg)
	m.bus.Publish(TopicSessionError, msg)
}

// LatencyBreakdown returns the most recently completed turn's timing, a
// supplemented feature grounded on
// ManagedStream.GetLatencyBreakdown.
func (m *Manager) LatencyBreakdown() Latency {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLatency
}

// EndToEndLatencyMillis sums the last turn's latency segments.
func (m *Manager) EndToEndLatencyMillis() int64 {
	l := m.LatencyBreakdown()
	return (l.HotwordToSubmit + l.SubmitToFirstAudio).Milliseconds()
}

// ExportLastUserAudio returns a copy of the PCM16 audio submitted for the
// most recently completed turn, for on-disk inspection via
// pkg/audio.NewWavBuffer.
func (m *Manager) ExportLastUserAudio() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.lastUserAudio))
	copy(out, m.lastUserAudio)
	return out
}

// Generation exposes the current interruption generation counter, useful
// for tests asserting a restart occurred.
func (m *Manager) Generation() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// ProcessBatchTurn runs one turn through the fallback STT/LLM/TTS pipeline
// instead of the realtime websocket client, for deployments that swap
// pkg/remoteai for classic per-provider APIs (pkg/providers/{stt,llm,tts}).
// A transcript shorter than cfg.MinWordsToInterrupt words is treated as
// noise and dropped without reaching the LLM, mirroring an
// orphaned MinWordsToInterrupt config field. Audio is streamed to the
// player chunk-by-chunk as TTS produces it, then MarkContentDone closes
// the turn the same way onResponseDone does for the realtime path.
func (m *Manager) ProcessBatchTurn(ctx context.Context, pcm []byte, stt providers.STTProvider, llm providers.LLMProvider, tts providers.TTSProvider, lang providers.Language, voice providers.Voice) error {
	transcript, err := stt.Transcribe(ctx, pcm, lang)
	if err != nil {
		m.logger.Error("session manager: batch transcribe failed", "provider", stt.Name(), "error", err)
		m.bus.Publish(TopicSessionError, err.Error())
		return err
	}

	if wordCount(transcript) < m.cfg.MinWordsToInterrupt {
		m.logger.Debug("session manager: batch transcript below word threshold, dropping", "transcript", transcript)
		return nil
	}

	m.history.add("user", transcript)
	reply, err := llm.Complete(ctx, m.history.Snapshot())
	if err != nil {
		m.logger.Error("session manager: batch completion failed", "provider", llm.Name(), "error", err)
		m.bus.Publish(TopicSessionError, err.Error())
		return err
	}
	m.history.add("assistant", reply)

	err = tts.StreamSynthesize(ctx, reply, voice, lang, func(chunk []byte) error {
		m.mu.Lock()
		if m.firstAudioAt.IsZero() {
			m.firstAudioAt = time.Now()
		}
		m.mu.Unlock()
		if err := m.player.Play(chunk); err != nil {
			return err
		}
		m.bus.Publish(TopicResponseAudio, chunk)
		return nil
	})
	m.player.MarkContentDone()
	if err != nil {
		m.logger.Error("session manager: batch synthesis failed", "provider", tts.Name(), "error", err)
		m.bus.Publish(TopicSessionError, err.Error())
		return err
	}

	m.recordLatency()
	m.bus.Publish(TopicBotResponse, reply)
	return nil
}

// ConversationHistory exposes the rolling chat-context window
// ProcessBatchTurn reads from and appends to, so callers can seed a system
// prompt or reset context between unrelated conversations.
func (m *Manager) ConversationHistory() *ConversationHistory {
	return m.history
}

// wordCount is a whitespace split, matching a simple
// MinWordsToInterrupt comparison rather than a locale-aware tokenizer.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

// Close tears the manager down idempotently: unsubscribes from the bus and
// closes the remote client.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.session.SetStreaming(false)
		m.hotwordSub.Unsubscribe()
		m.voiceSub.Unsubscribe()
		if m.remote != nil {
			err = m.remote.Close()
		}
	})
	return err
}
