package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/kestrelvox/voxcore/internal/config"
	"github.com/kestrelvox/voxcore/internal/logging"
	"github.com/kestrelvox/voxcore/pkg/engine"
	"github.com/kestrelvox/voxcore/pkg/eventbus"
	"github.com/kestrelvox/voxcore/pkg/providers"
	llmProvider "github.com/kestrelvox/voxcore/pkg/providers/llm"
	sttProvider "github.com/kestrelvox/voxcore/pkg/providers/stt"
	ttsProvider "github.com/kestrelvox/voxcore/pkg/providers/tts"
	"github.com/kestrelvox/voxcore/pkg/remoteai"
	"github.com/kestrelvox/voxcore/pkg/session"
	"github.com/kestrelvox/voxcore/pkg/speaker"
)

const hotwordQueueCapacity = 8
const utteranceQueueCapacity = 200

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using system environment variables")
	}

	cfg := config.DefaultConfig()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	logger := logging.New(cfg.LogLevel)

	cfg.CaptureDevice = os.Getenv("CAPTURE_DEVICE")
	cfg.PlaybackDevice = os.Getenv("PLAYBACK_DEVICE")
	cfg.RemoteURL = os.Getenv("REALTIME_URL")
	cfg.RemoteAPIKey = os.Getenv("REALTIME_API_KEY")
	cfg.FallbackProviders = os.Getenv("FALLBACK_PROVIDERS") == "1"
	if v := os.Getenv("HOTWORD_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HotwordThreshold = f
		}
	}

	lang := providers.Language(os.Getenv("AGENT_LANGUAGE"))
	if lang == "" {
		lang = providers.LanguageEn
	}
	voice := providers.Voice(os.Getenv("AGENT_VOICE"))
	if voice == "" {
		voice = providers.VoiceF1
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatalf("audio context: %v", err)
	}
	defer mctx.Uninit()

	bus := eventbus.New(8, logger)
	defer bus.Close()

	broadcaster := engine.NewBroadcaster(logger)
	hotwordQueue := broadcaster.RegisterQueue(engine.PolicySkipAhead, hotwordQueueCapacity)
	utteranceQueue := broadcaster.RegisterQueue(engine.PolicyFIFO, utteranceQueueCapacity)

	echoGuard := engine.NewEchoGuard(cfg.SampleRate)
	vadTracker := engine.NewVoiceActivityTracker(engine.NewRMSVAD(cfg.VADAggressiveness), cfg.SampleRate, cfg.SilenceThresholdFrm)

	audioSource := engine.NewAudioSource(mctx, cfg.CaptureDevice, cfg.SampleRate, cfg.FrameSamples, logger)

	onFrame := func(frame []byte) {
		cleaned := frame
		if echoGuard.IsEcho(frame) {
			cleaned = echoGuard.RemoveEchoRealtime(frame)
		}
		broadcaster.Broadcast(cleaned)

		result, err := vadTracker.Process(cleaned)
		if err != nil {
			logger.Warn("main: vad process error", "error", err)
			return
		}
		switch result.Kind {
		case engine.ActivityStarted:
			bus.Publish(session.TopicVoiceStarted, session.VoiceActivityEvent{Timestamp: result.At, Kind: result.Kind})
		case engine.ActivityStopped:
			bus.Publish(session.TopicVoiceStopped, session.VoiceActivityEvent{Timestamp: result.At, Kind: result.Kind, Duration: result.Duration})
		}
	}

	var detector engine.HotwordDetector
	if modelDir := os.Getenv("HOTWORD_MODEL_DIR"); modelDir != "" {
		detector = engine.NewONNXHotwordDetector(engine.ONNXModelPaths{
			OnnxRuntimeLib: os.Getenv("ONNXRUNTIME_LIB"),
			MelspecModel:   modelDir + "/melspectrogram.onnx",
			EmbeddingModel: modelDir + "/embedding_model.onnx",
			Wakewords: map[string]string{
				envOr("HOTWORD_NAME", "hey_vox"): modelDir + "/" + envOr("HOTWORD_NAME", "hey_vox") + ".onnx",
			},
		})
	} else {
		logger.Warn("main: HOTWORD_MODEL_DIR not set, using a scripted test scorer that never fires")
		detector = engine.NewNullScorer(envOr("HOTWORD_NAME", "hey_vox"))
	}

	detectionLoop := engine.NewDetectionLoop(hotwordQueue, detector, bus,
		cfg.HotwordThreshold, time.Duration(cfg.HotwordCooldownMS)*time.Millisecond,
		utteranceQueue.Len, logger)

	speakerSvc := speaker.New(mctx, cfg.PlaybackDevice, cfg.SpeakerSampleRate, cfg.SpeakerBufferFrames, bus, echoGuard, logger)
	if err := speakerSvc.Start(); err != nil {
		log.Fatalf("speaker: %v", err)
	}
	defer speakerSvc.Stop()

	mgrCfg := session.ManagerConfig{
		UtteranceReadTimeout: time.Duration(cfg.SilenceTimeoutMS) * time.Millisecond,
		ConnectTimeout:       5 * time.Second,
		MinWordsToInterrupt:  cfg.MinWordsToInterrupt,
	}

	var manager *session.Manager
	if cfg.FallbackProviders {
		manager = session.NewBatchManager(bus, utteranceQueue, speakerSvc, buildSTT(logger), buildLLM(logger), buildTTS(logger), lang, voice, mgrCfg, logger)
	} else {
		rcfg := remoteai.DefaultClientConfig()
		rcfg.URL = cfg.RemoteURL
		rcfg.APIKey = cfg.RemoteAPIKey
		rcfg.Voice = string(voice)
		rcfg.ConnectRetries = cfg.ConnectRetries
		rcfg.ConnectRetryWait = time.Duration(cfg.ConnectRetryWaitMS) * time.Millisecond
		rcfg.PingInterval = time.Duration(cfg.PingIntervalSec) * time.Second
		rcfg.PingTimeout = time.Duration(cfg.PingTimeoutSec) * time.Second
		remote := remoteai.NewClient(rcfg, logger)
		manager = session.NewManager(bus, utteranceQueue, speakerSvc, remote, mgrCfg, logger)
	}
	defer manager.Close()

	logBotResponses(bus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go detectionLoop.Run(ctx)

	if err := audioSource.Start(onFrame); err != nil {
		log.Fatalf("audio source: %v", err)
	}
	defer audioSource.Stop()

	fmt.Printf("voice agent started (sample_rate=%dHz frame=%d samples language=%s)\n", cfg.SampleRate, cfg.FrameSamples, lang)
	fmt.Println("press ctrl+c to exit")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nshutting down...")
}

// buildSTT, buildLLM and buildTTS construct the fallback batch providers
// used when FallbackProviders is set, each wired with the structured
// logger so they report through the same sinks as the rest of the agent.
func buildSTT(logger providers.Logger) providers.STTProvider {
	stt := sttProvider.NewGroqSTT(os.Getenv("GROQ_API_KEY"), envOr("GROQ_STT_MODEL", "whisper-large-v3-turbo"))
	stt.SetLogger(logger)
	return stt
}

func buildLLM(logger providers.Logger) providers.LLMProvider {
	llm := llmProvider.NewGroqLLM(os.Getenv("GROQ_API_KEY"), envOr("GROQ_LLM_MODEL", "llama-3.3-70b-versatile"))
	llm.SetLogger(logger)
	return llm
}

func buildTTS(logger providers.Logger) providers.TTSProvider {
	tts := ttsProvider.NewLokutorTTS(os.Getenv("LOKUTOR_API_KEY"))
	tts.SetLogger(logger)
	return tts
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// logBotResponses subscribes a plain stdout printer onto the response-text
// topic, standing in for a richer CLI/UI event consumer wired directly into
// main; kept out of session.Manager itself because
// arbitrary numbers of subscribers (a UI, a logger, an LED controller) can
// all watch the same bus topic independently.
func logBotResponses(bus *eventbus.Bus, logger session.Logger) {
	bus.Subscribe(session.TopicBotResponse, func(payload interface{}) {
		if text, ok := payload.(string); ok {
			fmt.Printf("\n[assistant] %s\n", text)
		}
	})
	bus.Subscribe(session.TopicSessionError, func(payload interface{}) {
		logger.Error("main: session error", "detail", payload)
	})
	bus.Subscribe(session.TopicInterrupted, func(payload interface{}) {
		logger.Info("main: conversation interrupted", "session_id", payload)
	})
}
