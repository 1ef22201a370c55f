// Package config defines the engine's configuration struct and a small YAML
// loading helper. Reading configuration from disk, flags or environment
// variables end-to-end is a CLI concern and out of scope here; this package
// only gives an external loader a typed target to unmarshal into.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the engine's components need at construction
// time. It is passed in explicitly — nothing in pkg/engine, pkg/session,
// pkg/remoteai or pkg/speaker reads it from a package-level global.
type Config struct {
	// Audio capture/playback
	SampleRate    int    `yaml:"sample_rate"`
	FrameSamples  int    `yaml:"frame_samples"`
	CaptureDevice string `yaml:"capture_device"`
	PlaybackDevice string `yaml:"playback_device"`

	// Voice activity detection
	VADAggressiveness   int `yaml:"vad_aggressiveness"`
	SilenceThresholdFrm int `yaml:"silence_threshold_frames"`

	// Hotword detection
	HotwordThreshold float64 `yaml:"hotword_threshold"`
	HotwordCooldownMS int    `yaml:"hotword_cooldown_ms"`

	// Session / barge-in
	MinWordsToInterrupt int `yaml:"min_words_to_interrupt"`

	// Remote AI connection
	RemoteURL        string `yaml:"remote_url"`
	RemoteAPIKey     string `yaml:"remote_api_key"`
	ConnectRetries   int    `yaml:"connect_retries"`
	ConnectRetryWaitMS int  `yaml:"connect_retry_wait_ms"`
	PingIntervalSec  int    `yaml:"ping_interval_sec"`
	PingTimeoutSec   int    `yaml:"ping_timeout_sec"`

	// Speaker playback
	SpeakerSampleRate  int `yaml:"speaker_sample_rate"`
	SpeakerBufferFrames int `yaml:"speaker_buffer_frames"`
	SilenceTimeoutMS   int `yaml:"silence_timeout_ms"`

	// Fallback batch-mode providers (STT/LLM/TTS), used only when
	// FallbackProviders is true instead of the realtime websocket client.
	FallbackProviders bool   `yaml:"fallback_providers"`
	LogLevel          string `yaml:"log_level"`
}

// DefaultConfig mirrors orchestrator.DefaultConfig()'s shape, adapted
// to this engine's field set and this package's documented defaults (80ms
// frames at 16kHz, 15-frame/~1.2s silence threshold, 2s hotword cooldown).
func DefaultConfig() Config {
	return Config{
		SampleRate:          16000,
		FrameSamples:        1280,
		VADAggressiveness:   2,
		SilenceThresholdFrm: 15,
		HotwordThreshold:    0.5,
		HotwordCooldownMS:   2000,
		MinWordsToInterrupt: 2,
		ConnectRetries:      3,
		ConnectRetryWaitMS:  1000,
		PingIntervalSec:     20,
		PingTimeoutSec:      10,
		SpeakerSampleRate:   24000,
		SpeakerBufferFrames: 1024,
		SilenceTimeoutMS:    500,
		LogLevel:            "info",
	}
}

// LoadYAML unmarshals cfg on top of DefaultConfig so a partial document only
// overrides the fields it sets.
func LoadYAML(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing yaml: %w", err)
	}
	return cfg, nil
}
