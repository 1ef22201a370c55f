package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/kestrelvox/voxcore/pkg/audio"
	"github.com/kestrelvox/voxcore/pkg/providers"
)

// groqDefaultSampleRate matches engine.DefaultSampleRate: the fallback path
// transcribes whatever the capture pipeline handed it, which runs at 16kHz
// unless a caller overrides it with SetSampleRate.
const groqDefaultSampleRate = 16000

// GroqSTT transcribes a collected utterance through Groq's OpenAI-compatible
// audio/transcriptions endpoint, wrapping the raw PCM16 in a WAV container
// since that endpoint requires a recognizable audio file, not a bare stream.
type GroqSTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
	logger     providers.Logger
	httpClient *http.Client
}

func NewGroqSTT(apiKey string, model string) *GroqSTT {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqSTT{
		apiKey:     apiKey,
		url:        "https://api.groq.com/openai/v1/audio/transcriptions",
		model:      model,
		sampleRate: groqDefaultSampleRate,
		logger:     providers.NoOpLogger{},
		httpClient: http.DefaultClient,
	}
}

// SetSampleRate overrides the rate written into the WAV header handed to
// Groq. Callers whose capture pipeline doesn't run at groqDefaultSampleRate
// must set this or transcription quality degrades silently.
func (s *GroqSTT) SetSampleRate(rate int) {
	s.sampleRate = rate
}

// SetLogger wires a structured logger; nil restores the no-op default.
func (s *GroqSTT) SetLogger(logger providers.Logger) {
	s.logger = providers.OrDefault(logger)
}

func (s *GroqSTT) Transcribe(ctx context.Context, audioPCM []byte, lang providers.Language) (string, error) {
	if len(audioPCM) == 0 {
		return "", fmt.Errorf("groq stt: empty audio")
	}
	wavData := audio.NewMonoPCM16WavBuffer(audioPCM, s.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return "", err
	}

	if lang != "" {
		if err := writer.WriteField("language", string(lang)); err != nil {
			return "", err
		}
	}

	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", err
	}

	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, body)
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	s.logger.Debug("groq stt: transcribing", "bytes", len(audioPCM), "sample_rate", s.sampleRate, "lang", lang)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("groq stt: request failed", "error", err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		s.logger.Error("groq stt: non-200 response", "status", resp.StatusCode, "body", errResp)
		return "", fmt.Errorf("groq stt error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Text, nil
}

func (s *GroqSTT) Name() string {
	return "groq-stt"
}
