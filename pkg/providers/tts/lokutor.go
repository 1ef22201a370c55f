package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/kestrelvox/voxcore/pkg/providers"
)

// LokutorTTS streams synthesized speech over a single persistent websocket
// connection, reconnecting lazily on the next call after any read/write
// failure.
type LokutorTTS struct {
	apiKey string
	host   string
	scheme string
	speed  float64
	logger providers.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewLokutorTTS(apiKey string) *LokutorTTS {
	return &LokutorTTS{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		scheme: "wss",
		speed:  1.05,
		logger: providers.NoOpLogger{},
	}
}

// SetLogger wires a structured logger; nil restores the no-op default.
func (t *LokutorTTS) SetLogger(logger providers.Logger) {
	t.logger = providers.OrDefault(logger)
}

// SetSpeed overrides the playback speed sent with every synthesis request.
func (t *LokutorTTS) SetSpeed(speed float64) {
	t.speed = speed
}

func (t *LokutorTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		t.logger.Error("lokutor tts: dial failed", "error", err)
		return nil, fmt.Errorf("failed to connect to lokutor: %w", err)
	}

	t.logger.Info("lokutor tts: connected", "host", t.host)
	t.conn = conn
	return conn, nil
}

func (t *LokutorTTS) Synthesize(ctx context.Context, text string, voice providers.Voice, lang providers.Language) ([]byte, error) {
	var audio []byte
	err := t.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

func (t *LokutorTTS) StreamSynthesize(ctx context.Context, text string, voice providers.Voice, lang providers.Language, onChunk func([]byte) error) error {
	if text == "" {
		return nil
	}

	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	req := map[string]interface{}{
		"text":    text,
		"voice":   string(voice),
		"lang":    string(lang),
		"speed":   t.speed,
		"steps":   5,
		"version": "versa-1.0",
	}

	t.logger.Debug("lokutor tts: synthesizing", "chars", len(text), "voice", voice, "lang", lang)

	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("failed to read from lokutor: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("lokutor error: %s", msg)
			}
		}
	}
}

func (t *LokutorTTS) Name() string {
	return "lokutor"
}

func (t *LokutorTTS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
