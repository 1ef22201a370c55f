package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/kestrelvox/voxcore/pkg/providers"
)

func TestLokutorTTS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		err = wsjson.Read(r.Context(), conn, &req)
		if err != nil {
			return
		}

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		conn.Write(r.Context(), websocket.MessageBinary, []byte{4, 5, 6})
		conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
	defer server.Close()

	tts := &LokutorTTS{
		apiKey: "test-key",
		host:   strings.TrimPrefix(server.URL, "http://"),
		scheme: "ws",
		speed:  1.05,
		logger: providers.NoOpLogger{},
	}

	var audio []byte
	err := tts.StreamSynthesize(context.Background(), "hello", providers.VoiceF1, providers.LanguageEn, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(audio) != 6 {
		t.Errorf("expected 6 bytes, got %d", len(audio))
	}

	if tts.Name() != "lokutor" {
		t.Errorf("expected lokutor, got %s", tts.Name())
	}

	tts.Close()
}

func TestNewLokutorTTSDefaultsToSecureScheme(t *testing.T) {
	tts := NewLokutorTTS("key")
	if tts.scheme != "wss" {
		t.Errorf("expected wss scheme, got %s", tts.scheme)
	}
	tts.SetLogger(nil)
	tts.SetSpeed(1.2)
	if tts.speed != 1.2 {
		t.Errorf("expected speed 1.2, got %f", tts.speed)
	}
}

func TestLokutorTTSIgnoresEmptyText(t *testing.T) {
	tts := NewLokutorTTS("key")
	if err := tts.StreamSynthesize(context.Background(), "", providers.VoiceF1, providers.LanguageEn, func([]byte) error {
		t.Fatal("onChunk should not be called for empty text")
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
