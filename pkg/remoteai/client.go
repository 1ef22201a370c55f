// Package remoteai implements the websocket JSON-framed protocol adapter
// to a realtime conversational AI endpoint. Grounded on
// pkg/providers/tts/lokutor.go for the coder/websocket dial-and-read-loop
// idiom, and on original_source's services/openai_client.py
// (OpenAIRealtimeClient) for the exact message catalogue and connection
// lifecycle.
package remoteai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

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

// Outgoing message type names, matching original_source's
// services/openai_client.py exactly.
const (
	typeSessionUpdate       = "session.update"
	typeInputAudioAppend    = "input_audio_buffer.append"
	typeInputAudioCommit    = "input_audio_buffer.commit"
	typeInputAudioClear     = "input_audio_buffer.clear"
	typeConversationItemNew = "conversation.item.create"
	typeResponseCreate      = "response.create"
	typeResponseCancel      = "response.cancel"
)

// Incoming message type names.
const (
	typeSessionCreated           = "session.created"
	typeSessionUpdated           = "session.updated"
	typeResponseCreated          = "response.created"
	typeAudioDelta               = "response.output_audio.delta"
	typeAudioDone                = "response.output_audio.done"
	typeTranscriptDelta          = "response.output_audio_transcript.delta"
	typeTranscriptDone           = "response.output_audio_transcript.done"
	typeResponseDone             = "response.done"
	typeResponseCancelled        = "response.cancelled"
	typeSpeechStarted            = "input_audio_buffer.speech_started"
	typeSpeechStopped            = "input_audio_buffer.speech_stopped"
	typeInputBufferCommitted     = "input_audio_buffer.committed"
	typeInputBufferCleared       = "input_audio_buffer.cleared"
	typeConversationItemCreated  = "conversation.item.created"
	typeRateLimitsUpdated        = "rate_limits.updated"
	typeError                    = "error"
)

// ClientConfig configures a Client's connection behavior.
type ClientConfig struct {
	URL              string
	APIKey           string
	Voice            string
	ConnectRetries   int
	ConnectRetryWait time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
}

// DefaultClientConfig matches original_source's defaults (3 connect
// retries at 1s, ping every 20s with a 10s pong timeout).
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectRetries:   3,
		ConnectRetryWait: time.Second,
		PingInterval:     20 * time.Second,
		PingTimeout:      10 * time.Second,
	}
}

// Client is a persistent, framed JSON-over-websocket connection to a
// realtime conversational AI. It exposes a small callback-based surface
// matching pkg/session.RemoteClient.
type Client struct {
	cfg    ClientConfig
	logger Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	connected        bool
	hasActiveResp    bool
	activeResponseID string

	onAudioDelta      func([]byte)
	onTranscriptDelta func(string)
	onResponseDone    func()
	onError           func(string)

	cancelListen context.CancelFunc
	listenDone   chan struct{}
}

// NewClient builds a Client. Connect must be called before use.
func NewClient(cfg ClientConfig, logger Logger) *Client {
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 3
	}
	if cfg.ConnectRetryWait <= 0 {
		cfg.ConnectRetryWait = time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 10 * time.Second
	}
	return &Client{cfg: cfg, logger: orDefault(logger)}
}

// SetCallbacks wires the handlers invoked from the background listen loop.
func (c *Client) SetCallbacks(onAudioDelta func([]byte), onTranscriptDelta func(string), onResponseDone func(), onError func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAudioDelta = onAudioDelta
	c.onTranscriptDelta = onTranscriptDelta
	c.onResponseDone = onResponseDone
	c.onError = onError
}

// Connect dials the remote endpoint, retrying cfg.ConnectRetries times at
// cfg.ConnectRetryWait intervals, then sends an initial session.update and
// starts the background listen loop. Grounded on openai_client.py::connect.
func (c *Client) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.ConnectRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.ConnectRetryWait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		u, err := url.Parse(c.cfg.URL)
		if err != nil {
			return fmt.Errorf("remoteai: invalid url: %w", err)
		}

		opts := &websocket.DialOptions{}
		if c.cfg.APIKey != "" {
			opts.HTTPHeader = map[string][]string{
				"Authorization": {"Bearer " + c.cfg.APIKey},
			}
		}

		conn, _, err := websocket.Dial(ctx, u.String(), opts)
		if err != nil {
			lastErr = err
			c.logger.Warn("remoteai: connect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.mu.Unlock()

		if err := c.configureSession(ctx); err != nil {
			c.logger.Warn("remoteai: session configure failed", "error", err)
		}

		listenCtx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancelListen = cancel
		c.listenDone = make(chan struct{})
		c.mu.Unlock()
		go c.listen(listenCtx)
		go c.keepAlive(listenCtx)

		c.logger.Info("remoteai: connected")
		return nil
	}
	return fmt.Errorf("remoteai: connect failed after %d attempts: %w", c.cfg.ConnectRetries, lastErr)
}

func (c *Client) configureSession(ctx context.Context) error {
	msg := map[string]interface{}{
		"type": typeSessionUpdate,
		"session": map[string]interface{}{
			"voice": c.cfg.Voice,
		},
	}
	return c.write(ctx, msg)
}

// Connected reports whether the websocket connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) write(ctx context.Context, msg interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("remoteai: not connected")
	}
	return wsjson.Write(ctx, conn, msg)
}

// SendCompleteUtterance submits a fully-collected utterance in one shot,
// bypassing the remote's own VAD/commit flow: a conversation.item.create
// carrying the whole buffer as input_audio, immediately followed by
// response.create. Grounded on openai_client.py::send_complete_audio.
// PCM16 audio must have an even byte length; an odd trailing byte is
// truncated (matching send_audio's actual behavior, not its docstring).
func (c *Client) SendCompleteUtterance(ctx context.Context, pcm []byte) error {
	pcm = truncateOddLength(pcm)
	encoded := base64.StdEncoding.EncodeToString(pcm)

	item := map[string]interface{}{
		"type": typeConversationItemNew,
		"item": map[string]interface{}{
			"type": "message",
			"role": "user",
			"content": []map[string]interface{}{
				{"type": "input_audio", "audio": encoded},
			},
		},
	}
	if err := c.write(ctx, item); err != nil {
		return fmt.Errorf("remoteai: send utterance: %w", err)
	}

	respID := uuid.NewString()
	c.mu.Lock()
	c.hasActiveResp = true
	c.activeResponseID = respID
	c.mu.Unlock()

	return c.write(ctx, map[string]interface{}{"type": typeResponseCreate})
}

// truncateOddLength drops a dangling trailing byte so PCM16 audio always
// has an even length, matching openai_client.py::send_audio's actual
// behavior (its docstring claims padding, but the code truncates).
func truncateOddLength(pcm []byte) []byte {
	if len(pcm)%2 != 0 {
		return pcm[:len(pcm)-1]
	}
	return pcm
}

// AppendAudio streams one chunk of an in-progress utterance via
// input_audio_buffer.append. Implemented but unused by pkg/session.Manager,
// which always submits complete utterances — kept so an external caller
// preferring server-side VAD and incremental commits has the primitive
// available (SPEC_FULL §E, deliberately unused on the default path).
func (c *Client) AppendAudio(ctx context.Context, pcm []byte) error {
	encoded := base64.StdEncoding.EncodeToString(pcm)
	return c.write(ctx, map[string]interface{}{"type": typeInputAudioAppend, "audio": encoded})
}

// CommitAudio ends an input_audio_buffer.append streak, letting the remote
// server commit whatever's buffered. Not the preferred path; see AppendAudio.
func (c *Client) CommitAudio(ctx context.Context) error {
	return c.write(ctx, map[string]interface{}{"type": typeInputAudioCommit})
}

// ClearAudioBuffer discards whatever's buffered server-side via
// input_audio_buffer.clear.
func (c *Client) ClearAudioBuffer(ctx context.Context) error {
	return c.write(ctx, map[string]interface{}{"type": typeInputAudioClear})
}

// CancelResponse cancels the in-flight response if one exists. It returns
// true only if a response was actually active and a cancel was sent,
// matching openai_client.py::cancel_response's exact contract.
func (c *Client) CancelResponse(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.connected || !c.hasActiveResp {
		c.mu.Unlock()
		return false, nil
	}
	respID := c.activeResponseID
	c.hasActiveResp = false
	c.activeResponseID = ""
	c.mu.Unlock()

	msg := map[string]interface{}{"type": typeResponseCancel}
	if respID != "" {
		msg["response_id"] = respID
	}
	if err := c.write(ctx, msg); err != nil {
		return false, fmt.Errorf("remoteai: cancel response: %w", err)
	}
	return true, nil
}

func (c *Client) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.PingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Warn("remoteai: ping failed", "error", err)
			}
		}
	}
}

// listen reads frames until the connection closes or ctx is cancelled,
// dispatching each to handleMessage. Grounded on
// openai_client.py::listen/_handle_message.
func (c *Client) listen(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	done := c.listenDone
	c.mu.Unlock()
	defer close(done)

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			c.dispatchError(fmt.Sprintf("connection closed: %v", err))
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			c.logger.Warn("remoteai: malformed message", "error", err)
			continue
		}
		c.handleMessage(envelope.Type, payload)
	}
}

func (c *Client) handleMessage(msgType string, payload []byte) {
	switch msgType {
	case typeSessionCreated, typeSessionUpdated:
		c.logger.Debug("remoteai: session event", "type", msgType)
	case typeResponseCreated:
		var body struct {
			Response struct {
				ID string `json:"id"`
			} `json:"response"`
		}
		_ = json.Unmarshal(payload, &body)
		c.mu.Lock()
		c.hasActiveResp = true
		if body.Response.ID != "" {
			c.activeResponseID = body.Response.ID
		}
		c.mu.Unlock()
	case typeAudioDelta:
		var body struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(payload, &body); err == nil && body.Delta != "" {
			chunk, err := base64.StdEncoding.DecodeString(body.Delta)
			if err == nil {
				c.dispatchAudio(chunk)
			}
		}
	case typeAudioDone:
		c.logger.Debug("remoteai: audio stream done")
	case typeTranscriptDelta:
		var body struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(payload, &body); err == nil {
			c.dispatchTranscript(body.Delta)
		}
	case typeTranscriptDone:
		c.logger.Debug("remoteai: transcript done")
	case typeResponseDone, typeResponseCancelled:
		c.mu.Lock()
		c.hasActiveResp = false
		c.activeResponseID = ""
		c.mu.Unlock()
		c.dispatchDone()
	case typeSpeechStarted, typeSpeechStopped, typeInputBufferCommitted, typeInputBufferCleared:
		c.logger.Debug("remoteai: input buffer event", "type", msgType)
	case typeConversationItemCreated:
		c.logger.Debug("remoteai: conversation item created")
	case typeRateLimitsUpdated:
		c.logger.Debug("remoteai: rate limits updated")
	case typeError:
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(payload, &body)
		c.dispatchError(body.Error.Message)
	default:
		c.logger.Warn("remoteai: unknown message type", "type", msgType)
	}
}

func (c *Client) dispatchAudio(chunk []byte) {
	c.mu.Lock()
	cb := c.onAudioDelta
	c.mu.Unlock()
	if cb != nil {
		cb(chunk)
	}
}

func (c *Client) dispatchTranscript(text string) {
	c.mu.Lock()
	cb := c.onTranscriptDelta
	c.mu.Unlock()
	if cb != nil {
		cb(text)
	}
}

func (c *Client) dispatchDone() {
	c.mu.Lock()
	cb := c.onResponseDone
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) dispatchError(msg string) {
	c.mu.Lock()
	cb := c.onError
	c.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

// Close shuts the connection down, stopping the listen/keepalive loops.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancelListen
	c.connected = false
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}
