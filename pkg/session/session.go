// Package session implements the conversational turn state machine:
// collecting an utterance after a hotword fires, submitting it to a remote
// AI connection, streaming the response back, and handling interruption.
package session

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
)

// Session holds the state of a single logical conversation turn. Grounded
// on orchestrator.ConversationSession and
// managed_stream.go's inline state fields, consolidated into named fields.
type Session struct {
	ID string

	mu             sync.Mutex
	inConversation bool
	streaming      bool
	collected      bytes.Buffer
	responseActive bool
	responseID     string
}

// New mints a Session with a fresh UUID. Callers who can't or don't want a
// UUID supply their own ID through NewWithID.
func New() *Session {
	return &Session{ID: uuid.NewString()}
}

// NewWithID builds a Session with a caller-supplied ID.
func NewWithID(id string) *Session {
	return &Session{ID: id}
}

func (s *Session) InConversation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inConversation
}

func (s *Session) SetInConversation(v bool) {
	s.mu.Lock()
	s.inConversation = v
	s.mu.Unlock()
}

func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

func (s *Session) SetStreaming(v bool) {
	s.mu.Lock()
	s.streaming = v
	s.mu.Unlock()
}

// AppendCollected appends pcm to the in-progress utterance buffer.
func (s *Session) AppendCollected(pcm []byte) {
	s.mu.Lock()
	s.collected.Write(pcm)
	s.mu.Unlock()
}

// TakeCollected returns a copy of the collected utterance and clears the
// buffer, ready for the next turn.
func (s *Session) TakeCollected() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.collected.Len())
	copy(out, s.collected.Bytes())
	s.collected.Reset()
	return out
}

// CollectedLen reports the current size of the in-progress utterance
// buffer without copying it.
func (s *Session) CollectedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collected.Len()
}

// ResponseActive reports whether a remote response is currently streaming,
// along with its response ID.
func (s *Session) ResponseActive() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseActive, s.responseID
}

// SetResponseActive marks a response as active (or not) with its ID.
func (s *Session) SetResponseActive(active bool, responseID string) {
	s.mu.Lock()
	s.responseActive = active
	s.responseID = responseID
	s.mu.Unlock()
}
