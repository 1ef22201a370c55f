package session

import (
	"sync"

	"github.com/kestrelvox/voxcore/pkg/providers"
)

// ConversationHistory is a bounded rolling window of chat turns shared
// across ProcessBatchTurn calls on the same Manager, so the fallback
// STT/LLM/TTS pipeline answers with context instead of treating every
// utterance as a one-shot message. Grounded on
// ConversationSession.AddMessage's truncation pattern (pkg/orchestrator/types.go),
// trimmed to just the rolling-context piece the batch path needs — voice
// and language selection already live in ManagerConfig/ProcessBatchTurn's
// arguments.
type ConversationHistory struct {
	mu            sync.Mutex
	messages      []providers.Message
	maxMessages   int
	lastUser      string
	lastAssistant string
}

// NewConversationHistory builds a history capped at maxMessages turns.
// maxMessages <= 0 falls back to 20, the conventional default.
func NewConversationHistory(maxMessages int) *ConversationHistory {
	if maxMessages <= 0 {
		maxMessages = 20
	}
	return &ConversationHistory{maxMessages: maxMessages}
}

// SetSystemPrompt inserts or replaces the leading system message.
func (h *ConversationHistory) SetSystemPrompt(prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) > 0 && h.messages[0].Role == "system" {
		h.messages[0].Content = prompt
		return
	}
	h.messages = append([]providers.Message{{Role: "system", Content: prompt}}, h.messages...)
}

func (h *ConversationHistory) add(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, providers.Message{Role: role, Content: content})
	if len(h.messages) > h.maxMessages {
		h.messages = h.messages[len(h.messages)-h.maxMessages:]
	}
	switch role {
	case "user":
		h.lastUser = content
	case "assistant":
		h.lastAssistant = content
	}
}

// Snapshot returns a copy of the current message window, suitable to pass
// directly to an providers.LLMProvider.Complete call.
func (h *ConversationHistory) Snapshot() []providers.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]providers.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// LastTurn returns the most recent user and assistant messages.
func (h *ConversationHistory) LastTurn() (user, assistant string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUser, h.lastAssistant
}

// Reset clears everything but a leading system prompt, if one is set.
func (h *ConversationHistory) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) > 0 && h.messages[0].Role == "system" {
		h.messages = h.messages[:1]
	} else {
		h.messages = nil
	}
	h.lastUser = ""
	h.lastAssistant = ""
}
