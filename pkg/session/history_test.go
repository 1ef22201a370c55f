package session

import "testing"

func TestConversationHistoryTruncatesToMax(t *testing.T) {
	h := NewConversationHistory(2)
	h.add("user", "one")
	h.add("assistant", "two")
	h.add("user", "three")

	snap := h.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected truncation to 2 messages, got %d", len(snap))
	}
	if snap[0].Content != "two" || snap[1].Content != "three" {
		t.Fatalf("expected the oldest message to be dropped, got %+v", snap)
	}
}

func TestConversationHistorySystemPromptSurvivesReset(t *testing.T) {
	h := NewConversationHistory(5)
	h.SetSystemPrompt("be terse")
	h.add("user", "hi")
	h.add("assistant", "hello")
	h.Reset()

	snap := h.Snapshot()
	if len(snap) != 1 || snap[0].Role != "system" || snap[0].Content != "be terse" {
		t.Fatalf("expected only the system prompt to survive reset, got %+v", snap)
	}
	user, assistant := h.LastTurn()
	if user != "" || assistant != "" {
		t.Fatal("expected last-turn fields cleared after reset")
	}
}

func TestConversationHistoryLastTurn(t *testing.T) {
	h := NewConversationHistory(0)
	h.add("user", "what time is it")
	h.add("assistant", "noon")
	user, assistant := h.LastTurn()
	if user != "what time is it" || assistant != "noon" {
		t.Fatalf("unexpected last turn: %q / %q", user, assistant)
	}
}
