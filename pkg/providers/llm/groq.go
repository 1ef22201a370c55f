package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kestrelvox/voxcore/pkg/providers"
)

// GroqLLM talks to Groq's OpenAI-compatible chat completions endpoint.
type GroqLLM struct {
	apiKey     string
	url        string
	model      string
	logger     providers.Logger
	httpClient *http.Client
}

func NewGroqLLM(apiKey string, model string) *GroqLLM {
	if model == "" {
		model = "llama3-70b-8192"
	}
	return &GroqLLM{
		apiKey:     apiKey,
		url:        "https://api.groq.com/openai/v1/chat/completions",
		model:      model,
		logger:     providers.NoOpLogger{},
		httpClient: http.DefaultClient,
	}
}

// SetLogger wires a structured logger; nil restores the no-op default.
func (l *GroqLLM) SetLogger(logger providers.Logger) {
	l.logger = providers.OrDefault(logger)
}

func (l *GroqLLM) Complete(ctx context.Context, messages []providers.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("groq llm: no messages to complete")
	}

	payload := map[string]interface{}{
		"model":    l.model,
		"messages": messages,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	l.logger.Debug("groq llm: completing", "messages", len(messages), "model", l.model)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		l.logger.Error("groq llm: request failed", "error", err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		l.logger.Error("groq llm: non-200 response", "status", resp.StatusCode, "body", errResp)
		return "", fmt.Errorf("groq llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("groq llm: no choices returned")
	}

	return result.Choices[0].Message.Content, nil
}

func (l *GroqLLM) Name() string {
	return "groq-llm"
}
