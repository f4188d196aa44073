package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const anthropicVersion = "2023-06-01"

// messageAdapter speaks the Anthropic messages shape.
type messageAdapter struct {
	name    string
	baseURL string
	model   string
	client  *http.Client
}

type messageRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type messageResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (a *messageAdapter) Call(ctx context.Context, key, prompt string) (string, error) {
	body, err := json.Marshal(messageRequest{
		Model:     a.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", wrapTransportError(a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &CallError{
			Provider: a.name,
			Kind:     KindRejected,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("api error: %s", string(detail)),
		}
	}

	var parsed messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &CallError{Provider: a.name, Kind: KindMalformed, Err: err}
	}
	if len(parsed.Content) == 0 || parsed.Content[0].Text == "" {
		return "", &CallError{
			Provider: a.name,
			Kind:     KindMalformed,
			Err:      fmt.Errorf("response has no text content"),
		}
	}
	return parsed.Content[0].Text, nil
}
