package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// generateAdapter speaks the Google generateContent shape. The key travels
// in the query string rather than a header.
type generateAdapter struct {
	name    string
	baseURL string
	model   string
	client  *http.Client
}

type generateRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generatePart struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []generatePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (a *generateAdapter) Call(ctx context.Context, key, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []generateContent{{Parts: []generatePart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	endpoint := a.baseURL + "?key=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
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

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &CallError{Provider: a.name, Kind: KindMalformed, Err: err}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 ||
		parsed.Candidates[0].Content.Parts[0].Text == "" {
		return "", &CallError{
			Provider: a.name,
			Kind:     KindMalformed,
			Err:      fmt.Errorf("response has no candidate text"),
		}
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
