// Package providers normalizes the panel's heterogeneous wire formats into
// one call contract. Each wire format gets its own adapter type, selected
// once at configuration load, never per call.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"domain-crawl/pkg/models"
)

// Adapter issues one prompt to one provider using one credential and returns
// the extracted text content. Any non-success status or a body without
// extractable content comes back as a *CallError.
type Adapter interface {
	Call(ctx context.Context, key, prompt string) (string, error)
}

// NewAdapter selects the adapter for a provider's wire format.
func NewAdapter(p *models.Provider, client *http.Client) (Adapter, error) {
	if client == nil {
		client = defaultClient()
	}
	switch p.Format {
	case models.FormatChat:
		return &chatAdapter{name: p.Name, baseURL: p.BaseURL, model: p.Model, client: client}, nil
	case models.FormatMessage:
		return &messageAdapter{name: p.Name, baseURL: p.BaseURL, model: p.Model, client: client}, nil
	case models.FormatGenerate:
		return &generateAdapter{name: p.Name, baseURL: p.BaseURL, model: p.Model, client: client}, nil
	default:
		return nil, fmt.Errorf("providers: unknown wire format %q for %s", p.Format, p.Name)
	}
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     120 * time.Second,
		},
	}
}

// wrapTransportError converts a transport-level failure into a typed
// CallError, distinguishing deadline expiry from other transport problems.
func wrapTransportError(provider string, err error) *CallError {
	kind := KindRejected
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &CallError{Provider: provider, Kind: kind, Err: err}
}

const (
	maxTokens   = 500
	temperature = 0.7
)
