// Package models defines the domain models for the crawl orchestration service.
package models

import (
	"strings"
	"time"
)

// DomainStatus represents the lifecycle state of a domain in the crawl backlog.
type DomainStatus string

const (
	StatusPending   DomainStatus = "pending"
	StatusClaimed   DomainStatus = "claimed"
	StatusCompleted DomainStatus = "completed"
	StatusFailed    DomainStatus = "failed"
)

// Domain is one unit of work: a named subject moving through
// claim/dispatch/completion states.
type Domain struct {
	ID              string       `json:"id" db:"id"`
	Name            string       `json:"domain" db:"domain"`
	Status          DomainStatus `json:"status" db:"status"`
	Source          string       `json:"source,omitempty" db:"source"`
	RetryCount      int          `json:"retry_count" db:"retry_count"`
	LastClaimedAt   *time.Time   `json:"last_claimed_at,omitempty" db:"last_claimed_at"`
	LastCompletedAt *time.Time   `json:"last_completed_at,omitempty" db:"last_completed_at"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// WireFormat identifies the request/response shape a provider speaks.
type WireFormat string

const (
	// FormatChat is the OpenAI-compatible chat completions shape, shared by
	// openai, deepseek, mistral, xai, together, groq and perplexity.
	FormatChat WireFormat = "generic-chat"
	// FormatMessage is the Anthropic messages shape.
	FormatMessage WireFormat = "structured-message"
	// FormatGenerate is the Google generateContent shape.
	FormatGenerate WireFormat = "single-shot-generate"
)

// Credential is one API key for a provider. Last-used bookkeeping lives in
// the rotator; credentials are reloaded from configuration at startup.
type Credential struct {
	Provider string
	Key      string
}

// Provider describes one external text-generation service in the panel.
type Provider struct {
	Name        string
	Format      WireFormat
	Model       string
	BaseURL     string
	Credentials []Credential
	// MinInterval is the minimum spacing between two calls on the same
	// credential, derived from the provider's published rate limit.
	MinInterval time.Duration
}

// Active reports whether the provider has at least one usable credential.
func (p *Provider) Active() bool {
	return len(p.Credentials) > 0
}

// PromptSpec is one analysis angle: a prompt-type tag plus a template with a
// {domain} placeholder. Immutable for the lifetime of a run.
type PromptSpec struct {
	Type     string
	Template string
}

// Render substitutes the subject name into the template.
func (p PromptSpec) Render(domain string) string {
	return strings.ReplaceAll(p.Template, "{domain}", domain)
}

// ResponseRecord is one persisted provider answer. Append-only; duplicates
// are tolerated and deduplicated logically by distinct (provider, prompt_type)
// counting.
type ResponseRecord struct {
	ID         string    `json:"id" db:"id"`
	DomainID   string    `json:"domain_id" db:"domain_id"`
	Provider   string    `json:"provider" db:"provider"`
	Model      string    `json:"model" db:"model"`
	PromptType string    `json:"prompt_type" db:"prompt_type"`
	Content    string    `json:"content" db:"content"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Outcome is the result of one (provider, prompt_type) call during a
// dispatch. Err is nil on success.
type Outcome struct {
	Provider   string
	PromptType string
	Err        error
}

// StatusCounts is the read-only backlog summary exposed to operators.
type StatusCounts struct {
	Pending   int64 `json:"pending"`
	Claimed   int64 `json:"claimed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Responses int64 `json:"responses"`
}
