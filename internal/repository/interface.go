package repository

import (
	"context"
	"time"

	"domain-crawl/pkg/models"
)

// DomainStore is the durable store for domains, responses and state
// transitions. The atomic claim operation is the sole mutual-exclusion
// mechanism across workers.
type DomainStore interface {
	// ClaimNext atomically selects the oldest eligible pending domain (or a
	// claimed one whose claim is older than staleness, treated as abandoned),
	// transitions it to claimed and stamps last_claimed_at. An optional
	// source filter restricts eligibility to one producer's items. Returns
	// (nil, nil) when nothing is eligible; two concurrent callers never
	// receive the same domain.
	ClaimNext(ctx context.Context, sourceFilter string, staleness time.Duration) (*models.Domain, error)

	// InsertDomain enqueues a new pending domain tagged with its producer.
	InsertDomain(ctx context.Context, name, source string) (*models.Domain, error)

	// SaveResponse appends one provider response. Never mutated or deleted.
	SaveResponse(ctx context.Context, rec *models.ResponseRecord) error

	// CountDistinctPairs counts the unique (provider, prompt_type) pairs
	// with at least one persisted response for the domain.
	CountDistinctPairs(ctx context.Context, domainID string) (int, error)

	// MarkCompleted transitions a domain to completed and stamps
	// last_completed_at.
	MarkCompleted(ctx context.Context, domainID string) error

	// Requeue transitions a domain back to pending and increments its
	// retry counter.
	Requeue(ctx context.Context, domainID string) error

	// MarkFailed transitions a domain to the terminal failed state.
	MarkFailed(ctx context.Context, domainID string) error

	// StatusCounts returns backlog counts per status plus the total number
	// of stored responses, optionally filtered by source.
	StatusCounts(ctx context.Context, sourceFilter string) (*models.StatusCounts, error)

	// ResetFailed is the explicit external reset: failed domains return to
	// pending with a zeroed retry counter. Returns the number reset.
	ResetFailed(ctx context.Context, sourceFilter string) (int64, error)

	// ReleaseStale is the operator-driven staleness sweep: claimed domains
	// whose claim is older than staleness return to pending immediately
	// instead of waiting to be reclaimed. Retry counters are untouched.
	ReleaseStale(ctx context.Context, sourceFilter string, staleness time.Duration) (int64, error)
}
