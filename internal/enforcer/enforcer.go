// Package enforcer decides the terminal state of a dispatched domain
// against the required-response threshold.
package enforcer

import (
	"context"
	"fmt"

	"domain-crawl/internal/logging"
	"domain-crawl/internal/repository"
	"domain-crawl/internal/telemetry"
	"domain-crawl/pkg/models"
)

// Decision is the outcome of one reconciliation.
type Decision string

const (
	DecisionCompleted Decision = "completed"
	DecisionRequeued  Decision = "requeued"
	DecisionFailed    Decision = "failed"
)

// Enforcer aggregates persisted responses for a domain and transitions it.
type Enforcer struct {
	store         repository.DomainStore
	requiredCount int
	maxRetries    int
	logger        *logging.Logger
	metrics       *telemetry.Metrics
}

// New creates an enforcer. requiredCount is the full provider×prompt
// cross-product; maxRetries bounds the claimed→pending cycles.
func New(store repository.DomainStore, requiredCount, maxRetries int, logger *logging.Logger, metrics *telemetry.Metrics) *Enforcer {
	return &Enforcer{
		store:         store,
		requiredCount: requiredCount,
		maxRetries:    maxRetries,
		logger:        logger,
		metrics:       metrics,
	}
}

// Reconcile re-queries the distinct (provider, prompt_type) pairs persisted
// for the domain and transitions it:
//
//	distinct == required                     -> completed
//	distinct < required, retries remain      -> pending (retry_count+1)
//	distinct < required, retries exhausted   -> failed
//
// The persisted state is consulted instead of the in-memory outcome batch so
// that credit from a prior partial attempt is preserved and a crash between
// persistence and state-write cannot under- or over-count. Completion means
// exactly "threshold met", never "best effort". A store error aborts the
// reconciliation and leaves the domain claimed for staleness-based reclaim.
func (e *Enforcer) Reconcile(ctx context.Context, domain *models.Domain, outcomes []models.Outcome) (Decision, error) {
	distinct, err := e.store.CountDistinctPairs(ctx, domain.ID)
	if err != nil {
		return "", fmt.Errorf("failed to re-query persisted responses: %w", err)
	}

	if distinct >= e.requiredCount {
		if err := e.store.MarkCompleted(ctx, domain.ID); err != nil {
			return "", err
		}
		if e.metrics != nil {
			e.metrics.DomainsCompleted.Inc()
		}
		e.logger.Info("domain completed",
			"domain", domain.Name, "distinct_pairs", distinct, "required", e.requiredCount)
		return DecisionCompleted, nil
	}

	failures := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failures++
		}
	}

	if domain.RetryCount >= e.maxRetries {
		if err := e.store.MarkFailed(ctx, domain.ID); err != nil {
			return "", err
		}
		if e.metrics != nil {
			e.metrics.DomainsFailed.Inc()
		}
		e.logger.Error("domain failed permanently",
			"domain", domain.Name, "distinct_pairs", distinct,
			"required", e.requiredCount, "retry_count", domain.RetryCount)
		return DecisionFailed, nil
	}

	if err := e.store.Requeue(ctx, domain.ID); err != nil {
		return "", err
	}
	if e.metrics != nil {
		e.metrics.DomainsRequeued.Inc()
	}
	e.logger.Warn("domain incomplete, requeued",
		"domain", domain.Name, "distinct_pairs", distinct,
		"required", e.requiredCount, "batch_failures", failures,
		"retry_count", domain.RetryCount+1, "max_retries", e.maxRetries)
	return DecisionRequeued, nil
}
