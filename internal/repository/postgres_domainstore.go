package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"domain-crawl/pkg/models"
)

// PostgresDomainStore is a PostgreSQL implementation of the DomainStore
// interface.
type PostgresDomainStore struct {
	db *pgxpool.Pool
}

// NewPostgresDomainStore creates a new PostgresDomainStore.
func NewPostgresDomainStore(db *pgxpool.Pool) *PostgresDomainStore {
	return &PostgresDomainStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS domains (
	id UUID PRIMARY KEY,
	domain TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	source TEXT NOT NULL DEFAULT '',
	retry_count INT NOT NULL DEFAULT 0,
	last_claimed_at TIMESTAMPTZ,
	last_completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_domains_status_created ON domains (status, created_at);

CREATE TABLE IF NOT EXISTS responses (
	id UUID PRIMARY KEY,
	domain_id UUID NOT NULL REFERENCES domains (id),
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_type TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_responses_domain_pair ON responses (domain_id, provider, prompt_type);
`

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresDomainStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const domainColumns = `id, domain, status, source, retry_count, last_claimed_at, last_completed_at, created_at, updated_at`

func scanDomain(row pgx.Row) (*models.Domain, error) {
	var d models.Domain
	err := row.Scan(
		&d.ID, &d.Name, &d.Status, &d.Source, &d.RetryCount,
		&d.LastClaimedAt, &d.LastCompletedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ClaimNext claims the oldest eligible domain in one indivisible statement.
// FOR UPDATE SKIP LOCKED keeps concurrent claimers from blocking on rows
// another claimer is about to take.
func (s *PostgresDomainStore) ClaimNext(ctx context.Context, sourceFilter string, staleness time.Duration) (*models.Domain, error) {
	query := `
		UPDATE domains SET status = 'claimed', last_claimed_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM domains
			WHERE (status = 'pending'
				OR (status = 'claimed' AND last_claimed_at < now() - make_interval(secs => $2)))
				AND ($1 = '' OR source = $1)
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + domainColumns

	d, err := scanDomain(s.db.QueryRow(ctx, query, sourceFilter, staleness.Seconds()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim next domain: %w", err)
	}
	return d, nil
}

// InsertDomain enqueues a new pending domain.
func (s *PostgresDomainStore) InsertDomain(ctx context.Context, name, source string) (*models.Domain, error) {
	query := `
		INSERT INTO domains (id, domain, status, source)
		VALUES ($1, $2, 'pending', $3)
		RETURNING ` + domainColumns

	d, err := scanDomain(s.db.QueryRow(ctx, query, uuid.New().String(), name, source))
	if err != nil {
		return nil, fmt.Errorf("failed to insert domain %q: %w", name, err)
	}
	return d, nil
}

// SaveResponse appends one provider response row.
func (s *PostgresDomainStore) SaveResponse(ctx context.Context, rec *models.ResponseRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO responses (id, domain_id, provider, model, prompt_type, content)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.DomainID, rec.Provider, rec.Model, rec.PromptType, rec.Content,
	)
	if err != nil {
		return fmt.Errorf("failed to save response: %w", err)
	}
	return nil
}

// CountDistinctPairs counts unique (provider, prompt_type) pairs with at
// least one persisted response for the domain. Row count is deliberately not
// used: idempotent re-claims may write duplicate rows for a pair.
func (s *PostgresDomainStore) CountDistinctPairs(ctx context.Context, domainID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT DISTINCT provider, prompt_type FROM responses WHERE domain_id = $1
		) pairs`,
		domainID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct pairs: %w", err)
	}
	return count, nil
}

// MarkCompleted transitions a domain to completed.
func (s *PostgresDomainStore) MarkCompleted(ctx context.Context, domainID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE domains SET status = 'completed', last_completed_at = now(), updated_at = now()
		WHERE id = $1`,
		domainID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark domain completed: %w", err)
	}
	return nil
}

// Requeue returns a domain to pending and bumps its retry counter.
func (s *PostgresDomainStore) Requeue(ctx context.Context, domainID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE domains SET status = 'pending', retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1`,
		domainID,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue domain: %w", err)
	}
	return nil
}

// MarkFailed transitions a domain to the terminal failed state.
func (s *PostgresDomainStore) MarkFailed(ctx context.Context, domainID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE domains SET status = 'failed', updated_at = now()
		WHERE id = $1`,
		domainID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark domain failed: %w", err)
	}
	return nil
}

// StatusCounts returns the backlog summary.
func (s *PostgresDomainStore) StatusCounts(ctx context.Context, sourceFilter string) (*models.StatusCounts, error) {
	var c models.StatusCounts
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'claimed'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM domains
		WHERE ($1 = '' OR source = $1)`,
		sourceFilter,
	).Scan(&c.Pending, &c.Claimed, &c.Completed, &c.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to count domain statuses: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM responses r
		JOIN domains d ON d.id = r.domain_id
		WHERE ($1 = '' OR d.source = $1)`,
		sourceFilter,
	).Scan(&c.Responses)
	if err != nil {
		return nil, fmt.Errorf("failed to count responses: %w", err)
	}
	return &c, nil
}

// ReleaseStale returns claimed domains whose claim has exceeded the
// staleness window to pending without waiting for a worker to reclaim them.
func (s *PostgresDomainStore) ReleaseStale(ctx context.Context, sourceFilter string, staleness time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE domains SET status = 'pending', updated_at = now()
		WHERE status = 'claimed'
			AND last_claimed_at < now() - make_interval(secs => $2)
			AND ($1 = '' OR source = $1)`,
		sourceFilter, staleness.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetFailed returns failed domains to pending with a fresh retry budget.
func (s *PostgresDomainStore) ResetFailed(ctx context.Context, sourceFilter string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE domains SET status = 'pending', retry_count = 0, updated_at = now()
		WHERE status = 'failed' AND ($1 = '' OR source = $1)`,
		sourceFilter,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed domains: %w", err)
	}
	return tag.RowsAffected(), nil
}
