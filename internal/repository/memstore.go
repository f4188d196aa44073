package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"domain-crawl/pkg/models"
)

// MemStore is an in-memory DomainStore with the same claim semantics as the
// Postgres implementation. Used by tests and local development; it is not
// durable.
type MemStore struct {
	mu        sync.Mutex
	domains   map[string]*models.Domain
	responses []*models.ResponseRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{domains: make(map[string]*models.Domain)}
}

// ClaimNext implements the atomic claim under one lock: the oldest pending
// item, or a claimed item whose claim is older than staleness.
func (s *MemStore) ClaimNext(ctx context.Context, sourceFilter string, staleness time.Duration) (*models.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var eligible []*models.Domain
	for _, d := range s.domains {
		if sourceFilter != "" && d.Source != sourceFilter {
			continue
		}
		switch d.Status {
		case models.StatusPending:
			eligible = append(eligible, d)
		case models.StatusClaimed:
			if d.LastClaimedAt != nil && now.Sub(*d.LastClaimedAt) > staleness {
				eligible = append(eligible, d)
			}
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	d := eligible[0]
	d.Status = models.StatusClaimed
	claimed := now
	d.LastClaimedAt = &claimed
	d.UpdatedAt = now
	copied := *d
	return &copied, nil
}

// InsertDomain enqueues a new pending domain.
func (s *MemStore) InsertDomain(ctx context.Context, name, source string) (*models.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	d := &models.Domain{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    models.StatusPending,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.domains[d.ID] = d
	copied := *d
	return &copied, nil
}

// SaveResponse appends a response row.
func (s *MemStore) SaveResponse(ctx context.Context, rec *models.ResponseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now()
	copied := *rec
	s.responses = append(s.responses, &copied)
	return nil
}

// CountDistinctPairs counts unique (provider, prompt_type) pairs.
func (s *MemStore) CountDistinctPairs(ctx context.Context, domainID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs := map[[2]string]bool{}
	for _, r := range s.responses {
		if r.DomainID == domainID {
			pairs[[2]string{r.Provider, r.PromptType}] = true
		}
	}
	return len(pairs), nil
}

func (s *MemStore) setStatus(domainID string, status models.DomainStatus, bumpRetry, stampCompleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[domainID]
	if !ok {
		return nil
	}
	d.Status = status
	if bumpRetry {
		d.RetryCount++
	}
	if stampCompleted {
		now := time.Now()
		d.LastCompletedAt = &now
	}
	d.UpdatedAt = time.Now()
	return nil
}

// MarkCompleted transitions a domain to completed.
func (s *MemStore) MarkCompleted(ctx context.Context, domainID string) error {
	return s.setStatus(domainID, models.StatusCompleted, false, true)
}

// Requeue returns a domain to pending and bumps its retry counter.
func (s *MemStore) Requeue(ctx context.Context, domainID string) error {
	return s.setStatus(domainID, models.StatusPending, true, false)
}

// MarkFailed transitions a domain to failed.
func (s *MemStore) MarkFailed(ctx context.Context, domainID string) error {
	return s.setStatus(domainID, models.StatusFailed, false, false)
}

// StatusCounts returns the backlog summary.
func (s *MemStore) StatusCounts(ctx context.Context, sourceFilter string) (*models.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c models.StatusCounts
	byID := map[string]string{}
	for _, d := range s.domains {
		if sourceFilter != "" && d.Source != sourceFilter {
			continue
		}
		byID[d.ID] = d.Source
		switch d.Status {
		case models.StatusPending:
			c.Pending++
		case models.StatusClaimed:
			c.Claimed++
		case models.StatusCompleted:
			c.Completed++
		case models.StatusFailed:
			c.Failed++
		}
	}
	for _, r := range s.responses {
		if _, ok := byID[r.DomainID]; ok {
			c.Responses++
		}
	}
	return &c, nil
}

// ResetFailed returns failed domains to pending with a zeroed retry counter.
func (s *MemStore) ResetFailed(ctx context.Context, sourceFilter string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, d := range s.domains {
		if d.Status != models.StatusFailed {
			continue
		}
		if sourceFilter != "" && d.Source != sourceFilter {
			continue
		}
		d.Status = models.StatusPending
		d.RetryCount = 0
		d.UpdatedAt = time.Now()
		n++
	}
	return n, nil
}

// ReleaseStale returns stale claimed domains to pending.
func (s *MemStore) ReleaseStale(ctx context.Context, sourceFilter string, staleness time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var n int64
	for _, d := range s.domains {
		if d.Status != models.StatusClaimed {
			continue
		}
		if sourceFilter != "" && d.Source != sourceFilter {
			continue
		}
		if d.LastClaimedAt == nil || now.Sub(*d.LastClaimedAt) <= staleness {
			continue
		}
		d.Status = models.StatusPending
		d.UpdatedAt = now
		n++
	}
	return n, nil
}

// Get returns a snapshot of a domain by id. Test helper.
func (s *MemStore) Get(domainID string) *models.Domain {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[domainID]
	if !ok {
		return nil
	}
	copied := *d
	return &copied
}

// Responses returns a snapshot of all stored responses. Test helper.
func (s *MemStore) Responses() []*models.ResponseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.ResponseRecord, 0, len(s.responses))
	for _, r := range s.responses {
		copied := *r
		out = append(out, &copied)
	}
	return out
}
