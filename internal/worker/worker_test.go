package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domain-crawl/internal/dispatch"
	"domain-crawl/internal/enforcer"
	"domain-crawl/internal/logging"
	"domain-crawl/internal/providers"
	"domain-crawl/internal/repository"
	"domain-crawl/internal/rotator"
	"domain-crawl/pkg/models"
)

type stubAdapter struct {
	content string
	err     error
}

func (s *stubAdapter) Call(ctx context.Context, key, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.content, nil
}

var workerPrompts = []models.PromptSpec{
	{Type: "business_analysis", Template: "Analyze {domain}"},
	{Type: "content_strategy", Template: "Strategy for {domain}"},
}

func newTestPool(store repository.DomainStore, adapters map[string]providers.Adapter, maxRetries int) *Pool {
	var panel []*models.Provider
	for name := range adapters {
		panel = append(panel, &models.Provider{
			Name:        name,
			Model:       name + "-model",
			Credentials: []models.Credential{{Provider: name, Key: "k-" + name}},
		})
	}
	d := dispatch.NewWithAdapters(
		store, rotator.New(panel), panel, workerPrompts, adapters,
		time.Second, logging.NewNop(), nil,
	)
	e := enforcer.New(store, d.RequiredCount(), maxRetries, logging.NewNop(), nil)
	return NewPool(store, d, e, Config{PoolSize: 1, PollInterval: 10 * time.Millisecond}, logging.NewNop(), nil)
}

func TestProcessNext_EmptyBacklog(t *testing.T) {
	pool := newTestPool(repository.NewMemStore(), map[string]providers.Adapter{
		"openai": &stubAdapter{content: "ok"},
	}, 3)

	processed, err := pool.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessNext_CompletesDomain(t *testing.T) {
	store := repository.NewMemStore()
	pool := newTestPool(store, map[string]providers.Adapter{
		"openai":    &stubAdapter{content: "a"},
		"anthropic": &stubAdapter{content: "b"},
	}, 3)

	domain, err := store.InsertDomain(context.Background(), "example.com", "")
	require.NoError(t, err)

	processed, err := pool.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	got := store.Get(domain.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Len(t, store.Responses(), 4)
}

func TestProcessNext_PartialFailureRequeues(t *testing.T) {
	store := repository.NewMemStore()
	pool := newTestPool(store, map[string]providers.Adapter{
		"openai":    &stubAdapter{content: "a"},
		"anthropic": &stubAdapter{err: &providers.CallError{Provider: "anthropic", Kind: providers.KindTimeout, Err: context.DeadlineExceeded}},
	}, 3)

	domain, err := store.InsertDomain(context.Background(), "example.com", "")
	require.NoError(t, err)

	processed, err := pool.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	got := store.Get(domain.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	// The healthy provider's responses survived the sibling's failure.
	assert.Len(t, store.Responses(), 2)
}

func TestProcessNext_ReconcileErrorLeavesItemClaimed(t *testing.T) {
	store := &countErrStore{MemStore: repository.NewMemStore()}
	pool := newTestPool(store, map[string]providers.Adapter{
		"openai": &stubAdapter{content: "ok"},
	}, 3)

	domain, err := store.InsertDomain(context.Background(), "example.com", "")
	require.NoError(t, err)

	processed, err := pool.ProcessNext(context.Background())
	assert.True(t, processed, "the item was claimed even though reconciliation failed")
	require.Error(t, err)
	assert.Equal(t, models.StatusClaimed, store.Get(domain.ID).Status)
}

func TestProcessBatch_DrainsBacklog(t *testing.T) {
	store := repository.NewMemStore()
	pool := newTestPool(store, map[string]providers.Adapter{
		"openai": &stubAdapter{content: "ok"},
	}, 3)

	for _, name := range []string{"a.com", "b.com", "c.com"} {
		_, err := store.InsertDomain(context.Background(), name, "")
		require.NoError(t, err)
	}

	processed, err := pool.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	counts, err := store.StatusCounts(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Completed)
	assert.Equal(t, int64(0), counts.Pending)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := repository.NewMemStore()
	pool := newTestPool(store, map[string]providers.Adapter{
		"openai": &stubAdapter{content: "ok"},
	}, 3)

	_, err := store.InsertDomain(context.Background(), "example.com", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	// Give the loop time to drain the single item, then stop it.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after context cancellation")
	}

	counts, err := store.StatusCounts(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Completed)
}

type countErrStore struct {
	*repository.MemStore
}

func (s *countErrStore) CountDistinctPairs(ctx context.Context, domainID string) (int, error) {
	return 0, errors.New("connection reset")
}
