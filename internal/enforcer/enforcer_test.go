package enforcer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domain-crawl/internal/logging"
	"domain-crawl/internal/repository"
	"domain-crawl/pkg/models"
)

const (
	requiredCount = 4
	maxRetries    = 3
)

func seed(t *testing.T, store *repository.MemStore) *models.Domain {
	t.Helper()
	_, err := store.InsertDomain(context.Background(), "example.com", "")
	require.NoError(t, err)
	claimed, err := store.ClaimNext(context.Background(), "", 0)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func saveResponses(t *testing.T, store *repository.MemStore, domainID string, pairs [][2]string) {
	t.Helper()
	for _, p := range pairs {
		require.NoError(t, store.SaveResponse(context.Background(), &models.ResponseRecord{
			DomainID:   domainID,
			Provider:   p[0],
			Model:      p[0] + "-model",
			PromptType: p[1],
			Content:    "text",
		}))
	}
}

func TestReconcile_Complete(t *testing.T) {
	store := repository.NewMemStore()
	domain := seed(t, store)
	saveResponses(t, store, domain.ID, [][2]string{
		{"openai", "a"}, {"openai", "b"}, {"anthropic", "a"}, {"anthropic", "b"},
	})

	e := New(store, requiredCount, maxRetries, logging.NewNop(), nil)
	decision, err := e.Reconcile(context.Background(), domain, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionCompleted, decision)

	got := store.Get(domain.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.NotNil(t, got.LastCompletedAt)
}

func TestReconcile_PartialRequeues(t *testing.T) {
	store := repository.NewMemStore()
	domain := seed(t, store)
	saveResponses(t, store, domain.ID, [][2]string{
		{"openai", "a"}, {"openai", "b"}, {"anthropic", "a"},
	})

	e := New(store, requiredCount, maxRetries, logging.NewNop(), nil)
	outcomes := []models.Outcome{{Provider: "anthropic", PromptType: "b", Err: errors.New("timeout")}}
	decision, err := e.Reconcile(context.Background(), domain, outcomes)
	require.NoError(t, err)
	assert.Equal(t, DecisionRequeued, decision)

	got := store.Get(domain.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestReconcile_RetriesExhausted(t *testing.T) {
	store := repository.NewMemStore()
	domain := seed(t, store)
	domain.RetryCount = maxRetries

	e := New(store, requiredCount, maxRetries, logging.NewNop(), nil)
	decision, err := e.Reconcile(context.Background(), domain, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionFailed, decision)
	assert.Equal(t, models.StatusFailed, store.Get(domain.ID).Status)
}

func TestReconcile_RetryBoundedness(t *testing.T) {
	store := repository.NewMemStore()
	domain := seed(t, store)

	e := New(store, requiredCount, maxRetries, logging.NewNop(), nil)

	// Never enough responses: the item cycles claimed->pending at most
	// maxRetries times before landing in failed.
	cycles := 0
	for {
		decision, err := e.Reconcile(context.Background(), domain, nil)
		require.NoError(t, err)
		if decision == DecisionFailed {
			break
		}
		require.Equal(t, DecisionRequeued, decision)
		cycles++
		require.LessOrEqual(t, cycles, maxRetries)

		domain, err = store.ClaimNext(context.Background(), "", 0)
		require.NoError(t, err)
		require.NotNil(t, domain)
	}
	assert.Equal(t, maxRetries, cycles)
	got := store.Get(domain.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.LessOrEqual(t, got.RetryCount, maxRetries)
}

func TestReconcile_TrustsPersistedStateOverOutcomes(t *testing.T) {
	store := repository.NewMemStore()
	domain := seed(t, store)

	// A prior partial attempt already persisted everything; the current
	// batch reports only failures. Persisted state wins.
	saveResponses(t, store, domain.ID, [][2]string{
		{"openai", "a"}, {"openai", "b"}, {"anthropic", "a"}, {"anthropic", "b"},
	})
	outcomes := []models.Outcome{
		{Provider: "openai", PromptType: "a", Err: errors.New("timeout")},
		{Provider: "openai", PromptType: "b", Err: errors.New("timeout")},
	}

	e := New(store, requiredCount, maxRetries, logging.NewNop(), nil)
	decision, err := e.Reconcile(context.Background(), domain, outcomes)
	require.NoError(t, err)
	assert.Equal(t, DecisionCompleted, decision)
}

func TestReconcile_DuplicatePairsDoNotInflateCount(t *testing.T) {
	store := repository.NewMemStore()
	domain := seed(t, store)

	// Five rows, but only three distinct (provider, prompt_type) pairs: an
	// idempotent re-claim wrote duplicates for already-satisfied pairs.
	saveResponses(t, store, domain.ID, [][2]string{
		{"openai", "a"}, {"openai", "a"}, {"openai", "b"}, {"openai", "b"}, {"anthropic", "a"},
	})

	e := New(store, requiredCount, maxRetries, logging.NewNop(), nil)
	decision, err := e.Reconcile(context.Background(), domain, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionRequeued, decision, "raw row count must not satisfy the threshold")
}

func TestReconcile_StoreErrorLeavesItemClaimed(t *testing.T) {
	store := &failingCountStore{MemStore: repository.NewMemStore()}
	domain := seed(t, store.MemStore)

	e := New(store, requiredCount, maxRetries, logging.NewNop(), nil)
	_, err := e.Reconcile(context.Background(), domain, nil)
	require.Error(t, err)

	// No state transition happened: staleness-based reclaim will pick the
	// item up instead of this code guessing.
	assert.Equal(t, models.StatusClaimed, store.Get(domain.ID).Status)
}

type failingCountStore struct {
	*repository.MemStore
}

func (f *failingCountStore) CountDistinctPairs(ctx context.Context, domainID string) (int, error) {
	return 0, errors.New("connection reset")
}
