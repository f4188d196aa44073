package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"domain-crawl/pkg/models"
)

func TestPostgresDomainStore(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresDomainStore(pool)
	require.NoError(t, store.Migrate(ctx))

	truncate := func(t *testing.T) {
		t.Helper()
		_, err := pool.Exec(ctx, `TRUNCATE responses, domains`)
		require.NoError(t, err)
	}

	t.Run("Insert and Claim", func(t *testing.T) {
		truncate(t)

		inserted, err := store.InsertDomain(ctx, "example.com", "seed-list")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, inserted.Status)
		assert.Equal(t, 0, inserted.RetryCount)

		claimed, err := store.ClaimNext(ctx, "", time.Hour)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, inserted.ID, claimed.ID)
		assert.Equal(t, "example.com", claimed.Name)
		assert.Equal(t, models.StatusClaimed, claimed.Status)
		assert.NotNil(t, claimed.LastClaimedAt)

		// Nothing else eligible.
		second, err := store.ClaimNext(ctx, "", time.Hour)
		require.NoError(t, err)
		assert.Nil(t, second)
	})

	t.Run("Claim orders by created_at", func(t *testing.T) {
		truncate(t)

		first, err := store.InsertDomain(ctx, "first.com", "")
		require.NoError(t, err)
		// Explicitly backdate the second row so insertion order cannot tie.
		second, err := store.InsertDomain(ctx, "second.com", "")
		require.NoError(t, err)
		_, err = pool.Exec(ctx,
			`UPDATE domains SET created_at = created_at + interval '1 second' WHERE id = $1`, second.ID)
		require.NoError(t, err)

		claimed, err := store.ClaimNext(ctx, "", time.Hour)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, first.ID, claimed.ID)
	})

	t.Run("Concurrent claims never share an item", func(t *testing.T) {
		truncate(t)

		const n = 10
		for i := 0; i < n; i++ {
			_, err := store.InsertDomain(ctx, "concurrent.com", "")
			require.NoError(t, err)
		}

		var (
			mu   sync.Mutex
			seen = map[string]int{}
			wg   sync.WaitGroup
		)
		for i := 0; i < n*2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := store.ClaimNext(ctx, "", time.Hour)
				if err != nil || d == nil {
					return
				}
				mu.Lock()
				seen[d.ID]++
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Len(t, seen, n, "every item claimed exactly once")
		for id, count := range seen {
			assert.Equal(t, 1, count, "domain %s claimed more than once", id)
		}
	})

	t.Run("Stale claim is reclaimable", func(t *testing.T) {
		truncate(t)

		d, err := store.InsertDomain(ctx, "stale.com", "")
		require.NoError(t, err)

		claimed, err := store.ClaimNext(ctx, "", time.Hour)
		require.NoError(t, err)
		require.NotNil(t, claimed)

		// Fresh claim is invisible to other claimers.
		again, err := store.ClaimNext(ctx, "", time.Hour)
		require.NoError(t, err)
		assert.Nil(t, again)

		// Age the claim past the staleness window.
		_, err = pool.Exec(ctx,
			`UPDATE domains SET last_claimed_at = now() - interval '2 hours' WHERE id = $1`, d.ID)
		require.NoError(t, err)

		reclaimed, err := store.ClaimNext(ctx, "", time.Hour)
		require.NoError(t, err)
		require.NotNil(t, reclaimed)
		assert.Equal(t, d.ID, reclaimed.ID)
	})

	t.Run("Source filter", func(t *testing.T) {
		truncate(t)

		_, err := store.InsertDomain(ctx, "a.com", "alpha")
		require.NoError(t, err)
		beta, err := store.InsertDomain(ctx, "b.com", "beta")
		require.NoError(t, err)

		claimed, err := store.ClaimNext(ctx, "beta", time.Hour)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, beta.ID, claimed.ID)

		none, err := store.ClaimNext(ctx, "gamma", time.Hour)
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("Distinct pair counting", func(t *testing.T) {
		truncate(t)

		d, err := store.InsertDomain(ctx, "pairs.com", "")
		require.NoError(t, err)

		save := func(provider, promptType string) {
			require.NoError(t, store.SaveResponse(ctx, &models.ResponseRecord{
				DomainID:   d.ID,
				Provider:   provider,
				Model:      provider + "-model",
				PromptType: promptType,
				Content:    "text",
			}))
		}
		save("openai", "business_analysis")
		save("openai", "business_analysis") // duplicate pair from a re-claim
		save("openai", "content_strategy")
		save("anthropic", "business_analysis")

		distinct, err := store.CountDistinctPairs(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, distinct, "duplicates must not inflate the count")

		other, err := store.InsertDomain(ctx, "other.com", "")
		require.NoError(t, err)
		distinct, err = store.CountDistinctPairs(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, distinct)
	})

	t.Run("Lifecycle transitions", func(t *testing.T) {
		truncate(t)

		d, err := store.InsertDomain(ctx, "lifecycle.com", "")
		require.NoError(t, err)

		claimed, err := store.ClaimNext(ctx, "", time.Hour)
		require.NoError(t, err)
		require.NotNil(t, claimed)

		require.NoError(t, store.Requeue(ctx, d.ID))
		reclaimed, err := store.ClaimNext(ctx, "", time.Hour)
		require.NoError(t, err)
		require.NotNil(t, reclaimed)
		assert.Equal(t, 1, reclaimed.RetryCount)

		require.NoError(t, store.MarkFailed(ctx, d.ID))
		none, err := store.ClaimNext(ctx, "", time.Hour)
		require.NoError(t, err)
		assert.Nil(t, none, "failed domains are terminal until reset")

		n, err := store.ResetFailed(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		reset, err := store.ClaimNext(ctx, "", time.Hour)
		require.NoError(t, err)
		require.NotNil(t, reset)
		assert.Equal(t, 0, reset.RetryCount, "reset clears the retry budget")

		require.NoError(t, store.MarkCompleted(ctx, d.ID))
		var status string
		var completedAt *time.Time
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT status, last_completed_at FROM domains WHERE id = $1`, d.ID).
			Scan(&status, &completedAt))
		assert.Equal(t, "completed", status)
		assert.NotNil(t, completedAt)
	})

	t.Run("Release stale claims", func(t *testing.T) {
		truncate(t)

		_, err := store.InsertDomain(ctx, "fresh.com", "")
		require.NoError(t, err)
		stale, err := store.InsertDomain(ctx, "stale.com", "")
		require.NoError(t, err)

		for range []int{0, 1} {
			d, err := store.ClaimNext(ctx, "", time.Hour)
			require.NoError(t, err)
			require.NotNil(t, d)
		}
		_, err = pool.Exec(ctx,
			`UPDATE domains SET last_claimed_at = now() - interval '2 hours' WHERE id = $1`, stale.ID)
		require.NoError(t, err)

		n, err := store.ReleaseStale(ctx, "", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		counts, err := store.StatusCounts(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts.Pending)
		assert.Equal(t, int64(1), counts.Claimed)

		released, err := store.ClaimNext(ctx, "", time.Hour)
		require.NoError(t, err)
		require.NotNil(t, released)
		assert.Equal(t, stale.ID, released.ID)
	})

	t.Run("Status counts", func(t *testing.T) {
		truncate(t)

		p1, err := store.InsertDomain(ctx, "p1.com", "alpha")
		require.NoError(t, err)
		_, err = store.InsertDomain(ctx, "p2.com", "alpha")
		require.NoError(t, err)
		done, err := store.InsertDomain(ctx, "done.com", "beta")
		require.NoError(t, err)
		require.NoError(t, store.MarkCompleted(ctx, done.ID))

		require.NoError(t, store.SaveResponse(ctx, &models.ResponseRecord{
			DomainID: p1.ID, Provider: "openai", Model: "m", PromptType: "business_analysis", Content: "x",
		}))

		counts, err := store.StatusCounts(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts.Pending)
		assert.Equal(t, int64(1), counts.Completed)
		assert.Equal(t, int64(1), counts.Responses)

		alpha, err := store.StatusCounts(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, int64(2), alpha.Pending)
		assert.Equal(t, int64(0), alpha.Completed)
		assert.Equal(t, int64(1), alpha.Responses)
	})
}
