// Package worker runs the fixed-size pool of claim→dispatch→reconcile
// loops over the shared backlog.
package worker

import (
	"context"
	"sync"
	"time"

	"domain-crawl/internal/dispatch"
	"domain-crawl/internal/enforcer"
	"domain-crawl/internal/logging"
	"domain-crawl/internal/repository"
	"domain-crawl/internal/telemetry"
)

// Config holds the pool's runtime settings.
type Config struct {
	PoolSize       int
	PollInterval   time.Duration
	ClaimStaleness time.Duration
	SourceFilter   string
}

// Pool is a fixed-size set of independent worker loops. Each worker
// processes one item at a time; each dispatch internally fans out to all
// provider×prompt calls for that item.
type Pool struct {
	store      repository.DomainStore
	dispatcher *dispatch.Dispatcher
	enforcer   *enforcer.Enforcer
	cfg        Config
	logger     *logging.Logger
	metrics    *telemetry.Metrics
}

// NewPool creates a worker pool.
func NewPool(
	store repository.DomainStore,
	dispatcher *dispatch.Dispatcher,
	enf *enforcer.Enforcer,
	cfg Config,
	logger *logging.Logger,
	metrics *telemetry.Metrics,
) *Pool {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Pool{
		store:      store,
		dispatcher: dispatcher,
		enforcer:   enf,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run starts the pool and blocks until ctx is cancelled. In-flight
// dispatches finish or time out naturally; there is no forced cancellation.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool starting",
		"pool_size", p.cfg.PoolSize,
		"poll_interval", p.cfg.PollInterval,
		"required_count", p.dispatcher.RequiredCount(),
	)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.PoolSize; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := p.ProcessNext(ctx)
		if err != nil {
			// Only persistence problems reach this point; one item's
			// failure must never stop the pool.
			p.logger.Error("worker iteration failed", "worker", id, "error", err)
		}
		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
		}
	}
}

// ProcessNext claims and fully processes one domain. It returns false when
// the backlog had nothing eligible.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	domain, err := p.store.ClaimNext(ctx, p.cfg.SourceFilter, p.cfg.ClaimStaleness)
	if err != nil {
		return false, err
	}
	if domain == nil {
		return false, nil
	}
	if p.metrics != nil {
		p.metrics.DomainsClaimed.Inc()
	}
	p.logger.Info("claimed domain",
		"domain", domain.Name, "retry_count", domain.RetryCount, "source", domain.Source)

	outcomes := p.dispatcher.Dispatch(ctx, domain)

	if _, err := p.enforcer.Reconcile(ctx, domain, outcomes); err != nil {
		// Leave the item claimed; staleness-based reclaim will retry it
		// rather than guessing at its true state.
		return true, err
	}
	return true, nil
}

// ProcessBatch drives up to n claim→dispatch→reconcile cycles and returns
// how many items were actually processed. Used by the trigger surface.
func (p *Pool) ProcessBatch(ctx context.Context, n int) (int, error) {
	processed := 0
	for i := 0; i < n; i++ {
		ok, err := p.ProcessNext(ctx)
		if err != nil {
			return processed, err
		}
		if !ok {
			break
		}
		processed++
	}
	return processed, nil
}
