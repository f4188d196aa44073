// Package dispatch fans one claimed domain out to every configured
// (provider, prompt) combination concurrently and persists each successful
// response as soon as it arrives.
package dispatch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"domain-crawl/internal/logging"
	"domain-crawl/internal/providers"
	"domain-crawl/internal/repository"
	"domain-crawl/internal/rotator"
	"domain-crawl/internal/telemetry"
	"domain-crawl/pkg/models"
)

// Dispatcher issues the provider×prompt fan-out for one claimed domain.
type Dispatcher struct {
	store       repository.DomainStore
	rot         *rotator.Rotator
	panel       []*models.Provider
	prompts     []models.PromptSpec
	adapters    map[string]providers.Adapter
	callTimeout time.Duration
	logger      *logging.Logger
	metrics     *telemetry.Metrics
}

// New builds a dispatcher, constructing one adapter per provider according
// to its wire format. The shared HTTP client carries the per-call timeout.
func New(
	store repository.DomainStore,
	rot *rotator.Rotator,
	panel []*models.Provider,
	prompts []models.PromptSpec,
	callTimeout time.Duration,
	logger *logging.Logger,
	metrics *telemetry.Metrics,
) (*Dispatcher, error) {
	client := &http.Client{Timeout: callTimeout}
	adapters := make(map[string]providers.Adapter, len(panel))
	for _, p := range panel {
		a, err := providers.NewAdapter(p, client)
		if err != nil {
			return nil, err
		}
		adapters[p.Name] = a
	}
	return NewWithAdapters(store, rot, panel, prompts, adapters, callTimeout, logger, metrics), nil
}

// NewWithAdapters builds a dispatcher around pre-built adapters.
func NewWithAdapters(
	store repository.DomainStore,
	rot *rotator.Rotator,
	panel []*models.Provider,
	prompts []models.PromptSpec,
	adapters map[string]providers.Adapter,
	callTimeout time.Duration,
	logger *logging.Logger,
	metrics *telemetry.Metrics,
) *Dispatcher {
	return &Dispatcher{
		store:       store,
		rot:         rot,
		panel:       panel,
		prompts:     prompts,
		adapters:    adapters,
		callTimeout: callTimeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// RequiredCount is the completion bar: one success per (active provider,
// prompt) combination.
func (d *Dispatcher) RequiredCount() int {
	active := 0
	for _, p := range d.panel {
		if p.Active() {
			active++
		}
	}
	return active * len(d.prompts)
}

// Dispatch runs one call per (provider, prompt) pair concurrently. Each
// call independently rotates a credential, waits out its throttle and, on
// success, persists its response record immediately so partial progress
// survives a crash mid-dispatch. One pair's failure never touches its
// siblings; the full outcome list is returned for reconciliation.
func (d *Dispatcher) Dispatch(ctx context.Context, domain *models.Domain) []models.Outcome {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []models.Outcome
	)

	record := func(o models.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	for _, p := range d.panel {
		for _, spec := range d.prompts {
			wg.Add(1)
			go func(p *models.Provider, spec models.PromptSpec) {
				defer wg.Done()
				record(models.Outcome{
					Provider:   p.Name,
					PromptType: spec.Type,
					Err:        d.callOne(ctx, domain, p, spec),
				})
			}(p, spec)
		}
	}
	wg.Wait()
	return outcomes
}

// callOne performs a single (provider, prompt) call and persists the result.
func (d *Dispatcher) callOne(ctx context.Context, domain *models.Domain, p *models.Provider, spec models.PromptSpec) error {
	cred, err := d.rot.Next(p.Name)
	if err != nil {
		// Configuration error: the provider has no usable credential. Fail
		// the pair loudly instead of skipping it.
		d.logger.Error("provider has no credentials",
			"provider", p.Name, "domain", domain.Name)
		return err
	}
	if err := cred.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	start := time.Now()
	content, err := d.adapters[p.Name].Call(callCtx, cred.Key, spec.Render(domain.Name))
	if d.metrics != nil {
		d.metrics.ObserveCall(p.Name, string(providers.KindOf(err)), time.Since(start))
	}
	if err != nil {
		d.logger.Warn("provider call failed",
			"provider", p.Name, "prompt_type", spec.Type,
			"domain", domain.Name, "error", err)
		return err
	}

	rec := &models.ResponseRecord{
		DomainID:   domain.ID,
		Provider:   p.Name,
		Model:      p.Model,
		PromptType: spec.Type,
		Content:    content,
	}
	if err := d.store.SaveResponse(ctx, rec); err != nil {
		d.logger.Error("failed to persist response",
			"provider", p.Name, "prompt_type", spec.Type,
			"domain", domain.Name, "error", err)
		return err
	}
	if d.metrics != nil {
		d.metrics.ResponsesStored.Inc()
	}
	d.logger.Debug("stored response",
		"provider", p.Name, "prompt_type", spec.Type, "domain", domain.Name)
	return nil
}
