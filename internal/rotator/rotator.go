// Package rotator spreads rate-limited call volume across a provider's
// credential pool with strict round-robin selection and per-credential
// minimum-interval throttling.
package rotator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"domain-crawl/pkg/models"
)

// ErrNoCredentials is returned when a provider has no usable credential.
// This is a configuration error and must surface on every call for that
// provider; silently skipping a provider would let items reach a false
// "complete" state.
type ErrNoCredentials struct {
	Provider string
}

func (e *ErrNoCredentials) Error() string {
	return fmt.Sprintf("no credentials configured for provider %q", e.Provider)
}

// Credential is a rotated credential handle. Wait blocks until the
// provider's minimum inter-call interval has elapsed since this
// credential's last use.
type Credential struct {
	models.Credential
	limiter *rate.Limiter
}

// Wait blocks until the credential may be used again, honoring ctx.
func (c *Credential) Wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

type pool struct {
	mu    sync.Mutex
	creds []*Credential
	next  int
}

// Rotator holds one round-robin pool per provider. Safe for concurrent use.
type Rotator struct {
	pools map[string]*pool
}

// New builds a rotator from the configured provider panel. Each credential
// gets its own limiter at rate.Every(MinInterval) with burst 1, so two
// calls on the same credential can never land closer together than the
// configured minimum interval.
func New(panel []*models.Provider) *Rotator {
	r := &Rotator{pools: make(map[string]*pool, len(panel))}
	for _, p := range panel {
		pl := &pool{}
		for _, c := range p.Credentials {
			limit := rate.Inf
			if p.MinInterval > 0 {
				limit = rate.Every(p.MinInterval)
			}
			pl.creds = append(pl.creds, &Credential{
				Credential: c,
				limiter:    rate.NewLimiter(limit, 1),
			})
		}
		r.pools[p.Name] = pl
	}
	return r
}

// Next returns the next credential for the provider in strict round-robin
// order, or *ErrNoCredentials if the provider has none.
func (r *Rotator) Next(provider string) (*Credential, error) {
	pl, ok := r.pools[provider]
	if !ok || len(pl.creds) == 0 {
		return nil, &ErrNoCredentials{Provider: provider}
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	c := pl.creds[pl.next]
	pl.next = (pl.next + 1) % len(pl.creds)
	return c, nil
}

// Size returns the number of credentials configured for a provider.
func (r *Rotator) Size(provider string) int {
	pl, ok := r.pools[provider]
	if !ok {
		return 0
	}
	return len(pl.creds)
}
