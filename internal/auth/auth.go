// Package auth validates bearer tokens on the mutating operator endpoints.
// The crawl service is API-only, so there is no browser login flow: callers
// present a JWT issued by the configured identity provider.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
)

// Authenticator verifies bearer tokens against an OIDC issuer. When no
// issuer is configured the middleware is a pass-through, which keeps local
// development and tests simple.
type Authenticator struct {
	verifier *oidc.IDTokenVerifier
}

// New builds an authenticator. issuer may be empty to disable verification.
func New(ctx context.Context, issuer, clientID string) (*Authenticator, error) {
	if issuer == "" {
		return &Authenticator{}, nil
	}
	provider, err := oidc.NewProvider(ctx, strings.TrimRight(strings.TrimSpace(issuer), "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &Authenticator{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// Enabled reports whether token verification is active.
func (a *Authenticator) Enabled() bool { return a.verifier != nil }

// Middleware returns an echo middleware that rejects requests without a
// valid bearer token.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if a.verifier == nil {
				return next(c)
			}
			raw := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(raw, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			token := strings.TrimPrefix(raw, "Bearer ")
			idToken, err := a.verifier.Verify(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.Set("subject", idToken.Subject)
			return next(c)
		}
	}
}
