package apiclient

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pipeline-console/internal/credentials"
)

// Refresher renews the stored token pair.
type Refresher interface {
	RefreshToken(ctx context.Context) error
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) error

func (f RefresherFunc) RefreshToken(ctx context.Context) error {
	return f(ctx)
}

// Auth wires the token store into the client.
type Auth struct {
	Store     *credentials.Store
	Inspector *credentials.Inspector
	Refresher Refresher
}

// AuthInterceptor attaches the bearer token and refreshes it first when it
// is about to expire.
type AuthInterceptor struct {
	store     *credentials.Store
	inspector *credentials.Inspector
	refresher Refresher
	lookahead time.Duration
}

// NewAuthInterceptor creates an interceptor over auth.
func NewAuthInterceptor(auth Auth, lookahead time.Duration) *AuthInterceptor {
	inspector := auth.Inspector
	if inspector == nil {
		inspector = credentials.NewInspector(auth.Store)
	}
	if lookahead <= 0 {
		lookahead = DefaultRefreshLookahead
	}

	return &AuthInterceptor{
		store:     auth.Store,
		inspector: inspector,
		refresher: auth.Refresher,
		lookahead: lookahead,
	}
}

func (a *AuthInterceptor) Wrap(next SendFunc) SendFunc {
	return func(ctx context.Context, req *Request) (*Response, error) {
		if req.skipAuth {
			req.Header.Del("Authorization")
			return next(ctx, req)
		}

		if !req.skipRefresh {
			a.refreshIfNeeded(ctx, req)
		}

		if token := a.store.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		return next(ctx, req)
	}
}

// refreshIfNeeded blocks on a refresh when the stored token is inside the
// lookahead window. A failed refresh is logged and the request carries on.
func (a *AuthInterceptor) refreshIfNeeded(ctx context.Context, req *Request) {
	if a.refresher == nil {
		return
	}

	rec, ok := a.store.Record()
	if !ok || rec.RefreshToken == "" {
		return
	}

	if !a.inspector.IsAboutToExpire(a.lookahead) {
		return
	}

	log.Debug().
		Str("path", req.Path).
		Str("token", credentials.Fingerprint(rec.AccessToken)).
		Time("expiresAt", rec.ExpiresAt).
		Msg("token about to expire, refreshing before request")

	if err := a.refresher.RefreshToken(ctx); err != nil {
		log.Warn().Err(err).Str("path", req.Path).Msg("token refresh failed, sending request with current token")
	}
}
