package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pipeline-console/internal/apiclient"
	"github.com/wolfeidau/pipeline-console/internal/credentials"
	"github.com/wolfeidau/pipeline-console/internal/models"
	"github.com/wolfeidau/pipeline-console/internal/telemetry"
	"golang.org/x/oauth2"
)

const (
	refreshKey         = "refresh"
	refreshIfStaleKey  = "refresh-if-stale"
	timerRefreshBudget = time.Minute
	minTimerDelay      = time.Second
)

// RefreshToken exchanges the stored refresh token for a new token pair.
// Concurrent callers share one /auth/refresh call. Any failure clears the
// tokens and signs the session out without setting Session.Error.
func (c *Controller) RefreshToken(ctx context.Context) error {
	return c.doRefresh(ctx, false)
}

// refreshIfStale is the refresher handed to the auth interceptor. It skips
// the call when another request already refreshed the token or there is
// nothing to refresh with.
func (c *Controller) refreshIfStale(ctx context.Context) error {
	return c.doRefresh(ctx, true)
}

// Explicit and stale-only refreshes use separate keys: an explicit refresh
// joining a stale check would return without refreshing.
func (c *Controller) doRefresh(ctx context.Context, onlyIfStale bool) error {
	key := refreshKey
	if onlyIfStale {
		key = refreshIfStaleKey
	}

	ch := c.refresh.DoChan(key, func() (any, error) {
		c.opMu.Lock()
		defer c.opMu.Unlock()

		if onlyIfStale && (c.store.RefreshToken() == "" || !c.inspector.IsAboutToExpire(c.lookahead)) {
			return nil, nil
		}

		return nil, c.refreshLocked(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refreshLocked performs the refresh. Callers hold opMu.
func (c *Controller) refreshLocked(ctx context.Context) error {
	metrics := telemetry.GetMetrics()
	metrics.TokenRefreshTotal.Add(ctx, 1)

	refreshToken := c.store.RefreshToken()
	if refreshToken == "" {
		metrics.TokenRefreshErrorsTotal.Add(ctx, 1)
		c.clearLocal()
		return ErrNoRefreshToken
	}

	current := c.Session().User

	var resp models.LoginResponse
	err := c.client.Post(ctx, refreshPath, models.RefreshRequest{RefreshToken: refreshToken}, &resp,
		apiclient.SkipRefresh())
	if err == nil {
		err = c.establish(ctx, &resp, current)
	}
	if err != nil {
		metrics.TokenRefreshErrorsTotal.Add(ctx, 1)
		log.Warn().Err(err).Msg("token refresh failed, signing out")
		c.clearLocal()
		return err
	}

	log.Debug().Str("token", credentials.Fingerprint(resp.Token)).Msg("token refreshed")
	return nil
}

// armTimer schedules a refresh lookahead before the stored expiry.
func (c *Controller) armTimer() {
	if !c.autoRefresh {
		return
	}

	expiry, ok := c.store.Expiry()
	if !ok {
		return
	}

	delay := expiry.Sub(c.now()) - c.lookahead
	if delay < minTimerDelay {
		delay = max(expiry.Sub(c.now())/2, minTimerDelay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}

	c.generation++
	gen := c.generation
	c.timer = time.AfterFunc(delay, func() { c.onTimer(gen) })

	log.Debug().Dur("in", delay).Time("expiresAt", expiry).Msg("refresh timer armed")
}

func (c *Controller) onTimer(gen uint64) {
	c.mu.Lock()
	stale := gen != c.generation || c.closed
	c.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timerRefreshBudget)
	defer cancel()

	if err := c.RefreshToken(ctx); err != nil {
		log.Debug().Err(err).Msg("scheduled refresh failed")
	}
}

func (c *Controller) cancelTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// TokenSource exposes the stored token as an oauth2.TokenSource, refreshing
// it first when it is about to expire.
func (c *Controller) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c}
}

type tokenSource struct {
	ctx context.Context
	c   *Controller
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	if err := ts.c.refreshIfStale(ts.ctx); err != nil {
		return nil, err
	}

	rec, ok := ts.c.store.Record()
	if !ok {
		return nil, credentials.ErrNoToken
	}

	return &oauth2.Token{
		AccessToken:  rec.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: rec.RefreshToken,
		Expiry:       rec.ExpiresAt,
	}, nil
}
