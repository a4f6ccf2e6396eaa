package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pipeline-console/internal/apiclient"
	"github.com/wolfeidau/pipeline-console/internal/authz"
	"github.com/wolfeidau/pipeline-console/internal/credentials"
	"github.com/wolfeidau/pipeline-console/internal/models"
	"github.com/wolfeidau/pipeline-console/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshLookahead is how long before expiry the refresh timer fires.
	DefaultRefreshLookahead = 5 * time.Minute

	// DefaultTokenTTL is assumed when the backend reports no expiry and the
	// token carries no exp claim.
	DefaultTokenTTL = time.Hour

	loginPath     = "/auth/login"
	mfaVerifyPath = "/auth/mfa/verify"
	refreshPath   = "/auth/refresh"
	logoutPath    = "/auth/logout"
	profilePath   = "/auth/profile"
)

var (
	// ErrNoRefreshToken is returned by RefreshToken when nothing is stored to refresh with.
	ErrNoRefreshToken = errors.New("no refresh token stored")

	// ErrMFANotPending is returned by VerifyMFA when no MFA token was supplied or retained.
	ErrMFANotPending = errors.New("no multi-factor authentication step is pending")
)

// Controller owns the single Session of an application instance and drives
// login, MFA verification, logout and token refresh.
type Controller struct {
	store     *credentials.Store
	inspector *credentials.Inspector
	client    *apiclient.Client
	validate  *validator.Validate
	now       func() time.Time

	lookahead       time.Duration
	autoRefresh     bool
	profileFallback bool

	// opMu serializes login, MFA verification, logout and refresh.
	opMu    sync.Mutex
	refresh singleflight.Group

	mu         sync.Mutex
	session    Session
	mfaToken   string
	timer      *time.Timer
	generation uint64
	listeners  map[int]func(Session)
	nextID     int
	closed     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRefreshLookahead changes how early tokens are refreshed.
func WithRefreshLookahead(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.lookahead = d
		}
	}
}

// WithAutoRefresh enables or disables the scheduled refresh timer.
func WithAutoRefresh(enabled bool) Option {
	return func(c *Controller) {
		c.autoRefresh = enabled
	}
}

// WithProfileFallback makes Initialize fetch /auth/profile when the stored
// token cannot be decoded, instead of treating the session as signed out.
// Opaque (non-JWT) access tokens need this.
func WithProfileFallback(enabled bool) Option {
	return func(c *Controller) {
		c.profileFallback = enabled
	}
}

// New creates a controller and the API client it drives. The client
// attaches tokens from store and refreshes them through the controller.
func New(store *credentials.Store, cfg apiclient.Config, opts ...Option) (*Controller, error) {
	c := &Controller{
		store:       store,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         time.Now,
		lookahead:   DefaultRefreshLookahead,
		autoRefresh: true,
		session:     Session{State: StateUninitialized, Permissions: authz.NewPermissionSet()},
		listeners:   make(map[int]func(Session)),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.inspector = credentials.NewInspector(store, credentials.WithClock(c.now))

	cfg.RefreshLookahead = c.lookahead
	client, err := apiclient.New(cfg, apiclient.WithAuth(apiclient.Auth{
		Store:     store,
		Inspector: c.inspector,
		Refresher: apiclient.RefresherFunc(c.refreshIfStale),
	}))
	if err != nil {
		return nil, err
	}
	c.client = client

	return c, nil
}

// Client returns the authenticated API client.
func (c *Controller) Client() *apiclient.Client {
	return c.client
}

// Store returns the token store.
func (c *Controller) Store() *credentials.Store {
	return c.store
}

// Session returns a snapshot of the current session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// PendingMFA reports whether a login is waiting for MFA verification.
func (c *Controller) PendingMFA() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State == StateAwaitingMFA && c.mfaToken != ""
}

// OnChange registers fn to be called with every new session snapshot. The
// returned function removes the listener.
func (c *Controller) OnChange(fn func(Session)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// apply is the only place the session changes. Listeners run after the lock
// is released.
func (c *Controller) apply(update func(*Session)) Session {
	c.mu.Lock()
	next := c.session
	update(&next)
	c.session = next

	var listeners []func(Session)
	if !c.closed {
		for _, fn := range c.listeners {
			listeners = append(listeners, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}

	return next
}

func (c *Controller) replace(s Session) Session {
	return c.apply(func(cur *Session) { *cur = s })
}

func (c *Controller) setLoading(loading bool) {
	c.apply(func(s *Session) {
		s.Loading = loading
		if loading {
			s.Error = ""
		}
	})
}

func (c *Controller) fail(err error) {
	msg := err.Error()
	if apiErr, ok := apiclient.AsAPIError(err); ok {
		msg = apiErr.Message
	}
	c.apply(func(s *Session) {
		s.Loading = false
		s.Error = msg
	})
}

// Initialize restores the session from the token store. It is the mount
// step: the session moves to loading and then to authenticated or
// unauthenticated.
func (c *Controller) Initialize(ctx context.Context) Session {
	c.apply(func(s *Session) {
		*s = Session{State: StateLoading, Loading: true, Permissions: authz.NewPermissionSet()}
	})

	rec, ok := c.store.Record()
	if !ok {
		log.Debug().Msg("no stored token, starting unauthenticated")
		return c.replace(unauthenticated(""))
	}

	if c.inspector.IsExpired() || c.inspector.IsAboutToExpire(c.lookahead) {
		if rec.RefreshToken != "" {
			if err := c.RefreshToken(ctx); err != nil {
				log.Debug().Err(err).Msg("silent refresh on startup failed")
			}
			return c.Session()
		}

		if c.inspector.IsExpired() {
			log.Debug().Str("token", credentials.Fingerprint(rec.AccessToken)).Msg("stored token expired")
			c.store.Clear()
			return c.replace(unauthenticated(""))
		}
	}

	user := c.inspector.UserFromToken()
	if user == nil && c.profileFallback {
		profile, err := c.fetchProfile(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("profile fetch on startup failed")
		} else {
			user = profile
		}
	}

	if user == nil {
		c.store.Clear()
		return c.replace(unauthenticated(""))
	}

	c.armTimer()
	return c.replace(authenticated(user))
}

// Login checks credentials. Without MFA the session becomes authenticated;
// with MFA it moves to awaiting MFA and the MFA token is retained. On
// failure Session.Error is set and the normalized error is returned.
func (c *Controller) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	metrics := telemetry.GetMetrics()
	metrics.LoginTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "password")))

	if err := c.validate.Struct(req); err != nil {
		apiErr := apiclient.ValidationError(err)
		c.fail(apiErr)
		return nil, apiErr
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.setLoading(true)

	var resp models.LoginResponse
	if err := c.client.Post(ctx, loginPath, req, &resp, apiclient.SkipAuth()); err != nil {
		metrics.LoginErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "password")))
		log.Debug().Err(err).Str("username", req.Username).Msg("login failed")
		c.fail(err)
		return nil, err
	}

	if resp.RequiresMFA {
		c.mu.Lock()
		c.mfaToken = resp.MFAToken
		c.mu.Unlock()

		// Tokens from an earlier sign in must not outlive the switch to
		// awaiting MFA or the interceptor keeps sending them.
		c.store.Clear()
		c.cancelTimer()
		c.replace(awaitingMFA())

		log.Debug().Str("username", req.Username).Msg("login requires mfa verification")
		return &resp, nil
	}

	if err := c.establish(ctx, &resp, nil); err != nil {
		metrics.LoginErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "password")))
		c.fail(err)
		return nil, err
	}

	log.Info().Str("username", req.Username).Msg("logged in")
	return &resp, nil
}

// VerifyMFA completes a login that required MFA. An empty MFAToken uses the
// token retained from the last Login.
func (c *Controller) VerifyMFA(ctx context.Context, req models.MFAVerifyRequest) (*models.LoginResponse, error) {
	metrics := telemetry.GetMetrics()
	metrics.LoginTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "mfa")))

	if req.MFAToken == "" {
		c.mu.Lock()
		req.MFAToken = c.mfaToken
		c.mu.Unlock()
	}
	if req.MFAToken == "" {
		apiErr := apiclient.ValidationError(ErrMFANotPending)
		c.fail(apiErr)
		return nil, apiErr
	}

	if err := c.validate.Struct(req); err != nil {
		apiErr := apiclient.ValidationError(err)
		c.fail(apiErr)
		return nil, apiErr
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.setLoading(true)

	var resp models.LoginResponse
	if err := c.client.Post(ctx, mfaVerifyPath, req, &resp, apiclient.SkipAuth()); err != nil {
		metrics.LoginErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "mfa")))
		log.Debug().Err(err).Msg("mfa verification failed")
		c.fail(err)
		return nil, err
	}

	if err := c.establish(ctx, &resp, nil); err != nil {
		metrics.LoginErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "mfa")))
		c.fail(err)
		return nil, err
	}

	log.Info().Msg("mfa verified")
	return &resp, nil
}

// Logout invalidates the session remotely on a best effort basis and always
// clears local state. Calling it when already signed out changes nothing.
func (c *Controller) Logout(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	token := c.store.Token()

	c.mu.Lock()
	idle := token == "" && c.mfaToken == "" &&
		(c.session.State == StateUnauthenticated || c.session.State == StateUninitialized)
	c.mu.Unlock()
	if idle {
		return
	}

	if token != "" {
		if err := c.client.Post(ctx, logoutPath, nil, nil, apiclient.SkipRefresh(), apiclient.NoRetry()); err != nil {
			log.Warn().Err(err).Msg("remote logout failed, clearing local session anyway")
		}
	}

	c.clearLocal()
	log.Info().Msg("logged out")
}

// clearLocal drops tokens, the MFA token and the timer, and resets the
// session.
func (c *Controller) clearLocal() {
	c.store.Clear()
	c.cancelTimer()

	c.mu.Lock()
	c.mfaToken = ""
	c.mu.Unlock()

	c.replace(unauthenticated(""))
}

// CheckPermission reports whether the signed-in user holds perm.
func (c *Controller) CheckPermission(perm authz.Permission) bool {
	s := c.Session()
	if !s.IsAuthenticated {
		return false
	}
	return authz.HasPermission(s.User, perm)
}

// CheckRole reports whether the signed-in user has role.
func (c *Controller) CheckRole(role models.Role) bool {
	s := c.Session()
	if !s.IsAuthenticated {
		return false
	}
	return authz.HasRole(s.User, role)
}

// Profile fetches /auth/profile and replaces the session user.
func (c *Controller) Profile(ctx context.Context) (*models.User, error) {
	user, err := c.fetchProfile(ctx)
	if err != nil {
		return nil, err
	}

	c.apply(func(s *Session) {
		if s.IsAuthenticated {
			*s = authenticated(user)
		}
	})

	return user, nil
}

func (c *Controller) fetchProfile(ctx context.Context, opts ...apiclient.RequestOption) (*models.User, error) {
	var user models.User
	if err := c.client.Get(ctx, profilePath, &user, opts...); err != nil {
		return nil, err
	}
	if user.ID == "" && user.Username == "" {
		return nil, &apiclient.APIError{
			StatusCode: 200,
			Message:    "profile response did not describe a user",
			ErrorCode:  apiclient.CodeUnknownError,
			Kind:       apiclient.KindUnknown,
		}
	}
	return &user, nil
}

// establish stores the tokens from resp, resolves the user and moves the
// session to authenticated. Callers hold opMu. fallback is used when the
// response and token do not describe a user.
func (c *Controller) establish(ctx context.Context, resp *models.LoginResponse, fallback *models.User) error {
	if resp.Token == "" {
		return &apiclient.APIError{
			StatusCode: 200,
			Message:    "authentication response did not include a token",
			ErrorCode:  apiclient.CodeUnknownError,
			Kind:       apiclient.KindUnknown,
		}
	}

	expiry, ok := resp.Expiry()
	if !ok {
		expiry, ok = credentials.ExpiryFromToken(resp.Token)
	}
	if !ok {
		expiry = c.now().Add(DefaultTokenTTL)
		log.Debug().Dur("ttl", DefaultTokenTTL).Msg("no token expiry reported, assuming default")
	}

	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = c.store.RefreshToken()
	}

	if !c.store.SetTokens(resp.Token, refreshToken, expiry) {
		return &apiclient.APIError{
			Message:   "failed to store tokens",
			ErrorCode: apiclient.CodeUnknownError,
			Kind:      apiclient.KindUnknown,
		}
	}

	user := resp.User
	if user == nil {
		user = c.inspector.UserFromToken()
	}
	if user == nil {
		user = fallback
	}
	if user == nil {
		profile, err := c.fetchProfile(ctx, apiclient.SkipRefresh())
		if err != nil {
			c.store.Clear()
			return err
		}
		user = profile
	}

	c.mu.Lock()
	c.mfaToken = ""
	c.mu.Unlock()

	c.armTimer()
	c.replace(authenticated(user))

	log.Debug().
		Str("user", user.Username).
		Str("role", user.Role.String()).
		Str("token", credentials.Fingerprint(resp.Token)).
		Time("expiresAt", expiry).
		Msg("session established")

	return nil
}

// Close stops the refresh timer and detaches listeners. In-flight requests
// are not cancelled.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.listeners = make(map[int]func(Session))
}
