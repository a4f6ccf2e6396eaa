package credentials

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pipeline-console/internal/models"
)

// Issuer identifies tokens issued by the console backend.
const Issuer = "pipeline-console"

// ErrNoToken is returned when there is no stored access token to inspect.
var ErrNoToken = errors.New("no access token stored")

// Claims represents the access token claims the console backend issues.
type Claims struct {
	jwt.RegisteredClaims
	UserID     string `json:"userId,omitempty"`
	Username   string `json:"username"`
	Email      string `json:"email,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Role       string `json:"role"`
	IsActive   *bool  `json:"isActive,omitempty"`
	MFAEnabled bool   `json:"mfaEnabled,omitempty"`
}

// User maps the claims to a console user.
func (c *Claims) User() (*models.User, error) {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	if id == "" || c.Username == "" {
		return nil, fmt.Errorf("token is missing identity claims")
	}

	role, err := models.ParseRole(c.Role)
	if err != nil {
		return nil, err
	}

	active := true
	if c.IsActive != nil {
		active = *c.IsActive
	}

	user := &models.User{
		ID:         id,
		Username:   c.Username,
		Email:      c.Email,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		Role:       role,
		IsActive:   active,
		MFAEnabled: c.MFAEnabled,
	}
	if c.IssuedAt != nil {
		user.LastLoginAt = &c.IssuedAt.Time
	}

	return user, nil
}

// NewClaims builds claims for user valid for ttl from now.
func NewClaims(user models.User, now time.Time, ttl time.Duration) Claims {
	active := user.IsActive
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username:   user.Username,
		Email:      user.Email,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Role:       user.Role.String(),
		IsActive:   &active,
		MFAEnabled: user.MFAEnabled,
	}
}

// SignClaims signs claims with an HMAC key.
func SignClaims(key []byte, claims Claims) (string, error) {
	if len(key) == 0 {
		return "", errors.New("signing key is empty")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ParseClaims decodes token claims without verifying the signature.
// The backend is the verifier; the client only reads what it was given.
func ParseClaims(token string) (*Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}

	return claims, nil
}

// ExpiryFromToken reads the exp claim of a JWT.
func ExpiryFromToken(token string) (time.Time, bool) {
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Fingerprint returns a short base58 digest of a token for log output.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	return base58.Encode(hash[:])[:12]
}

// Inspector answers expiry and identity questions about the stored token.
type Inspector struct {
	store *Store
	now   func() time.Time
}

// InspectorOption configures an Inspector.
type InspectorOption func(*Inspector)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) InspectorOption {
	return func(i *Inspector) {
		if now != nil {
			i.now = now
		}
	}
}

// NewInspector creates an inspector over store.
func NewInspector(store *Store, opts ...InspectorOption) *Inspector {
	i := &Inspector{store: store, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Now returns the inspector's current time.
func (i *Inspector) Now() time.Time {
	return i.now()
}

// IsExpired is true when no expiry is recorded or the expiry has been reached.
func (i *Inspector) IsExpired() bool {
	expiry, ok := i.store.Expiry()
	if !ok {
		return true
	}
	return !i.now().Before(expiry)
}

// IsAboutToExpire is true when no expiry is recorded or the token expires
// within threshold.
func (i *Inspector) IsAboutToExpire(threshold time.Duration) bool {
	expiry, ok := i.store.Expiry()
	if !ok {
		return true
	}
	return i.now().Add(threshold).After(expiry)
}

// Claims decodes the stored access token.
func (i *Inspector) Claims() (*Claims, error) {
	token := i.store.Token()
	if token == "" {
		return nil, ErrNoToken
	}
	return ParseClaims(token)
}

// UserFromToken decodes the stored access token into a user. It returns nil
// when there is no token or it cannot be decoded.
func (i *Inspector) UserFromToken() *models.User {
	token := i.store.Token()
	if token == "" {
		return nil
	}

	claims, err := ParseClaims(token)
	if err != nil {
		log.Debug().Err(err).Str("token", Fingerprint(token)).Msg("failed to decode access token")
		return nil
	}

	user, err := claims.User()
	if err != nil {
		log.Debug().Err(err).Str("token", Fingerprint(token)).Msg("access token claims do not describe a user")
		return nil
	}

	return user
}
