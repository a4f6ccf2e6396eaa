package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// BackoffStrategy selects how the delay grows between retries.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// DefaultRefreshLookahead is how close to expiry a token must be before the
// auth interceptor refreshes it.
const DefaultRefreshLookahead = 5 * time.Minute

// Config holds client configuration. It is fixed once the client is built.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string

	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	RetryBackoff  BackoffStrategy

	RefreshLookahead time.Duration

	// HTTPCache is "" (disabled), "memory" or a cache directory.
	HTTPCache string

	// Transport overrides the base round tripper, mostly for tests.
	Transport http.RoundTripper
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://localhost:8080/api",
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		RetryDelay:       time.Second,
		MaxRetryDelay:    30 * time.Second,
		RetryBackoff:     BackoffExponential,
		RefreshLookahead: DefaultRefreshLookahead,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = def.MaxRetryDelay
	}
	if c.RetryBackoff == "" {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.RefreshLookahead == 0 {
		c.RefreshLookahead = def.RefreshLookahead
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must be http or https, got %q", c.BaseURL)
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	switch c.RetryBackoff {
	case "", BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("unknown retry backoff %q", c.RetryBackoff)
	}
	return nil
}
