package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pipeline-console/internal/apiclient"
	"github.com/wolfeidau/pipeline-console/internal/credentials"
	"gopkg.in/yaml.v3"
)

const (
	// DirName is the per-user configuration directory under $HOME.
	DirName = ".pipeline-console"

	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"
	TokenStoreMemory  = "memory"
)

var (
	ErrInvalidBackoff    = errors.New("retry backoff must be one of fixed, linear or exponential")
	ErrInvalidTokenStore = errors.New("token store must be one of file, keyring or memory")
)

// Config holds all configuration for the console client.
type Config struct {
	API      APIConfig     `yaml:"api"`
	Auth     AuthConfig    `yaml:"auth"`
	Features []string      `yaml:"features"`
	Logging  LoggingConfig `yaml:"logging"`
}

// APIConfig holds transport configuration.
type APIConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	RetryDelay   time.Duration `yaml:"retryDelay"`
	RetryBackoff string        `yaml:"retryBackoff"`
	HTTPCache    string        `yaml:"httpCache"` // "", "memory" or a directory
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled          bool          `yaml:"enabled"`
	TokenStore       string        `yaml:"tokenStore"`
	TokenKey         string        `yaml:"tokenKey"`
	TokenDir         string        `yaml:"tokenDir"`
	RefreshLookahead time.Duration `yaml:"refreshLookahead"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// Default returns the built in configuration.
func Default() *Config {
	api := apiclient.DefaultConfig()
	return &Config{
		API: APIConfig{
			URL:          api.BaseURL,
			Timeout:      api.Timeout,
			MaxRetries:   api.MaxRetries,
			RetryDelay:   api.RetryDelay,
			RetryBackoff: string(api.RetryBackoff),
		},
		Auth: AuthConfig{
			Enabled:          true,
			TokenStore:       TokenStoreFile,
			TokenKey:         credentials.DefaultKey,
			RefreshLookahead: apiclient.DefaultRefreshLookahead,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultPath is ~/.pipeline-console/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DirName, "config.yaml")
	}
	return filepath.Join(home, DirName, "config.yaml")
}

// Load builds the configuration from defaults, the YAML file at path (a
// missing file is fine), .env files and finally environment variables. An
// empty path means DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug().Str("path", path).Msg("no config file")
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	log.Debug().Str("path", path).Msg("loaded config file")
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("CONSOLE_API_URL"); v != "" {
		c.API.URL = v
	}
	if v := getenv("CONSOLE_API_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("CONSOLE_API_TIMEOUT: %w", err)
		}
		c.API.Timeout = d
	}
	if v := getenv("CONSOLE_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONSOLE_MAX_RETRIES: %w", err)
		}
		c.API.MaxRetries = n
	}
	if v := getenv("CONSOLE_RETRY_DELAY"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("CONSOLE_RETRY_DELAY: %w", err)
		}
		c.API.RetryDelay = d
	}
	if v := getenv("CONSOLE_RETRY_BACKOFF"); v != "" {
		c.API.RetryBackoff = strings.ToLower(v)
	}
	if v := getenv("CONSOLE_HTTP_CACHE"); v != "" {
		c.API.HTTPCache = v
	}
	if v := getenv("CONSOLE_AUTH_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CONSOLE_AUTH_ENABLED: %w", err)
		}
		c.Auth.Enabled = b
	}
	if v := getenv("CONSOLE_TOKEN_STORE"); v != "" {
		c.Auth.TokenStore = strings.ToLower(v)
	}
	if v := getenv("CONSOLE_TOKEN_KEY"); v != "" {
		c.Auth.TokenKey = v
	}
	if v := getenv("CONSOLE_FEATURES"); v != "" {
		c.Features = nil
		for f := range strings.SplitSeq(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				c.Features = append(c.Features, f)
			}
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

// parseDuration accepts Go durations and bare millisecond counts.
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Validate rejects configuration the client cannot run with.
func (c *Config) Validate() error {
	switch apiclient.BackoffStrategy(c.API.RetryBackoff) {
	case apiclient.BackoffFixed, apiclient.BackoffLinear, apiclient.BackoffExponential:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidBackoff, c.API.RetryBackoff)
	}

	switch c.Auth.TokenStore {
	case TokenStoreFile, TokenStoreKeyring, TokenStoreMemory:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidTokenStore, c.Auth.TokenStore)
	}

	if c.Auth.TokenKey == "" {
		return errors.New("token key is required")
	}

	return c.APIClientConfig().Validate()
}

// Feature names understood by the CLI.
const (
	FeaturePipelines = "pipelines"
	FeatureAlerts    = "alerts"
)

// FeatureEnabled reports whether name is in the feature list. An empty list
// enables every feature.
func (c *Config) FeatureEnabled(name string) bool {
	return len(c.Features) == 0 || slices.Contains(c.Features, name)
}

// APIClientConfig converts to the transport configuration.
func (c *Config) APIClientConfig() apiclient.Config {
	return apiclient.Config{
		BaseURL:          c.API.URL,
		Timeout:          c.API.Timeout,
		MaxRetries:       c.API.MaxRetries,
		RetryDelay:       c.API.RetryDelay,
		RetryBackoff:     apiclient.BackoffStrategy(c.API.RetryBackoff),
		RefreshLookahead: c.Auth.RefreshLookahead,
		HTTPCache:        c.API.HTTPCache,
	}
}

// NewTokenStore opens the configured token store backend.
func (c *Config) NewTokenStore() (*credentials.Store, error) {
	var backend credentials.Backend

	switch c.Auth.TokenStore {
	case TokenStoreKeyring:
		backend = credentials.NewKeyringBackend(credentials.DefaultKeyringService)
	case TokenStoreMemory:
		backend = credentials.NewMemoryBackend()
	case TokenStoreFile:
		fb, err := credentials.NewFileBackend(c.Auth.TokenDir)
		if err != nil {
			return nil, err
		}
		backend = fb
	default:
		return nil, fmt.Errorf("%w: got %q", ErrInvalidTokenStore, c.Auth.TokenStore)
	}

	return credentials.NewStore(backend, credentials.WithKey(c.Auth.TokenKey)), nil
}
