package commands

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/wolfeidau/pipeline-console/internal/logger"
	"github.com/wolfeidau/pipeline-console/internal/mockapi"
	"github.com/wolfeidau/pipeline-console/internal/telemetry"
)

type ServeCmd struct {
	// Server configuration
	Listen   string `help:"HTTP server listen address" default:"localhost:8080" env:"CONSOLE_MOCK_LISTEN"`
	BasePath string `help:"path prefix for every route" default:"/api" env:"CONSOLE_MOCK_BASE_PATH"`
	Cert     string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"CONSOLE_MOCK_TLS_CERT"`
	Key      string `help:"path to TLS key file" default:"" env:"CONSOLE_MOCK_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins" default:"http://localhost:3000" env:"CONSOLE_MOCK_CORS_ORIGINS"`
	Gzip        bool     `help:"compress responses" default:"true" negatable:"" env:"CONSOLE_MOCK_GZIP"`

	// Token configuration
	SigningKey   string        `help:"HMAC key for issued JWTs, generated when empty" default:"" env:"CONSOLE_MOCK_SIGNING_KEY"`
	OpaqueTokens bool          `help:"issue fixed mock-jwt-token-<user> tokens instead of JWTs" default:"false" env:"CONSOLE_MOCK_OPAQUE_TOKENS"`
	TokenTTL     time.Duration `help:"access token lifetime" default:"1h" env:"CONSOLE_MOCK_TOKEN_TTL"`

	LogFormat string `help:"log format (json or console)" default:"console" enum:"json,console" env:"LOG_FORMAT"`
	Tracing   bool   `help:"enable tracing" default:"false" env:"CONSOLE_MOCK_TRACING"`
}

func (c *ServeCmd) mockConfig() (mockapi.Config, error) {
	cfg := mockapi.Config{
		BasePath:    c.BasePath,
		TokenTTL:    c.TokenTTL,
		CORSOrigins: c.CORSOrigins,
		Gzip:        c.Gzip,
	}

	if c.TokenTTL <= 0 {
		return cfg, errors.New("token TTL must be positive")
	}

	if c.OpaqueTokens {
		return cfg, nil
	}

	switch {
	case c.SigningKey == "":
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return cfg, fmt.Errorf("failed to generate signing key: %w", err)
		}
		cfg.SigningKey = key
	case len(c.SigningKey) < 32:
		return cfg, errors.New("signing key must be at least 32 bytes (256 bits) for HMAC-SHA256")
	default:
		cfg.SigningKey = []byte(c.SigningKey)
	}

	return cfg, nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	level := "info"
	if globals.Debug {
		level = "debug"
	}
	log := logger.Setup(level, c.LogFormat)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting mock console API")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{ServiceName: "console-mockapi", Version: globals.Version})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	cfg, err := c.mockConfig()
	if err != nil {
		return err
	}
	cfg.Logger = &log

	srv := configureHTTPServer(c.Listen, mockapi.New(cfg).Handler())

	tls := c.Cert != "" || c.Key != ""
	if tls {
		if _, err := os.Stat(c.Cert); err != nil {
			return fmt.Errorf("TLS certificate not found at %s: %w", c.Cert, err)
		}
		if _, err := os.Stat(c.Key); err != nil {
			return fmt.Errorf("TLS key not found at %s: %w", c.Key, err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", c.Listen).
			Str("basePath", c.BasePath).
			Bool("tls", tls).
			Bool("jwt", len(cfg.SigningKey) > 0).
			Strs("corsOrigins", c.CORSOrigins).
			Msg("Listening")

		if tls {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
