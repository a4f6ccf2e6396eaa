package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pipeline-console/internal/authz"
	"github.com/wolfeidau/pipeline-console/internal/config"
	"github.com/wolfeidau/pipeline-console/internal/console"
	"github.com/wolfeidau/pipeline-console/internal/logger"
	"github.com/wolfeidau/pipeline-console/internal/session"
	"github.com/wolfeidau/pipeline-console/internal/telemetry"
	"golang.org/x/term"
)

var (
	errNotSignedIn      = errors.New("not signed in, run 'console-cli login' first")
	errAuthDisabled     = errors.New("authentication is disabled (CONSOLE_AUTH_ENABLED=false)")
	errNotInteractive   = errors.New("stdin is not a terminal")
	errPermissionDenied = errors.New("permission denied")
	errFeatureDisabled  = errors.New("feature is disabled (see CONSOLE_FEATURES)")
)

type Globals struct {
	Debug      bool
	Version    string
	ConfigPath string
	APIURL     string
	Telemetry  bool

	// Stdout defaults to os.Stdout.
	Stdout io.Writer
}

// app is the per-invocation wiring shared by every command.
type app struct {
	cfg      *config.Config
	ctrl     *session.Controller
	console  *console.Console
	out      io.Writer
	shutdown telemetry.ShutdownFunc
}

func (g *Globals) open(ctx context.Context) (*app, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.APIURL != "" {
		cfg.API.URL = g.APIURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	level := cfg.Logging.Level
	if g.Debug {
		level = "debug"
	}
	logger.Setup(level, cfg.Logging.Format)

	a := &app{
		cfg:      cfg,
		out:      g.Stdout,
		shutdown: func(context.Context) error { return nil },
	}
	if a.out == nil {
		a.out = os.Stdout
	}

	if g.Telemetry {
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "console-cli",
			Version:     g.Version,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		} else {
			a.shutdown = shutdown
		}
	}

	store, err := cfg.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	// The CLI exits long before a scheduled refresh would fire.
	a.ctrl, err = session.New(store, cfg.APIClientConfig(),
		session.WithAutoRefresh(false),
		session.WithProfileFallback(true),
		session.WithRefreshLookahead(cfg.Auth.RefreshLookahead),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	var authorizer console.Authorizer = a.ctrl
	if !cfg.Auth.Enabled {
		authorizer = unrestricted{}
	}
	a.console = console.New(a.ctrl.Client(), authorizer)

	a.ctrl.Initialize(ctx)

	log.Debug().
		Str("api", cfg.API.URL).
		Str("tokenStore", cfg.Auth.TokenStore).
		Str("state", a.ctrl.Session().State.String()).
		Msg("console client ready")

	return a, nil
}

func (a *app) Close() {
	a.ctrl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown telemetry")
	}
}

func (a *app) requireFeature(name string) error {
	if !a.cfg.FeatureEnabled(name) {
		return fmt.Errorf("%w: %s", errFeatureDisabled, name)
	}
	return nil
}

func (a *app) requireSession() (session.Session, error) {
	s := a.ctrl.Session()
	if !s.IsAuthenticated {
		return s, errNotSignedIn
	}
	return s, nil
}

// readSecret prompts on stderr and reads without echo. It fails when stdin
// is not a terminal.
var readSecret = readTerminalSecret

func readTerminalSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNotInteractive
	}

	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(b), nil
}

type unrestricted struct{}

func (unrestricted) CheckPermission(authz.Permission) bool { return true }
