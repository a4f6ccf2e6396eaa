package mockapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pipeline-console/internal/credentials"
	"github.com/wolfeidau/pipeline-console/internal/logger"
	"github.com/wolfeidau/pipeline-console/internal/models"
	"github.com/wolfeidau/pipeline-console/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config controls the mock API.
type Config struct {
	// BasePath prefixes every route, for example "/api".
	BasePath string

	// SigningKey switches access tokens from the fixed mock-jwt-token-<user>
	// strings to HS256 JWTs the client can decode.
	SigningKey []byte

	TokenTTL    time.Duration
	CORSOrigins []string
	Gzip        bool
	Logger      *zerolog.Logger
	Now         func() time.Time
}

type issuedToken struct {
	username  string
	expiresAt time.Time
}

type injectedFailure struct {
	status    int
	remaining int
}

// Server is an in-memory implementation of the console backend.
type Server struct {
	cfg      Config
	validate *validator.Validate

	mu            sync.Mutex
	users         map[string]fixtureUser
	accessTokens  map[string]issuedToken
	refreshTokens map[string]string
	mfaTokens     map[string]string
	pipelines     []models.Pipeline
	alerts        []models.Alert
	healing       []models.HealingAction
	quality       []models.QualityMetric
	calls         map[string]int
	failures      map[string]*injectedFailure
}

// New creates a mock API seeded with the fixture data.
func New(cfg Config) *Server {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")

	return &Server{
		cfg:           cfg,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		users:         fixtureUsers(),
		accessTokens:  make(map[string]issuedToken),
		refreshTokens: make(map[string]string),
		mfaTokens:     make(map[string]string),
		pipelines:     fixturePipelines(),
		alerts:        fixtureAlerts(),
		healing:       fixtureHealingActions(),
		quality:       fixtureQualityMetrics(),
		calls:         make(map[string]int),
		failures:      make(map[string]*injectedFailure),
	}
}

// Handler returns the HTTP handler with CORS, optional gzip and request
// logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /auth/login", s.handleLogin)
	s.route(mux, "POST /auth/mfa/verify", s.handleMFAVerify)
	s.route(mux, "POST /auth/refresh", s.handleRefresh)
	s.route(mux, "POST /auth/logout", s.handleLogout)
	s.route(mux, "GET /auth/profile", s.authenticated(s.handleProfile))

	s.route(mux, "GET /pipelines", s.authenticated(s.handleListPipelines))
	s.route(mux, "GET /pipelines/{id}", s.authenticated(s.handleGetPipeline))
	s.route(mux, "POST /pipelines/{id}/run", s.authenticated(s.handleRunPipeline))
	s.route(mux, "GET /quality/metrics", s.authenticated(s.handleQualityMetrics))
	s.route(mux, "GET /healing/actions", s.authenticated(s.handleListHealing))
	s.route(mux, "POST /healing/actions/{id}/approve", s.authenticated(s.handleApproveHealing))
	s.route(mux, "GET /monitoring/alerts", s.authenticated(s.handleListAlerts))
	s.route(mux, "POST /monitoring/alerts/{id}/acknowledge", s.authenticated(s.handleAcknowledgeAlert))
	s.route(mux, "GET /admin/users", s.authenticated(s.handleAdminUsers))

	var h http.Handler = mux
	h = clientIP(h)
	if s.cfg.Gzip {
		h = withGzip(h)
	}
	if len(s.cfg.CORSOrigins) > 0 {
		h = withCORS(s.cfg.CORSOrigins, h)
	}

	l := log.Logger
	if s.cfg.Logger != nil {
		l = *s.cfg.Logger
	}
	return logger.Requests(l)(h)
}

// route registers handler under the base path and counts calls by pattern.
func (s *Server) route(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	mux.HandleFunc(method+" "+s.cfg.BasePath+path, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[pattern]++
		failure := s.failures[pattern]
		inject := failure != nil && failure.remaining > 0
		if inject {
			failure.remaining--
		}
		s.mu.Unlock()

		telemetry.GetMetrics().MockRequestsTotal.Add(r.Context(), 1,
			metric.WithAttributes(attribute.String("route", pattern)))

		if inject {
			writeError(w, failure.status, "injected failure", "INJECTED_FAILURE", nil)
			return
		}

		handler(w, r)
	})
}

// Calls returns how many requests matched pattern, e.g. "POST /auth/refresh".
func (s *Server) Calls(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[pattern]
}

// FailNext makes the next n requests matching pattern fail with status.
func (s *Server) FailNext(pattern string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[pattern] = &injectedFailure{status: status, remaining: n}
}

// RevokeAll invalidates every issued access and refresh token.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens = make(map[string]issuedToken)
	s.refreshTokens = make(map[string]string)
}

type successEnvelope struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Data     any            `json:"data"`
}

type errorBody struct {
	StatusCode int            `json:"statusCode"`
	Message    string         `json:"message"`
	ErrorCode  string         `json:"errorCode"`
	Details    map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeData(w http.ResponseWriter, message string, data any, metadata map[string]any) {
	writeJSON(w, http.StatusOK, successEnvelope{
		Status:   "success",
		Message:  message,
		Metadata: metadata,
		Data:     data,
	})
}

func writeError(w http.ResponseWriter, status int, message, code string, details map[string]any) {
	writeJSON(w, status, errorBody{
		StatusCode: status,
		Message:    message,
		ErrorCode:  code,
		Details:    details,
	})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be valid JSON", "INVALID_REQUEST", nil)
		return false
	}

	if err := s.validate.Struct(v); err != nil {
		details := map[string]any{}
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
		}
		writeError(w, http.StatusBadRequest, "request validation failed", "VALIDATION_ERROR", details)
		return false
	}

	return true
}

// issueTokens creates an access/refresh pair for user. Callers hold s.mu.
func (s *Server) issueTokens(user models.User) (models.LoginResponse, error) {
	now := s.cfg.Now()
	expiresAt := now.Add(s.cfg.TokenTTL)

	access := AccessPrefix + user.Username
	refresh := RefreshPrefix + user.Username

	if len(s.cfg.SigningKey) > 0 {
		claims := credentials.NewClaims(user, now, s.cfg.TokenTTL)
		claims.ID = uuid.NewString()
		signed, err := credentials.SignClaims(s.cfg.SigningKey, claims)
		if err != nil {
			return models.LoginResponse{}, err
		}
		access = signed
		refresh = uuid.NewString()
	}

	s.accessTokens[access] = issuedToken{username: user.Username, expiresAt: expiresAt}
	s.refreshTokens[refresh] = user.Username

	u := user
	return models.LoginResponse{
		User:         &u,
		Token:        access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt.UnixMilli(),
	}, nil
}
