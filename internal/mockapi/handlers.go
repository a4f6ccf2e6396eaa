package mockapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pipeline-console/internal/authz"
	"github.com/wolfeidau/pipeline-console/internal/models"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fixture, ok := s.users[req.Username]
	if !ok || subtle.ConstantTimeCompare([]byte(fixture.password), []byte(req.Password)) != 1 {
		log.Info().
			Str("username", req.Username).
			Str("client_ip", ClientIPFromContext(r.Context())).
			Msg("login rejected")
		writeError(w, http.StatusUnauthorized, "Invalid username or password", "INVALID_CREDENTIALS", nil)
		return
	}

	if !fixture.user.IsActive {
		writeError(w, http.StatusForbidden, "Account is disabled", "ACCOUNT_DISABLED", nil)
		return
	}

	if fixture.user.MFAEnabled {
		token := MFAToken
		if len(s.cfg.SigningKey) > 0 {
			token = uuid.NewString()
		}
		s.mfaTokens[token] = fixture.user.Username
		writeJSON(w, http.StatusOK, models.LoginResponse{RequiresMFA: true, MFAToken: token})
		return
	}

	resp, err := s.issueTokens(fixture.user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token", "TOKEN_ISSUE_FAILED", nil)
		return
	}

	log.Info().
		Str("username", req.Username).
		Str("client_ip", ClientIPFromContext(r.Context())).
		Msg("login accepted")

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MFAToken         string `json:"mfaToken" validate:"required"`
		VerificationCode string `json:"verificationCode" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.mfaTokens[req.MFAToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "MFA session is invalid or has expired", "INVALID_MFA_TOKEN", nil)
		return
	}

	if req.VerificationCode != MFACode {
		writeError(w, http.StatusUnauthorized, "Invalid verification code", "INVALID_MFA_CODE", nil)
		return
	}

	delete(s.mfaTokens, req.MFAToken)

	resp, err := s.issueTokens(s.users[username].user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token", "TOKEN_ISSUE_FAILED", nil)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.refreshTokens[req.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "Refresh token is invalid or has been revoked", "INVALID_REFRESH_TOKEN", nil)
		return
	}

	// Rotate: the old refresh token is single use
	delete(s.refreshTokens, req.RefreshToken)

	resp, err := s.issueTokens(s.users[username].user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token", "TOKEN_ISSUE_FAILED", nil)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if issued, ok := s.accessTokens[token]; ok {
		delete(s.accessTokens, token)
		for rt, username := range s.refreshTokens {
			if username == issued.username {
				delete(s.refreshTokens, rt)
			}
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// authenticated resolves the bearer token to a user and rejects the request
// otherwise.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required", "UNAUTHORIZED", nil)
			return
		}

		s.mu.Lock()
		issued, ok := s.accessTokens[token]
		var user models.User
		if ok {
			user = s.users[issued.username].user
		}
		s.mu.Unlock()

		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid token", "INVALID_TOKEN", nil)
			return
		}
		if !s.cfg.Now().Before(issued.expiresAt) {
			writeError(w, http.StatusUnauthorized, "Token has expired", "TOKEN_EXPIRED", nil)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, &user)
		next(w, r.WithContext(ctx))
	}
}

// allow writes a 403 and returns false when the caller lacks perm.
func allow(w http.ResponseWriter, r *http.Request, perm authz.Permission) bool {
	if authz.HasPermission(userFromContext(r.Context()), perm) {
		return true
	}
	writeError(w, http.StatusForbidden, "You do not have permission to perform this action", "FORBIDDEN",
		map[string]any{"permission": perm.String()})
	return false
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "private, max-age=30")
	w.Header().Set("Vary", "Authorization")
	writeJSON(w, http.StatusOK, userFromContext(r.Context()))
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, authz.PermPipelinesView) {
		return
	}

	status := r.URL.Query().Get("status")

	s.mu.Lock()
	out := make([]models.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	s.mu.Unlock()

	writeData(w, "pipelines retrieved", out, map[string]any{"total": len(out)})
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, authz.PermPipelinesView) {
		return
	}

	id := r.PathValue("id")

	s.mu.Lock()
	idx := slices.IndexFunc(s.pipelines, func(p models.Pipeline) bool { return p.ID == id })
	var p models.Pipeline
	if idx >= 0 {
		p = s.pipelines[idx]
	}
	s.mu.Unlock()

	if idx < 0 {
		writeError(w, http.StatusNotFound, "Pipeline not found", "NOT_FOUND", nil)
		return
	}

	writeData(w, "pipeline retrieved", p, nil)
}

func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, authz.PermPipelinesRun) {
		return
	}

	id := r.PathValue("id")
	user := userFromContext(r.Context())

	s.mu.Lock()
	idx := slices.IndexFunc(s.pipelines, func(p models.Pipeline) bool { return p.ID == id })
	if idx >= 0 {
		s.pipelines[idx].Status = "running"
		s.pipelines[idx].LastRunAt = s.cfg.Now()
	}
	s.mu.Unlock()

	if idx < 0 {
		writeError(w, http.StatusNotFound, "Pipeline not found", "NOT_FOUND", nil)
		return
	}

	writeData(w, "pipeline run started", models.PipelineRun{
		RunID:      uuid.NewString(),
		PipelineID: id,
		Status:     "running",
		StartedAt:  s.cfg.Now(),
		Requested:  user.Username,
	}, nil)
}

func (s *Server) handleQualityMetrics(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, authz.PermQualityView) {
		return
	}

	pipelineID := r.URL.Query().Get("pipelineId")

	s.mu.Lock()
	out := make([]models.QualityMetric, 0, len(s.quality))
	for _, m := range s.quality {
		if pipelineID == "" || m.PipelineID == pipelineID {
			out = append(out, m)
		}
	}
	s.mu.Unlock()

	writeData(w, "quality metrics retrieved", out, map[string]any{"total": len(out)})
}

func (s *Server) handleListHealing(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, authz.PermHealingView) {
		return
	}

	s.mu.Lock()
	out := slices.Clone(s.healing)
	s.mu.Unlock()

	writeData(w, "healing actions retrieved", out, map[string]any{"total": len(out)})
}

func (s *Server) handleApproveHealing(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, authz.PermHealingApprove) {
		return
	}

	id := r.PathValue("id")
	user := userFromContext(r.Context())
	now := s.cfg.Now()

	s.mu.Lock()
	idx := slices.IndexFunc(s.healing, func(a models.HealingAction) bool { return a.ID == id })
	var action models.HealingAction
	conflict := false
	if idx >= 0 {
		if s.healing[idx].Status != "pending_approval" {
			conflict = true
		} else {
			s.healing[idx].Status = "approved"
			s.healing[idx].ApprovedBy = user.Username
			s.healing[idx].ApprovedAt = &now
		}
		action = s.healing[idx]
	}
	s.mu.Unlock()

	switch {
	case idx < 0:
		writeError(w, http.StatusNotFound, "Healing action not found", "NOT_FOUND", nil)
	case conflict:
		writeError(w, http.StatusConflict, "Healing action is not awaiting approval", "INVALID_STATE",
			map[string]any{"status": action.Status})
	default:
		writeData(w, "healing action approved", action, nil)
	}
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, authz.PermAlertsView) {
		return
	}

	severity := r.URL.Query().Get("severity")
	includeAcked := r.URL.Query().Get("acknowledged") != "false"

	s.mu.Lock()
	out := make([]models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if severity != "" && a.Severity != severity {
			continue
		}
		if !includeAcked && a.Acknowledged {
			continue
		}
		out = append(out, a)
	}
	s.mu.Unlock()

	writeData(w, "alerts retrieved", out, map[string]any{"total": len(out)})
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, authz.PermAlertsAcknowledge) {
		return
	}

	id := r.PathValue("id")
	user := userFromContext(r.Context())
	now := s.cfg.Now()

	s.mu.Lock()
	idx := slices.IndexFunc(s.alerts, func(a models.Alert) bool { return a.ID == id })
	var alert models.Alert
	if idx >= 0 && !s.alerts[idx].Acknowledged {
		s.alerts[idx].Acknowledged = true
		s.alerts[idx].AcknowledgedBy = user.Username
		s.alerts[idx].AcknowledgedAt = &now
	}
	if idx >= 0 {
		alert = s.alerts[idx]
	}
	s.mu.Unlock()

	if idx < 0 {
		writeError(w, http.StatusNotFound, "Alert not found", "NOT_FOUND", nil)
		return
	}

	writeData(w, "alert acknowledged", alert, nil)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, authz.PermAdminUsers) {
		return
	}

	s.mu.Lock()
	out := make([]models.User, 0, len(s.users))
	for _, f := range s.users {
		out = append(out, f.user)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b models.User) int { return strings.Compare(a.ID, b.ID) })

	writeData(w, "users retrieved", out, map[string]any{"total": len(out)})
}
