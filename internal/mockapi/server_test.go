package mockapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/pipeline-console/internal/credentials"
	"github.com/wolfeidau/pipeline-console/internal/models"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func login(t *testing.T, baseURL, username, password string) models.LoginResponse {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/auth/login", "", models.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out models.LoginResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

type errorResponse struct {
	StatusCode int            `json:"statusCode"`
	Message    string         `json:"message"`
	ErrorCode  string         `json:"errorCode"`
	Details    map[string]any `json:"details"`
}

func decodeError(t *testing.T, body []byte) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestLogin_AdminWithoutMFA(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	out := login(t, ts.URL, "admin", "Admin123!")
	assert.False(t, out.RequiresMFA)
	assert.Equal(t, "mock-jwt-token-admin", out.Token)
	assert.Equal(t, "mock-refresh-token-admin", out.RefreshToken)
	require.NotNil(t, out.User)
	assert.Equal(t, models.RoleAdmin, out.User.Role)
	assert.Greater(t, out.ExpiresAt, time.Now().UnixMilli())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", models.LoginRequest{Username: "admin", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeError(t, body).ErrorCode)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", map[string]string{"username": "admin"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decodeError(t, body)
	assert.Equal(t, "VALIDATION_ERROR", errResp.ErrorCode)
	assert.Contains(t, errResp.Details, "Password")
}

func TestLogin_DisabledAccount(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", models.LoginRequest{Username: "disabled", Password: "Disabled123!"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "ACCOUNT_DISABLED", decodeError(t, body).ErrorCode)
}

func TestMFAFlow(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	out := login(t, ts.URL, "mfauser", "MfaUser123!")
	require.True(t, out.RequiresMFA)
	require.Equal(t, MFAToken, out.MFAToken)
	require.Empty(t, out.Token)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/auth/mfa/verify", "", models.MFAVerifyRequest{MFAToken: MFAToken, VerificationCode: "999999"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_MFA_CODE", decodeError(t, body).ErrorCode)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/auth/mfa/verify", "", models.MFAVerifyRequest{MFAToken: MFAToken, VerificationCode: MFACode})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var verified models.LoginResponse
	require.NoError(t, json.Unmarshal(body, &verified))
	assert.Equal(t, "mock-jwt-token-mfauser", verified.Token)

	// The MFA token is single use
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/auth/mfa/verify", "", models.MFAVerifyRequest{MFAToken: MFAToken, VerificationCode: MFACode})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_MFA_TOKEN", decodeError(t, body).ErrorCode)
}

func TestRefreshAndLogout(t *testing.T) {
	srv, ts := newTestServer(t, Config{})

	out := login(t, ts.URL, "engineer", "Engineer123!")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/auth/refresh", "", models.RefreshRequest{RefreshToken: out.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/auth/logout", out.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/auth/profile", out.Token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_TOKEN", decodeError(t, body).ErrorCode)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/auth/refresh", "", models.RefreshRequest{RefreshToken: out.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_REFRESH_TOKEN", decodeError(t, body).ErrorCode)

	assert.Equal(t, 2, srv.Calls("POST /auth/refresh"))
	assert.Equal(t, 1, srv.Calls("POST /auth/logout"))
}

func TestProfile(t *testing.T) {
	_, ts := newTestServer(t, Config{BasePath: "/api"})

	out := login(t, ts.URL+"/api", "analyst", "Analyst123!")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/auth/profile", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Authorization", resp.Header.Get("Vary"))

	var user models.User
	require.NoError(t, json.Unmarshal(body, &user))
	assert.Equal(t, "analyst", user.Username)
	assert.Equal(t, models.RoleDataAnalyst, user.Role)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/auth/profile", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, body).ErrorCode)
}

func TestExpiredToken(t *testing.T) {
	now := time.Now()
	var skew atomic.Int64
	_, ts := newTestServer(t, Config{TokenTTL: time.Minute, Now: func() time.Time {
		return now.Add(time.Duration(skew.Load()))
	}})

	out := login(t, ts.URL, "viewer", "Viewer123!")

	skew.Store(int64(2 * time.Minute))

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/pipelines", out.Token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "TOKEN_EXPIRED", decodeError(t, body).ErrorCode)
}

func TestJWTMode(t *testing.T) {
	_, ts := newTestServer(t, Config{SigningKey: []byte("mock-signing-key-minimum-32-characters")})

	out := login(t, ts.URL, "engineer", "Engineer123!")
	assert.NotEqual(t, "mock-jwt-token-engineer", out.Token)

	claims, err := credentials.ParseClaims(out.Token)
	require.NoError(t, err)
	assert.Equal(t, "engineer", claims.Username)
	assert.Equal(t, "data_engineer", claims.Role)
	assert.Equal(t, credentials.Issuer, claims.Issuer)

	exp, ok := credentials.ExpiryFromToken(out.Token)
	require.True(t, ok)
	assert.InDelta(t, out.ExpiresAt, exp.UnixMilli(), 1000)
}

func TestPermissions(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	viewer := login(t, ts.URL, "viewer", "Viewer123!")
	admin := login(t, ts.URL, "admin", "Admin123!")
	engineer := login(t, ts.URL, "engineer", "Engineer123!")

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/pipelines", viewer.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/pipelines/pl-001/run", viewer.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", decodeError(t, body).ErrorCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/pipelines/pl-001/run", engineer.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/admin/users", engineer.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/admin/users", admin.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env struct {
		Status string        `json:"status"`
		Data   []models.User `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "success", env.Status)
	assert.Len(t, env.Data, 6)
	assert.Equal(t, "user-001", env.Data[0].ID)
}

func TestDomainEndpoints(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	token := login(t, ts.URL, "engineer", "Engineer123!").Token

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/pipelines?status=failed", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pipelines struct {
		Data     []models.Pipeline `json:"data"`
		Metadata map[string]any    `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(body, &pipelines))
	require.Len(t, pipelines.Data, 1)
	assert.Equal(t, "pl-003", pipelines.Data[0].ID)
	assert.Equal(t, float64(1), pipelines.Metadata["total"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/pipelines/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/monitoring/alerts/al-001/acknowledge", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var alert struct {
		Data models.Alert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &alert))
	assert.True(t, alert.Data.Acknowledged)
	assert.Equal(t, "engineer", alert.Data.AcknowledgedBy)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/monitoring/alerts?acknowledged=false", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var alerts struct {
		Data []models.Alert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &alerts))
	assert.Len(t, alerts.Data, 2)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/healing/actions/ha-001/approve", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/healing/actions/ha-001/approve", token, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE", decodeError(t, body).ErrorCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/quality/metrics?pipelineId=pl-002", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFailNext(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	token := login(t, ts.URL, "viewer", "Viewer123!").Token

	srv.FailNext("GET /pipelines", http.StatusServiceUnavailable, 2)

	for range 2 {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/pipelines", token, nil)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "INJECTED_FAILURE", decodeError(t, body).ErrorCode)
	}

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/pipelines", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, srv.Calls("GET /pipelines"))
}

func TestCORSAndGzip(t *testing.T) {
	_, ts := newTestServer(t, Config{CORSOrigins: []string{"https://console.example.com"}, Gzip: true})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/pipelines", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://console.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	out := login(t, ts.URL, "admin", "Admin123!")
	assert.Equal(t, "mock-jwt-token-admin", out.Token)
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", ExtractClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", ExtractClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.3")
	assert.Equal(t, "203.0.113.7", ExtractClientIP(req))
}
