package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/pipeline-console/internal/mockapi"
)

type runner interface {
	Run(ctx context.Context, globals *Globals) error
}

type cliHarness struct {
	srv  *mockapi.Server
	url  string
	home string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	for _, k := range []string{"CONSOLE_API_URL", "CONSOLE_TOKEN_STORE", "CONSOLE_TOKEN_KEY", "CONSOLE_PASSWORD", "CONSOLE_AUTH_ENABLED", "CONSOLE_FEATURES"} {
		t.Setenv(k, "")
	}
	t.Setenv("LOG_LEVEL", "error")

	prev := readSecret
	readSecret = func(string) (string, error) { return "", errNotInteractive }
	t.Cleanup(func() { readSecret = prev })

	srv := mockapi.New(mockapi.Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &cliHarness{srv: srv, url: ts.URL, home: home}
}

func (h *cliHarness) run(t *testing.T, cmd runner) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := cmd.Run(context.Background(), &Globals{APIURL: h.url, Stdout: &out})
	return out.String(), err
}

func TestLoginWhoamiLogout(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run(t, &LoginCmd{Username: "admin", Password: "Admin123!"})
	require.NoError(t, err)
	assert.Contains(t, out, "Login successful")
	assert.Contains(t, out, "admin")
	assert.FileExists(t, filepath.Join(h.home, ".pipeline-console", "pipeline_console_auth.json"))

	out, err = h.run(t, &WhoamiCmd{})
	require.NoError(t, err)
	assert.Contains(t, out, "admin@example.com")
	assert.Contains(t, out, "admin:users")

	out, err = h.run(t, &TokenCmd{})
	require.NoError(t, err)
	assert.Equal(t, "mock-jwt-token-admin\n", out)

	_, err = h.run(t, &LogoutCmd{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.srv.Calls("POST /auth/logout"))

	_, err = h.run(t, &WhoamiCmd{})
	require.ErrorIs(t, err, errNotSignedIn)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run(t, &LoginCmd{Username: "admin", Password: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_CREDENTIALS")
}

func TestLogin_PasswordRequiredWhenNotInteractive(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run(t, &LoginCmd{Username: "admin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-interactive")
	assert.Zero(t, h.srv.Calls("POST /auth/login"))
}

func TestLogin_MFA(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run(t, &LoginCmd{Username: "mfauser", Password: "MfaUser123!", Code: "123456"})
	require.NoError(t, err)
	assert.Contains(t, out, "mfauser")
	assert.Contains(t, out, "data_engineer")
}

func TestLogin_MFAInTwoSteps(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run(t, &LoginCmd{Username: "mfauser", Password: "MfaUser123!"})
	require.NoError(t, err)
	assert.Contains(t, out, "--mfa-token mock-mfa-token")

	_, err = h.run(t, &MFACmd{MFAToken: "mock-mfa-token", Code: "999999"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_MFA_CODE")

	out, err = h.run(t, &MFACmd{MFAToken: "mock-mfa-token", Code: "123456"})
	require.NoError(t, err)
	assert.Contains(t, out, "Login successful")
}

func TestCan(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run(t, &LoginCmd{Username: "viewer", Password: "Viewer123!"})
	require.NoError(t, err)

	out, err := h.run(t, &CanCmd{Permission: "pipelines:view"})
	require.NoError(t, err)
	assert.Contains(t, out, "allowed")

	_, err = h.run(t, &CanCmd{Permission: "pipelines:run"})
	require.ErrorIs(t, err, errPermissionDenied)

	_, err = h.run(t, &CanCmd{Permission: "pipelines:explode"})
	require.Error(t, err)
}

func TestPipelinesAndAlerts(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run(t, &LoginCmd{Username: "engineer", Password: "Engineer123!"})
	require.NoError(t, err)

	out, err := h.run(t, &PipelinesListCmd{})
	require.NoError(t, err)
	assert.Contains(t, out, "customer-ingest")
	assert.Contains(t, out, "finance-export")

	out, err = h.run(t, &PipelinesRunCmd{ID: "pl-003"})
	require.NoError(t, err)
	assert.Contains(t, out, "pl-003")

	out, err = h.run(t, &AlertsAckCmd{ID: "al-002"})
	require.NoError(t, err)
	assert.Contains(t, out, "acknowledged by engineer")

	out, err = h.run(t, &AlertsListCmd{Open: true})
	require.NoError(t, err)
	assert.NotContains(t, out, "al-002")
	assert.Contains(t, out, "al-001")
}

func TestPipelinesRun_DeniedLocally(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run(t, &LoginCmd{Username: "analyst", Password: "Analyst123!"})
	require.NoError(t, err)

	_, err = h.run(t, &PipelinesRunCmd{ID: "pl-001"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FORBIDDEN")
	assert.Zero(t, h.srv.Calls("POST /pipelines/{id}/run"))
}

func TestGet(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run(t, &LoginCmd{Username: "analyst", Password: "Analyst123!"})
	require.NoError(t, err)

	out, err := h.run(t, &GetCmd{Path: "/quality/metrics", Params: []string{"pipelineId=pl-003"}})
	require.NoError(t, err)
	assert.Contains(t, out, `"dimension": "freshness"`)

	_, err = h.run(t, &GetCmd{Path: "/quality/metrics", Params: []string{"bad"}})
	require.Error(t, err)
}

func TestAuthDisabled(t *testing.T) {
	h := newCLIHarness(t)
	t.Setenv("CONSOLE_AUTH_ENABLED", "false")

	_, err := h.run(t, &LoginCmd{Username: "admin", Password: "Admin123!"})
	require.ErrorIs(t, err, errAuthDisabled)
}

func TestFeatureFlags(t *testing.T) {
	h := newCLIHarness(t)
	t.Setenv("CONSOLE_FEATURES", "pipelines")

	_, err := h.run(t, &LoginCmd{Username: "engineer", Password: "Engineer123!"})
	require.NoError(t, err)

	out, err := h.run(t, &PipelinesListCmd{})
	require.NoError(t, err)
	assert.Contains(t, out, "customer-ingest")

	_, err = h.run(t, &AlertsListCmd{})
	require.ErrorIs(t, err, errFeatureDisabled)
	_, err = h.run(t, &AlertsAckCmd{ID: "al-002"})
	require.ErrorIs(t, err, errFeatureDisabled)
	assert.Zero(t, h.srv.Calls("GET /monitoring/alerts"))
	assert.Zero(t, h.srv.Calls("POST /monitoring/alerts/{id}/acknowledge"))
}
