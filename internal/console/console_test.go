package console

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/pipeline-console/internal/apiclient"
	"github.com/wolfeidau/pipeline-console/internal/authz"
	"github.com/wolfeidau/pipeline-console/internal/credentials"
	"github.com/wolfeidau/pipeline-console/internal/mockapi"
	"github.com/wolfeidau/pipeline-console/internal/models"
	"github.com/wolfeidau/pipeline-console/internal/session"
)

func signIn(t *testing.T, username, password string) (*Console, *mockapi.Server) {
	t.Helper()

	srv := mockapi.New(mockapi.Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg := apiclient.DefaultConfig()
	cfg.BaseURL = ts.URL
	cfg.RetryDelay = time.Millisecond

	ctrl, err := session.New(credentials.NewStore(credentials.NewMemoryBackend()), cfg)
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	_, err = ctrl.Login(context.Background(), models.LoginRequest{Username: username, Password: password})
	require.NoError(t, err)

	return New(ctrl.Client(), ctrl), srv
}

func requireForbidden(t *testing.T, err error, perm authz.Permission) {
	t.Helper()
	require.Error(t, err)

	apiErr, ok := apiclient.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, CodeForbidden, apiErr.ErrorCode)
	assert.Equal(t, apiclient.KindAuthentication, apiErr.Kind)
	assert.Equal(t, perm.String(), apiErr.Details["permission"])
}

func TestPipelines(t *testing.T) {
	c, srv := signIn(t, "engineer", "Engineer123!")
	ctx := context.Background()

	all, err := c.Pipelines.List(ctx, PipelineFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := c.Pipelines.List(ctx, PipelineFilter{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "pl-003", failed[0].ID)

	p, err := c.Pipelines.Get(ctx, "pl-002")
	require.NoError(t, err)
	assert.Equal(t, "orders-transform", p.Name)

	_, err = c.Pipelines.Get(ctx, "pl-404")
	require.Error(t, err)
	apiErr, ok := apiclient.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.ErrorCode)
	assert.Equal(t, 2, srv.Calls("GET /pipelines/{id}"))

	run, err := c.Pipelines.Run(ctx, "pl-003")
	require.NoError(t, err)
	assert.Equal(t, "pl-003", run.PipelineID)
	assert.Equal(t, "engineer", run.Requested)
	assert.NotEmpty(t, run.RunID)
}

func TestPermissionCheckedBeforeSending(t *testing.T) {
	c, srv := signIn(t, "viewer", "Viewer123!")
	ctx := context.Background()

	_, err := c.Pipelines.Run(ctx, "pl-001")
	requireForbidden(t, err, authz.PermPipelinesRun)

	_, err = c.Healing.Approve(ctx, "ha-001")
	requireForbidden(t, err, authz.PermHealingApprove)

	_, err = c.Alerts.Acknowledge(ctx, "al-001")
	requireForbidden(t, err, authz.PermAlertsAcknowledge)

	_, err = c.Admin.Users(ctx)
	requireForbidden(t, err, authz.PermAdminUsers)

	assert.Zero(t, srv.Calls("POST /pipelines/{id}/run"))
	assert.Zero(t, srv.Calls("POST /healing/actions/{id}/approve"))
	assert.Zero(t, srv.Calls("POST /monitoring/alerts/{id}/acknowledge"))
	assert.Zero(t, srv.Calls("GET /admin/users"))

	// Views are still allowed.
	_, err = c.Pipelines.List(ctx, PipelineFilter{})
	require.NoError(t, err)
}

func TestNoAuthorizer(t *testing.T) {
	c := New(nil, nil)

	_, err := c.Quality.Metrics(context.Background(), "")
	requireForbidden(t, err, authz.PermQualityView)
}

func TestQualityMetrics(t *testing.T) {
	c, _ := signIn(t, "analyst", "Analyst123!")
	ctx := context.Background()

	all, err := c.Quality.Metrics(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	one, err := c.Quality.Metrics(ctx, "pl-002")
	require.NoError(t, err)
	assert.Len(t, one, 2)
}

func TestHealing(t *testing.T) {
	c, _ := signIn(t, "engineer", "Engineer123!")
	ctx := context.Background()

	actions, err := c.Healing.Actions(ctx)
	require.NoError(t, err)
	assert.Len(t, actions, 3)

	approved, err := c.Healing.Approve(ctx, "ha-001")
	require.NoError(t, err)
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "engineer", approved.ApprovedBy)
	assert.NotNil(t, approved.ApprovedAt)

	_, err = c.Healing.Approve(ctx, "ha-003")
	require.Error(t, err)
	apiErr, ok := apiclient.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "INVALID_STATE", apiErr.ErrorCode)
	assert.Equal(t, "applied", apiErr.Details["status"])
}

func TestAlerts(t *testing.T) {
	c, _ := signIn(t, "analyst", "Analyst123!")
	ctx := context.Background()

	critical, err := c.Alerts.List(ctx, AlertFilter{Severity: "critical"})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, "al-001", critical[0].ID)

	alert, err := c.Alerts.Acknowledge(ctx, "al-001")
	require.NoError(t, err)
	assert.True(t, alert.Acknowledged)
	assert.Equal(t, "analyst", alert.AcknowledgedBy)

	open, err := c.Alerts.List(ctx, AlertFilter{Unacknowledged: true})
	require.NoError(t, err)
	assert.Len(t, open, 2)
	for _, a := range open {
		assert.NotEqual(t, "al-001", a.ID)
	}
}

func TestAdminUsers(t *testing.T) {
	c, _ := signIn(t, "admin", "Admin123!")

	users, err := c.Admin.Users(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, users)
	assert.Equal(t, "user-001", users[0].ID)
	assert.Equal(t, models.RoleAdmin, users[0].Role)
}
