package mockapi

import (
	"time"

	"github.com/wolfeidau/pipeline-console/internal/models"
)

// Fixture credentials and tokens understood by the mock API.
const (
	MFAToken        = "mock-mfa-token"
	MFACode         = "123456"
	AccessPrefix    = "mock-jwt-token-"
	RefreshPrefix   = "mock-refresh-token-"
	DefaultTokenTTL = time.Hour
)

type fixtureUser struct {
	password string
	user     models.User
}

var fixtureEpoch = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func fixtureUsers() map[string]fixtureUser {
	mk := func(id, username, password, first, last string, role models.Role, mfa, active bool) fixtureUser {
		return fixtureUser{
			password: password,
			user: models.User{
				ID:         id,
				Username:   username,
				Email:      username + "@example.com",
				FirstName:  first,
				LastName:   last,
				Role:       role,
				IsActive:   active,
				MFAEnabled: mfa,
				CreatedAt:  fixtureEpoch,
				UpdatedAt:  fixtureEpoch,
			},
		}
	}

	users := []fixtureUser{
		mk("user-001", "admin", "Admin123!", "Admin", "User", models.RoleAdmin, false, true),
		mk("user-002", "mfauser", "MfaUser123!", "Mfa", "User", models.RoleDataEngineer, true, true),
		mk("user-003", "engineer", "Engineer123!", "Dana", "Engineer", models.RoleDataEngineer, false, true),
		mk("user-004", "analyst", "Analyst123!", "Alex", "Analyst", models.RoleDataAnalyst, false, true),
		mk("user-005", "viewer", "Viewer123!", "Val", "Viewer", models.RoleViewer, false, true),
		mk("user-006", "disabled", "Disabled123!", "Dee", "Disabled", models.RoleViewer, false, false),
	}

	out := make(map[string]fixtureUser, len(users))
	for _, u := range users {
		out[u.user.Username] = u
	}
	return out
}

func fixturePipelines() []models.Pipeline {
	return []models.Pipeline{
		{ID: "pl-001", Name: "customer-ingest", Description: "Ingest customer records from CRM", Status: "healthy", Schedule: "0 * * * *", LastRunAt: fixtureEpoch, HealthScore: 0.98},
		{ID: "pl-002", Name: "orders-transform", Description: "Normalize order events", Status: "degraded", Schedule: "*/15 * * * *", LastRunAt: fixtureEpoch, HealthScore: 0.74},
		{ID: "pl-003", Name: "finance-export", Description: "Nightly finance warehouse export", Status: "failed", Schedule: "0 2 * * *", LastRunAt: fixtureEpoch, HealthScore: 0.31},
	}
}

func fixtureAlerts() []models.Alert {
	return []models.Alert{
		{ID: "al-001", PipelineID: "pl-003", Severity: "critical", Message: "Export job failed three consecutive runs", CreatedAt: fixtureEpoch},
		{ID: "al-002", PipelineID: "pl-002", Severity: "warning", Message: "Null rate above threshold on order_total", CreatedAt: fixtureEpoch},
		{ID: "al-003", PipelineID: "pl-001", Severity: "info", Message: "Schema drift detected and auto-resolved", CreatedAt: fixtureEpoch},
	}
}

func fixtureHealingActions() []models.HealingAction {
	return []models.HealingAction{
		{ID: "ha-001", PipelineID: "pl-003", Type: "retry_with_backoff", Description: "Re-run export with extended timeout", Status: "pending_approval", Confidence: 0.82},
		{ID: "ha-002", PipelineID: "pl-002", Type: "impute_nulls", Description: "Impute order_total from line items", Status: "pending_approval", Confidence: 0.67},
		{ID: "ha-003", PipelineID: "pl-001", Type: "schema_evolution", Description: "Add nullable column loyalty_tier", Status: "applied", Confidence: 0.95},
	}
}

func fixtureQualityMetrics() []models.QualityMetric {
	return []models.QualityMetric{
		{PipelineID: "pl-001", Dimension: "completeness", Score: 0.99, Threshold: 0.95, Passing: true},
		{PipelineID: "pl-002", Dimension: "completeness", Score: 0.88, Threshold: 0.95, Passing: false},
		{PipelineID: "pl-002", Dimension: "validity", Score: 0.97, Threshold: 0.9, Passing: true},
		{PipelineID: "pl-003", Dimension: "freshness", Score: 0.42, Threshold: 0.8, Passing: false},
	}
}
