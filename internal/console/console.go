// Package console provides typed access to the pipeline console API. Calls
// are checked against the signed-in user's permissions before anything is
// sent.
package console

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pipeline-console/internal/apiclient"
	"github.com/wolfeidau/pipeline-console/internal/authz"
	"github.com/wolfeidau/pipeline-console/internal/models"
)

// CodeForbidden is the error code returned when a permission check fails
// locally.
const CodeForbidden = "FORBIDDEN"

// Authorizer answers permission questions for the signed-in user.
// *session.Controller implements it.
type Authorizer interface {
	CheckPermission(perm authz.Permission) bool
}

// Console groups the domain endpoints.
type Console struct {
	Pipelines *Pipelines
	Quality   *Quality
	Healing   *Healing
	Alerts    *Alerts
	Admin     *Admin
}

// New builds a Console on top of client.
func New(client *apiclient.Client, authorizer Authorizer) *Console {
	b := base{client: client, authorizer: authorizer}
	return &Console{
		Pipelines: &Pipelines{b},
		Quality:   &Quality{b},
		Healing:   &Healing{b},
		Alerts:    &Alerts{b},
		Admin:     &Admin{b},
	}
}

type base struct {
	client     *apiclient.Client
	authorizer Authorizer
}

func (b base) check(perm authz.Permission) error {
	if b.authorizer != nil && b.authorizer.CheckPermission(perm) {
		return nil
	}

	log.Debug().Str("permission", perm.String()).Msg("permission check failed, request not sent")

	apiErr := apiclient.NewError(http.StatusForbidden, "You do not have permission to perform this action", CodeForbidden)
	apiErr.Details = map[string]any{"permission": perm.String()}
	return apiErr
}

// Pipelines covers /pipelines.
type Pipelines struct{ base }

// PipelineFilter narrows List. Empty fields match everything.
type PipelineFilter struct {
	Status string
}

func (p *Pipelines) List(ctx context.Context, filter PipelineFilter) ([]models.Pipeline, error) {
	if err := p.check(authz.PermPipelinesView); err != nil {
		return nil, err
	}

	params := url.Values{}
	if filter.Status != "" {
		params.Set("status", filter.Status)
	}

	var out []models.Pipeline
	if err := p.client.Get(ctx, "/pipelines", &out, apiclient.WithParams(params)); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipelines) Get(ctx context.Context, id string) (*models.Pipeline, error) {
	if err := p.check(authz.PermPipelinesView); err != nil {
		return nil, err
	}

	var out models.Pipeline
	if err := p.client.Get(ctx, "/pipelines/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Run triggers a pipeline. Runs are not retried.
func (p *Pipelines) Run(ctx context.Context, id string) (*models.PipelineRun, error) {
	if err := p.check(authz.PermPipelinesRun); err != nil {
		return nil, err
	}

	var out models.PipelineRun
	if err := p.client.Post(ctx, "/pipelines/"+url.PathEscape(id)+"/run", nil, &out, apiclient.NoRetry()); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quality covers /quality.
type Quality struct{ base }

// Metrics lists quality metrics, optionally for a single pipeline.
func (q *Quality) Metrics(ctx context.Context, pipelineID string) ([]models.QualityMetric, error) {
	if err := q.check(authz.PermQualityView); err != nil {
		return nil, err
	}

	params := url.Values{}
	if pipelineID != "" {
		params.Set("pipelineId", pipelineID)
	}

	var out []models.QualityMetric
	if err := q.client.Get(ctx, "/quality/metrics", &out, apiclient.WithParams(params)); err != nil {
		return nil, err
	}
	return out, nil
}

// Healing covers /healing.
type Healing struct{ base }

func (h *Healing) Actions(ctx context.Context) ([]models.HealingAction, error) {
	if err := h.check(authz.PermHealingView); err != nil {
		return nil, err
	}

	var out []models.HealingAction
	if err := h.client.Get(ctx, "/healing/actions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Approve approves a pending healing action.
func (h *Healing) Approve(ctx context.Context, id string) (*models.HealingAction, error) {
	if err := h.check(authz.PermHealingApprove); err != nil {
		return nil, err
	}

	var out models.HealingAction
	if err := h.client.Post(ctx, "/healing/actions/"+url.PathEscape(id)+"/approve", nil, &out, apiclient.NoRetry()); err != nil {
		return nil, err
	}
	return &out, nil
}

// Alerts covers /monitoring/alerts.
type Alerts struct{ base }

// AlertFilter narrows List.
type AlertFilter struct {
	Severity       string
	Unacknowledged bool
}

func (a *Alerts) List(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	if err := a.check(authz.PermAlertsView); err != nil {
		return nil, err
	}

	params := url.Values{}
	if filter.Severity != "" {
		params.Set("severity", filter.Severity)
	}
	if filter.Unacknowledged {
		params.Set("acknowledged", "false")
	}

	var out []models.Alert
	if err := a.client.Get(ctx, "/monitoring/alerts", &out, apiclient.WithParams(params)); err != nil {
		return nil, err
	}
	return out, nil
}

// Acknowledge marks an alert as seen. Acknowledging twice is not an error.
func (a *Alerts) Acknowledge(ctx context.Context, id string) (*models.Alert, error) {
	if err := a.check(authz.PermAlertsAcknowledge); err != nil {
		return nil, err
	}

	var out models.Alert
	if err := a.client.Post(ctx, "/monitoring/alerts/"+url.PathEscape(id)+"/acknowledge", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Admin covers /admin.
type Admin struct{ base }

func (a *Admin) Users(ctx context.Context) ([]models.User, error) {
	if err := a.check(authz.PermAdminUsers); err != nil {
		return nil, err
	}

	var out []models.User
	if err := a.client.Get(ctx, "/admin/users", &out); err != nil {
		return nil, err
	}
	return out, nil
}
