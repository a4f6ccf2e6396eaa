package models

import "time"

// Pipeline is a data pipeline managed by the console.
type Pipeline struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Schedule    string    `json:"schedule"`
	LastRunAt   time.Time `json:"lastRunAt"`
	HealthScore float64   `json:"healthScore"`
}

// PipelineRun is the result of triggering a pipeline.
type PipelineRun struct {
	RunID      string    `json:"runId"`
	PipelineID string    `json:"pipelineId"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	Requested  string    `json:"requestedBy"`
}

// Alert is a monitoring alert.
type Alert struct {
	ID             string     `json:"id"`
	PipelineID     string     `json:"pipelineId"`
	Severity       string     `json:"severity"`
	Message        string     `json:"message"`
	CreatedAt      time.Time  `json:"createdAt"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

// HealingAction is a self-healing remediation proposed or taken by the system.
type HealingAction struct {
	ID          string     `json:"id"`
	PipelineID  string     `json:"pipelineId"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Confidence  float64    `json:"confidence"`
	ApprovedBy  string     `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
}

// QualityMetric is a data quality measurement.
type QualityMetric struct {
	PipelineID string  `json:"pipelineId"`
	Dimension  string  `json:"dimension"`
	Score      float64 `json:"score"`
	Threshold  float64 `json:"threshold"`
	Passing    bool    `json:"passing"`
}
