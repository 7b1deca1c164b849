package models

import "time"

// AlertSeverity defines alert severity levels
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertEvent is emitted by the monitoring engine when an alert transitions to
// firing. Events are immutable; clearing an alert emits nothing.
type AlertEvent struct {
	ID              string        `json:"id"`
	AlertName       string        `json:"alert_name"`
	ModelName       string        `json:"model_name"`
	MetricName      string        `json:"metric_name"`
	Severity        AlertSeverity `json:"severity"`
	WindowStart     time.Time     `json:"window_start"`
	WindowEnd       time.Time     `json:"window_end"`
	TriggeringValue float64       `json:"triggering_value"`
	DeploymentID    int64         `json:"deployment_id"`
	EmittedAt       time.Time     `json:"emitted_at"`
}
