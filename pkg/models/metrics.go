package models

import "time"

// Recognized serving metrics emitted by the model server
const (
	MetricPredictionLatencyMS = "prediction_latency_ms"
	MetricErrorRate           = "error_rate"
	MetricPredictionAccuracy  = "prediction_accuracy"
	MetricModelDrift          = "model_drift"
	MetricQueueUtilization    = "queue_utilization"
)

// MetricSample is a single observation from the serving process, tagged with
// the deployment it was produced under. Samples are append-only.
type MetricSample struct {
	MetricName   string    `json:"metric_name"`
	Value        float64   `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
	DeploymentID int64     `json:"deployment_id"`
}

// MetricSummary describes the current window state for one metric
type MetricSummary struct {
	MetricName   string    `json:"metric_name"`
	DeploymentID int64     `json:"deployment_id"`
	Aggregate    float64   `json:"aggregate"`
	SampleCount  int       `json:"sample_count"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
}
