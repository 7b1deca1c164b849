package models

import "time"

// RetrainStatus defines the lifecycle of a retrain request
type RetrainStatus string

const (
	RetrainPending    RetrainStatus = "pending"
	RetrainDispatched RetrainStatus = "dispatched"
	RetrainCompleted  RetrainStatus = "completed"
	RetrainRejected   RetrainStatus = "rejected"
)

// IsTerminal reports whether the request can no longer change state
func (s RetrainStatus) IsTerminal() bool {
	return s == RetrainCompleted || s == RetrainRejected
}

// RetrainRequest records a decision to request a new training run. Created by
// the retrain trigger and advanced by it on dispatch and on the training
// system's completion callback.
type RetrainRequest struct {
	ID                 string           `json:"id"`
	ModelName          string           `json:"model_name"`
	Reason             string           `json:"reason"`
	TriggeringAlertIDs []string         `json:"triggering_alert_ids,omitempty"`
	RequestedAt        time.Time        `json:"requested_at"`
	Status             RetrainStatus    `json:"status"`
	ResultVersion      *SemanticVersion `json:"result_version,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Clone returns a deep copy of the request
func (r *RetrainRequest) Clone() *RetrainRequest {
	c := *r
	if r.TriggeringAlertIDs != nil {
		c.TriggeringAlertIDs = append([]string(nil), r.TriggeringAlertIDs...)
	}
	if r.ResultVersion != nil {
		v := *r.ResultVersion
		c.ResultVersion = &v
	}
	return &c
}
