package models

import "time"

// DeploymentMode selects whether a deployment touches the active pointer
type DeploymentMode string

const (
	ModeDryRun DeploymentMode = "dry_run"
	ModeLive   DeploymentMode = "live"
)

// DeploymentState defines the state machine for deployment records
type DeploymentState string

const (
	DeploymentRequested      DeploymentState = "requested"
	DeploymentDryRunComplete DeploymentState = "dry_run_complete"
	DeploymentStaged         DeploymentState = "staged"
	DeploymentActive         DeploymentState = "active"
	DeploymentSuperseded     DeploymentState = "superseded"
	DeploymentRolledBack     DeploymentState = "rolled_back"
)

// DeploymentRecord is one entry in a model's append-only deployment log.
// Records are never rewritten after the fact; the current active pointer is
// derived from the latest live entry, not stored independently.
type DeploymentRecord struct {
	ID             int64            `json:"id"`
	ModelName      string           `json:"model_name"`
	Target         SemanticVersion  `json:"target"`
	PreviousActive *SemanticVersion `json:"previous_active,omitempty"`
	Mode           DeploymentMode   `json:"mode"`
	State          DeploymentState  `json:"state"`
	Rollback       bool             `json:"rollback,omitempty"`
	RequestedBy    string           `json:"requested_by,omitempty"`
	Description    string           `json:"description,omitempty"`
	RequestedAt    time.Time        `json:"requested_at"`
	ActivatedAt    *time.Time       `json:"activated_at,omitempty"`
	RolledBackAt   *time.Time       `json:"rolled_back_at,omitempty"`
}

// Clone returns a deep copy of the record
func (d *DeploymentRecord) Clone() *DeploymentRecord {
	c := *d
	if d.PreviousActive != nil {
		prev := *d.PreviousActive
		c.PreviousActive = &prev
	}
	if d.ActivatedAt != nil {
		t := *d.ActivatedAt
		c.ActivatedAt = &t
	}
	if d.RolledBackAt != nil {
		t := *d.RolledBackAt
		c.RolledBackAt = &t
	}
	return &c
}
