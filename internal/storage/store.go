package storage

import (
	"context"
	"time"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// Store defines the interface for the durable control-plane store. The
// control plane requires read-your-writes consistency per model name; it
// fails closed when the store is unreachable.
type Store interface {
	VersionStore
	DeploymentLog
	AlertLog
	RetrainStore

	// Connect establishes connection to the storage backend
	Connect(ctx context.Context) error

	// Close closes the connection and cleans up resources
	Close() error

	// Ping tests the connection
	Ping(ctx context.Context) error
}

// VersionStore persists model versions as a keyed table
type VersionStore interface {
	// PutVersion stores a new version; fails if the identity already exists
	PutVersion(ctx context.Context, version *models.ModelVersion) error

	// GetVersion reads a version by identity
	GetVersion(ctx context.Context, modelName string, version models.SemanticVersion) (*models.ModelVersion, error)

	// ListVersions returns a snapshot of all versions for a model, ordered
	// by semantic version descending. The snapshot does not reflect
	// registrations that occur after the call.
	ListVersions(ctx context.Context, modelName string) ([]*models.ModelVersion, error)

	// UpdateVersionStatus changes the lifecycle status of a version
	UpdateVersionStatus(ctx context.Context, modelName string, version models.SemanticVersion, status models.VersionStatus) error

	// UpdateVersionTags replaces the tag set of a version
	UpdateVersionTags(ctx context.Context, modelName string, version models.SemanticVersion, tags []string) error

	// DeleteVersion removes a version record (retention pruning only)
	DeleteVersion(ctx context.Context, modelName string, version models.SemanticVersion) error
}

// DeploymentLog persists deployment records as an append-only log per model
// name. Past records never have their activation timestamps rewritten; only
// their state advances.
type DeploymentLog interface {
	// AppendDeployment appends a record, assigning the next monotonically
	// increasing deployment id, and returns the stored record.
	AppendDeployment(ctx context.Context, record *models.DeploymentRecord) (*models.DeploymentRecord, error)

	// GetDeployment reads a record by id
	GetDeployment(ctx context.Context, id int64) (*models.DeploymentRecord, error)

	// ListDeployments returns the log for a model, newest first
	ListDeployments(ctx context.Context, modelName string) ([]*models.DeploymentRecord, error)

	// LatestActive returns the most recent live record still in the active
	// state, or nil when the model has no active deployment.
	LatestActive(ctx context.Context, modelName string) (*models.DeploymentRecord, error)

	// UpdateDeploymentState advances a record's state. The timestamp lands
	// in RolledBackAt when the state is rolled_back, and is ignored for
	// states that carry no timestamp.
	UpdateDeploymentState(ctx context.Context, id int64, state models.DeploymentState, at time.Time) error
}

// AlertLog persists emitted alert events, partitioned by deployment id
type AlertLog interface {
	// AppendAlert appends an immutable alert event
	AppendAlert(ctx context.Context, event *models.AlertEvent) error

	// ListAlerts returns events for a deployment, newest first
	ListAlerts(ctx context.Context, deploymentID int64) ([]*models.AlertEvent, error)
}

// RetrainStore persists retrain requests
type RetrainStore interface {
	// PutRetrainRequest stores a new request
	PutRetrainRequest(ctx context.Context, request *models.RetrainRequest) error

	// GetRetrainRequest reads a request by id
	GetRetrainRequest(ctx context.Context, id string) (*models.RetrainRequest, error)

	// UpdateRetrainRequest advances a request's status and optional result
	UpdateRetrainRequest(ctx context.Context, id string, status models.RetrainStatus, result *models.SemanticVersion) error

	// ListRetrainRequests returns requests for a model, newest first. When
	// openOnly is set, only non-terminal requests are returned.
	ListRetrainRequests(ctx context.Context, modelName string, openOnly bool) ([]*models.RetrainRequest, error)
}
