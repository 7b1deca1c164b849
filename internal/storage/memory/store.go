package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/internal/storage"
	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// MemoryStore implements the Store interface in process memory. Used for
// tests and single-node development; everything is lost on restart.
type MemoryStore struct {
	logger *logrus.Logger
	mu     sync.RWMutex

	versions    map[string]map[string]*models.ModelVersion // model name -> version string -> version
	deployments []*models.DeploymentRecord                 // append-only, id order
	alerts      map[int64][]*models.AlertEvent             // deployment id -> events
	retrains    map[string]*models.RetrainRequest          // request id -> request

	nextDeploymentID int64
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	if logger == nil {
		logger = logrus.New()
	}

	return &MemoryStore{
		logger:           logger,
		versions:         make(map[string]map[string]*models.ModelVersion),
		alerts:           make(map[int64][]*models.AlertEvent),
		retrains:         make(map[string]*models.RetrainRequest),
		nextDeploymentID: 1,
	}
}

// Connect is a no-op for the in-memory store
func (s *MemoryStore) Connect(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error { return nil }

// Ping is a no-op for the in-memory store
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// PutVersion stores a new version record
func (s *MemoryStore) PutVersion(ctx context.Context, version *models.ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byVersion, ok := s.versions[version.ModelName]
	if !ok {
		byVersion = make(map[string]*models.ModelVersion)
		s.versions[version.ModelName] = byVersion
	}

	key := version.Version.String()
	if _, exists := byVersion[key]; exists {
		return errors.NewValidationError("DUPLICATE_VERSION",
			"version "+key+" already exists for model "+version.ModelName)
	}

	byVersion[key] = version.Clone()
	return nil
}

// GetVersion reads a version by identity
func (s *MemoryStore) GetVersion(ctx context.Context, modelName string, version models.SemanticVersion) (*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := s.lookupVersion(modelName, version)
	if err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// ListVersions returns a snapshot ordered by semantic version descending
func (s *MemoryStore) ListVersions(ctx context.Context, modelName string) ([]*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byVersion, ok := s.versions[modelName]
	if !ok {
		return nil, nil
	}

	out := make([]*models.ModelVersion, 0, len(byVersion))
	for _, v := range byVersion {
		out = append(out, v.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Version.Compare(out[j].Version) > 0
	})

	return out, nil
}

// UpdateVersionStatus changes the lifecycle status of a version
func (s *MemoryStore) UpdateVersionStatus(ctx context.Context, modelName string, version models.SemanticVersion, status models.VersionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.lookupVersion(modelName, version)
	if err != nil {
		return err
	}

	v.Status = status
	return nil
}

// UpdateVersionTags replaces the tag set of a version
func (s *MemoryStore) UpdateVersionTags(ctx context.Context, modelName string, version models.SemanticVersion, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.lookupVersion(modelName, version)
	if err != nil {
		return err
	}

	v.Tags = append([]string(nil), tags...)
	return nil
}

// DeleteVersion removes a version record
func (s *MemoryStore) DeleteVersion(ctx context.Context, modelName string, version models.SemanticVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byVersion, ok := s.versions[modelName]
	if !ok {
		return errors.NewNotFoundError("MODEL_NOT_FOUND", "model "+modelName+" not found")
	}

	key := version.String()
	if _, exists := byVersion[key]; !exists {
		return errors.NewNotFoundError("VERSION_NOT_FOUND",
			"version "+key+" not found for model "+modelName)
	}

	delete(byVersion, key)
	return nil
}

// AppendDeployment appends a record, assigning the next deployment id
func (s *MemoryStore) AppendDeployment(ctx context.Context, record *models.DeploymentRecord) (*models.DeploymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record.Clone()
	stored.ID = s.nextDeploymentID
	s.nextDeploymentID++

	s.deployments = append(s.deployments, stored)
	return stored.Clone(), nil
}

// GetDeployment reads a record by id
func (s *MemoryStore) GetDeployment(ctx context.Context, id int64) (*models.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.deployments {
		if d.ID == id {
			return d.Clone(), nil
		}
	}
	return nil, errors.NewNotFoundError("DEPLOYMENT_NOT_FOUND", "deployment not found")
}

// ListDeployments returns the log for a model, newest first
func (s *MemoryStore) ListDeployments(ctx context.Context, modelName string) ([]*models.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.DeploymentRecord
	for i := len(s.deployments) - 1; i >= 0; i-- {
		if s.deployments[i].ModelName == modelName {
			out = append(out, s.deployments[i].Clone())
		}
	}
	return out, nil
}

// LatestActive returns the most recent live record still active, or nil
func (s *MemoryStore) LatestActive(ctx context.Context, modelName string) (*models.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.deployments) - 1; i >= 0; i-- {
		d := s.deployments[i]
		if d.ModelName == modelName && d.Mode == models.ModeLive && d.State == models.DeploymentActive {
			return d.Clone(), nil
		}
	}
	return nil, nil
}

// UpdateDeploymentState advances a record's state
func (s *MemoryStore) UpdateDeploymentState(ctx context.Context, id int64, state models.DeploymentState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.deployments {
		if d.ID != id {
			continue
		}
		d.State = state
		if state == models.DeploymentRolledBack {
			t := at
			d.RolledBackAt = &t
		}
		return nil
	}
	return errors.NewNotFoundError("DEPLOYMENT_NOT_FOUND", "deployment not found")
}

// AppendAlert appends an immutable alert event
func (s *MemoryStore) AppendAlert(ctx context.Context, event *models.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *event
	s.alerts[event.DeploymentID] = append(s.alerts[event.DeploymentID], &stored)
	return nil
}

// ListAlerts returns events for a deployment, newest first
func (s *MemoryStore) ListAlerts(ctx context.Context, deploymentID int64) ([]*models.AlertEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.alerts[deploymentID]
	out := make([]*models.AlertEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := *events[i]
		out = append(out, &e)
	}
	return out, nil
}

// PutRetrainRequest stores a new request
func (s *MemoryStore) PutRetrainRequest(ctx context.Context, request *models.RetrainRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.retrains[request.ID]; exists {
		return errors.NewValidationError("DUPLICATE_REQUEST", "retrain request already exists")
	}

	s.retrains[request.ID] = request.Clone()
	return nil
}

// GetRetrainRequest reads a request by id
func (s *MemoryStore) GetRetrainRequest(ctx context.Context, id string) (*models.RetrainRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.retrains[id]
	if !ok {
		return nil, errors.NewNotFoundError("REQUEST_NOT_FOUND", "retrain request not found")
	}
	return r.Clone(), nil
}

// UpdateRetrainRequest advances a request's status and optional result
func (s *MemoryStore) UpdateRetrainRequest(ctx context.Context, id string, status models.RetrainStatus, result *models.SemanticVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.retrains[id]
	if !ok {
		return errors.NewNotFoundError("REQUEST_NOT_FOUND", "retrain request not found")
	}

	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	if result != nil {
		v := *result
		r.ResultVersion = &v
	}
	return nil
}

// ListRetrainRequests returns requests for a model, newest first
func (s *MemoryStore) ListRetrainRequests(ctx context.Context, modelName string, openOnly bool) ([]*models.RetrainRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RetrainRequest
	for _, r := range s.retrains {
		if r.ModelName != modelName {
			continue
		}
		if openOnly && r.Status.IsTerminal() {
			continue
		}
		out = append(out, r.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})

	return out, nil
}

// lookupVersion finds the mutable record; caller must hold the lock
func (s *MemoryStore) lookupVersion(modelName string, version models.SemanticVersion) (*models.ModelVersion, error) {
	byVersion, ok := s.versions[modelName]
	if !ok {
		return nil, errors.NewNotFoundError("MODEL_NOT_FOUND", "model "+modelName+" not found")
	}

	v, ok := byVersion[version.String()]
	if !ok {
		return nil, errors.NewNotFoundError("VERSION_NOT_FOUND",
			"version "+version.String()+" not found for model "+modelName)
	}
	return v, nil
}

var _ storage.Store = (*MemoryStore)(nil)
