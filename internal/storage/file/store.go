package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/internal/storage"
	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// FileStoreConfig contains configuration for file-based storage
type FileStoreConfig struct {
	BasePath   string `json:"base_path" yaml:"base_path"`
	CreateDirs bool   `json:"create_dirs" yaml:"create_dirs"` // auto-create directories
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"` // fsync after each write
}

/// FileStore implements the Store interface on the local filesystem. Layout:
//
//	<base>/versions.json              keyed table of model versions
//	<base>/deployments/<model>.json   append-only deployment log per model
//	<base>/alerts/<deployment>.json   append-only alert log per deployment
//	<base>/retrains.json              retrain requests
//	<base>/sequence.json              deployment id sequence
//
// All state is held in memory and rewritten atomically (temp file + rename)
// on each mutation.
type FileStore struct {
	config    *FileStoreConfig
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool

	versions    map[string]map[string]*models.ModelVersion
	deployments map[string][]*models.DeploymentRecord
	alerts      map[int64][]*models.AlertEvent
	retrains    map[string]*models.RetrainRequest

	nextDeploymentID int64
}

// NewFileStore creates a new file-backed store
func NewFileStore(config *FileStoreConfig, logger *logrus.Logger) (*FileStore, error) {
	if config == nil {
		return nil, errors.NewValidationError("INVALID_CONFIG", "FileStoreConfig cannot be nil")
	}
	if config.BasePath == "" {
		return nil, errors.NewValidationError("INVALID_CONFIG", "BasePath is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &FileStore{
		config:           config,
		logger:           logger,
		versions:         make(map[string]map[string]*models.ModelVersion),
		deployments:      make(map[string][]*models.DeploymentRecord),
		alerts:           make(map[int64][]*models.AlertEvent),
		retrains:         make(map[string]*models.RetrainRequest),
		nextDeploymentID: 1,
	}, nil
}

// Connect prepares the directory layout and loads existing state
func (s *FileStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	if s.config.CreateDirs {
		for _, dir := range []string{s.config.BasePath, s.deploymentsDir(), s.alertsDir()} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.WrapError(err, errors.ErrorTypeStorage, "MKDIR_FAILED",
					"failed to create storage directory "+dir)
			}
		}
	}

	if err := s.loadLocked(); err != nil {
		return err
	}

	s.connected = true
	s.logger.WithField("base_path", s.config.BasePath).Info("File store connected")
	return nil
}

// Close releases the store
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Ping checks the base path is still reachable
func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.config.BasePath); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "STORE_UNAVAILABLE",
			"base path not accessible")
	}
	return nil
}

// PutVersion stores a new version record
func (s *FileStore) PutVersion(ctx context.Context, version *models.ModelVersion) error {
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
	if err := s.persistVersionsLocked(); err != nil {
		delete(byVersion, key)
		return err
	}
	return nil
}

// GetVersion reads a version by identity
func (s *FileStore) GetVersion(ctx context.Context, modelName string, version models.SemanticVersion) (*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := s.lookupVersionLocked(modelName, version)
	if err != nil {
		return nil, err
	}
	return v.Clone(), nil
}

// ListVersions returns a snapshot ordered by semantic version descending
func (s *FileStore) ListVersions(ctx context.Context, modelName string) ([]*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byVersion := s.versions[modelName]
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
func (s *FileStore) UpdateVersionStatus(ctx context.Context, modelName string, version models.SemanticVersion, status models.VersionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.lookupVersionLocked(modelName, version)
	if err != nil {
		return err
	}

	prev := v.Status
	v.Status = status
	if err := s.persistVersionsLocked(); err != nil {
		v.Status = prev
		return err
	}
	return nil
}

// UpdateVersionTags replaces the tag set of a version
func (s *FileStore) UpdateVersionTags(ctx context.Context, modelName string, version models.SemanticVersion, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.lookupVersionLocked(modelName, version)
	if err != nil {
		return err
	}

	prev := v.Tags
	v.Tags = append([]string(nil), tags...)
	if err := s.persistVersionsLocked(); err != nil {
		v.Tags = prev
		return err
	}
	return nil
}

// DeleteVersion removes a version record
func (s *FileStore) DeleteVersion(ctx context.Context, modelName string, version models.SemanticVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byVersion, ok := s.versions[modelName]
	if !ok {
		return errors.NewNotFoundError("MODEL_NOT_FOUND", "model "+modelName+" not found")
	}

	key := version.String()
	v, exists := byVersion[key]
	if !exists {
		return errors.NewNotFoundError("VERSION_NOT_FOUND",
			"version "+key+" not found for model "+modelName)
	}

	delete(byVersion, key)
	if err := s.persistVersionsLocked(); err != nil {
		byVersion[key] = v
		return err
	}
	return nil
}

// AppendDeployment appends a record, assigning the next deployment id
func (s *FileStore) AppendDeployment(ctx context.Context, record *models.DeploymentRecord) (*models.DeploymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record.Clone()
	stored.ID = s.nextDeploymentID

	log := s.deployments[stored.ModelName]
	s.deployments[stored.ModelName] = append(log, stored)
	s.nextDeploymentID++

	if err := s.persistDeploymentsLocked(stored.ModelName); err != nil {
		s.deployments[stored.ModelName] = log
		s.nextDeploymentID--
		return nil, err
	}
	if err := s.persistSequenceLocked(); err != nil {
		s.logger.WithError(err).Warn("Failed to persist deployment sequence")
	}
	return stored.Clone(), nil
}

// GetDeployment reads a record by id
func (s *FileStore) GetDeployment(ctx context.Context, id int64) (*models.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, log := range s.deployments {
		for _, d := range log {
			if d.ID == id {
				return d.Clone(), nil
			}
		}
	}
	return nil, errors.NewNotFoundError("DEPLOYMENT_NOT_FOUND", "deployment not found")
}

// ListDeployments returns the log for a model, newest first
func (s *FileStore) ListDeployments(ctx context.Context, modelName string) ([]*models.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.deployments[modelName]
	out := make([]*models.DeploymentRecord, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		out = append(out, log[i].Clone())
	}
	return out, nil
}

// LatestActive returns the most recent live record still active, or nil
func (s *FileStore) LatestActive(ctx context.Context, modelName string) (*models.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.deployments[modelName]
	for i := len(log) - 1; i >= 0; i-- {
		d := log[i]
		if d.Mode == models.ModeLive && d.State == models.DeploymentActive {
			return d.Clone(), nil
		}
	}
	return nil, nil
}

// UpdateDeploymentState advances a record's state
func (s *FileStore) UpdateDeploymentState(ctx context.Context, id int64, state models.DeploymentState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for modelName, log := range s.deployments {
		for _, d := range log {
			if d.ID != id {
				continue
			}

			prevState := d.State
			prevRolledBack := d.RolledBackAt
			d.State = state
			if state == models.DeploymentRolledBack {
				t := at
				d.RolledBackAt = &t
			}

			if err := s.persistDeploymentsLocked(modelName); err != nil {
				d.State = prevState
				d.RolledBackAt = prevRolledBack
				return err
			}
			return nil
		}
	}
	return errors.NewNotFoundError("DEPLOYMENT_NOT_FOUND", "deployment not found")
}

// AppendAlert appends an immutable alert event
func (s *FileStore) AppendAlert(ctx context.Context, event *models.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *event
	log := s.alerts[event.DeploymentID]
	s.alerts[event.DeploymentID] = append(log, &stored)

	if err := s.persistAlertsLocked(event.DeploymentID); err != nil {
		s.alerts[event.DeploymentID] = log
		return err
	}
	return nil
}

// ListAlerts returns events for a deployment, newest first
func (s *FileStore) ListAlerts(ctx context.Context, deploymentID int64) ([]*models.AlertEvent, error) {
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
func (s *FileStore) PutRetrainRequest(ctx context.Context, request *models.RetrainRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.retrains[request.ID]; exists {
		return errors.NewValidationError("DUPLICATE_REQUEST", "retrain request already exists")
	}

	s.retrains[request.ID] = request.Clone()
	if err := s.persistRetrainsLocked(); err != nil {
		delete(s.retrains, request.ID)
		return err
	}
	return nil
}

// GetRetrainRequest reads a request by id
func (s *FileStore) GetRetrainRequest(ctx context.Context, id string) (*models.RetrainRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.retrains[id]
	if !ok {
		return nil, errors.NewNotFoundError("REQUEST_NOT_FOUND", "retrain request not found")
	}
	return r.Clone(), nil
}

// UpdateRetrainRequest advances a request's status and optional result
func (s *FileStore) UpdateRetrainRequest(ctx context.Context, id string, status models.RetrainStatus, result *models.SemanticVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.retrains[id]
	if !ok {
		return errors.NewNotFoundError("REQUEST_NOT_FOUND", "retrain request not found")
	}

	prev := r.Clone()
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	if result != nil {
		v := *result
		r.ResultVersion = &v
	}

	if err := s.persistRetrainsLocked(); err != nil {
		s.retrains[id] = prev
		return err
	}
	return nil
}

// ListRetrainRequests returns requests for a model, newest first
func (s *FileStore) ListRetrainRequests(ctx context.Context, modelName string, openOnly bool) ([]*models.RetrainRequest, error) {
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

func (s *FileStore) deploymentsDir() string { return filepath.Join(s.config.BasePath, "deployments") }
func (s *FileStore) alertsDir() string      { return filepath.Join(s.config.BasePath, "alerts") }

func (s *FileStore) lookupVersionLocked(modelName string, version models.SemanticVersion) (*models.ModelVersion, error) {
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

type sequenceState struct {
	NextDeploymentID int64 `json:"next_deployment_id"`
}

func (s *FileStore) loadLocked() error {
	versionsPath := filepath.Join(s.config.BasePath, "versions.json")
	if err := s.readJSON(versionsPath, &s.versions); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.deploymentsDir())
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
				continue
			}
			modelName := entry.Name()[:len(entry.Name())-len(".json")]
			var log []*models.DeploymentRecord
			if err := s.readJSON(filepath.Join(s.deploymentsDir(), entry.Name()), &log); err != nil {
				return err
			}
			s.deployments[modelName] = log
		}
	}

	entries, err = os.ReadDir(s.alertsDir())
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
				continue
			}
			idStr := entry.Name()[:len(entry.Name())-len(".json")]
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				s.logger.WithField("file", entry.Name()).Warn("Skipping unrecognized alert log file")
				continue
			}
			var events []*models.AlertEvent
			if err := s.readJSON(filepath.Join(s.alertsDir(), entry.Name()), &events); err != nil {
				return err
			}
			s.alerts[id] = events
		}
	}

	if err := s.readJSON(filepath.Join(s.config.BasePath, "retrains.json"), &s.retrains); err != nil {
		return err
	}

	var seq sequenceState
	if err := s.readJSON(filepath.Join(s.config.BasePath, "sequence.json"), &seq); err != nil {
		return err
	}
	if seq.NextDeploymentID > 0 {
		s.nextDeploymentID = seq.NextDeploymentID
	}

	return nil
}

func (s *FileStore) persistVersionsLocked() error {
	return s.writeJSON(filepath.Join(s.config.BasePath, "versions.json"), s.versions)
}

func (s *FileStore) persistDeploymentsLocked(modelName string) error {
	return s.writeJSON(filepath.Join(s.deploymentsDir(), modelName+".json"), s.deployments[modelName])
}

func (s *FileStore) persistAlertsLocked(deploymentID int64) error {
	name := fmt.Sprintf("%d.json", deploymentID)
	return s.writeJSON(filepath.Join(s.alertsDir(), name), s.alerts[deploymentID])
}

func (s *FileStore) persistRetrainsLocked() error {
	return s.writeJSON(filepath.Join(s.config.BasePath, "retrains.json"), s.retrains)
}

func (s *FileStore) persistSequenceLocked() error {
	return s.writeJSON(filepath.Join(s.config.BasePath, "sequence.json"),
		sequenceState{NextDeploymentID: s.nextDeploymentID})
}

func (s *FileStore) readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "failed to read "+path)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "DECODE_FAILED", "failed to decode "+path)
	}
	return nil
}

func (s *FileStore) writeJSON(path string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "ENCODE_FAILED", "failed to encode "+path)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED", "failed to open "+tmp)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED", "failed to write "+tmp)
	}
	if s.config.SyncWrites {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return errors.WrapError(err, errors.ErrorTypeStorage, "SYNC_FAILED", "failed to sync "+tmp)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.WrapError(err, errors.ErrorTypeStorage, "WRITE_FAILED", "failed to close "+tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.WrapError(err, errors.ErrorTypeStorage, "RENAME_FAILED", "failed to replace "+path)
	}
	return nil
}

var _ storage.Store = (*FileStore)(nil)
