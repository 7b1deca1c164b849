package registry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/internal/artifact"
	"github.com/Staysteady/ml-market-maker/internal/locks"
	"github.com/Staysteady/ml-market-maker/internal/storage"
	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// Symbolic version selectors accepted by Get
const (
	SelectorLatest = "latest"
	SelectorActive = "active"
)

// Config configures the model registry
type Config struct {
	// MaxVersions caps how many non-active versions are retained per model
	// name. The active version and versions referenced by a non-terminal
	// retrain request are exempt from pruning.
	MaxVersions int `json:"max_versions" yaml:"max_versions"`

	// InitialVersion is assigned to the first registration of a model name
	InitialVersion models.SemanticVersion `json:"initial_version" yaml:"initial_version"`
}

// DefaultConfig returns the default registry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxVersions:    5,
		InitialVersion: models.SemanticVersion{Major: 1, Minor: 0, Patch: 0},
	}
}

// Registry enforces versioning rules, tagging, and the retention policy on
// top of the durable version store. Reads are lock-free snapshots; only
// version allocation takes a per-model lock so concurrent registrations of
// the same model cannot allocate the same version.
type Registry struct {
	config    *Config
	store     storage.Store
	artifacts artifact.Store
	logger    *logrus.Logger
	allocMu   *locks.KeyedMutex
}

// RegisterRequest describes a new version to register
type RegisterRequest struct {
	ModelName   string             `json:"model_name"`
	ArtifactRef string             `json:"artifact_ref"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	Bump        models.VersionBump `json:"bump,omitempty"`
	ModelKind   string             `json:"model_kind,omitempty"`
	Description string             `json:"description,omitempty"`
	CreatedBy   string             `json:"created_by,omitempty"`
}

// NewRegistry creates a new model registry
func NewRegistry(config *Config, store storage.Store, artifacts artifact.Store, logger *logrus.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Registry{
		config:    config,
		store:     store,
		artifacts: artifacts,
		logger:    logger,
		allocMu:   locks.NewKeyedMutex(),
	}
}

// Register allocates the next semantic version for the model and stores it.
// The artifact reference must resolve with the artifact collaborator; this
// is an existence check only, not content validation.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*models.ModelVersion, error) {
	if req.ModelName == "" {
		return nil, errors.NewValidationError("INVALID_MODEL_NAME", "model name cannot be empty")
	}
	if req.ArtifactRef == "" {
		return nil, errors.NewValidationError("INVALID_ARTIFACT", "artifact reference cannot be empty")
	}

	exists, err := r.artifacts.Resolve(ctx, req.ArtifactRef)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "ARTIFACT_CHECK_FAILED",
			"failed to resolve artifact reference")
	}
	if !exists {
		return nil, errors.NewValidationError("INVALID_ARTIFACT",
			"artifact reference "+req.ArtifactRef+" cannot be resolved")
	}

	r.allocMu.Lock(req.ModelName)
	defer r.allocMu.Unlock(req.ModelName)

	next, err := r.nextVersion(ctx, req.ModelName, req.Bump)
	if err != nil {
		return nil, err
	}

	version := &models.ModelVersion{
		ModelName:       req.ModelName,
		Version:         next,
		ArtifactRef:     req.ArtifactRef,
		ModelKind:       req.ModelKind,
		Description:     req.Description,
		Tags:            append([]string(nil), req.Tags...),
		TrainingMetrics: req.Metrics,
		Status:          models.VersionStatusRegistered,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       time.Now().UTC(),
	}

	if err := r.store.PutVersion(ctx, version); err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"model_name": version.ModelName,
		"version":    version.Version.String(),
		"artifact":   version.ArtifactRef,
	}).Info("Registered new model version")

	return version, nil
}

// nextVersion allocates the next semantic version under the per-model lock
func (r *Registry) nextVersion(ctx context.Context, modelName string, bump models.VersionBump) (models.SemanticVersion, error) {
	versions, err := r.store.ListVersions(ctx, modelName)
	if err != nil {
		return models.SemanticVersion{}, err
	}
	if len(versions) == 0 {
		return r.config.InitialVersion, nil
	}
	return versions[0].Version.Bump(bump), nil
}

// Get resolves a version by explicit id or the symbolic selectors "latest"
// and "active". Active resolution is "active as of read time": a concurrent
// deploy may supersede the returned version immediately after this call.
func (r *Registry) Get(ctx context.Context, modelName, selector string) (*models.ModelVersion, error) {
	switch selector {
	case SelectorActive:
		record, err := r.store.LatestActive(ctx, modelName)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, errors.NewNotFoundError("NO_ACTIVE_VERSION",
				"model "+modelName+" has no active version")
		}
		return r.store.GetVersion(ctx, modelName, record.Target)

	case SelectorLatest:
		versions, err := r.store.ListVersions(ctx, modelName)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, errors.NewNotFoundError("MODEL_NOT_FOUND",
				"model "+modelName+" has no versions")
		}
		return versions[0], nil

	default:
		v, err := models.ParseSemanticVersion(selector)
		if err != nil {
			return nil, errors.NewValidationError("INVALID_VERSION", err.Error())
		}
		return r.store.GetVersion(ctx, modelName, v)
	}
}

// ListVersions returns a snapshot of versions ordered by semantic version
// descending, optionally filtered to versions carrying any of the tags.
// The snapshot does not reflect registrations that occur mid-iteration.
func (r *Registry) ListVersions(ctx context.Context, modelName string, tagFilter []string) ([]*models.ModelVersion, error) {
	versions, err := r.store.ListVersions(ctx, modelName)
	if err != nil {
		return nil, err
	}
	if len(tagFilter) == 0 {
		return versions, nil
	}

	filtered := versions[:0]
	for _, v := range versions {
		for _, tag := range tagFilter {
			if v.HasTag(tag) {
				filtered = append(filtered, v)
				break
			}
		}
	}
	return filtered, nil
}

// UpdateTags replaces the tag set on a version. Tags and status are the only
// mutable attributes of a registered version.
func (r *Registry) UpdateTags(ctx context.Context, modelName string, version models.SemanticVersion, tags []string) error {
	return r.store.UpdateVersionTags(ctx, modelName, version, tags)
}

// TransitionStatus advances a version's lifecycle status, enforcing the
// legal transitions. Used by the deployment controller inside its per-model
// critical section.
func (r *Registry) TransitionStatus(ctx context.Context, modelName string, version models.SemanticVersion, next models.VersionStatus) error {
	current, err := r.store.GetVersion(ctx, modelName, version)
	if err != nil {
		return err
	}

	if !current.Status.CanTransitionTo(next) {
		return errors.NewStateError("INVALID_TRANSITION",
			"version "+version.String()+" cannot move from "+string(current.Status)+" to "+string(next))
	}
	return r.store.UpdateVersionStatus(ctx, modelName, version, next)
}

// Prune applies the retention policy: at most MaxVersions non-active
// versions are retained per model, purging the oldest eligible versions
// first. The active version and any version referenced by a non-terminal
// retrain request are never purged. Idempotent.
func (r *Registry) Prune(ctx context.Context, modelName string) error {
	versions, err := r.store.ListVersions(ctx, modelName)
	if err != nil {
		return err
	}

	exempt := make(map[string]bool)
	open, err := r.store.ListRetrainRequests(ctx, modelName, true)
	if err != nil {
		return err
	}
	for _, req := range open {
		if req.ResultVersion != nil {
			exempt[req.ResultVersion.String()] = true
		}
	}

	// versions arrive newest first; walk oldest first so the newest
	// MaxVersions eligible versions survive. Exempt versions never count
	// toward the excess, so they cannot displace newer versions.
	var eligible []*models.ModelVersion
	for _, v := range versions {
		if v.Status == models.VersionStatusActive || v.Status == models.VersionStatusStaged {
			continue
		}
		if exempt[v.Version.String()] {
			continue
		}
		eligible = append(eligible, v)
	}

	excess := len(eligible) - r.config.MaxVersions
	if excess <= 0 {
		return nil
	}

	pruned := 0
	for i := len(eligible) - 1; i >= 0 && pruned < excess; i-- {
		v := eligible[i]

		if err := r.store.DeleteVersion(ctx, modelName, v.Version); err != nil {
			return err
		}
		pruned++

		r.logger.WithFields(logrus.Fields{
			"model_name": modelName,
			"version":    v.Version.String(),
			"status":     v.Status,
		}).Info("Pruned model version")
	}

	return nil
}
