package deployment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/internal/artifact"
	"github.com/Staysteady/ml-market-maker/internal/locks"
	"github.com/Staysteady/ml-market-maker/internal/registry"
	"github.com/Staysteady/ml-market-maker/internal/storage"
	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// Config configures the deployment controller
type Config struct {
	// Requirements maps training-metric names to minimum values a version
	// must meet before it can be deployed. Checked in dry-run validation.
	Requirements map[string]float64 `json:"requirements" yaml:"requirements"`

	// EventBuffer sizes each subscriber's event channel
	EventBuffer int `json:"event_buffer" yaml:"event_buffer"`
}

// DefaultConfig returns the default controller configuration
func DefaultConfig() *Config {
	return &Config{
		Requirements: map[string]float64{},
		EventBuffer:  16,
	}
}

// EventType classifies deployment-state events
type EventType string

const (
	EventActivated      EventType = "activated"
	EventRolledBack     EventType = "rolled_back"
	EventDryRunComplete EventType = "dry_run_complete"
)

// Event is published to subscribers on every deployment-state change. The
// monitoring engine uses activation events to attach to the new deployment.
type Event struct {
	Type   EventType                `json:"type"`
	Record *models.DeploymentRecord `json:"record"`
}

// ActiveCache is an optional best-effort cache for active-pointer lookups.
// A nil cache is valid and means every read goes to the durable store.
type ActiveCache interface {
	GetActive(ctx context.Context, modelName string) (*models.DeploymentRecord, bool)
	SetActive(ctx context.Context, modelName string, record *models.DeploymentRecord)
	Invalidate(ctx context.Context, modelName string)
}

// ResourceChecker validates resource budget sanity during dry-run checks.
// The default implementation accepts everything; deployments that need real
// budget enforcement plug in their own.
type ResourceChecker interface {
	Check(ctx context.Context) error
}

type noopResourceChecker struct{}

func (noopResourceChecker) Check(ctx context.Context) error { return nil }

// Controller orchestrates dry-run, deploy, and rollback against the
// registry. The active-version swap is the only operation requiring mutual
// exclusion and it is scoped per model name; reads are lock-free snapshots
// against the durable store.
type Controller struct {
	config    *Config
	store     storage.Store
	registry  *registry.Registry
	artifacts artifact.Store
	cache     ActiveCache
	resources ResourceChecker
	logger    *logrus.Logger

	locks *locks.KeyedMutex

	subMu       sync.RWMutex
	subscribers []chan Event
}

// DeployRequest describes a deployment to perform
type DeployRequest struct {
	ModelName   string                 `json:"model_name"`
	Version     models.SemanticVersion `json:"version"`
	Mode        models.DeploymentMode  `json:"mode"`
	Description string                 `json:"description,omitempty"`
	RequestedBy string                 `json:"requested_by,omitempty"`
}

// NewController creates a new deployment controller. cache may be nil.
func NewController(config *Config, store storage.Store, reg *registry.Registry, artifacts artifact.Store, cache ActiveCache, logger *logrus.Logger) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Controller{
		config:    config,
		store:     store,
		registry:  reg,
		artifacts: artifacts,
		cache:     cache,
		resources: noopResourceChecker{},
		logger:    logger,
		locks:     locks.NewKeyedMutex(),
	}
}

// SetResourceChecker replaces the resource budget check used in validation
func (c *Controller) SetResourceChecker(checker ResourceChecker) {
	if checker != nil {
		c.resources = checker
	}
}

// Subscribe returns a channel of deployment-state events. Delivery is
// best-effort: a subscriber that falls behind loses events rather than
// blocking the swap.
func (c *Controller) Subscribe() <-chan Event {
	ch := make(chan Event, c.config.EventBuffer)

	c.subMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subMu.Unlock()

	return ch
}

// Deploy validates and executes a deployment. In dry_run mode the record can
// never transition to active and the active pointer is untouched; in live
// mode the swap of version statuses and the appended record is atomic with
// respect to concurrent Deploy/Rollback calls for the same model name.
func (c *Controller) Deploy(ctx context.Context, req DeployRequest) (*models.DeploymentRecord, error) {
	if req.ModelName == "" {
		return nil, errors.NewValidationError("INVALID_MODEL_NAME", "model name cannot be empty")
	}
	if req.Mode != models.ModeDryRun && req.Mode != models.ModeLive {
		return nil, errors.NewValidationError("INVALID_MODE",
			fmt.Sprintf("mode must be %q or %q", models.ModeDryRun, models.ModeLive))
	}

	c.locks.Lock(req.ModelName)
	defer c.locks.Unlock(req.ModelName)

	target, err := c.store.GetVersion(ctx, req.ModelName, req.Version)
	if err != nil {
		return nil, err
	}

	current, err := c.store.LatestActive(ctx, req.ModelName)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Target == req.Version {
		return nil, errors.NewStateError("ALREADY_ACTIVE",
			"version "+req.Version.String()+" is already active for model "+req.ModelName)
	}

	if err := c.runChecks(ctx, target); err != nil {
		return nil, err
	}

	if req.Mode == models.ModeDryRun {
		return c.recordDryRun(ctx, req, current)
	}
	return c.activate(ctx, req, target, current)
}

// Rollback restores the previous active version as a first-class deployment
// event. It fails with NoPriorVersion when the most recent active record has
// no previous_active pointer.
func (c *Controller) Rollback(ctx context.Context, modelName, requestedBy string) (*models.DeploymentRecord, error) {
	if modelName == "" {
		return nil, errors.NewValidationError("INVALID_MODEL_NAME", "model name cannot be empty")
	}

	c.locks.Lock(modelName)
	defer c.locks.Unlock(modelName)

	current, err := c.store.LatestActive(ctx, modelName)
	if err != nil {
		return nil, err
	}
	if current == nil || current.PreviousActive == nil {
		return nil, errors.NewStateError("NO_PRIOR_VERSION",
			"model "+modelName+" has no prior version to roll back to")
	}

	target := *current.PreviousActive
	if _, err := c.store.GetVersion(ctx, modelName, target); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	// demote the running version and terminate its record
	if err := c.registry.TransitionStatus(ctx, modelName, current.Target, models.VersionStatusSuperseded); err != nil {
		return nil, c.asConflict(err)
	}
	if err := c.store.UpdateDeploymentState(ctx, current.ID, models.DeploymentRolledBack, now); err != nil {
		c.compensate(ctx, modelName, current.Target, models.VersionStatusActive)
		return nil, err
	}

	if err := c.registry.TransitionStatus(ctx, modelName, target, models.VersionStatusActive); err != nil {
		c.store.UpdateDeploymentState(ctx, current.ID, models.DeploymentActive, now)
		c.compensate(ctx, modelName, current.Target, models.VersionStatusActive)
		return nil, c.asConflict(err)
	}

	record := &models.DeploymentRecord{
		ModelName:   modelName,
		Target:      target,
		Mode:        models.ModeLive,
		State:       models.DeploymentActive,
		Rollback:    true,
		RequestedBy: requestedBy,
		Description: "rollback to version " + target.String(),
		RequestedAt: now,
		ActivatedAt: &now,
	}

	stored, err := c.store.AppendDeployment(ctx, record)
	if err != nil {
		c.compensate(ctx, modelName, target, models.VersionStatusSuperseded)
		c.store.UpdateDeploymentState(ctx, current.ID, models.DeploymentActive, now)
		c.compensate(ctx, modelName, current.Target, models.VersionStatusActive)
		return nil, err
	}

	c.refreshCache(ctx, modelName, stored)
	c.publish(Event{Type: EventRolledBack, Record: stored})

	c.logger.WithFields(logrus.Fields{
		"model_name":    modelName,
		"deployment_id": stored.ID,
		"restored":      target.String(),
		"superseded":    current.Target.String(),
	}).Info("Rolled back deployment")

	return stored, nil
}

// History returns the deployment log for a model, newest first
func (c *Controller) History(ctx context.Context, modelName string) ([]*models.DeploymentRecord, error) {
	return c.store.ListDeployments(ctx, modelName)
}

// Active returns the current active deployment record, or nil when the
// model has nothing deployed. The cache is read-through and best-effort.
func (c *Controller) Active(ctx context.Context, modelName string) (*models.DeploymentRecord, error) {
	if c.cache != nil {
		if record, ok := c.cache.GetActive(ctx, modelName); ok {
			return record, nil
		}
	}

	record, err := c.store.LatestActive(ctx, modelName)
	if err != nil {
		return nil, err
	}
	if record != nil && c.cache != nil {
		c.cache.SetActive(ctx, modelName, record)
	}
	return record, nil
}

// runChecks exercises the dry-run validation pipeline. The caller may cancel
// between checks; a live swap is never entered with a cancelled context.
func (c *Controller) runChecks(ctx context.Context, target *models.ModelVersion) error {
	checks := []struct {
		name string
		run  func(context.Context) error
	}{
		{"artifact_resolvable", func(ctx context.Context) error {
			exists, err := c.artifacts.Resolve(ctx, target.ArtifactRef)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("artifact %s does not resolve", target.ArtifactRef)
			}
			return nil
		}},
		{"metric_requirements", func(ctx context.Context) error {
			for metric, min := range c.config.Requirements {
				if got, ok := target.TrainingMetrics[metric]; !ok || got < min {
					return fmt.Errorf("metric %s below requirement: %v < %v", metric, got, min)
				}
			}
			return nil
		}},
		{"resource_budget", func(ctx context.Context) error {
			return c.resources.Check(ctx)
		}},
	}

	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return errors.WrapError(err, errors.ErrorTypeValidation, "DRY_RUN_CANCELLED",
				"dry-run validation cancelled before check "+check.name)
		}
		if err := check.run(ctx); err != nil {
			return errors.NewValidationError("VALIDATION_FAILED",
				"deployment validation failed").WithDetails(check.name + ": " + err.Error())
		}
	}
	return nil
}

// recordDryRun appends a dry_run record; it never touches version statuses
func (c *Controller) recordDryRun(ctx context.Context, req DeployRequest, current *models.DeploymentRecord) (*models.DeploymentRecord, error) {
	record := &models.DeploymentRecord{
		ModelName:   req.ModelName,
		Target:      req.Version,
		Mode:        models.ModeDryRun,
		State:       models.DeploymentDryRunComplete,
		RequestedBy: req.RequestedBy,
		Description: req.Description,
		RequestedAt: time.Now().UTC(),
	}
	if current != nil {
		prev := current.Target
		record.PreviousActive = &prev
	}

	stored, err := c.store.AppendDeployment(ctx, record)
	if err != nil {
		return nil, err
	}

	c.publish(Event{Type: EventDryRunComplete, Record: stored})

	c.logger.WithFields(logrus.Fields{
		"model_name":    req.ModelName,
		"deployment_id": stored.ID,
		"version":       req.Version.String(),
	}).Info("Dry-run deployment validated")

	return stored, nil
}

// activate performs the live three-step swap. Any partial failure is
// compensated before the error returns so readers never observe a
// half-swapped state.
func (c *Controller) activate(ctx context.Context, req DeployRequest, target *models.ModelVersion, current *models.DeploymentRecord) (*models.DeploymentRecord, error) {
	now := time.Now().UTC()

	if current != nil {
		if err := c.registry.TransitionStatus(ctx, req.ModelName, current.Target, models.VersionStatusSuperseded); err != nil {
			return nil, c.asConflict(err)
		}
		if err := c.store.UpdateDeploymentState(ctx, current.ID, models.DeploymentSuperseded, now); err != nil {
			c.compensate(ctx, req.ModelName, current.Target, models.VersionStatusActive)
			return nil, err
		}
	}

	if err := c.registry.TransitionStatus(ctx, req.ModelName, req.Version, models.VersionStatusActive); err != nil {
		if current != nil {
			c.store.UpdateDeploymentState(ctx, current.ID, models.DeploymentActive, now)
			c.compensate(ctx, req.ModelName, current.Target, models.VersionStatusActive)
		}
		return nil, c.asConflict(err)
	}

	record := &models.DeploymentRecord{
		ModelName:   req.ModelName,
		Target:      req.Version,
		Mode:        models.ModeLive,
		State:       models.DeploymentActive,
		RequestedBy: req.RequestedBy,
		Description: req.Description,
		RequestedAt: now,
		ActivatedAt: &now,
	}
	if current != nil {
		prev := current.Target
		record.PreviousActive = &prev
	}

	stored, err := c.store.AppendDeployment(ctx, record)
	if err != nil {
		c.compensate(ctx, req.ModelName, req.Version, target.Status)
		if current != nil {
			c.store.UpdateDeploymentState(ctx, current.ID, models.DeploymentActive, now)
			c.compensate(ctx, req.ModelName, current.Target, models.VersionStatusActive)
		}
		return nil, err
	}

	c.refreshCache(ctx, req.ModelName, stored)
	c.publish(Event{Type: EventActivated, Record: stored})

	fields := logrus.Fields{
		"model_name":    req.ModelName,
		"deployment_id": stored.ID,
		"version":       req.Version.String(),
	}
	if current != nil {
		fields["superseded"] = current.Target.String()
	}
	c.logger.WithFields(fields).Info("Activated model version")

	return stored, nil
}

// compensate restores a version status after a partial swap failure
func (c *Controller) compensate(ctx context.Context, modelName string, version models.SemanticVersion, status models.VersionStatus) {
	if err := c.store.UpdateVersionStatus(ctx, modelName, version, status); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"model_name": modelName,
			"version":    version.String(),
		}).Error("Failed to compensate version status after partial swap")
	}
}

// asConflict maps a state transition failure observed under the lock to a
// retryable conflict when another writer (a second control-plane instance
// sharing the store) got there first.
func (c *Controller) asConflict(err error) error {
	if appErr, ok := err.(*errors.AppError); ok && appErr.Type == errors.ErrorTypeState {
		return errors.NewConflictError("CONCURRENCY_CONFLICT",
			"deployment state changed concurrently: "+appErr.Message)
	}
	return err
}

func (c *Controller) refreshCache(ctx context.Context, modelName string, record *models.DeploymentRecord) {
	if c.cache == nil {
		return
	}
	c.cache.Invalidate(ctx, modelName)
	c.cache.SetActive(ctx, modelName, record)
}

func (c *Controller) publish(event Event) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, ch := range c.subscribers {
		select {
		case ch <- event:
		default:
			c.logger.WithField("type", event.Type).Warn("Dropping deployment event: subscriber behind")
		}
	}
}
