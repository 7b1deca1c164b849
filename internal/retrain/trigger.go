package retrain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/internal/deployment"
	"github.com/Staysteady/ml-market-maker/internal/registry"
	"github.com/Staysteady/ml-market-maker/internal/storage"
	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// TrainingSystem dispatches accepted retrain requests to an external
// training pipeline. Training itself happens outside the control plane.
type TrainingSystem interface {
	Dispatch(ctx context.Context, req *models.RetrainRequest) error
}

// Config configures the retrain trigger
type Config struct {
	// WarningThreshold is the number of warning alerts within
	// WarningWindow that opens a retrain request
	WarningThreshold int `json:"warning_threshold" yaml:"warning_threshold"`

	// WarningWindow is the rolling window for warning accumulation
	WarningWindow time.Duration `json:"warning_window" yaml:"warning_window"`

	// AutoDispatch hands newly opened requests to the training system
	// immediately instead of leaving them pending for operator review
	AutoDispatch bool `json:"auto_dispatch" yaml:"auto_dispatch"`
}

// DefaultConfig returns the default trigger configuration
func DefaultConfig() *Config {
	return &Config{
		WarningThreshold: 3,
		WarningWindow:    24 * time.Hour,
		AutoDispatch:     true,
	}
}

type warningRecord struct {
	alertID string
	at      time.Time
}

// Trigger watches the alert stream and opens retrain requests when model
// quality degrades. A critical drift or accuracy alert opens a request
// immediately; warnings accumulate over a rolling window. Alerts already
// attributed to a request never count toward a second one.
type Trigger struct {
	config     *Config
	store      storage.Store
	registry   *registry.Registry
	controller *deployment.Controller
	training   TrainingSystem
	logger     *logrus.Logger

	mu       sync.Mutex
	warnings map[string][]warningRecord
	consumed map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTrigger creates a new retrain trigger. training may be nil, in which
// case requests stay pending until dispatched manually.
func NewTrigger(config *Config, store storage.Store, reg *registry.Registry, ctrl *deployment.Controller, training TrainingSystem, logger *logrus.Logger) *Trigger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.WarningThreshold <= 0 {
		config.WarningThreshold = 3
	}
	if config.WarningWindow <= 0 {
		config.WarningWindow = 24 * time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Trigger{
		config:     config,
		store:      store,
		registry:   reg,
		controller: ctrl,
		training:   training,
		logger:     logger,
		warnings:   make(map[string][]warningRecord),
		consumed:   make(map[string]bool),
		stopCh:     make(chan struct{}),
	}
}

// Start consumes alert events until the channel closes or Stop is called
func (t *Trigger) Start(ctx context.Context, events <-chan *models.AlertEvent) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := t.Handle(ctx, event); err != nil {
					t.logger.WithError(err).WithField("alert_id", event.ID).
						Error("Failed to handle alert event")
				}
			}
		}
	}()
}

// Stop shuts the trigger down
func (t *Trigger) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.wg.Wait()
	})
}

// Handle evaluates one alert event against the trigger rules
func (t *Trigger) Handle(ctx context.Context, event *models.AlertEvent) error {
	if event == nil || event.ModelName == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.consumed[event.ID] {
		return nil
	}

	if event.Severity == models.SeverityCritical {
		if event.MetricName == models.MetricModelDrift || event.MetricName == models.MetricPredictionAccuracy {
			t.consumed[event.ID] = true
			return t.openRequest(ctx, event.ModelName,
				fmt.Sprintf("critical %s alert", event.MetricName), []string{event.ID})
		}
		return nil
	}

	cutoff := event.EmittedAt.Add(-t.config.WarningWindow)
	recent := t.warnings[event.ModelName][:0]
	for _, w := range t.warnings[event.ModelName] {
		if w.at.After(cutoff) {
			recent = append(recent, w)
		}
	}
	recent = append(recent, warningRecord{alertID: event.ID, at: event.EmittedAt})
	t.warnings[event.ModelName] = recent

	if len(recent) < t.config.WarningThreshold {
		return nil
	}

	alertIDs := make([]string, 0, len(recent))
	for _, w := range recent {
		alertIDs = append(alertIDs, w.alertID)
		t.consumed[w.alertID] = true
	}
	t.warnings[event.ModelName] = nil

	return t.openRequest(ctx, event.ModelName,
		fmt.Sprintf("%d warning alerts within %s", len(alertIDs), t.config.WarningWindow), alertIDs)
}

// openRequest opens a retrain request unless one is already open for the
// model. Callers hold t.mu.
func (t *Trigger) openRequest(ctx context.Context, modelName, reason string, alertIDs []string) error {
	open, err := t.store.ListRetrainRequests(ctx, modelName, true)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "RETRAIN_LOOKUP_FAILED",
			"failed to list open retrain requests")
	}
	if len(open) > 0 {
		t.logger.WithFields(logrus.Fields{
			"model_name": modelName,
			"request_id": open[0].ID,
		}).Debug("Retrain request already open, suppressing trigger")
		return nil
	}

	req := &models.RetrainRequest{
		ID:                 uuid.New().String(),
		ModelName:          modelName,
		Reason:             reason,
		TriggeringAlertIDs: alertIDs,
		RequestedAt:        time.Now().UTC(),
		Status:             models.RetrainPending,
	}

	if err := t.store.PutRetrainRequest(ctx, req); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "RETRAIN_PERSIST_FAILED",
			"failed to persist retrain request")
	}

	t.logger.WithFields(logrus.Fields{
		"model_name": modelName,
		"request_id": req.ID,
		"reason":     reason,
		"alerts":     len(alertIDs),
	}).Info("Retrain request opened")

	if t.config.AutoDispatch && t.training != nil {
		return t.dispatch(ctx, req)
	}
	return nil
}

func (t *Trigger) dispatch(ctx context.Context, req *models.RetrainRequest) error {
	if err := t.training.Dispatch(ctx, req.Clone()); err != nil {
		t.logger.WithError(err).WithField("request_id", req.ID).
			Error("Training dispatch failed, request stays pending")
		return nil
	}
	if err := t.store.UpdateRetrainRequest(ctx, req.ID, models.RetrainDispatched, nil); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "RETRAIN_UPDATE_FAILED",
			"failed to mark retrain request dispatched")
	}
	t.logger.WithField("request_id", req.ID).Info("Retrain request dispatched")
	return nil
}

// Dispatch hands a pending request to the training system, or marks it
// dispatched when an external worker claims it over the API. A request can
// be claimed exactly once.
func (t *Trigger) Dispatch(ctx context.Context, requestID string) error {
	req, err := t.store.GetRetrainRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.RetrainPending {
		return errors.NewStateError("INVALID_RETRAIN_STATE",
			fmt.Sprintf("request %s is %s, expected %s", requestID, req.Status, models.RetrainPending))
	}

	if t.training == nil {
		if err := t.store.UpdateRetrainRequest(ctx, req.ID, models.RetrainDispatched, nil); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "RETRAIN_UPDATE_FAILED",
				"failed to mark retrain request dispatched")
		}
		t.logger.WithField("request_id", req.ID).Info("Retrain request claimed")
		return nil
	}
	return t.dispatch(ctx, req)
}

// CompletionResult describes the outcome of a finished training run
type CompletionResult struct {
	ArtifactRef string             `json:"artifact_ref"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	ModelKind   string             `json:"model_kind,omitempty"`
	Description string             `json:"description,omitempty"`
}

// Complete registers the newly trained version and runs a dry-run
// deployment against it. Promotion to live is always a separate, explicit
// operator action.
func (t *Trigger) Complete(ctx context.Context, requestID string, result CompletionResult) (*models.ModelVersion, error) {
	req, err := t.store.GetRetrainRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, errors.NewStateError("INVALID_RETRAIN_STATE",
			fmt.Sprintf("request %s already %s", requestID, req.Status))
	}
	if result.ArtifactRef == "" {
		return nil, errors.NewValidationError("INVALID_ARTIFACT", "artifact reference cannot be empty")
	}

	version, err := t.registry.Register(ctx, registry.RegisterRequest{
		ModelName:   req.ModelName,
		ArtifactRef: result.ArtifactRef,
		Metrics:     result.Metrics,
		ModelKind:   result.ModelKind,
		Description: result.Description,
		Tags:        []string{"retrained"},
		CreatedBy:   "retrain-trigger",
	})
	if err != nil {
		return nil, err
	}

	if err := t.store.UpdateRetrainRequest(ctx, requestID, models.RetrainCompleted, &version.Version); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "RETRAIN_UPDATE_FAILED",
			"failed to mark retrain request completed")
	}

	record, err := t.controller.Deploy(ctx, deployment.DeployRequest{
		ModelName:   req.ModelName,
		Version:     version.Version,
		Mode:        models.ModeDryRun,
		Description: fmt.Sprintf("dry run for retrained version %s", version.Version.String()),
		RequestedBy: "retrain-trigger",
	})
	if err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"model_name": req.ModelName,
			"version":    version.Version.String(),
		}).Warn("Dry run for retrained version failed")
	} else {
		t.logger.WithFields(logrus.Fields{
			"model_name":    req.ModelName,
			"version":       version.Version.String(),
			"deployment_id": record.ID,
		}).Info("Retrained version passed dry run, awaiting promotion")
	}

	return version, nil
}

// Reject closes a request without producing a new version
func (t *Trigger) Reject(ctx context.Context, requestID string) error {
	req, err := t.store.GetRetrainRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status.IsTerminal() {
		return errors.NewStateError("INVALID_RETRAIN_STATE",
			fmt.Sprintf("request %s already %s", requestID, req.Status))
	}
	return t.store.UpdateRetrainRequest(ctx, requestID, models.RetrainRejected, nil)
}

// Requests lists retrain requests for a model, newest first
func (t *Trigger) Requests(ctx context.Context, modelName string, openOnly bool) ([]*models.RetrainRequest, error) {
	return t.store.ListRetrainRequests(ctx, modelName, openOnly)
}
