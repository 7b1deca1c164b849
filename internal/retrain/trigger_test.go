package retrain

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Staysteady/ml-market-maker/internal/deployment"
	"github.com/Staysteady/ml-market-maker/internal/registry"
	"github.com/Staysteady/ml-market-maker/internal/storage/memory"
	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

type stubArtifacts struct{}

func (stubArtifacts) Resolve(ctx context.Context, ref string) (bool, error) { return true, nil }
func (stubArtifacts) Put(ctx context.Context, ref string, body io.Reader) error {
	return nil
}
func (stubArtifacts) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}
func (stubArtifacts) Delete(ctx context.Context, ref string) error { return nil }

type fakeTraining struct {
	dispatched []*models.RetrainRequest
	fail       bool
}

func (f *fakeTraining) Dispatch(ctx context.Context, req *models.RetrainRequest) error {
	if f.fail {
		return errors.NewMonitoringError("TRAINING_UNAVAILABLE", "training system down")
	}
	f.dispatched = append(f.dispatched, req)
	return nil
}

type fixture struct {
	store      *memory.MemoryStore
	registry   *registry.Registry
	controller *deployment.Controller
	trigger    *Trigger
}

func newFixture(t *testing.T, config *Config, training TrainingSystem) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := memory.NewMemoryStore(logger)
	require.NoError(t, store.Connect(context.Background()))

	reg := registry.NewRegistry(nil, store, stubArtifacts{}, logger)
	ctrl := deployment.NewController(nil, store, reg, stubArtifacts{}, nil, logger)
	trig := NewTrigger(config, store, reg, ctrl, training, logger)

	return &fixture{store: store, registry: reg, controller: ctrl, trigger: trig}
}

func criticalDrift(model string) *models.AlertEvent {
	return &models.AlertEvent{
		ID:           uuid.New().String(),
		AlertName:    models.MetricModelDrift,
		MetricName:   models.MetricModelDrift,
		ModelName:    model,
		Severity:     models.SeverityCritical,
		DeploymentID: 1,
		EmittedAt:    time.Now().UTC(),
	}
}

func warningAt(model string, at time.Time) *models.AlertEvent {
	return &models.AlertEvent{
		ID:           uuid.New().String(),
		AlertName:    models.MetricErrorRate,
		MetricName:   models.MetricErrorRate,
		ModelName:    model,
		Severity:     models.SeverityWarning,
		DeploymentID: 1,
		EmittedAt:    at,
	}
}

func openRequests(t *testing.T, f *fixture, model string) []*models.RetrainRequest {
	t.Helper()
	reqs, err := f.store.ListRetrainRequests(context.Background(), model, true)
	require.NoError(t, err)
	return reqs
}

func TestCriticalDriftOpensRequestImmediately(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	event := criticalDrift("m")
	require.NoError(t, f.trigger.Handle(ctx, event))

	reqs := openRequests(t, f, "m")
	require.Len(t, reqs, 1)
	assert.Equal(t, models.RetrainPending, reqs[0].Status)
	assert.Contains(t, reqs[0].Reason, "critical model_drift")
	assert.Equal(t, []string{event.ID}, reqs[0].TriggeringAlertIDs)
}

func TestCriticalNonQualityMetricDoesNotTrigger(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	event := criticalDrift("m")
	event.MetricName = models.MetricPredictionLatencyMS
	event.AlertName = models.MetricPredictionLatencyMS
	require.NoError(t, f.trigger.Handle(ctx, event))

	assert.Empty(t, openRequests(t, f, "m"))
}

func TestConsumedAlertNeverTriggersTwice(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	event := criticalDrift("m")
	require.NoError(t, f.trigger.Handle(ctx, event))
	reqs := openRequests(t, f, "m")
	require.Len(t, reqs, 1)

	// close the request, then replay the same alert
	require.NoError(t, f.trigger.Reject(ctx, reqs[0].ID))
	require.NoError(t, f.trigger.Handle(ctx, event))

	assert.Empty(t, openRequests(t, f, "m"))
}

func TestWarningAccumulationOpensRequest(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, f.trigger.Handle(ctx, warningAt("m", now.Add(-2*time.Hour))))
	require.NoError(t, f.trigger.Handle(ctx, warningAt("m", now.Add(-time.Hour))))
	assert.Empty(t, openRequests(t, f, "m"))

	require.NoError(t, f.trigger.Handle(ctx, warningAt("m", now)))

	reqs := openRequests(t, f, "m")
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Reason, "3 warning alerts")
	assert.Len(t, reqs[0].TriggeringAlertIDs, 3)
}

func TestWarningsOutsideWindowArePruned(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, f.trigger.Handle(ctx, warningAt("m", now.Add(-25*time.Hour))))
	require.NoError(t, f.trigger.Handle(ctx, warningAt("m", now.Add(-time.Hour))))
	require.NoError(t, f.trigger.Handle(ctx, warningAt("m", now)))

	assert.Empty(t, openRequests(t, f, "m"), "stale warning must not count toward the threshold")

	require.NoError(t, f.trigger.Handle(ctx, warningAt("m", now.Add(time.Minute))))
	assert.Len(t, openRequests(t, f, "m"), 1)
}

func TestWarningsTrackedPerModel(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, f.trigger.Handle(ctx, warningAt("a", now)))
	require.NoError(t, f.trigger.Handle(ctx, warningAt("a", now)))
	require.NoError(t, f.trigger.Handle(ctx, warningAt("b", now)))

	assert.Empty(t, openRequests(t, f, "a"))
	assert.Empty(t, openRequests(t, f, "b"))
}

func TestOpenRequestSuppressesFurtherTriggers(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.trigger.Handle(ctx, criticalDrift("m")))
	require.NoError(t, f.trigger.Handle(ctx, criticalDrift("m")))

	assert.Len(t, openRequests(t, f, "m"), 1)
}

func TestDispatchClaimsPendingRequestOnce(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.trigger.Handle(ctx, criticalDrift("m")))
	reqs := openRequests(t, f, "m")
	require.Len(t, reqs, 1)

	require.NoError(t, f.trigger.Dispatch(ctx, reqs[0].ID))

	claimed, err := f.store.GetRetrainRequest(ctx, reqs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RetrainDispatched, claimed.Status)

	err = f.trigger.Dispatch(ctx, reqs[0].ID)
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, "INVALID_RETRAIN_STATE", appErr.Code)
}

func TestAutoDispatchHandsOffToTrainingSystem(t *testing.T) {
	training := &fakeTraining{}
	f := newFixture(t, &Config{AutoDispatch: true}, training)
	ctx := context.Background()

	require.NoError(t, f.trigger.Handle(ctx, criticalDrift("m")))

	require.Len(t, training.dispatched, 1)
	assert.Equal(t, "m", training.dispatched[0].ModelName)

	reqs, err := f.store.ListRetrainRequests(ctx, "m", true)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, models.RetrainDispatched, reqs[0].Status)
}

func TestFailedDispatchLeavesRequestPending(t *testing.T) {
	training := &fakeTraining{fail: true}
	f := newFixture(t, &Config{AutoDispatch: true}, training)
	ctx := context.Background()

	require.NoError(t, f.trigger.Handle(ctx, criticalDrift("m")))

	reqs := openRequests(t, f, "m")
	require.Len(t, reqs, 1)
	assert.Equal(t, models.RetrainPending, reqs[0].Status)
}

func TestCompleteRegistersVersionAndDryRuns(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	// seed an existing version so the retrained one allocates 1.0.1
	_, err := f.registry.Register(ctx, registry.RegisterRequest{
		ModelName:   "m",
		ArtifactRef: "artifacts/m.bin",
	})
	require.NoError(t, err)

	require.NoError(t, f.trigger.Handle(ctx, criticalDrift("m")))
	reqs := openRequests(t, f, "m")
	require.Len(t, reqs, 1)
	require.NoError(t, f.trigger.Dispatch(ctx, reqs[0].ID))

	version, err := f.trigger.Complete(ctx, reqs[0].ID, CompletionResult{
		ArtifactRef: "artifacts/m-retrained.bin",
		Metrics:     map[string]float64{"accuracy": 0.91},
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", version.Version.String())
	assert.Contains(t, version.Tags, "retrained")
	assert.Equal(t, "retrain-trigger", version.CreatedBy)

	done, err := f.store.GetRetrainRequest(ctx, reqs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RetrainCompleted, done.Status)
	require.NotNil(t, done.ResultVersion)
	assert.Equal(t, version.Version, *done.ResultVersion)

	// a dry run was recorded but nothing was promoted
	history, err := f.controller.History(ctx, "m")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ModeDryRun, history[0].Mode)

	active, err := f.controller.Active(ctx, "m")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCompleteValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.trigger.Handle(ctx, criticalDrift("m")))
	reqs := openRequests(t, f, "m")
	require.Len(t, reqs, 1)

	_, err := f.trigger.Complete(ctx, reqs[0].ID, CompletionResult{})
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, "INVALID_ARTIFACT", appErr.Code)

	_, err = f.trigger.Complete(ctx, reqs[0].ID, CompletionResult{ArtifactRef: "artifacts/m2.bin"})
	require.NoError(t, err)

	_, err = f.trigger.Complete(ctx, reqs[0].ID, CompletionResult{ArtifactRef: "artifacts/m3.bin"})
	require.Error(t, err)
	appErr, ok = err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, "INVALID_RETRAIN_STATE", appErr.Code)
}

func TestRejectClosesRequest(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.trigger.Handle(ctx, criticalDrift("m")))
	reqs := openRequests(t, f, "m")
	require.Len(t, reqs, 1)

	require.NoError(t, f.trigger.Reject(ctx, reqs[0].ID))

	rejected, err := f.store.GetRetrainRequest(ctx, reqs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.RetrainRejected, rejected.Status)

	err = f.trigger.Reject(ctx, reqs[0].ID)
	require.Error(t, err)

	// a fresh alert may open a new request once the old one is closed
	require.NoError(t, f.trigger.Handle(ctx, criticalDrift("m")))
	assert.Len(t, openRequests(t, f, "m"), 1)
}
