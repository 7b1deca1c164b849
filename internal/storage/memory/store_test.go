package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

func newStore(t *testing.T) *MemoryStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := NewMemoryStore(logger)
	require.NoError(t, store.Connect(context.Background()))
	return store
}

func version(model string, major, minor, patch int) *models.ModelVersion {
	return &models.ModelVersion{
		ModelName:   model,
		Version:     models.SemanticVersion{Major: major, Minor: minor, Patch: patch},
		Status:      models.VersionStatusRegistered,
		ArtifactRef: "artifacts/" + model + ".bin",
		CreatedAt:   time.Now().UTC(),
	}
}

func TestPutVersionRejectsDuplicates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutVersion(ctx, version("m", 1, 0, 0)))

	err := store.PutVersion(ctx, version("m", 1, 0, 0))
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, "DUPLICATE_VERSION", appErr.Code)
}

func TestListVersionsDescendingOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutVersion(ctx, version("m", 1, 0, 0)))
	require.NoError(t, store.PutVersion(ctx, version("m", 2, 0, 0)))
	require.NoError(t, store.PutVersion(ctx, version("m", 1, 2, 0)))

	out, err := store.ListVersions(ctx, "m")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "2.0.0", out[0].Version.String())
	assert.Equal(t, "1.2.0", out[1].Version.String())
	assert.Equal(t, "1.0.0", out[2].Version.String())

	missing, err := store.ListVersions(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestVersionSnapshotsAreIsolated(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	v := version("m", 1, 0, 0)
	v.Tags = []string{"baseline"}
	require.NoError(t, store.PutVersion(ctx, v))

	got, err := store.GetVersion(ctx, "m", v.Version)
	require.NoError(t, err)
	got.Tags[0] = "mutated"
	got.Status = models.VersionStatusRetired

	again, err := store.GetVersion(ctx, "m", v.Version)
	require.NoError(t, err)
	assert.Equal(t, []string{"baseline"}, again.Tags)
	assert.Equal(t, models.VersionStatusRegistered, again.Status)
}

func TestDeleteVersion(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutVersion(ctx, version("m", 1, 0, 0)))
	require.NoError(t, store.DeleteVersion(ctx, "m", models.SemanticVersion{Major: 1}))

	_, err := store.GetVersion(ctx, "m", models.SemanticVersion{Major: 1})
	require.Error(t, err)

	err = store.DeleteVersion(ctx, "m", models.SemanticVersion{Major: 1})
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, "VERSION_NOT_FOUND", appErr.Code)
}

func TestAppendDeploymentAssignsMonotonicIDs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		record, err := store.AppendDeployment(ctx, &models.DeploymentRecord{
			ModelName: "m",
			Target:    models.SemanticVersion{Major: 1, Patch: i - 1},
			Mode:      models.ModeLive,
			State:     models.DeploymentRequested,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), record.ID)
	}
}

func TestListDeploymentsNewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.AppendDeployment(ctx, &models.DeploymentRecord{
			ModelName: "m",
			Target:    models.SemanticVersion{Major: 1, Patch: i},
			Mode:      models.ModeLive,
			State:     models.DeploymentActive,
		})
		require.NoError(t, err)
	}
	_, err := store.AppendDeployment(ctx, &models.DeploymentRecord{
		ModelName: "other", Mode: models.ModeLive, State: models.DeploymentActive,
	})
	require.NoError(t, err)

	out, err := store.ListDeployments(ctx, "m")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(3), out[0].ID)
	assert.Equal(t, int64(1), out[2].ID)
}

func TestLatestActive(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	active, err := store.LatestActive(ctx, "m")
	require.NoError(t, err)
	assert.Nil(t, active)

	first, err := store.AppendDeployment(ctx, &models.DeploymentRecord{
		ModelName: "m", Target: models.SemanticVersion{Major: 1},
		Mode: models.ModeLive, State: models.DeploymentActive,
	})
	require.NoError(t, err)

	// dry runs never become the active pointer
	_, err = store.AppendDeployment(ctx, &models.DeploymentRecord{
		ModelName: "m", Target: models.SemanticVersion{Major: 2},
		Mode: models.ModeDryRun, State: models.DeploymentDryRunComplete,
	})
	require.NoError(t, err)

	active, err = store.LatestActive(ctx, "m")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)

	require.NoError(t, store.UpdateDeploymentState(ctx, first.ID, models.DeploymentSuperseded, time.Now().UTC()))

	active, err = store.LatestActive(ctx, "m")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestUpdateDeploymentStateSetsRolledBackAt(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	record, err := store.AppendDeployment(ctx, &models.DeploymentRecord{
		ModelName: "m", Mode: models.ModeLive, State: models.DeploymentActive,
	})
	require.NoError(t, err)

	at := time.Now().UTC()
	require.NoError(t, store.UpdateDeploymentState(ctx, record.ID, models.DeploymentSuperseded, at))
	got, err := store.GetDeployment(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentSuperseded, got.State)
	assert.Nil(t, got.RolledBackAt)

	require.NoError(t, store.UpdateDeploymentState(ctx, record.ID, models.DeploymentRolledBack, at))
	got, err = store.GetDeployment(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RolledBackAt)
	assert.Equal(t, at, *got.RolledBackAt)

	err = store.UpdateDeploymentState(ctx, 999, models.DeploymentSuperseded, at)
	require.Error(t, err)
}

func TestAlertLogNewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendAlert(ctx, &models.AlertEvent{
			ID:           uuid.New().String(),
			AlertName:    models.MetricErrorRate,
			Severity:     models.SeverityWarning,
			DeploymentID: 1,
			EmittedAt:    time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	out, err := store.ListAlerts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.True(t, out[0].EmittedAt.After(out[2].EmittedAt))

	empty, err := store.ListAlerts(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRetrainRequestLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	req := &models.RetrainRequest{
		ID:          uuid.New().String(),
		ModelName:   "m",
		Reason:      "critical model_drift alert",
		RequestedAt: time.Now().UTC(),
		Status:      models.RetrainPending,
	}
	require.NoError(t, store.PutRetrainRequest(ctx, req))

	err := store.PutRetrainRequest(ctx, req)
	require.Error(t, err)

	result := models.SemanticVersion{Major: 1, Minor: 0, Patch: 1}
	require.NoError(t, store.UpdateRetrainRequest(ctx, req.ID, models.RetrainCompleted, &result))

	got, err := store.GetRetrainRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RetrainCompleted, got.Status)
	require.NotNil(t, got.ResultVersion)
	assert.Equal(t, result, *got.ResultVersion)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestListRetrainRequestsFiltersOpen(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	open := &models.RetrainRequest{
		ID: uuid.New().String(), ModelName: "m", RequestedAt: now, Status: models.RetrainDispatched,
	}
	closed := &models.RetrainRequest{
		ID: uuid.New().String(), ModelName: "m", RequestedAt: now.Add(-time.Hour), Status: models.RetrainRejected,
	}
	other := &models.RetrainRequest{
		ID: uuid.New().String(), ModelName: "x", RequestedAt: now, Status: models.RetrainPending,
	}
	for _, r := range []*models.RetrainRequest{open, closed, other} {
		require.NoError(t, store.PutRetrainRequest(ctx, r))
	}

	all, err := store.ListRetrainRequests(ctx, "m", false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, open.ID, all[0].ID, "newest first")

	onlyOpen, err := store.ListRetrainRequests(ctx, "m", true)
	require.NoError(t, err)
	require.Len(t, onlyOpen, 1)
	assert.Equal(t, open.ID, onlyOpen[0].ID)
}
