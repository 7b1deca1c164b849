package file

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

func newStore(t *testing.T, basePath string) *FileStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := NewFileStore(&FileStoreConfig{BasePath: basePath, CreateDirs: true}, logger)
	require.NoError(t, err)
	require.NoError(t, store.Connect(context.Background()))
	return store
}

func TestNewFileStoreValidation(t *testing.T) {
	_, err := NewFileStore(nil, nil)
	require.Error(t, err)

	_, err = NewFileStore(&FileStoreConfig{}, nil)
	require.Error(t, err)
}

func TestStateSurvivesReopen(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	store := newStore(t, base)

	v := &models.ModelVersion{
		ModelName:   "m",
		Version:     models.SemanticVersion{Major: 1},
		Status:      models.VersionStatusRegistered,
		ArtifactRef: "artifacts/m.bin",
		Tags:        []string{"baseline"},
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.PutVersion(ctx, v))

	record, err := store.AppendDeployment(ctx, &models.DeploymentRecord{
		ModelName: "m",
		Target:    v.Version,
		Mode:      models.ModeLive,
		State:     models.DeploymentActive,
	})
	require.NoError(t, err)

	require.NoError(t, store.AppendAlert(ctx, &models.AlertEvent{
		ID:           uuid.New().String(),
		AlertName:    models.MetricErrorRate,
		Severity:     models.SeverityWarning,
		DeploymentID: record.ID,
		EmittedAt:    time.Now().UTC(),
	}))

	req := &models.RetrainRequest{
		ID:          uuid.New().String(),
		ModelName:   "m",
		Reason:      "3 warning alerts within 24h0m0s",
		RequestedAt: time.Now().UTC(),
		Status:      models.RetrainPending,
	}
	require.NoError(t, store.PutRetrainRequest(ctx, req))
	require.NoError(t, store.Close())

	reopened := newStore(t, base)

	gotVersion, err := reopened.GetVersion(ctx, "m", v.Version)
	require.NoError(t, err)
	assert.Equal(t, v.ArtifactRef, gotVersion.ArtifactRef)
	assert.Equal(t, []string{"baseline"}, gotVersion.Tags)

	active, err := reopened.LatestActive(ctx, "m")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, record.ID, active.ID)

	alerts, err := reopened.ListAlerts(ctx, record.ID)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	gotReq, err := reopened.GetRetrainRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RetrainPending, gotReq.Status)
}

func TestDeploymentSequenceSurvivesReopen(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	store := newStore(t, base)
	first, err := store.AppendDeployment(ctx, &models.DeploymentRecord{
		ModelName: "m", Mode: models.ModeLive, State: models.DeploymentActive,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	require.NoError(t, store.Close())

	reopened := newStore(t, base)
	second, err := reopened.AppendDeployment(ctx, &models.DeploymentRecord{
		ModelName: "m", Mode: models.ModeLive, State: models.DeploymentActive,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID, "id sequence must not restart after reopen")
}

func TestStateUpdatesArePersisted(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	store := newStore(t, base)
	record, err := store.AppendDeployment(ctx, &models.DeploymentRecord{
		ModelName: "m", Mode: models.ModeLive, State: models.DeploymentActive,
	})
	require.NoError(t, err)

	at := time.Now().UTC()
	require.NoError(t, store.UpdateDeploymentState(ctx, record.ID, models.DeploymentRolledBack, at))
	require.NoError(t, store.Close())

	reopened := newStore(t, base)
	got, err := reopened.GetDeployment(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRolledBack, got.State)
	require.NotNil(t, got.RolledBackAt)
	assert.WithinDuration(t, at, *got.RolledBackAt, time.Second)
}

func TestWriteIsAtomic(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	store := newStore(t, base)
	require.NoError(t, store.PutVersion(ctx, &models.ModelVersion{
		ModelName: "m",
		Version:   models.SemanticVersion{Major: 1},
		Status:    models.VersionStatusRegistered,
		CreatedAt: time.Now().UTC(),
	}))

	// no temp file may survive a successful write
	assert.NoFileExists(t, filepath.Join(base, "versions.json.tmp"))
	assert.FileExists(t, filepath.Join(base, "versions.json"))
}
