package registry

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Staysteady/ml-market-maker/internal/storage/memory"
	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

type stubArtifacts struct {
	missing map[string]bool
}

func (s *stubArtifacts) Resolve(ctx context.Context, ref string) (bool, error) {
	return !s.missing[ref], nil
}

func (s *stubArtifacts) Put(ctx context.Context, ref string, body io.Reader) error { return nil }

func (s *stubArtifacts) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (s *stubArtifacts) Delete(ctx context.Context, ref string) error { return nil }

func newTestRegistry(t *testing.T) (*Registry, *memory.MemoryStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := memory.NewMemoryStore(logger)
	require.NoError(t, store.Connect(context.Background()))

	reg := NewRegistry(nil, store, &stubArtifacts{}, logger)
	return reg, store
}

func TestRegisterAllocatesSequentialVersions(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	expected := []string{"1.0.0", "1.0.1", "1.0.2"}
	for _, want := range expected {
		v, err := reg.Register(ctx, RegisterRequest{
			ModelName:   "spread-predictor",
			ArtifactRef: "models/spread.bin",
		})
		require.NoError(t, err)
		assert.Equal(t, want, v.Version.String())
		assert.Equal(t, models.VersionStatusRegistered, v.Status)
	}
}

func TestRegisterBumpKinds(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a"})
	require.NoError(t, err)

	v, err := reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a", Bump: models.BumpMinor})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v.Version.String())

	v, err = reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a", Bump: models.BumpMajor})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", v.Version.String())

	v, err = reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a", Bump: models.BumpPatch})
	require.NoError(t, err)
	assert.Equal(t, "2.0.1", v.Version.String())
}

func TestRegisterRejectsUnresolvableArtifact(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := memory.NewMemoryStore(logger)
	reg := NewRegistry(nil, store, &stubArtifacts{missing: map[string]bool{"gone": true}}, logger)

	_, err := reg.Register(context.Background(), RegisterRequest{ModelName: "m", ArtifactRef: "gone"})
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, "INVALID_ARTIFACT", appErr.Code)
}

func TestRegisterValidatesInput(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, RegisterRequest{ArtifactRef: "a"})
	assert.Error(t, err)

	_, err = reg.Register(ctx, RegisterRequest{ModelName: "m"})
	assert.Error(t, err)
}

func TestGetSelectors(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	v1, err := reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a"})
	require.NoError(t, err)
	v2, err := reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a"})
	require.NoError(t, err)

	got, err := reg.Get(ctx, "m", "latest")
	require.NoError(t, err)
	assert.Equal(t, v2.Version, got.Version)

	got, err = reg.Get(ctx, "m", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, v1.Version, got.Version)

	// no active version yet
	_, err = reg.Get(ctx, "m", "active")
	assert.Error(t, err)

	// activate 1.0.0 and retry
	require.NoError(t, store.UpdateVersionStatus(ctx, "m", v1.Version, models.VersionStatusActive))
	_, err = store.AppendDeployment(ctx, &models.DeploymentRecord{
		ModelName: "m",
		Target:    v1.Version,
		Mode:      models.ModeLive,
		State:     models.DeploymentActive,
	})
	require.NoError(t, err)

	got, err = reg.Get(ctx, "m", "active")
	require.NoError(t, err)
	assert.Equal(t, v1.Version, got.Version)

	_, err = reg.Get(ctx, "m", "not-a-version")
	assert.Error(t, err)

	_, err = reg.Get(ctx, "m", "9.9.9")
	assert.Error(t, err)
}

func TestListVersionsTagFilter(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a", Tags: []string{"baseline"}})
	require.NoError(t, err)
	_, err = reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a", Tags: []string{"candidate"}})
	require.NoError(t, err)
	_, err = reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a"})
	require.NoError(t, err)

	all, err := reg.ListVersions(ctx, "m", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// newest first
	assert.Equal(t, "1.0.2", all[0].Version.String())

	tagged, err := reg.ListVersions(ctx, "m", []string{"candidate"})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "1.0.1", tagged[0].Version.String())

	either, err := reg.ListVersions(ctx, "m", []string{"candidate", "baseline"})
	require.NoError(t, err)
	assert.Len(t, either, 2)
}

func TestTransitionStatusEnforcesLifecycle(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	v, err := reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a"})
	require.NoError(t, err)

	require.NoError(t, reg.TransitionStatus(ctx, "m", v.Version, models.VersionStatusStaged))
	require.NoError(t, reg.TransitionStatus(ctx, "m", v.Version, models.VersionStatusActive))

	err = reg.TransitionStatus(ctx, "m", v.Version, models.VersionStatusRetired)
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, "INVALID_TRANSITION", appErr.Code)
}

func TestPruneRetainsNewestAndExemptions(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := memory.NewMemoryStore(logger)
	reg := NewRegistry(&Config{MaxVersions: 2}, store, &stubArtifacts{}, logger)
	ctx := context.Background()

	var versions []*models.ModelVersion
	for i := 0; i < 5; i++ {
		v, err := reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a"})
		require.NoError(t, err)
		versions = append(versions, v)
	}

	// activate the oldest so it is exempt despite its age
	require.NoError(t, store.UpdateVersionStatus(ctx, "m", versions[0].Version, models.VersionStatusActive))

	require.NoError(t, reg.Prune(ctx, "m"))

	remaining, err := reg.ListVersions(ctx, "m", nil)
	require.NoError(t, err)

	var names []string
	for _, v := range remaining {
		names = append(names, v.Version.String())
	}
	// active 1.0.0 plus the two newest non-active versions
	assert.ElementsMatch(t, []string{"1.0.0", "1.0.3", "1.0.4"}, names)

	// idempotent
	require.NoError(t, reg.Prune(ctx, "m"))
	again, err := reg.ListVersions(ctx, "m", nil)
	require.NoError(t, err)
	assert.Len(t, again, 3)
}

func TestPruneExemptsOpenRetrainResult(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := memory.NewMemoryStore(logger)
	reg := NewRegistry(&Config{MaxVersions: 1}, store, &stubArtifacts{}, logger)
	ctx := context.Background()

	var versions []*models.ModelVersion
	for i := 0; i < 3; i++ {
		v, err := reg.Register(ctx, RegisterRequest{ModelName: "m", ArtifactRef: "a"})
		require.NoError(t, err)
		versions = append(versions, v)
	}

	oldest := versions[0].Version
	require.NoError(t, store.PutRetrainRequest(ctx, &models.RetrainRequest{
		ID:            "rr-1",
		ModelName:     "m",
		Status:        models.RetrainDispatched,
		ResultVersion: &oldest,
	}))

	require.NoError(t, reg.Prune(ctx, "m"))

	_, err := store.GetVersion(ctx, "m", oldest)
	assert.NoError(t, err, "version referenced by an open retrain request must survive pruning")
}
