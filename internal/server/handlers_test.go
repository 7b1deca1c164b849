package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Staysteady/ml-market-maker/internal/artifact"
	"github.com/Staysteady/ml-market-maker/internal/deployment"
	"github.com/Staysteady/ml-market-maker/internal/feedback"
	"github.com/Staysteady/ml-market-maker/internal/monitoring"
	"github.com/Staysteady/ml-market-maker/internal/registry"
	"github.com/Staysteady/ml-market-maker/internal/retrain"
	"github.com/Staysteady/ml-market-maker/internal/storage/memory"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

type testEnv struct {
	router  *mux.Router
	trigger *retrain.Trigger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := memory.NewMemoryStore(logger)
	require.NoError(t, store.Connect(context.Background()))

	artifacts, err := artifact.NewLocalStore(&artifact.LocalStoreConfig{
		BasePath:   t.TempDir(),
		CreateDirs: true,
	}, logger)
	require.NoError(t, err)

	reg := registry.NewRegistry(nil, store, artifacts, logger)
	ctrl := deployment.NewController(nil, store, reg, artifacts, nil, logger)
	engine := monitoring.NewEngine(&monitoring.Config{
		Registerer: prometheus.NewRegistry(),
	}, store, logger)
	trig := retrain.NewTrigger(nil, store, reg, ctrl, nil, logger)
	fb := feedback.NewCollector(nil, engine, logger)

	handlers := NewHandlers(reg, ctrl, engine, trig, fb, store, artifacts,
		BuildInfo{Version: "test"}, logger)

	srv, err := NewServer(&Config{EnableMetrics: false}, handlers, logger)
	require.NoError(t, err)
	return &testEnv{router: srv.GetRouter(), trigger: trig}
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	return newTestEnv(t).router
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func uploadArtifact(t *testing.T, router *mux.Router, ref string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/artifacts/"+ref, strings.NewReader("blob"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health", "/health/ready", "/health/live", "/version"} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := doJSON(t, router, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterAndListVersions(t *testing.T) {
	router := newTestRouter(t)
	uploadArtifact(t, router, "m/v1.bin")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/models/m/versions", map[string]interface{}{
		"artifact_ref": "m/v1.bin",
		"tags":         []string{"baseline"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.ModelVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "1.0.0", created.Version.String())

	rec = doJSON(t, router, http.MethodGet, "/api/v1/models/m/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []models.ModelVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/models/m/versions/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterRejectsUnknownArtifact(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/models/m/versions", map[string]interface{}{
		"artifact_ref": "missing.bin",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ARTIFACT")
}

func TestGetVersionRejectsMalformedSelector(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/models/m/versions/not-a-version", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_VERSION")
}

func TestDeployLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	uploadArtifact(t, router, "m/v1.bin")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/models/m/versions", map[string]interface{}{
		"artifact_ref": "m/v1.bin",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// mode defaults to dry_run
	rec = doJSON(t, router, http.MethodPost, "/api/v1/models/m/deploy", map[string]interface{}{
		"version": "1.0.0",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var dryRun models.DeploymentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dryRun))
	assert.Equal(t, models.ModeDryRun, dryRun.Mode)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/models/m/active", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/models/m/deploy", map[string]interface{}{
		"version": "1.0.0",
		"mode":    "live",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/v1/models/m/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var active models.DeploymentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.Equal(t, "1.0.0", active.Target.String())

	rec = doJSON(t, router, http.MethodGet, "/api/v1/models/m/deployments", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var history []models.DeploymentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 2)
}

func TestRollbackOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	uploadArtifact(t, router, "m/v1.bin")
	uploadArtifact(t, router, "m/v2.bin")

	for _, ref := range []string{"m/v1.bin", "m/v2.bin"} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/models/m/versions", map[string]interface{}{
			"artifact_ref": ref,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	for _, v := range []string{"1.0.0", "1.0.1"} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/models/m/deploy", map[string]interface{}{
			"version": v, "mode": "live",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/models/m/rollback", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var record models.DeploymentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.True(t, record.Rollback)
	assert.Equal(t, "1.0.0", record.Target.String())

	// no prior version remains to roll back to
	rec = doJSON(t, router, http.MethodPost, "/api/v1/models/m/rollback", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "NO_PRIOR_VERSION")
}

func TestModelStatusHealthVerdict(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/models/m/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "inactive", status["health"])
}

func TestIngestSamplesValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/metrics/samples", map[string]interface{}{
		"samples": []interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/metrics/samples", map[string]interface{}{
		"samples": []map[string]interface{}{
			{"metric_name": "error_rate", "value": 0.01, "timestamp": "2026-08-01T00:00:00Z", "deployment_id": 1},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"accepted":1`)
}

func TestFeedbackEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/feedback", map[string]interface{}{
		"model_name":      "m",
		"deployment_id":   1,
		"predicted_value": 100.0,
		"adjusted_value":  150.0,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/api/v1/feedback", map[string]interface{}{
		"model_name":      "m",
		"deployment_id":   0,
		"predicted_value": 100.0,
		"adjusted_value":  150.0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrainWorkerFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	router := env.router
	uploadArtifact(t, router, "m/v1.bin")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/models/m/versions", map[string]interface{}{
		"artifact_ref": "m/v1.bin",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// a critical drift alert opens the request the worker will claim
	require.NoError(t, env.trigger.Handle(context.Background(), &models.AlertEvent{
		ID:           "alert-1",
		AlertName:    models.MetricModelDrift,
		MetricName:   models.MetricModelDrift,
		ModelName:    "m",
		Severity:     models.SeverityCritical,
		DeploymentID: 1,
		EmittedAt:    time.Now().UTC(),
	}))

	rec = doJSON(t, router, http.MethodGet, "/api/v1/models/m/retrain?open=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var open []models.RetrainRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &open))
	require.Len(t, open, 1)
	id := open[0].ID

	rec = doJSON(t, router, http.MethodPost, "/api/v1/retrain/"+id+"/dispatch", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// a second claim loses
	rec = doJSON(t, router, http.MethodPost, "/api/v1/retrain/"+id+"/dispatch", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	uploadArtifact(t, router, "m/retrained.bin")
	rec = doJSON(t, router, http.MethodPost, "/api/v1/retrain/"+id+"/complete", map[string]interface{}{
		"artifact_ref": "m/retrained.bin",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var version models.ModelVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	assert.Equal(t, "1.0.1", version.Version.String())

	// completion triggers a dry run, never a promotion
	rec = doJSON(t, router, http.MethodGet, "/api/v1/models/m/active", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
