package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/internal/artifact"
	"github.com/Staysteady/ml-market-maker/internal/deployment"
	"github.com/Staysteady/ml-market-maker/internal/feedback"
	"github.com/Staysteady/ml-market-maker/internal/monitoring"
	"github.com/Staysteady/ml-market-maker/internal/registry"
	"github.com/Staysteady/ml-market-maker/internal/retrain"
	"github.com/Staysteady/ml-market-maker/internal/storage"
	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// BuildInfo carries version metadata for the version endpoint
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// Handlers contains all HTTP handlers for the control-plane API
type Handlers struct {
	registry   *registry.Registry
	controller *deployment.Controller
	engine     *monitoring.Engine
	trigger    *retrain.Trigger
	feedback   *feedback.Collector
	store      storage.Store
	artifacts  artifact.Store
	logger     *logrus.Logger
	build      BuildInfo
	startTime  time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(reg *registry.Registry, ctrl *deployment.Controller, engine *monitoring.Engine, trigger *retrain.Trigger, fb *feedback.Collector, store storage.Store, artifacts artifact.Store, build BuildInfo, logger *logrus.Logger) *Handlers {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handlers{
		registry:   reg,
		controller: ctrl,
		engine:     engine,
		trigger:    trigger,
		feedback:   fb,
		store:      store,
		artifacts:  artifacts,
		logger:     logger,
		build:      build,
		startTime:  time.Now().UTC(),
	}
}

// Health reports process health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// Ready reports readiness
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.writeError(w, errors.NewStorageError("STORE_UNAVAILABLE", "backing store is unreachable"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live reports liveness
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Version reports build metadata
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.build)
}

// NotFound handles unknown routes
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, errors.NewNotFoundError("ROUTE_NOT_FOUND", "no such route: "+r.URL.Path))
}

type registerVersionRequest struct {
	ArtifactRef string             `json:"artifact_ref"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	Bump        string             `json:"bump,omitempty"`
	ModelKind   string             `json:"model_kind,omitempty"`
	Description string             `json:"description,omitempty"`
	CreatedBy   string             `json:"created_by,omitempty"`
}

// RegisterVersion registers a new model version
func (h *Handlers) RegisterVersion(w http.ResponseWriter, r *http.Request) {
	var req registerVersionRequest
	if !h.decode(w, r, &req) {
		return
	}

	version, err := h.registry.Register(r.Context(), registry.RegisterRequest{
		ModelName:   mux.Vars(r)["name"],
		ArtifactRef: req.ArtifactRef,
		Metrics:     req.Metrics,
		Tags:        req.Tags,
		Bump:        models.VersionBump(req.Bump),
		ModelKind:   req.ModelKind,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, version)
}

// ListVersions lists versions for a model, newest first. Repeated tag query
// parameters filter to versions carrying any of the tags.
func (h *Handlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.registry.ListVersions(r.Context(), mux.Vars(r)["name"], r.URL.Query()["tag"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"versions": versions,
		"count":    len(versions),
	})
}

// GetVersion fetches one version; the version path segment also accepts the
// selectors "latest" and "active"
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	version, err := h.registry.Get(r.Context(), vars["name"], vars["version"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, version)
}

// UpdateTags replaces the tag set on a version
func (h *Handlers) UpdateTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tags []string `json:"tags"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	version, err := models.ParseSemanticVersion(vars["version"])
	if err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_VERSION", err.Error()))
		return
	}

	if err := h.registry.UpdateTags(r.Context(), vars["name"], version, req.Tags); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"tags": req.Tags})
}

// TransitionStatus moves a version through its lifecycle
func (h *Handlers) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	version, err := models.ParseSemanticVersion(vars["version"])
	if err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_VERSION", err.Error()))
		return
	}

	if err := h.registry.TransitionStatus(r.Context(), vars["name"], version, models.VersionStatus(req.Status)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

// Prune removes old versions beyond the retention limit
func (h *Handlers) Prune(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Prune(r.Context(), mux.Vars(r)["name"]); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "pruned"})
}

type deployRequest struct {
	Version     string `json:"version"`
	Mode        string `json:"mode"`
	Description string `json:"description,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// Deploy runs a dry-run or live deployment of a registered version
func (h *Handlers) Deploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if !h.decode(w, r, &req) {
		return
	}

	version, err := models.ParseSemanticVersion(req.Version)
	if err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_VERSION", err.Error()))
		return
	}

	mode := models.DeploymentMode(req.Mode)
	if mode == "" {
		mode = models.ModeDryRun
	}

	record, err := h.controller.Deploy(r.Context(), deployment.DeployRequest{
		ModelName:   mux.Vars(r)["name"],
		Version:     version,
		Mode:        mode,
		Description: req.Description,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, record)
}

// Rollback reverts a model to its previous active version
func (h *Handlers) Rollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestedBy string `json:"requested_by,omitempty"`
	}
	// rollback takes an empty body
	_ = json.NewDecoder(r.Body).Decode(&req)

	record, err := h.controller.Rollback(r.Context(), mux.Vars(r)["name"], req.RequestedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

// DeploymentHistory returns the deployment log, newest first
func (h *Handlers) DeploymentHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.controller.History(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deployments": records,
		"count":       len(records),
	})
}

// ActiveDeployment returns the current active deployment
func (h *Handlers) ActiveDeployment(w http.ResponseWriter, r *http.Request) {
	modelName := mux.Vars(r)["name"]
	record, err := h.controller.Active(r.Context(), modelName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if record == nil {
		h.writeError(w, errors.NewNotFoundError("NO_ACTIVE_DEPLOYMENT",
			"model "+modelName+" has no active deployment"))
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// ModelStatus summarizes a model: active deployment, window aggregates,
// firing alerts, and an overall health verdict
func (h *Handlers) ModelStatus(w http.ResponseWriter, r *http.Request) {
	modelName := mux.Vars(r)["name"]

	record, err := h.controller.Active(r.Context(), modelName)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := map[string]interface{}{
		"model_name": modelName,
		"health":     "healthy",
	}

	if record == nil {
		status["health"] = "inactive"
		h.writeJSON(w, http.StatusOK, status)
		return
	}

	status["active_deployment"] = record
	if h.engine != nil {
		firing := h.engine.Firing(record.ID)
		status["metrics"] = h.engine.Summaries(record.ID)
		status["firing_alerts"] = firing

		for _, severity := range firing {
			if severity == models.SeverityCritical {
				status["health"] = "critical"
				break
			}
			status["health"] = "degraded"
		}
	}

	h.writeJSON(w, http.StatusOK, status)
}

type ingestRequest struct {
	Samples []models.MetricSample `json:"samples"`
}

// IngestSamples accepts a batch of metric samples
func (h *Handlers) IngestSamples(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Samples) == 0 {
		h.writeError(w, errors.NewValidationError("EMPTY_BATCH", "samples cannot be empty"))
		return
	}

	accepted := 0
	for _, sample := range req.Samples {
		if err := h.engine.Ingest(sample); err != nil {
			h.writeError(w, err)
			return
		}
		accepted++
	}

	h.writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

// MetricSummaries returns window aggregates for a deployment
func (h *Handlers) MetricSummaries(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_DEPLOYMENT_ID", "deployment id must be an integer"))
		return
	}

	summaries := h.engine.Summaries(id)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deployment_id": id,
		"metrics":       summaries,
	})
}

// ListAlerts returns the alert log for a deployment, newest first
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_DEPLOYMENT_ID", "deployment id must be an integer"))
		return
	}

	alerts, err := h.store.ListAlerts(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// RecordFeedback accepts a user adjustment of a model prediction
func (h *Handlers) RecordFeedback(w http.ResponseWriter, r *http.Request) {
	var adj feedback.Adjustment
	if !h.decode(w, r, &adj) {
		return
	}

	if err := h.feedback.Record(r.Context(), adj); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// ListRetrainRequests lists retrain requests for a model
func (h *Handlers) ListRetrainRequests(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("open") == "true"
	requests, err := h.trigger.Requests(r.Context(), mux.Vars(r)["name"], openOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}

// DispatchRetrain hands a pending retrain request to the training system
func (h *Handlers) DispatchRetrain(w http.ResponseWriter, r *http.Request) {
	if err := h.trigger.Dispatch(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.RetrainDispatched)})
}

// CompleteRetrain registers the retrained version and dry-runs it
func (h *Handlers) CompleteRetrain(w http.ResponseWriter, r *http.Request) {
	var result retrain.CompletionResult
	if !h.decode(w, r, &result) {
		return
	}

	version, err := h.trigger.Complete(r.Context(), mux.Vars(r)["id"], result)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, version)
}

// RejectRetrain closes a retrain request without a new version
func (h *Handlers) RejectRetrain(w http.ResponseWriter, r *http.Request) {
	if err := h.trigger.Reject(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.RetrainRejected)})
}

// UploadArtifact stores an opaque artifact blob under the given reference
func (h *Handlers) UploadArtifact(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	if ref == "" {
		h.writeError(w, errors.NewValidationError("INVALID_ARTIFACT", "artifact reference cannot be empty"))
		return
	}

	if err := h.artifacts.Put(r.Context(), ref, r.Body); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"artifact_ref": ref})
}

// FetchArtifact streams an artifact blob
func (h *Handlers) FetchArtifact(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]

	body, err := h.artifacts.Fetch(r.Context(), ref)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WithError(err).WithField("artifact_ref", ref).Error("Failed to stream artifact")
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, errors.NewValidationError("INVALID_BODY", "failed to decode request body: "+err.Error()))
		return false
	}
	return true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		appErr = errors.NewInternalError(err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	if encodeErr := json.NewEncoder(w).Encode(map[string]interface{}{"error": appErr}); encodeErr != nil {
		h.logger.WithError(encodeErr).Error("Failed to encode error response")
	}
}
