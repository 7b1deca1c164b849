package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// JobProcessor runs claimed retrain requests through a simulated training
// pipeline: it produces a new artifact, uploads it, and completes the
// request so the control plane registers and dry-runs the new version.
type JobProcessor struct {
	config *WorkerConfig
	jobs   <-chan *models.RetrainRequest
	client *http.Client
	logger *logrus.Logger
	wg     sync.WaitGroup
}

func NewJobProcessor(config *WorkerConfig, jobs <-chan *models.RetrainRequest, logger *logrus.Logger) *JobProcessor {
	return &JobProcessor{
		config: config,
		jobs:   jobs,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

func (p *JobProcessor) Start(ctx context.Context) {
	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Wait blocks until all in-flight jobs finish
func (p *JobProcessor) Wait() {
	p.wg.Wait()
}

func (p *JobProcessor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.logger.WithField("worker", id)
	log.Info("Job processor worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Job processor worker stopping")
			return
		case req, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := p.process(ctx, req); err != nil {
				log.WithError(err).WithField("request_id", req.ID).Error("Training job failed")
			}
		}
	}
}

func (p *JobProcessor) process(ctx context.Context, req *models.RetrainRequest) error {
	log := p.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"model":      req.ModelName,
	})
	log.Info("Training started")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.config.TrainDuration):
	}

	artifactRef := fmt.Sprintf("%s/retrained-%s.bin", req.ModelName, req.ID[:8])
	if err := p.uploadArtifact(ctx, artifactRef, p.buildArtifact(req)); err != nil {
		return fmt.Errorf("artifact upload failed: %w", err)
	}

	metrics := map[string]float64{
		"training_loss":       0.01 + rand.Float64()*0.05,
		"validation_accuracy": 0.88 + rand.Float64()*0.1,
	}
	if err := p.complete(ctx, req.ID, artifactRef, metrics); err != nil {
		return fmt.Errorf("completion failed: %w", err)
	}

	log.WithField("artifact_ref", artifactRef).Info("Training complete")
	return nil
}

// buildArtifact produces the trained model blob. The control plane treats
// artifacts as opaque, so the worker only needs a stable serialized form.
func (p *JobProcessor) buildArtifact(req *models.RetrainRequest) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"model_name": req.ModelName,
		"request_id": req.ID,
		"trained_at": time.Now().UTC().Format(time.RFC3339),
		"trained_by": p.config.WorkerID,
	})
	return payload
}

func (p *JobProcessor) uploadArtifact(ctx context.Context, ref string, body []byte) error {
	url := fmt.Sprintf("%s/api/v1/artifacts/%s", p.config.ServerURL, ref)
	req, err := http.NewRequestWithContext(ctx, "PUT", url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func (p *JobProcessor) complete(ctx context.Context, requestID, artifactRef string, metrics map[string]float64) error {
	payload, err := json.Marshal(map[string]interface{}{
		"artifact_ref": artifactRef,
		"metrics":      metrics,
		"description":  "retrained by " + p.config.WorkerID,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v1/retrain/%s/complete", p.config.ServerURL, requestID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
