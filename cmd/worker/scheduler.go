package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// Scheduler polls the control plane for pending retrain requests on the
// watched models and feeds them to the processor. A request is claimed by
// dispatching it, so two workers polling the same model cannot both pick
// it up.
type Scheduler struct {
	config   *WorkerConfig
	logger   *logrus.Logger
	jobQueue chan *models.RetrainRequest
	client   *http.Client

	mu      sync.Mutex
	claimed map[string]bool
}

func NewScheduler(config *WorkerConfig, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		config:   config,
		logger:   logger,
		jobQueue: make(chan *models.RetrainRequest, config.Concurrency*2),
		client:   &http.Client{Timeout: 30 * time.Second},
		claimed:  make(map[string]bool),
	}
}

// Jobs returns the queue of claimed retrain requests
func (s *Scheduler) Jobs() <-chan *models.RetrainRequest {
	return s.jobQueue
}

func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Scheduler started")

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			return
		case <-ticker.C:
			for _, model := range s.config.Models {
				s.poll(ctx, model)
			}
		}
	}
}

func (s *Scheduler) poll(ctx context.Context, model string) {
	requests, err := s.listOpen(ctx, model)
	if err != nil {
		s.logger.WithError(err).WithField("model", model).Warn("Failed to poll retrain requests")
		return
	}

	for _, req := range requests {
		if req.Status != models.RetrainPending {
			continue
		}

		s.mu.Lock()
		if s.claimed[req.ID] {
			s.mu.Unlock()
			continue
		}
		s.claimed[req.ID] = true
		s.mu.Unlock()

		if err := s.claim(ctx, req.ID); err != nil {
			s.logger.WithError(err).WithField("request_id", req.ID).Warn("Failed to claim retrain request")
			s.mu.Lock()
			delete(s.claimed, req.ID)
			s.mu.Unlock()
			continue
		}

		select {
		case s.jobQueue <- req:
			s.logger.WithFields(logrus.Fields{
				"request_id": req.ID,
				"model":      req.ModelName,
				"reason":     req.Reason,
			}).Info("Claimed retrain request")
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) listOpen(ctx context.Context, model string) ([]*models.RetrainRequest, error) {
	url := fmt.Sprintf("%s/api/v1/models/%s/retrain?open=true", s.config.ServerURL, model)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}

	var body struct {
		Requests []*models.RetrainRequest `json:"requests"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Requests, nil
}

func (s *Scheduler) claim(ctx context.Context, requestID string) error {
	url := fmt.Sprintf("%s/api/v1/retrain/%s/dispatch", s.config.ServerURL, requestID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
