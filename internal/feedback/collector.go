package feedback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// Adjustment records a user override of a model prediction
type Adjustment struct {
	ModelName      string    `json:"model_name"`
	DeploymentID   int64     `json:"deployment_id"`
	PredictedValue float64   `json:"predicted_value"`
	AdjustedValue  float64   `json:"adjusted_value"`
	Timestamp      time.Time `json:"timestamp"`
}

// MetricIngestor accepts derived metric samples. The monitoring engine
// satisfies this.
type MetricIngestor interface {
	Ingest(sample models.MetricSample) error
}

// Config configures the feedback collector
type Config struct {
	// Window is how long adjustments stay in the divergence calculation
	Window time.Duration `json:"window" yaml:"window"`

	// MinSamples is the minimum number of adjustments before a drift
	// sample is emitted
	MinSamples int `json:"min_samples" yaml:"min_samples"`

	// Tolerance is the relative deviation beyond which an adjustment
	// counts as divergent
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`
}

// DefaultConfig returns the default collector configuration
func DefaultConfig() *Config {
	return &Config{
		Window:     60 * time.Minute,
		MinSamples: 10,
		Tolerance:  0.05,
	}
}

// Collector turns user adjustments of model output into a drift signal.
// When users consistently override predictions the divergence rate rises,
// which surfaces through the drift alert thresholds even when no labeled
// accuracy data is available.
type Collector struct {
	config  *Config
	ingest  MetricIngestor
	logger  *logrus.Logger
	mu      sync.Mutex
	recent  map[int64][]Adjustment
	counted map[int64]int64
}

// NewCollector creates a new feedback collector
func NewCollector(config *Config, ingest MetricIngestor, logger *logrus.Logger) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Window <= 0 {
		config.Window = 60 * time.Minute
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 10
	}
	if config.Tolerance <= 0 {
		config.Tolerance = 0.05
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Collector{
		config:  config,
		ingest:  ingest,
		logger:  logger,
		recent:  make(map[int64][]Adjustment),
		counted: make(map[int64]int64),
	}
}

// Record accepts one adjustment and, once enough have accumulated, emits a
// model_drift sample carrying the current divergence rate.
func (c *Collector) Record(_ context.Context, adj Adjustment) error {
	if adj.DeploymentID <= 0 {
		return errors.NewValidationError("INVALID_DEPLOYMENT_ID", "deployment id must be positive")
	}
	if adj.Timestamp.IsZero() {
		adj.Timestamp = time.Now().UTC()
	}
	if math.IsNaN(adj.PredictedValue) || math.IsNaN(adj.AdjustedValue) {
		return errors.NewValidationError("INVALID_ADJUSTMENT", "values cannot be NaN")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := adj.Timestamp.Add(-c.config.Window)
	kept := c.recent[adj.DeploymentID][:0]
	for _, a := range c.recent[adj.DeploymentID] {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	kept = append(kept, adj)
	c.recent[adj.DeploymentID] = kept
	c.counted[adj.DeploymentID]++

	if len(kept) < c.config.MinSamples {
		return nil
	}

	rate := c.divergenceRate(kept)
	sample := models.MetricSample{
		MetricName:   models.MetricModelDrift,
		Value:        rate,
		Timestamp:    adj.Timestamp,
		DeploymentID: adj.DeploymentID,
	}

	if err := c.ingest.Ingest(sample); err != nil {
		c.logger.WithError(err).WithField("deployment_id", adj.DeploymentID).
			Warn("Failed to ingest derived drift sample")
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"deployment_id":   adj.DeploymentID,
		"divergence_rate": rate,
		"window_samples":  len(kept),
	}).Debug("Emitted drift sample from user feedback")
	return nil
}

// divergenceRate is the fraction of adjustments deviating from the
// prediction by more than the tolerance
func (c *Collector) divergenceRate(adjustments []Adjustment) float64 {
	divergent := 0
	for _, a := range adjustments {
		base := math.Abs(a.PredictedValue)
		if base == 0 {
			if a.AdjustedValue != 0 {
				divergent++
			}
			continue
		}
		if math.Abs(a.AdjustedValue-a.PredictedValue)/base > c.config.Tolerance {
			divergent++
		}
	}
	return float64(divergent) / float64(len(adjustments))
}

// TotalRecorded returns how many adjustments a deployment has ever received
func (c *Collector) TotalRecorded(deploymentID int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counted[deploymentID]
}
