package monitoring

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/internal/deployment"
	"github.com/Staysteady/ml-market-maker/internal/storage"
	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// Direction states which side of the threshold is unhealthy
type Direction string

const (
	// DirectionAbove fires when the aggregate exceeds the threshold
	DirectionAbove Direction = "above"
	// DirectionBelow fires when the aggregate falls under the threshold
	DirectionBelow Direction = "below"
)

// MetricPolicy configures evaluation for one metric
type MetricPolicy struct {
	MetricName  string        `json:"metric_name" yaml:"metric_name"`
	Aggregation Aggregation   `json:"aggregation" yaml:"aggregation"`
	Direction   Direction     `json:"direction" yaml:"direction"`
	Warning     float64       `json:"warning" yaml:"warning"`
	Critical    float64       `json:"critical" yaml:"critical"`
	Window      time.Duration `json:"window" yaml:"window"`
	For         time.Duration `json:"for" yaml:"for"`

	// BypassHysteresis fires immediately on a critical breach. Used for
	// drift, which is an actionable signal rather than a transient spike.
	BypassHysteresis bool `json:"bypass_hysteresis" yaml:"bypass_hysteresis"`
}

// Config configures the monitoring engine
type Config struct {
	// QueueSize bounds the ingestion queue; when full the oldest
	// unprocessed sample is dropped and a diagnostic is recorded.
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	// NotifyBuffer sizes the handoff queue to the notification channel
	NotifyBuffer int `json:"notify_buffer" yaml:"notify_buffer"`

	// Policies maps metric names to their evaluation policies
	Policies map[string]*MetricPolicy `json:"policies" yaml:"policies"`

	// Registerer receives the engine's diagnostic metrics
	Registerer prometheus.Registerer `json:"-" yaml:"-"`
}

// DefaultPolicies returns the recognized metric set with default thresholds.
// Latency and error-rate windows are short; accuracy and drift windows are
// long, matching the differing volatility of the two metric classes.
func DefaultPolicies() map[string]*MetricPolicy {
	return map[string]*MetricPolicy{
		models.MetricPredictionLatencyMS: {
			MetricName:  models.MetricPredictionLatencyMS,
			Aggregation: AggMean,
			Direction:   DirectionAbove,
			Warning:     100,
			Critical:    250,
			Window:      5 * time.Minute,
			For:         5 * time.Minute,
		},
		models.MetricErrorRate: {
			MetricName:  models.MetricErrorRate,
			Aggregation: AggRatio,
			Direction:   DirectionAbove,
			Warning:     0.05,
			Critical:    0.10,
			Window:      5 * time.Minute,
			For:         5 * time.Minute,
		},
		models.MetricPredictionAccuracy: {
			MetricName:  models.MetricPredictionAccuracy,
			Aggregation: AggLast,
			Direction:   DirectionBelow,
			Warning:     0.85,
			Critical:    0.75,
			Window:      60 * time.Minute,
			For:         5 * time.Minute,
		},
		models.MetricModelDrift: {
			MetricName:       models.MetricModelDrift,
			Aggregation:      AggLast,
			Direction:        DirectionAbove,
			Warning:          0.10,
			Critical:         0.20,
			Window:           60 * time.Minute,
			For:              5 * time.Minute,
			BypassHysteresis: true,
		},
		models.MetricQueueUtilization: {
			MetricName:  models.MetricQueueUtilization,
			Aggregation: AggMean,
			Direction:   DirectionAbove,
			Warning:     0.70,
			Critical:    0.90,
			Window:      5 * time.Minute,
			For:         5 * time.Minute,
		},
	}
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		QueueSize:    1024,
		NotifyBuffer: 64,
		Policies:     DefaultPolicies(),
		Registerer:   prometheus.DefaultRegisterer,
	}
}

// Notifier delivers alert events to an external notification channel.
// Delivery failures and retries are the channel's concern, not the engine's.
type Notifier interface {
	Name() string
	Send(ctx context.Context, event *models.AlertEvent) error
}

// Sink archives accepted samples to an external time-series store,
// best-effort
type Sink interface {
	WriteSample(ctx context.Context, sample models.MetricSample) error
}

type windowKey struct {
	deploymentID int64
	metric       string
}

type windowState struct {
	window *slidingWindow
	policy *MetricPolicy

	firing         bool
	firingSeverity models.AlertSeverity
	breachSince    *time.Time
	clearSince     *time.Time
}

// Engine evaluates the live metrics stream against per-metric thresholds
// with hysteresis and emits deduplicated alert events. Ingestion and
// evaluation are decoupled by a bounded queue so bursts never block the
// ingestion path.
type Engine struct {
	config *Config
	store  storage.Store
	logger *logrus.Logger

	queue    chan models.MetricSample
	notifyCh chan *models.AlertEvent

	mu          sync.RWMutex
	windows     map[windowKey]*windowState
	modelByID   map[int64]string
	subscribers []chan *models.AlertEvent

	notifier Notifier
	sink     Sink

	samplesIngested prometheus.Counter
	samplesDropped  prometheus.Counter
	malformed       prometheus.Counter
	alertsFiring    prometheus.Gauge

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewEngine creates a new monitoring engine
func NewEngine(config *Config, store storage.Store, logger *logrus.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.NotifyBuffer <= 0 {
		config.NotifyBuffer = 64
	}
	if config.Policies == nil {
		config.Policies = DefaultPolicies()
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = logrus.New()
	}

	e := &Engine{
		config:    config,
		store:     store,
		logger:    logger,
		queue:     make(chan models.MetricSample, config.QueueSize),
		notifyCh:  make(chan *models.AlertEvent, config.NotifyBuffer),
		windows:   make(map[windowKey]*windowState),
		modelByID: make(map[int64]string),
		stopCh:    make(chan struct{}),
		samplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitoring_samples_ingested_total",
			Help: "Metric samples accepted into the ingestion queue",
		}),
		samplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitoring_samples_dropped_total",
			Help: "Metric samples dropped because the ingestion queue was full",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitoring_malformed_samples_total",
			Help: "Metric samples rejected during evaluation",
		}),
		alertsFiring: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitoring_alerts_firing",
			Help: "Alerts currently in the firing state",
		}),
	}

	for _, collector := range []prometheus.Collector{e.samplesIngested, e.samplesDropped, e.malformed, e.alertsFiring} {
		if err := config.Registerer.Register(collector); err != nil {
			logger.WithError(err).Debug("Diagnostic metric already registered")
		}
	}

	return e
}

// SetNotifier installs the external notification channel
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// SetSink installs the optional time-series archive
func (e *Engine) SetSink(s Sink) { e.sink = s }

// Start launches the evaluator and notifier goroutines
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.wg.Add(2)
		go e.evaluateLoop(ctx)
		go e.notifyLoop(ctx)
		e.logger.Info("Monitoring engine started")
	})
}

// Stop shuts the engine down and waits for in-flight evaluation
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
		e.logger.Info("Monitoring engine stopped")
	})
}

// AttachController subscribes to deployment-state events so samples can be
// mapped back to model names as deployments change.
func (e *Engine) AttachController(events <-chan deployment.Event) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.stopCh:
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				e.mu.Lock()
				e.modelByID[event.Record.ID] = event.Record.ModelName
				e.mu.Unlock()
			}
		}
	}()
}

// Subscribe returns a channel of emitted alert events. Delivery is
// best-effort; a slow subscriber loses events rather than blocking
// evaluation.
func (e *Engine) Subscribe() <-chan *models.AlertEvent {
	ch := make(chan *models.AlertEvent, e.config.NotifyBuffer)

	e.mu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.mu.Unlock()

	return ch
}

// Ingest enqueues a sample without blocking. When the queue is full the
// oldest unprocessed sample is dropped and a SampleDropped diagnostic is
// recorded; the new sample is always accepted.
func (e *Engine) Ingest(sample models.MetricSample) error {
	select {
	case <-e.stopCh:
		return errors.NewMonitoringError("ENGINE_STOPPED", "monitoring engine stopped")
	default:
	}

	for {
		select {
		case e.queue <- sample:
			e.samplesIngested.Inc()
			return nil
		default:
		}

		select {
		case dropped := <-e.queue:
			e.samplesDropped.Inc()
			e.logger.WithFields(logrus.Fields{
				"metric_name":   dropped.MetricName,
				"deployment_id": dropped.DeploymentID,
			}).Warn("SampleDropped: ingestion queue full, discarding oldest sample")
		default:
		}
	}
}

// Firing returns the currently firing alerts for a deployment, keyed by
// metric name
func (e *Engine) Firing(deploymentID int64) map[string]models.AlertSeverity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]models.AlertSeverity)
	for key, state := range e.windows {
		if key.deploymentID == deploymentID && state.firing {
			out[key.metric] = state.firingSeverity
		}
	}
	return out
}

// Summaries returns the current window state for a deployment
func (e *Engine) Summaries(deploymentID int64) []models.MetricSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []models.MetricSummary
	for key, state := range e.windows {
		if key.deploymentID != deploymentID {
			continue
		}
		value, ok := state.window.aggregate(state.policy.Aggregation)
		if !ok {
			continue
		}
		start, end := state.window.bounds()
		out = append(out, models.MetricSummary{
			MetricName:   key.metric,
			DeploymentID: deploymentID,
			Aggregate:    value,
			SampleCount:  state.window.size(),
			WindowStart:  start,
			WindowEnd:    end,
		})
	}
	return out
}

func (e *Engine) evaluateLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case sample := <-e.queue:
			e.evaluate(ctx, sample)
		}
	}
}

// evaluate runs one sample through window insertion, aggregation, threshold
// comparison, and the hysteresis state machine. Malformed samples are
// counted and skipped; they never halt the window.
func (e *Engine) evaluate(ctx context.Context, sample models.MetricSample) {
	policy, ok := e.config.Policies[sample.MetricName]
	if !ok || sample.DeploymentID <= 0 || sample.Timestamp.IsZero() ||
		math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		e.malformed.Inc()
		e.logger.WithFields(logrus.Fields{
			"metric_name":   sample.MetricName,
			"deployment_id": sample.DeploymentID,
		}).Debug("Skipping malformed sample")
		return
	}

	if e.sink != nil {
		if err := e.sink.WriteSample(ctx, sample); err != nil {
			e.logger.WithError(err).Debug("Metric sink write failed")
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := windowKey{deploymentID: sample.DeploymentID, metric: sample.MetricName}
	state, ok := e.windows[key]
	if !ok {
		state = &windowState{
			window: newSlidingWindow(policy.Window),
			policy: policy,
		}
		e.windows[key] = state
	}

	state.window.add(sample)

	value, ok := state.window.aggregate(policy.Aggregation)
	if !ok {
		return
	}

	severity := policy.classify(value)
	e.transition(ctx, key, state, severity, value, sample.Timestamp)
}

// classify returns the breached severity for an aggregate, or "" when the
// value is healthy
func (p *MetricPolicy) classify(value float64) models.AlertSeverity {
	breaches := func(threshold float64) bool {
		if p.Direction == DirectionBelow {
			return value < threshold
		}
		return value > threshold
	}

	switch {
	case breaches(p.Critical):
		return models.SeverityCritical
	case breaches(p.Warning):
		return models.SeverityWarning
	default:
		return ""
	}
}

// transition advances the hysteresis state machine for one window. An alert
// fires only after the condition holds continuously for the policy's For
// duration and clears only after it is absent for the same duration;
// clearing is silent. Time is measured on sample timestamps.
func (e *Engine) transition(ctx context.Context, key windowKey, state *windowState, severity models.AlertSeverity, value float64, now time.Time) {
	policy := state.policy

	if severity == "" {
		state.breachSince = nil
		if state.firing {
			if state.clearSince == nil {
				t := now
				state.clearSince = &t
			} else if now.Sub(*state.clearSince) >= policy.For {
				state.firing = false
				state.firingSeverity = ""
				state.clearSince = nil
				e.alertsFiring.Dec()
				e.logger.WithFields(logrus.Fields{
					"metric_name":   key.metric,
					"deployment_id": key.deploymentID,
				}).Info("Alert cleared")
			}
		}
		return
	}

	state.clearSince = nil

	if state.firing {
		// dedup while firing; only a severity escalation re-emits
		if severityRank(severity) > severityRank(state.firingSeverity) {
			state.firingSeverity = severity
			e.emit(ctx, key, state, severity, value)
		}
		return
	}

	bypass := policy.BypassHysteresis && severity == models.SeverityCritical
	if !bypass {
		if state.breachSince == nil {
			t := now
			state.breachSince = &t
			return
		}
		if now.Sub(*state.breachSince) < policy.For {
			return
		}
	}

	state.firing = true
	state.firingSeverity = severity
	state.breachSince = nil
	e.alertsFiring.Inc()
	e.emit(ctx, key, state, severity, value)
}

// emit appends the event to the alert log, hands it to the notifier queue,
// and publishes it to subscribers. Evaluation never blocks on delivery.
func (e *Engine) emit(ctx context.Context, key windowKey, state *windowState, severity models.AlertSeverity, value float64) {
	start, end := state.window.bounds()
	event := &models.AlertEvent{
		ID:              uuid.New().String(),
		AlertName:       key.metric,
		ModelName:       e.modelByID[key.deploymentID],
		MetricName:      key.metric,
		Severity:        severity,
		WindowStart:     start,
		WindowEnd:       end,
		TriggeringValue: value,
		DeploymentID:    key.deploymentID,
		EmittedAt:       time.Now().UTC(),
	}

	if event.ModelName == "" {
		if record, err := e.store.GetDeployment(ctx, key.deploymentID); err == nil {
			event.ModelName = record.ModelName
			e.modelByID[key.deploymentID] = record.ModelName
		}
	}

	if err := e.store.AppendAlert(ctx, event); err != nil {
		e.logger.WithError(err).Error("Failed to append alert event")
	}

	select {
	case e.notifyCh <- event:
	default:
		e.logger.WithField("alert_name", event.AlertName).Warn("Notification queue full, dropping handoff")
	}

	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
			e.logger.WithField("alert_name", event.AlertName).Warn("Alert subscriber behind, dropping event")
		}
	}

	e.logger.WithFields(logrus.Fields{
		"alert_name":    event.AlertName,
		"severity":      event.Severity,
		"deployment_id": event.DeploymentID,
		"value":         event.TriggeringValue,
	}).Warn("Alert firing")
}

func (e *Engine) notifyLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case event := <-e.notifyCh:
			if e.notifier == nil {
				continue
			}
			if err := e.notifier.Send(ctx, event); err != nil {
				e.logger.WithError(err).WithField("notifier", e.notifier.Name()).
					Warn("Alert notification failed")
			}
		}
	}
}

func severityRank(s models.AlertSeverity) int {
	switch s {
	case models.SeverityCritical:
		return 2
	case models.SeverityWarning:
		return 1
	default:
		return 0
	}
}
