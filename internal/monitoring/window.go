package monitoring

import (
	"time"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// Aggregation selects how a window is reduced to a single value
type Aggregation string

const (
	// AggMean averages the window (latency, throughput)
	AggMean Aggregation = "mean"
	// AggRatio treats samples as 0/1 outcomes and returns the failure ratio
	AggRatio Aggregation = "ratio"
	// AggLast returns the most recent value (accuracy, drift scores)
	AggLast Aggregation = "last"
)

// slidingWindow holds the samples for one (deployment_id, metric_name) pair
// within the metric's retention. Samples arrive in timestamp order from the
// evaluator goroutine; no locking is needed here.
type slidingWindow struct {
	retention time.Duration
	samples   []models.MetricSample
}

func newSlidingWindow(retention time.Duration) *slidingWindow {
	return &slidingWindow{retention: retention}
}

// add inserts a sample and evicts everything older than the retention,
// measured against the newest timestamp seen.
func (w *slidingWindow) add(sample models.MetricSample) {
	w.samples = append(w.samples, sample)

	cutoff := sample.Timestamp.Add(-w.retention)
	firstLive := 0
	for firstLive < len(w.samples) && w.samples[firstLive].Timestamp.Before(cutoff) {
		firstLive++
	}
	if firstLive > 0 {
		w.samples = append(w.samples[:0], w.samples[firstLive:]...)
	}
}

// aggregate reduces the window; ok is false when the window is empty
func (w *slidingWindow) aggregate(agg Aggregation) (float64, bool) {
	if len(w.samples) == 0 {
		return 0, false
	}

	switch agg {
	case AggLast:
		return w.samples[len(w.samples)-1].Value, true
	default:
		// mean and ratio reduce identically; ratio inputs are 0/1 outcomes
		var sum float64
		for _, s := range w.samples {
			sum += s.Value
		}
		return sum / float64(len(w.samples)), true
	}
}

// bounds returns the window's time span
func (w *slidingWindow) bounds() (start, end time.Time) {
	if len(w.samples) == 0 {
		return time.Time{}, time.Time{}
	}
	return w.samples[0].Timestamp, w.samples[len(w.samples)-1].Timestamp
}

func (w *slidingWindow) size() int { return len(w.samples) }
