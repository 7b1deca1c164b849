package feedback

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

type captureIngestor struct {
	samples []models.MetricSample
}

func (c *captureIngestor) Ingest(sample models.MetricSample) error {
	c.samples = append(c.samples, sample)
	return nil
}

func adjustment(id int64, predicted, adjusted float64, at time.Time) Adjustment {
	return Adjustment{
		ModelName:      "m",
		DeploymentID:   id,
		PredictedValue: predicted,
		AdjustedValue:  adjusted,
		Timestamp:      at,
	}
}

func TestRecordValidation(t *testing.T) {
	collector := NewCollector(nil, &captureIngestor{}, nil)
	ctx := context.Background()

	err := collector.Record(ctx, adjustment(0, 1, 1, time.Now()))
	require.Error(t, err)

	err = collector.Record(ctx, adjustment(1, math.NaN(), 1, time.Now()))
	require.Error(t, err)

	require.NoError(t, collector.Record(ctx, adjustment(1, 1, 1, time.Now())))
	assert.Equal(t, int64(1), collector.TotalRecorded(1))
}

func TestNoDriftSampleBelowMinSamples(t *testing.T) {
	sink := &captureIngestor{}
	collector := NewCollector(&Config{MinSamples: 5, Window: time.Hour, Tolerance: 0.05}, sink, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		require.NoError(t, collector.Record(ctx, adjustment(1, 100, 200, now.Add(time.Duration(i)*time.Second))))
	}

	assert.Empty(t, sink.samples)
}

func TestDivergenceRateEmittedAsDriftSample(t *testing.T) {
	sink := &captureIngestor{}
	collector := NewCollector(&Config{MinSamples: 4, Window: time.Hour, Tolerance: 0.05}, sink, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	// two within tolerance, two divergent
	require.NoError(t, collector.Record(ctx, adjustment(7, 100, 101, now)))
	require.NoError(t, collector.Record(ctx, adjustment(7, 100, 102, now.Add(time.Second))))
	require.NoError(t, collector.Record(ctx, adjustment(7, 100, 150, now.Add(2*time.Second))))
	require.NoError(t, collector.Record(ctx, adjustment(7, 100, 50, now.Add(3*time.Second))))

	require.Len(t, sink.samples, 1)
	sample := sink.samples[0]
	assert.Equal(t, models.MetricModelDrift, sample.MetricName)
	assert.Equal(t, int64(7), sample.DeploymentID)
	assert.InDelta(t, 0.5, sample.Value, 1e-9)
	assert.Equal(t, now.Add(3*time.Second), sample.Timestamp)
}

func TestZeroPredictionCountsDivergentOnlyWhenAdjusted(t *testing.T) {
	sink := &captureIngestor{}
	collector := NewCollector(&Config{MinSamples: 2, Window: time.Hour, Tolerance: 0.05}, sink, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, collector.Record(ctx, adjustment(1, 0, 0, now)))
	require.NoError(t, collector.Record(ctx, adjustment(1, 0, 3, now.Add(time.Second))))

	require.Len(t, sink.samples, 1)
	assert.InDelta(t, 0.5, sink.samples[0].Value, 1e-9)
}

func TestOldAdjustmentsLeaveTheWindow(t *testing.T) {
	sink := &captureIngestor{}
	collector := NewCollector(&Config{MinSamples: 3, Window: 10 * time.Minute, Tolerance: 0.05}, sink, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	// all divergent, but the first falls out of the window before the
	// third arrives
	require.NoError(t, collector.Record(ctx, adjustment(1, 100, 200, now.Add(-15*time.Minute))))
	require.NoError(t, collector.Record(ctx, adjustment(1, 100, 200, now.Add(-time.Minute))))
	require.NoError(t, collector.Record(ctx, adjustment(1, 100, 200, now)))

	assert.Empty(t, sink.samples, "window pruning must keep the count below the minimum")
	assert.Equal(t, int64(3), collector.TotalRecorded(1))
}

func TestDeploymentsTrackedIndependently(t *testing.T) {
	sink := &captureIngestor{}
	collector := NewCollector(&Config{MinSamples: 2, Window: time.Hour, Tolerance: 0.05}, sink, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, collector.Record(ctx, adjustment(1, 100, 200, now)))
	require.NoError(t, collector.Record(ctx, adjustment(2, 100, 200, now)))
	assert.Empty(t, sink.samples)

	require.NoError(t, collector.Record(ctx, adjustment(1, 100, 200, now.Add(time.Second))))
	require.Len(t, sink.samples, 1)
	assert.Equal(t, int64(1), sink.samples[0].DeploymentID)
}
