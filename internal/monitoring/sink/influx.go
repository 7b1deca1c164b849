package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// Config configures the InfluxDB metric archive
type Config struct {
	URL          string        `json:"url" yaml:"url"`
	Token        string        `json:"token" yaml:"token"`
	Organization string        `json:"organization" yaml:"organization"`
	Bucket       string        `json:"bucket" yaml:"bucket"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
}

// InfluxSink archives accepted metric samples to InfluxDB so historical
// model behavior outlives the in-memory evaluation windows.
type InfluxSink struct {
	config   *Config
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	logger   *logrus.Logger
}

// NewInfluxSink creates a new InfluxDB sink
func NewInfluxSink(config *Config, logger *logrus.Logger) (*InfluxSink, error) {
	if config == nil {
		return nil, errors.NewValidationError("INVALID_CONFIG", "InfluxDB config cannot be nil")
	}
	if config.URL == "" {
		return nil, errors.NewValidationError("INVALID_CONFIG", "InfluxDB URL is required")
	}
	if config.Bucket == "" {
		return nil, errors.NewValidationError("INVALID_CONFIG", "InfluxDB bucket is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	client := influxdb2.NewClient(config.URL, config.Token)

	return &InfluxSink{
		config:   config,
		client:   client,
		writeAPI: client.WriteAPIBlocking(config.Organization, config.Bucket),
		queryAPI: client.QueryAPI(config.Organization),
		logger:   logger,
	}, nil
}

// Ping verifies connectivity to InfluxDB
func (s *InfluxSink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "INFLUX_PING_FAILED", "failed to ping InfluxDB")
	}
	if !ok {
		return errors.NewStorageError("INFLUX_PING_FAILED", "InfluxDB ping returned not ready")
	}
	return nil
}

// WriteSample archives one metric sample
func (s *InfluxSink) WriteSample(ctx context.Context, sample models.MetricSample) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	point := influxdb2.NewPoint(
		sample.MetricName,
		map[string]string{
			"deployment_id": strconv.FormatInt(sample.DeploymentID, 10),
		},
		map[string]interface{}{
			"value": sample.Value,
		},
		sample.Timestamp,
	)

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "INFLUX_WRITE_FAILED", "failed to write metric sample")
	}
	return nil
}

// QueryRange reads back archived samples for one metric and deployment
func (s *InfluxSink) QueryRange(ctx context.Context, metricName string, deploymentID int64, start, end time.Time) ([]models.MetricSample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> filter(fn: (r) => r.deployment_id == %q)
  |> filter(fn: (r) => r._field == "value")`,
		s.config.Bucket,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		metricName,
		strconv.FormatInt(deploymentID, 10),
	)

	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "INFLUX_QUERY_FAILED", "failed to query metric samples")
	}
	defer result.Close()

	var samples []models.MetricSample
	for result.Next() {
		record := result.Record()
		value, ok := record.Value().(float64)
		if !ok {
			continue
		}
		samples = append(samples, models.MetricSample{
			MetricName:   metricName,
			Value:        value,
			Timestamp:    record.Time(),
			DeploymentID: deploymentID,
		})
	}
	if result.Err() != nil {
		return nil, errors.WrapError(result.Err(), errors.ErrorTypeStorage, "INFLUX_QUERY_FAILED", "error reading query result")
	}

	return samples, nil
}

// Close releases the underlying client
func (s *InfluxSink) Close() {
	s.client.Close()
}
