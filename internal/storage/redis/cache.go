package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/pkg/errors"
	"github.com/Staysteady/ml-market-maker/pkg/models"
)

// CacheConfig holds configuration for the Redis active-pointer cache
type CacheConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	Password     string        `json:"password" yaml:"password"`
	DB           int           `json:"db" yaml:"db"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	TTL          time.Duration `json:"ttl" yaml:"ttl"`
	KeyPrefix    string        `json:"key_prefix" yaml:"key_prefix"`
}

// ActiveCache is a best-effort read-through cache for per-model active
// deployment lookups. The durable store stays authoritative: cache misses
// and cache errors fall back to the store, and the deployment controller
// invalidates entries inside its per-model critical section.
type ActiveCache struct {
	config *CacheConfig
	client *redis.Client
	logger *logrus.Logger
}

// NewActiveCache creates a new Redis-backed active-pointer cache
func NewActiveCache(config *CacheConfig, logger *logrus.Logger) (*ActiveCache, error) {
	if config == nil {
		return nil, errors.NewStorageError("INVALID_CONFIG", "Redis cache config cannot be nil")
	}
	if config.Addr == "" {
		return nil, errors.NewStorageError("INVALID_CONFIG", "Redis address is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	if config.TTL == 0 {
		config.TTL = 30 * time.Second
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "mlmm"
	}

	return &ActiveCache{config: config, logger: logger}, nil
}

// Connect establishes the Redis connection
func (c *ActiveCache) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	c.client = redis.NewClient(&redis.Options{
		Addr:         c.config.Addr,
		Password:     c.config.Password,
		DB:           c.config.DB,
		DialTimeout:  c.config.DialTimeout,
		ReadTimeout:  c.config.ReadTimeout,
		WriteTimeout: c.config.WriteTimeout,
		PoolSize:     c.config.PoolSize,
	})

	if err := c.client.Ping(ctx).Err(); err != nil {
		c.client = nil
		return errors.WrapError(err, errors.ErrorTypeStorage, "CONNECTION_FAILED", "Failed to connect to Redis")
	}

	c.logger.WithField("addr", c.config.Addr).Info("Connected to Redis active cache")
	return nil
}

// Close closes the Redis connection
func (c *ActiveCache) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// GetActive returns the cached active record for a model, if present. A
// (nil, false) result means cache miss or cache unavailable, never an error.
func (c *ActiveCache) GetActive(ctx context.Context, modelName string) (*models.DeploymentRecord, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, c.key(modelName)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Debug("Active cache read failed")
		}
		return nil, false
	}

	var record models.DeploymentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		c.logger.WithError(err).Warn("Active cache entry corrupt, dropping")
		c.client.Del(ctx, c.key(modelName))
		return nil, false
	}
	return &record, true
}

// SetActive caches the active record for a model
func (c *ActiveCache) SetActive(ctx context.Context, modelName string, record *models.DeploymentRecord) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(modelName), data, c.config.TTL).Err(); err != nil {
		c.logger.WithError(err).Debug("Active cache write failed")
	}
}

// Invalidate drops the cached entry for a model
func (c *ActiveCache) Invalidate(ctx context.Context, modelName string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.key(modelName)).Err(); err != nil {
		c.logger.WithError(err).Debug("Active cache invalidation failed")
	}
}

func (c *ActiveCache) key(modelName string) string {
	return c.config.KeyPrefix + ":active:" + modelName
}
