package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Staysteady/ml-market-maker/internal/artifact"
	"github.com/Staysteady/ml-market-maker/internal/deployment"
	"github.com/Staysteady/ml-market-maker/internal/feedback"
	"github.com/Staysteady/ml-market-maker/internal/monitoring"
	"github.com/Staysteady/ml-market-maker/internal/monitoring/sink"
	"github.com/Staysteady/ml-market-maker/internal/registry"
	"github.com/Staysteady/ml-market-maker/internal/retrain"
	"github.com/Staysteady/ml-market-maker/internal/server"
	"github.com/Staysteady/ml-market-maker/internal/storage"
	"github.com/Staysteady/ml-market-maker/internal/storage/file"
	"github.com/Staysteady/ml-market-maker/internal/storage/memory"
	"github.com/Staysteady/ml-market-maker/internal/storage/postgres"
	"github.com/Staysteady/ml-market-maker/internal/storage/redis"
)

func main() {
	config := ParseFlags()

	logger := setupLogger(config.LogLevel, config.LogFormat)

	logger.WithFields(logrus.Fields{
		"version":   Version,
		"commit":    GitCommit,
		"buildDate": BuildDate,
	}).Info("Starting model deployment control plane")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := buildStore(config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build storage backend")
	}
	if err := store.Connect(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to connect storage backend")
	}
	defer store.Close()

	artifacts, err := buildArtifactStore(config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build artifact store")
	}

	var cache deployment.ActiveCache
	if config.RedisAddr != "" {
		redisCache, err := redis.NewActiveCache(&redis.CacheConfig{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to build Redis cache")
		}
		if err := redisCache.Connect(ctx); err != nil {
			logger.WithError(err).Warn("Redis unavailable, running without active-pointer cache")
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	}

	reg := registry.NewRegistry(&registry.Config{MaxVersions: config.MaxVersions}, store, artifacts, logger)
	controller := deployment.NewController(nil, store, reg, artifacts, cache, logger)

	engine := monitoring.NewEngine(nil, store, logger)
	engine.SetNotifier(monitoring.NewLogNotifier(logger))
	if config.InfluxURL != "" {
		influx, err := sink.NewInfluxSink(&sink.Config{
			URL:          config.InfluxURL,
			Token:        config.InfluxToken,
			Organization: config.InfluxOrg,
			Bucket:       config.InfluxBucket,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to build InfluxDB sink")
		}
		defer influx.Close()
		engine.SetSink(influx)
	}
	engine.AttachController(controller.Subscribe())
	engine.Start(ctx)
	defer engine.Stop()

	trigger := retrain.NewTrigger(&retrain.Config{
		WarningThreshold: 3,
		WarningWindow:    retrain.DefaultConfig().WarningWindow,
		AutoDispatch:     config.AutoDispatch,
	}, store, reg, controller, nil, logger)
	trigger.Start(ctx, engine.Subscribe())
	defer trigger.Stop()

	collector := feedback.NewCollector(nil, engine, logger)

	handlers := server.NewHandlers(reg, controller, engine, trigger, collector, store, artifacts, server.BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildDate,
	}, logger)

	srv, err := server.NewServer(&server.Config{
		Host:            config.Host,
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		ReadTimeout:     server.DefaultConfig().ReadTimeout,
		WriteTimeout:    server.DefaultConfig().WriteTimeout,
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		ShutdownTimeout: server.DefaultConfig().ShutdownTimeout,
		EnableMetrics:   true,
		EnableCORS:      true,
		MaxRequestSize:  server.DefaultConfig().MaxRequestSize,
		TLSCertFile:     tlsFile(config.EnableTLS, config.TLSCert),
		TLSKeyFile:      tlsFile(config.EnableTLS, config.TLSKey),
	}, handlers, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build HTTP server")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server exited")
		}
	}

	if err := srv.Stop(context.Background()); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	logger.Info("Server stopped")
}

func buildStore(config *Config, logger *logrus.Logger) (storage.Store, error) {
	switch config.StorageBackend {
	case "memory":
		return memory.NewMemoryStore(logger), nil
	case "file":
		return file.NewFileStore(&file.FileStoreConfig{
			BasePath:   config.DataDir,
			CreateDirs: true,
			SyncWrites: true,
		}, logger)
	case "postgres":
		return postgres.NewPostgresStore(&postgres.PostgresConfig{
			Host:     config.PostgresHost,
			Port:     config.PostgresPort,
			Database: config.PostgresDB,
			Username: config.PostgresUser,
			Password: config.PostgresPassword,
			SSLMode:  config.PostgresSSLMode,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.StorageBackend)
	}
}

func buildArtifactStore(config *Config, logger *logrus.Logger) (artifact.Store, error) {
	switch config.ArtifactBackend {
	case "local":
		return artifact.NewLocalStore(&artifact.LocalStoreConfig{
			BasePath:   config.ArtifactDir,
			CreateDirs: true,
		}, logger)
	case "s3":
		return artifact.NewS3Store(&artifact.S3StoreConfig{
			Region: config.S3Region,
			Bucket: config.S3Bucket,
			Prefix: config.S3Prefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", config.ArtifactBackend)
	}
}

func tlsFile(enabled bool, path string) string {
	if !enabled {
		return ""
	}
	return path
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
