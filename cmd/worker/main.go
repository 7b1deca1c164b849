package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type WorkerConfig struct {
	WorkerID      string
	ServerURL     string
	Models        []string
	Concurrency   int
	PollInterval  time.Duration
	TrainDuration time.Duration
	LogLevel      string
	LogFormat     string
}

func main() {
	config := parseFlags()

	logger := setupLogger(config.LogLevel, config.LogFormat)

	logger.WithFields(logrus.Fields{
		"workerID":    config.WorkerID,
		"concurrency": config.Concurrency,
		"serverURL":   config.ServerURL,
		"models":      config.Models,
	}).Info("Starting training worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	scheduler := NewScheduler(config, logger)
	processor := NewJobProcessor(config, scheduler.Jobs(), logger)

	go scheduler.Start(ctx)
	go processor.Start(ctx)

	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()

	processor.Wait()
	logger.Info("Worker stopped")
}

func parseFlags() *WorkerConfig {
	config := &WorkerConfig{}
	var modelList string

	flag.StringVar(&config.WorkerID, "worker-id", "", "Worker identifier (defaults to a random id)")
	flag.StringVar(&config.ServerURL, "server-url", "http://localhost:8080", "Control-plane server URL")
	flag.StringVar(&modelList, "models", "", "Comma-separated model names to watch (required)")
	flag.IntVar(&config.Concurrency, "concurrency", 2, "Concurrent training jobs")
	flag.DurationVar(&config.PollInterval, "poll-interval", 15*time.Second, "Retrain request poll interval")
	flag.DurationVar(&config.TrainDuration, "train-duration", 30*time.Second, "Simulated training duration")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&config.LogFormat, "log-format", "json", "Log format (json, text)")
	flag.Parse()

	if config.WorkerID == "" {
		config.WorkerID = "worker-" + uuid.New().String()[:8]
	}
	if modelList == "" {
		fmt.Fprintln(os.Stderr, "Error: --models is required")
		os.Exit(1)
	}
	for _, name := range strings.Split(modelList, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			config.Models = append(config.Models, name)
		}
	}

	return config
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
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
