package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	router        *mux.Router
	logger        *logrus.Logger
	config        *Config
	handlers      *Handlers
}

// NewServer creates a new HTTP server instance
func NewServer(config *Config, handlers *Handlers, logger *logrus.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Port <= 0 {
		config.Port = defaults.Port
	}
	if config.MetricsPort <= 0 {
		config.MetricsPort = defaults.MetricsPort
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = defaults.MaxRequestSize
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if handlers == nil {
		return nil, fmt.Errorf("handlers cannot be nil")
	}
	if logger == nil {
		logger = logrus.New()
	}

	server := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		config:   config,
		handlers: handlers,
	}

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	if config.EnableMetrics {
		server.setupMetricsServer()
	}

	return server, nil
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("Starting HTTP server on %s:%d", s.config.Host, s.config.Port)

	if s.config.EnableMetrics && s.metricsServer != nil {
		go func() {
			s.logger.Infof("Starting metrics server on port %d", s.config.MetricsPort)
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Errorf("Metrics server error: %v", err)
			}
		}()
	}

	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		s.logger.Info("Starting HTTPS server")
		return s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	}

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("Error shutting down metrics server: %v", err)
		}
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("Error shutting down HTTP server: %v", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// setupRoutes sets up the HTTP routes
func (s *Server) setupRoutes() {
	apiRouter := s.router.PathPrefix("/api/v1").Subrouter()

	// Health endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/health/ready", s.handlers.Ready).Methods("GET")
	s.router.HandleFunc("/health/live", s.handlers.Live).Methods("GET")

	// Version endpoint
	s.router.HandleFunc("/version", s.handlers.Version).Methods("GET")

	// Model registry endpoints
	apiRouter.HandleFunc("/models/{name}/versions", s.handlers.RegisterVersion).Methods("POST")
	apiRouter.HandleFunc("/models/{name}/versions", s.handlers.ListVersions).Methods("GET")
	apiRouter.HandleFunc("/models/{name}/versions/{version}", s.handlers.GetVersion).Methods("GET")
	apiRouter.HandleFunc("/models/{name}/versions/{version}/tags", s.handlers.UpdateTags).Methods("PUT")
	apiRouter.HandleFunc("/models/{name}/versions/{version}/status", s.handlers.TransitionStatus).Methods("POST")
	apiRouter.HandleFunc("/models/{name}/prune", s.handlers.Prune).Methods("POST")

	// Deployment endpoints
	apiRouter.HandleFunc("/models/{name}/deploy", s.handlers.Deploy).Methods("POST")
	apiRouter.HandleFunc("/models/{name}/rollback", s.handlers.Rollback).Methods("POST")
	apiRouter.HandleFunc("/models/{name}/deployments", s.handlers.DeploymentHistory).Methods("GET")
	apiRouter.HandleFunc("/models/{name}/active", s.handlers.ActiveDeployment).Methods("GET")
	apiRouter.HandleFunc("/models/{name}/status", s.handlers.ModelStatus).Methods("GET")

	// Monitoring endpoints
	apiRouter.HandleFunc("/metrics/samples", s.handlers.IngestSamples).Methods("POST")
	apiRouter.HandleFunc("/deployments/{id}/metrics", s.handlers.MetricSummaries).Methods("GET")
	apiRouter.HandleFunc("/deployments/{id}/alerts", s.handlers.ListAlerts).Methods("GET")

	// Artifact endpoints
	apiRouter.HandleFunc("/artifacts/{ref:.*}", s.handlers.UploadArtifact).Methods("PUT")
	apiRouter.HandleFunc("/artifacts/{ref:.*}", s.handlers.FetchArtifact).Methods("GET")

	// Feedback endpoint
	apiRouter.HandleFunc("/feedback", s.handlers.RecordFeedback).Methods("POST")

	// Retrain endpoints
	apiRouter.HandleFunc("/models/{name}/retrain", s.handlers.ListRetrainRequests).Methods("GET")
	apiRouter.HandleFunc("/retrain/{id}/dispatch", s.handlers.DispatchRetrain).Methods("POST")
	apiRouter.HandleFunc("/retrain/{id}/complete", s.handlers.CompleteRetrain).Methods("POST")
	apiRouter.HandleFunc("/retrain/{id}/reject", s.handlers.RejectRetrain).Methods("POST")

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

// setupMiddleware sets up HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.requestIDMiddleware)

	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	s.router.Use(s.requestSizeLimitMiddleware)
}

// setupMetricsServer sets up the metrics server
func (s *Server) setupMetricsServer() {
	metricsRouter := mux.NewRouter()

	metricsRouter.Handle("/metrics", promhttp.Handler()).Methods("GET")
	metricsRouter.HandleFunc("/health", s.handlers.Health).Methods("GET")

	s.metricsServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.MetricsPort),
		Handler:      metricsRouter,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// GetRouter returns the HTTP router
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
