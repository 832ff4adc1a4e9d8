// Package api serves step queries and tracking controls over HTTP.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/pedometer/internal/pedometer"
	"github.com/goodtune/pedometer/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Pedometer is the part of the pedometer the API exposes.
type Pedometer interface {
	GetSteps(ctx context.Context, startMillis, endMillis int64) ([]storage.StepBucket, error)
	GetDailySteps(ctx context.Context) ([]storage.StepBucket, error)
	TrackSteps(l pedometer.Listener) (cancel func())
	IsGranted(ctx context.Context) bool
	RequestPermission(ctx context.Context) (bool, error)
	StartStepsTracking(ctx context.Context) error
	StartBackgroundTracking(ctx context.Context, n pedometer.Notification) error
	StopBackgroundTracking(ctx context.Context) error
}

// Config holds the API server configuration.
type Config struct {
	ListenAddr string
}

// Server is the query API HTTP server.
type Server struct {
	config    Config
	pedometer Pedometer
	router    *mux.Router
	server    *http.Server
	listener  net.Listener // Optional pre-created listener (for systemd socket activation)
	logger    zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, p Pedometer, logger zerolog.Logger) *Server {
	s := &Server{
		config:    cfg,
		pedometer: p,
		router:    mux.NewRouter(),
		logger:    logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	// WriteTimeout stays zero so the step stream can stay open.
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/steps", s.handleSteps).Methods("GET")
	v1.HandleFunc("/steps/today", s.handleToday).Methods("GET")
	v1.HandleFunc("/steps/stream", s.handleStream).Methods("GET")
	v1.HandleFunc("/permission", s.handlePermission).Methods("GET")
	v1.HandleFunc("/permission", s.handleRequestPermission).Methods("POST")
	v1.HandleFunc("/tracking", s.handleStartTracking).Methods("POST")
	v1.HandleFunc("/background", s.handleStartBackground).Methods("PUT")
	v1.HandleFunc("/background", s.handleStopBackground).Methods("DELETE")
}

// Handler returns the API's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}
