package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Sensor metrics
	SensorEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pedometer_sensor_events_total",
			Help: "Step-counter events processed, by reconcile outcome",
		},
		[]string{"outcome"},
	)

	StepsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pedometer_steps_recorded_total",
			Help: "Total steps added to hourly buckets",
		},
	)

	Buckets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pedometer_buckets",
			Help: "Number of hourly buckets in the persisted state",
		},
	)

	// Storage metrics
	StateDecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pedometer_state_decode_errors_total",
			Help: "Persisted states that failed to decode and were treated as empty",
		},
	)

	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pedometer_storage_errors_total",
			Help: "Preference store read and write failures",
		},
		[]string{"op"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pedometer_query_duration_seconds",
			Help:    "Step query duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"kind"},
	)

	RangeCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pedometer_range_cache_hits_total",
			Help: "Range query cache hits",
		},
	)

	RangeCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pedometer_range_cache_misses_total",
			Help: "Range query cache misses",
		},
	)

	// Permission metrics
	PermissionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pedometer_permission_requests_total",
			Help: "Permission requests, by result",
		},
		[]string{"result"},
	)

	// Background metrics
	BackgroundRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pedometer_background_runs_total",
			Help: "Background work runs, by work name and result",
		},
		[]string{"work", "result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pedometer_api_requests_total",
			Help: "Query API requests, by route and status code",
		},
		[]string{"route", "code"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SensorEventsTotal,
		StepsRecorded,
		Buckets,
		StateDecodeErrors,
		StorageErrors,
		QueryDuration,
		RangeCacheHits,
		RangeCacheMisses,
		PermissionRequests,
		BackgroundRuns,
		APIRequestsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: Handler(),
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler serves /metrics and /health
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
