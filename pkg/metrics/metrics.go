// Package metrics exposes Prometheus collectors for the safety and scheduling
// pipeline, plus a small HTTP server for scraping.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// ScanVerdicts tracks safety verdicts by status.
	ScanVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safety_scan_verdicts_total",
			Help: "Total number of safety verdicts by status",
		},
		[]string{"status"},
	)

	// ScanDuration tracks end-to-end EnsureSafe latency.
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safety_scan_duration_seconds",
			Help:    "Latency of full safety evaluations",
			Buckets: prometheus.DefBuckets,
		},
	)

	// FixStages tracks applied auto-fix stages by name.
	FixStages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofix_stages_total",
			Help: "Total number of auto-fix stages applied by name",
		},
		[]string{"stage"},
	)

	// AdmissionDenials tracks denied admission checks by cause.
	AdmissionDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_denials_total",
			Help: "Total number of admission denials by cause",
		},
		[]string{"cause"},
	)

	// ClassifierErrors tracks classifier call failures.
	ClassifierErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_errors_total",
			Help: "Total number of failed classifier calls",
		},
	)

	// TickDuration tracks orchestrator tick latency.
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_tick_duration_seconds",
			Help:    "Latency of orchestrator ticks",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ScheduledPosts tracks publish requests handed to the scheduler.
	ScheduledPosts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_posts_total",
			Help: "Total number of publish requests emitted by profile",
		},
		[]string{"profile"},
	)
)

// Server serves the Prometheus scrape endpoint.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// NewServer creates a metrics server listening on the given port.
func NewServer(port string, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.With(zap.String("module", "metrics")),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
