// Package api exposes the extraction pipeline and record store over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/esg-extract/internal/health"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/monitoring"
	"github.com/sells-group/esg-extract/internal/pipeline"
)

// UserHeader carries the caller identity set by the auth layer in front of
// this service. The value is opaque.
const UserHeader = "X-User-ID"

// Runner runs one upload through the pipeline.
type Runner interface {
	Run(ctx context.Context, up pipeline.Upload) (*pipeline.Outcome, error)
}

// HealthChecker reports AI service health.
type HealthChecker interface {
	Check(ctx context.Context) health.Status
}

// StatsCollector summarizes the run log.
type StatsCollector interface {
	Collect(ctx context.Context, lookbackHours int, userID string) (*monitoring.MetricsSnapshot, error)
}

// RecordStore is the record half of the store.
type RecordStore interface {
	UpsertRecord(ctx context.Context, rec *model.Record) error
	MergeRecord(ctx context.Context, rec model.Record) (*model.Record, error)
	GetRecord(ctx context.Context, userID string, year int) (*model.Record, error)
	ListRecords(ctx context.Context, userID string) ([]model.Record, error)
	DeleteRecord(ctx context.Context, userID string, year int) error
}

// Config holds HTTP policy.
type Config struct {
	AllowedOrigins []string
	MaxUploadBytes int64
	UploadRPS      float64
	UploadBurst    int
	RequestTimeout time.Duration
	StatsHours     int
}

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	cfg     Config
	runner  Runner
	records RecordStore
	health  HealthChecker
	stats   StatsCollector
	limiter *userLimiter
}

// New creates a Server. health and stats may be nil; their routes then
// report 503.
func New(cfg Config, runner Runner, records RecordStore, hc HealthChecker, stats StatsCollector) *Server {
	if cfg.StatsHours <= 0 {
		cfg.StatsHours = 24
	}
	return &Server{
		cfg:     cfg,
		runner:  runner,
		records: records,
		health:  hc,
		stats:   stats,
		limiter: newUserLimiter(cfg.UploadRPS, cfg.UploadBurst),
	}
}

// Routes returns the router with middleware mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", UserHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/ai", s.handleAIHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireUser)
		r.With(s.limiter.middleware).Post("/extractions", s.handleExtract)
		r.Get("/records", s.handleListRecords)
		r.Get("/records/{year}", s.handleGetRecord)
		r.Put("/records/{year}", s.handlePutRecord)
		r.Delete("/records/{year}", s.handleDeleteRecord)
		r.Get("/stats", s.handleStats)
	})

	return r
}
