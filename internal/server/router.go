// Package server exposes batch runs over HTTP: job submission and control,
// the run ledger, XLSX reports and a websocket event stream.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/joseph-ayodele/pdf-watermarker/internal/core"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/async"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
	"github.com/joseph-ayodele/pdf-watermarker/internal/export"
)

// RunFactory builds idle controllers from submitted job configurations.
type RunFactory interface {
	NewRun(cfg entity.JobConfig) (*core.Controller, error)
}

// Ledger is the read side of the run ledger.
type Ledger interface {
	ListRuns(ctx context.Context, limit int) ([]entity.Run, error)
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

type Server struct {
	runs    RunFactory
	queue   async.Queue
	ledger  Ledger // nil when no ledger is configured
	reports *export.Service
	hub     *Hub
	logger  *slog.Logger
}

func New(runs RunFactory, queue async.Queue, ledger Ledger, reports *export.Service, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if reports == nil {
		reports = export.NewService(nil, logger)
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Server{runs: runs, queue: queue, ledger: ledger, reports: reports, hub: hub, logger: logger}
}

// NewRouter creates the HTTP router with all routes configured, wrapped in CORS.
func (s *Server) NewRouter(allowedOrigins []string) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/{action:pause|resume|stop}", s.handleControl).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/report.xlsx", s.handleReport).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
		},
		ExposedHeaders: []string{
			"Content-Disposition",
		},
		MaxAge: 300,
	})

	return c.Handler(router)
}
