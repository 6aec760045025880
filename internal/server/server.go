package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pulsegrid/coordinator/internal/config"
	"github.com/pulsegrid/coordinator/internal/handler"
	appmw "github.com/pulsegrid/coordinator/internal/middleware"
)

// Server runs the coordinator HTTP API.
type Server struct {
	cfg    *config.Config
	log    *zap.Logger
	router chi.Router
	http   *http.Server
}

// New creates a new server. Worker-facing endpoints require a worker token
// when any tokens are configured; read endpoints stay open.
func New(cfg *config.Config, log *zap.Logger, deps *Deps) *Server {
	r := chi.NewRouter()

	r.Use(appmw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(appmw.Metrics)
	r.Use(appmw.Logging(log))

	r.Get("/health", handler.Health)
	r.Get("/metrics", deps.Metrics.Snapshot)
	r.Handle("/metrics/prometheus", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if len(cfg.Server.WorkerTokens) > 0 {
			r.Use(appmw.WorkerAuth(cfg.Server.WorkerTokens))
		}
		r.Post("/register", deps.Workers.Register)
		r.Post("/heartbeat", deps.Workers.Heartbeat)
		r.Post("/task-result", deps.Results.SubmitResult)
	})

	r.Get("/workers", deps.Workers.List)
	r.Get("/workers/{workerID}/summary", deps.Results.NodeSummary)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", deps.Tasks.Submit)
		r.Get("/", deps.Tasks.List)
		r.Get("/{taskID}", deps.Tasks.Get)
		r.Post("/{taskID}/cancel", deps.Tasks.Cancel)
	})

	r.Route("/results", func(r chi.Router) {
		r.Get("/summary", deps.Results.Summary)
		r.Get("/metrics", deps.Results.MetricsSummary)
		r.Get("/failed", deps.Results.Failed)
		r.Get("/slow", deps.Results.Slow)
		r.Get("/tasks/{taskID}", deps.Results.TaskSummary)
	})

	r.Route("/schedules", func(r chi.Router) {
		r.Post("/", deps.Schedules.Create)
		r.Get("/", deps.Schedules.List)
		r.Get("/{scheduleID}", deps.Schedules.Get)
		r.Delete("/{scheduleID}", deps.Schedules.Delete)
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	return &Server{
		cfg:    cfg,
		log:    log,
		router: r,
		http: &http.Server{
			Addr:    addr,
			Handler: r,
		},
	}
}

// Router exposes the handler tree, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("starting server", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
