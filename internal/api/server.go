package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/waabox/dockworker/internal/dispatch"
	"github.com/waabox/dockworker/internal/domain"
	"github.com/waabox/dockworker/internal/jobs"
	"github.com/waabox/dockworker/internal/metrics"
	"github.com/waabox/dockworker/internal/service"
)

// Forker is the service surface the API exposes.
type Forker interface {
	Fork(ctx context.Context, req service.ForkRequest, progress func(dispatch.Progress)) (service.ForkResult, error)
	StartFork(ctx context.Context, req service.ForkRequest) (jobs.Job, <-chan service.ForkResult, error)
	ListWorkflows(ctx context.Context) (domain.WorkflowList, error)
	ListRuns(ctx context.Context, workflowID int64, filter domain.RunFilter) (domain.RunList, error)
	Jobs(ctx context.Context, limit int) ([]jobs.Job, error)
	Job(ctx context.Context, id int64) (jobs.Job, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// WriteTimeout must cover a synchronous fork; zero means 35 minutes.
	WriteTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	forker    Forker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. m may be nil to disable /metrics.
func New(config Config, forker Forker, m *metrics.Metrics, logger *slog.Logger) *Server {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 35 * time.Minute
	}
	return &Server{
		config:    config,
		forker:    forker,
		metrics:   m,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the traced router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.setupRoutes(), "dockworker-api")
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/healthz", s.handleHealthz)
	r.Post("/trigger", s.handleTrigger)
	r.Get("/workflows", s.handleListWorkflows)
	r.Get("/workflow/{workflowID}/runs", s.handleListRuns)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{jobID}", s.handleGetJob)

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
