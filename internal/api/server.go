// Package api serves the JSON endpoints for triggering backups and reading
// job status.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/jorgepascosoto/vaultdb/internal/job"
	"github.com/jorgepascosoto/vaultdb/internal/metrics"
)

// Enqueuer accepts a backup request for a settings record.
// *dispatch.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, settingsID string) (string, error)
}

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	enqueuer Enqueuer
	tracker  *job.Tracker
	metrics  *metrics.Metrics
	checks   map[string]Check
}

func NewServer(logger zerolog.Logger, enqueuer Enqueuer, tracker *job.Tracker, m *metrics.Metrics, checks map[string]Check) *Server {
	if m == nil {
		m = metrics.New(nil)
	}

	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger.With().Str("component", "api").Logger(),
		enqueuer: enqueuer,
		tracker:  tracker,
		metrics:  m,
		checks:   checks,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(Metrics(s.metrics))
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/settings/{id}/backups", s.handleTrigger)
		r.Get("/settings/{id}/backups/latest", s.handleLatest)

		r.Get("/backups", s.handleList)
		r.Get("/backups/stats", s.handleStats)
		r.Get("/backups/{id}", s.handleGet)
		r.Delete("/backups/{id}", s.handleDelete)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	results := map[string]string{}
	healthy := true

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
		} else {
			results[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(results)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
