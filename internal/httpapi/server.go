// Package httpapi serves the filecorr engine over HTTP with a chi router.
//
// Routes:
//
//	POST /api/compare          multipart upload, ranked against the corpus
//	GET  /api/file/{sha256}    stored record with similar files
//	POST /api/reload           re-read the corpus from storage
//	GET  /api/health           corpus counters
//	GET  /metrics              Prometheus metrics
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Timeouts configures the HTTP server
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// Server is the HTTP server with graceful shutdown
type Server struct {
	httpServer *http.Server
	shutdown   time.Duration
	logger     *slog.Logger
}

// NewRouter mounts every route and middleware on a chi router
func NewRouter(api *API, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(RequestID)
	router.Use(RequestLogger(logger))
	router.Use(Metrics)
	router.Use(middleware.Recoverer)

	router.Route("/api", func(r chi.Router) {
		r.Post("/compare", api.Compare)
		r.Get("/file/{sha256}", api.File)
		r.Post("/reload", api.Reload)
		r.Get("/health", api.Health)
	})
	router.Handle("/metrics", promhttp.Handler())

	return router
}

// NewServer creates a server for handler on addr
func NewServer(addr string, handler http.Handler, timeouts Timeouts, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  timeouts.Read,
			WriteTimeout: timeouts.Write,
			IdleTimeout:  timeouts.Idle,
		},
		shutdown: timeouts.Shutdown,
		logger:   logger.With("component", "http"),
	}
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server started", "addr", ln.Addr().String())
		err := s.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
