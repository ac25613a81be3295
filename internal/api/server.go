package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/espen/blobmigrate/internal/config"
	"github.com/espen/blobmigrate/internal/metrics"
	"github.com/espen/blobmigrate/internal/objstore"
)

// Server timeout constants
const (
	// ReadHeaderTimeout is the amount of time allowed to read request headers.
	// This helps mitigate Slowloris attacks.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	// Requests carry no body, so this only needs to cover the headers.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Set high to allow large blob downloads.
	WriteTimeout = 30 * time.Minute

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout = 120 * time.Second

	// MaxHeaderBytes is the maximum size of request headers.
	MaxHeaderBytes = 1 << 20 // 1 MB

	// ReadyTimeout bounds the object store probe behind /readyz.
	ReadyTimeout = 5 * time.Second
)

// Server serves migrated blobs back over HTTP
type Server struct {
	cfg      *config.Config
	pool     *objstore.Pool
	handlers *Handlers
	mux      *http.ServeMux
	logger   *slog.Logger
	http     *http.Server
}

// NewServer creates a read-back server sharing pool with the caller
func NewServer(cfg *config.Config, pool *objstore.Pool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		pool:     pool,
		handlers: NewHandlers(pool, cfg.Placement.Scheme(), logger),
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
		MaxHeaderBytes:    MaxHeaderBytes,
	}
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.mux.Handle("GET /blobs/{id}", SetOperation(metrics.OpGetBlob)(MetricsMiddleware(http.HandlerFunc(s.handlers.GetBlob))))
	s.mux.Handle("HEAD /blobs/{id}", SetOperation(metrics.OpHeadBlob)(MetricsMiddleware(http.HandlerFunc(s.handlers.HeadBlob))))
}

// Handler returns the HTTP handler including the operational endpoints
func (s *Server) Handler() http.Handler {
	metricsAuth := MetricsBasicAuth(s.cfg.MetricsAuth.Username, s.cfg.MetricsAuth.Password)
	metricsHandler := metricsAuth(promhttp.Handler())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/metrics":
			metricsHandler.ServeHTTP(w, r)
			return
		case "/healthz":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		case "/readyz":
			s.ready(w, r)
			return
		}
		s.mux.ServeHTTP(w, r)
	})
	return RequestIDMiddleware(AccessLogMiddleware(s.logger)(handler))
}

// ready reports whether an authenticated object store connection can be
// obtained, dialing one if the pool is empty.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ReadyTimeout)
	defer cancel()

	err := s.pool.With(ctx, func(objstore.Conn) error { return nil })
	if err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		http.Error(w, "object store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ListenAndServe starts the server with security-hardened timeouts
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting read-back server", "address", s.cfg.Server.Address)
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
