package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server provides an HTTP server for serving Prometheus metrics and probes
type Server struct {
	server   *http.Server
	logger   *zap.Logger
	registry *Registry
}

// ServerConfig holds configuration for the metrics server
type ServerConfig struct {
	Port    int           `env:"METRICS_PORT" envDefault:"9090"`
	Timeout time.Duration `env:"METRICS_TIMEOUT" envDefault:"30s"`
}

// ReadyFunc reports whether the process can serve subscribers.
type ReadyFunc func() error

// NewServer creates a new metrics server instance. ready may be nil, in which
// case the process is always reported ready.
func NewServer(config ServerConfig, registry *Registry, ready ReadyFunc, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, "not ready")
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready")
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		IdleTimeout:  config.Timeout * 2,
	}

	return &Server{
		server:   server,
		logger:   logger.Named("metrics-server"),
		registry: registry,
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status":%q,"service":"ssebot-metrics"}`, status)
}

// Handler exposes the server mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting metrics server", zap.String("addr", s.server.Addr))

	errCh := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server failed: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Stop(context.WithoutCancel(ctx))
	}
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping metrics server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to gracefully shutdown metrics server", zap.Error(err))
		return err
	}

	s.logger.Info("metrics server stopped")
	return nil
}

// Addr returns the server address
func (s *Server) Addr() string {
	return s.server.Addr
}
