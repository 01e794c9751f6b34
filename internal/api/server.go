package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradingcore/internal/config"
)

// Server runs the read-only ops HTTP surface: liveness, a JSON state
// snapshot, and Prometheus metrics. There is no browser-facing dashboard
// here — spec's Non-goals explicitly exclude a web UI, so the api
// package never serves HTML/JS or pushes state over a socket; operators
// poll /api/snapshot or scrape /metrics instead.
type Server struct {
	cfg      config.DashboardConfig
	provider Provider
	fullCfg  config.Config
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server. metricsReg is scraped at /metrics;
// pass nil to omit the endpoint.
func NewServer(
	cfg config.DashboardConfig,
	provider Provider,
	fullCfg config.Config,
	metricsReg *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	handlers := NewHandlers(provider, fullCfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	if metricsReg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		fullCfg:  fullCfg,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("ops server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping ops server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
