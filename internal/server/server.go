// Package server exposes the bot's read-only status API, Prometheus metrics
// and a WebSocket stream of execution events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stratoarb/internal/server/handler"
	"github.com/alanyoungcy/stratoarb/internal/server/middleware"
	"github.com/alanyoungcy/stratoarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORSOrigins    []string
	APIKey         string // empty disables authentication
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handlers aggregates the route handlers. Executions may be nil.
type Handlers struct {
	Health     *handler.HealthHandler
	Pairs      *handler.PairsHandler
	Profit     *handler.ProfitHandler
	Executions *handler.ExecutionsHandler
	Metrics    http.Handler
}

// Server is the HTTP and WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and the middleware chain. wsHub may be nil.
func NewServer(cfg Config, h Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/pairs", h.Pairs.ListPairs)
	mux.HandleFunc("GET /api/pairs/{pair...}", h.Pairs.GetPair)
	mux.HandleFunc("GET /api/profit", h.Profit.GetProfit)
	if h.Executions != nil {
		mux.HandleFunc("GET /api/executions", h.Executions.ListRecent)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	logger = logger.With(slog.String("component", "server"))
	var root http.Handler = mux
	root = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(root)
	root = middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)(root)
	root = middleware.Logging(logger, "/metrics", "/api/health")(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
