// Package server hosts the HTTP API: account-facing order endpoints and the
// operator control plane for the scheduling loop.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quayside-labs/swapsentinel/internal/config"
	"github.com/quayside-labs/swapsentinel/internal/server/handler"
	"github.com/quayside-labs/swapsentinel/internal/server/middleware"
)

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Orders  *handler.OrderHandler
	Monitor *handler.MonitorHandler
	Audit   *handler.AuditHandler
}

// Server is the HTTP API server for the swap sentinel.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux
// and the middleware chain (logging, CORS) applied.
func NewServer(cfg config.ServerConfig, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Order endpoints.
	mux.HandleFunc("POST /api/orders", handlers.Orders.CreateOrder)
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("PATCH /api/orders/{id}", handlers.Orders.AdjustOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)

	// Monitor control plane.
	mux.HandleFunc("GET /api/monitor/status", handlers.Monitor.GetStatus)
	mux.HandleFunc("POST /api/monitor/start", handlers.Monitor.Start)
	mux.HandleFunc("POST /api/monitor/stop", handlers.Monitor.Stop)
	mux.HandleFunc("POST /api/monitor/tick", handlers.Monitor.ForceTick)
	mux.HandleFunc("POST /api/monitor/simulate", handlers.Monitor.Simulate)
	mux.HandleFunc("GET /api/monitor/config", handlers.Monitor.GetConfig)
	mux.HandleFunc("PATCH /api/monitor/config", handlers.Monitor.UpdateConfig)

	// Audit log.
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.List)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
