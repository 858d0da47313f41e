// Package server exposes the HTTP control surface of the bot: loop start and
// stop, status, execution history, archives and a WebSocket cycle stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mobelieve/mexc-triarb/internal/domain"
	"github.com/mobelieve/mexc-triarb/internal/server/handler"
	"github.com/mobelieve/mexc-triarb/internal/server/middleware"
	"github.com/mobelieve/mexc-triarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host        string // empty listens on every interface
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Limiter, when set, caps each client at RateLimit requests per
	// RateWindow.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Loop       *handler.LoopHandler
	Executions *handler.ExecutionHandler
	Archives   *handler.ArchiveHandler
	Audit      *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

const healthPath = "/api/health"

// NewServer creates a new Server with all routes registered on the ServeMux
// and the middleware chain applied. wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      newHandler(cfg, handlers, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

func newHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("POST /api/loop/start", handlers.Loop.Start)
	mux.HandleFunc("POST /api/loop/stop", handlers.Loop.Stop)
	mux.HandleFunc("GET /api/cycles/recent", handlers.Loop.RecentCycles)

	mux.HandleFunc("GET /api/executions/recent", handlers.Executions.ListRecent)
	mux.HandleFunc("GET /api/executions/{id}", handlers.Executions.Get)

	mux.HandleFunc("GET /api/audit", handlers.Audit.List)

	mux.HandleFunc("GET /api/archives", handlers.Archives.List)
	mux.HandleFunc("POST /api/archives/run", handlers.Archives.Run)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Innermost first: auth, rate limit, logging, CORS.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, healthPath)(h)
	if cfg.Limiter != nil && cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger, healthPath)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
