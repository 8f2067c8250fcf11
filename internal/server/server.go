// Package server exposes the market views, statistics and transaction
// actions over HTTP and pushes live updates over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
	"github.com/Poornadinethyapa/predictionm/internal/server/handler"
	"github.com/Poornadinethyapa/predictionm/internal/server/middleware"
	"github.com/Poornadinethyapa/predictionm/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the route handlers. Nil groups are not registered.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Tx        *handler.TxHandler
	Bookmarks *handler.BookmarkHandler
	Archive   *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in CORS, logging, rate
// limit and auth middleware, outermost first. limiter and hub may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, handlers, hub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute, // claim-all and ?wait=true hold the response until mined
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full handler chain.
func Routes(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if h := handlers.Health; h != nil {
		mux.HandleFunc("GET /api/health", h.HealthCheck)
	}
	if h := handlers.Markets; h != nil {
		mux.HandleFunc("GET /api/markets", h.ListMarkets)
		mux.HandleFunc("GET /api/markets/resolvable", h.ListResolvable)
		mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)
		mux.HandleFunc("GET /api/stats", h.GetStats)
		mux.HandleFunc("POST /api/refresh", h.Refresh)
	}
	if h := handlers.Tx; h != nil {
		mux.HandleFunc("POST /api/markets", h.CreateMarket)
		mux.HandleFunc("POST /api/markets/{id}/bets", h.PlaceBet)
		mux.HandleFunc("POST /api/markets/{id}/resolve", h.Resolve)
		mux.HandleFunc("POST /api/markets/{id}/claim", h.Claim)
		mux.HandleFunc("POST /api/claims", h.ClaimAll)
		mux.HandleFunc("GET /api/tx", h.ListTx)
		mux.HandleFunc("GET /api/tx/{id}", h.GetTx)
	}
	if h := handlers.Bookmarks; h != nil {
		mux.HandleFunc("GET /api/bookmarks", h.List)
		mux.HandleFunc("PUT /api/bookmarks/{id}", h.Put)
		mux.HandleFunc("DELETE /api/bookmarks/{id}", h.Delete)
	}
	if h := handlers.Archive; h != nil {
		mux.HandleFunc("GET /api/archive", h.List)
		mux.HandleFunc("POST /api/archive", h.Create)
		mux.HandleFunc("GET /api/archive/snapshot", h.Get)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
