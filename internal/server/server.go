package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/forecasthq/marketd/internal/domain"
	"github.com/forecasthq/marketd/internal/server/handler"
	"github.com/forecasthq/marketd/internal/server/middleware"
	"github.com/forecasthq/marketd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// AdminKey guards operator endpoints (market creation, resolution,
	// liquidity management). If empty, those endpoints are open.
	AdminKey string

	// RateLimit caps requests per client IP per RateWindow across the whole
	// API. Zero disables HTTP-level limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Trades    *handler.TradeHandler
	Positions *handler.PositionHandler
	Liquidity *handler.LiquidityHandler
}

// Server is the HTTP + WebSocket API server for the prediction market
// backend.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limiting) and attaches the
// WebSocket hub. Operator endpoints additionally pass through admin-key auth.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.AdminKey)

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market endpoints. Creation and resolution are operator actions.
	mux.Handle("POST /api/markets", admin(http.HandlerFunc(handlers.Markets.CreateMarket)))
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/pool", handlers.Markets.GetPool)
	mux.HandleFunc("GET /api/markets/{id}/prices", handlers.Markets.GetPrices)
	mux.Handle("POST /api/markets/{id}/resolve", admin(http.HandlerFunc(handlers.Markets.ResolveMarket)))

	// Liquidity management (operator).
	mux.Handle("POST /api/pools/{id}/liquidity", admin(http.HandlerFunc(handlers.Liquidity.AddLiquidity)))
	mux.Handle("DELETE /api/pools/{id}/liquidity", admin(http.HandlerFunc(handlers.Liquidity.RemoveLiquidity)))

	// Quote and trade endpoints. Trades authenticate via wallet signature
	// inside the service, not via the admin key.
	mux.HandleFunc("POST /api/quotes", handlers.Trades.Quote)
	mux.HandleFunc("POST /api/trades", handlers.Trades.ExecuteTrade)
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.GetTrade)

	// Position endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

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
