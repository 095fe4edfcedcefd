package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/alanyoungcy/carbonex/internal/server/handler"
	"github.com/alanyoungcy/carbonex/internal/server/middleware"
	"github.com/alanyoungcy/carbonex/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int    // requests per RateLimitWindow per client; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Exchange *handler.ExchangeHandler
	Credits  *handler.CreditHandler
	Market   *handler.MarketHandler
}

// Server is the HTTP + WebSocket API of the exchange.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, auth, logging, CORS) and attaches
// the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	Routes(mux, handlers, wsHub)

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
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
		logger:     logger,
	}
}

// Routes registers every exchange endpoint on mux.
func Routes(mux *http.ServeMux, handlers Handlers, wsHub *ws.Hub) {
	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Registry and credit catalogue.
	mux.HandleFunc("GET /api/registry", handlers.Credits.GetRegistry)
	mux.HandleFunc("POST /api/credits", handlers.Credits.Mint)
	mux.HandleFunc("GET /api/credits", handlers.Credits.ListCredits)
	mux.HandleFunc("GET /api/credits/{asset_id}", handlers.Credits.GetCredit)

	// Listings.
	mux.HandleFunc("GET /api/listings", handlers.Market.ListListings)
	mux.HandleFunc("POST /api/listings", handlers.Exchange.CreateListing)
	mux.HandleFunc("GET /api/listings/{asset_id}", handlers.Market.GetListing)
	mux.HandleFunc("POST /api/listings/{asset_id}/buy", handlers.Exchange.Buy)
	mux.HandleFunc("POST /api/listings/{asset_id}/cancel", handlers.Exchange.Cancel)
	mux.HandleFunc("GET /api/sellers/{address}/listings", handlers.Market.ListBySeller)

	// Retirement ledger.
	mux.HandleFunc("POST /api/retirements", handlers.Exchange.Retire)
	mux.HandleFunc("GET /api/retirements", handlers.Market.ListRetirements)
	mux.HandleFunc("GET /api/retirements/{asset_id}", handlers.Market.GetRetirement)
	mux.HandleFunc("GET /api/retirements/{asset_id}/certificate", handlers.Market.GetCertificate)

	// Sales and aggregates.
	mux.HandleFunc("GET /api/sales", handlers.Market.ListSales)
	mux.HandleFunc("GET /api/market/stats", handlers.Market.Stats)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
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
