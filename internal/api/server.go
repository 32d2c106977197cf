// Package api implements the development gateway: an HTTP server speaking
// the remote portfolio service's protocol, backed by an accounts file and a
// Redis cache.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/portfolio-client/internal/logging"
	"github.com/portfolio-client/internal/storage"
)

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	source     AccountSource
	cache      *storage.CacheService
	tokens     *TokenIssuer
	config     *ServerConfig
	logger     *logging.Logger
	now        func() time.Time
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	// credentials accepted by POST /login
	User     string
	Password string
}

// ServerDeps are the collaborators of the gateway
type ServerDeps struct {
	Source AccountSource
	Cache  *storage.CacheService
	Tokens *TokenIssuer
	Logger *logging.Logger
	Clock  func() time.Time
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	s := &Server{
		router: mux.NewRouter(),
		source: deps.Source,
		cache:  deps.Cache,
		tokens: deps.Tokens,
		config: config,
		logger: logger.Component("gateway"),
		now:    now,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS)

	// order matters
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	authed := s.router.NewRoute().Subrouter()
	authed.Use(AuthMiddleware(s.tokens, s.now))
	authed.HandleFunc("/accounts", s.handleAccounts).Methods(http.MethodGet)
	authed.HandleFunc("/cache/info", s.handleCacheInfo).Methods(http.MethodGet)
	authed.HandleFunc("/cache", s.handleCacheInvalidate).Methods(http.MethodDelete)
	authed.HandleFunc("/cache/refresh", s.handleCacheRefresh).Methods(http.MethodPost)
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"status":  "healthy",
		"service": "portfolio-gateway",
		"cache":   "ok",
	}
	if err := s.cache.Ping(r.Context()); err != nil {
		status["status"] = "degraded"
		status["cache"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting gateway")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down gateway")
	return s.httpServer.Shutdown(ctx)
}
