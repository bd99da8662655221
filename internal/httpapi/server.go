// Package httpapi serves the admin API, the SSE message stream and the
// WebSocket data endpoint of a rhizome router.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/internal/metrics"
	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
	"github.com/rmacdonaldsmith/rhizome-go/internal/transport/websocket"
)

const (
	// DefaultListen is the HTTP listen address used when none is configured
	DefaultListen = ":8080"
	// DefaultWebSocketPath is where the WebSocket endpoint is mounted
	DefaultWebSocketPath = "/ws"
	// DefaultKeepaliveInterval is the SSE ping period
	DefaultKeepaliveInterval = 15 * time.Second
	// DefaultOutboundBuffer is the queue length of an SSE connection
	DefaultOutboundBuffer = 256

	defaultSecretKey = "rhizome-dev-secret-key-change-in-production"
)

// Server represents the HTTP API server
type Server struct {
	router     *router.Router
	tokens     *Tokens
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server

	// cancelBase cancels every request context so open SSE streams end on
	// shutdown
	cancelBase context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
}

// Config holds server configuration
type Config struct {
	Listen    string
	SecretKey string

	// AdminSecret grants admin tokens at login. When empty the client ID
	// "admin" is enough.
	AdminSecret string

	// NoAuth bypasses authentication on data endpoints. Admin endpoints
	// always require an admin token.
	NoAuth bool

	KeepaliveInterval time.Duration
	OutboundBuffer    int
	WebSocketPath     string
	WebSocket         websocket.Config
}

func (c Config) withDefaults() Config {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.SecretKey == "" {
		log.Warn().Msg("No HTTP secret key configured, using the development default")
		c.SecretKey = defaultSecretKey
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = DefaultOutboundBuffer
	}
	if c.WebSocketPath == "" {
		c.WebSocketPath = DefaultWebSocketPath
	}
	return c
}

// NewServer creates a new HTTP API server
func NewServer(r *router.Router, config Config) *Server {
	config = config.withDefaults()

	tokens := NewTokens(config.SecretKey)
	baseCtx, cancel := context.WithCancel(context.Background())

	server := &Server{
		router:     r,
		tokens:     tokens,
		handlers:   NewHandlers(r, tokens, config),
		middleware: NewMiddleware(tokens, config.NoAuth),
		cancelBase: cancel,
	}

	// Streams are long lived, so there is no write timeout
	server.server = &http.Server{
		Addr:              config.Listen,
		Handler:           server.setupRoutes(config),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	return server
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Listen binds the configured address without serving
func (s *Server) Listen() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves HTTP until Stop is called. It binds first if Listen was not
// called. Returns nil after a graceful stop.
func (s *Server) Start() error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	lis := s.listener
	s.mu.Unlock()

	log.Info().Str("address", lis.Addr().String()).Msg("HTTP API listening")
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.cancelBase()
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(config Config) http.Handler {
	mux := http.NewServeMux()

	// Apply global middleware
	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Logging(
			s.middleware.Recovery(
				s.middleware.CORS(handler)))
	}

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))

	// Data endpoints (auth required)
	mux.Handle("/api/v1/messages", withMiddleware(s.middleware.AuthRequired(s.handlers.PublishMessage)))
	mux.Handle("/api/v1/stream", withMiddleware(s.middleware.AuthRequired(s.handlers.StreamMessages)))
	mux.Handle("/api/v1/history", withMiddleware(s.middleware.AuthRequired(s.handlers.ReadHistory)))

	// Admin endpoints (admin auth required)
	mux.Handle("/api/v1/admin/subscriptions", withMiddleware(s.middleware.AdminRequired(s.handleAdminSubscriptions)))
	mux.Handle("/api/v1/admin/connections", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminListConnections)))
	mux.Handle("/api/v1/admin/connections/{id}", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminDisconnect)))
	mux.Handle("/api/v1/admin/stats", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminGetStats)))

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	// The WebSocket data plane is unauthenticated like OSC
	ws := websocket.NewHandler(s.router, config.WebSocket)
	mux.Handle(config.WebSocketPath, s.middleware.Logging(s.middleware.Recovery(ws.ServeHTTP)))

	if handler := metrics.Handler(); handler != nil {
		mux.Handle("/metrics", handler)
	}

	// Root endpoint with API info
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleAdminSubscriptions routes subscription requests based on HTTP method
func (s *Server) handleAdminSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handlers.AdminListSubscriptions(w, r)
	case http.MethodDelete:
		s.handlers.AdminClearSubscriptions(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service":     "Rhizome HTTP API",
		"version":     "1.0.0",
		"description": "Admin API and message streams for the rhizome OSC router",
		"nodeId":      s.router.NodeID(),
		"endpoints": map[string]interface{}{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"messages": map[string]string{
				"publish": "POST /api/v1/messages",
				"stream":  "GET /api/v1/stream?address={address}&offset={offset}",
				"history": "GET /api/v1/history?address={address}&offset={offset}&limit={limit}",
			},
			"admin": map[string]string{
				"subscriptions": "GET /api/v1/admin/subscriptions",
				"clearAll":      "DELETE /api/v1/admin/subscriptions",
				"connections":   "GET /api/v1/admin/connections",
				"disconnect":    "DELETE /api/v1/admin/connections/{id}",
				"stats":         "GET /api/v1/admin/stats",
			},
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
