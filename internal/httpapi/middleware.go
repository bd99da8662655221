package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// RequestIDHeader carries the request ID back to the caller
	RequestIDHeader = "X-Request-Id"

	// tokenQueryParam lets EventSource clients, which cannot set headers,
	// authenticate a stream
	tokenQueryParam = "access_token"

	anonymousClientID = "anonymous"
)

type identityKey struct{}

// IdentityFrom returns the caller identity stored by the auth middleware
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// Middleware wraps handlers with authentication, logging and recovery
type Middleware struct {
	tokens *Tokens
	noAuth bool
}

// NewMiddleware creates middleware verifying tokens with tokens. With noAuth,
// data endpoints accept anonymous callers.
func NewMiddleware(tokens *Tokens, noAuth bool) *Middleware {
	return &Middleware{tokens: tokens, noAuth: noAuth}
}

// authenticate resolves the caller of r from its bearer token
func (m *Middleware) authenticate(r *http.Request) (Identity, error) {
	return m.tokens.Verify(bearerToken(r))
}

// AuthRequired lets a request through once it carries a valid token, or
// always in no-auth mode
func (m *Middleware) AuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := m.authenticate(r)
		if err != nil {
			if !m.noAuth {
				writeError(w, err.Error(), http.StatusUnauthorized)
				return
			}
			id = Identity{ClientID: anonymousClientID, Anonymous: true}
		}
		next(w, m.annotate(r, id))
	}
}

// AdminRequired demands an admin token. No-auth mode does not apply.
func (m *Middleware) AdminRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := m.authenticate(r)
		if err != nil {
			writeError(w, "admin access: "+err.Error(), http.StatusUnauthorized)
			return
		}
		if !id.Admin {
			zerolog.Ctx(r.Context()).Info().Str("client_id", id.ClientID).Msg("Admin request refused")
			writeError(w, "admin privileges required", http.StatusForbidden)
			return
		}
		next(w, m.annotate(r, id))
	}
}

// annotate stores id in the request context and tags the request logger
func (m *Middleware) annotate(r *http.Request, id Identity) *http.Request {
	ctx := withIdentity(r.Context(), id)
	logger := zerolog.Ctx(ctx).With().Str("client_id", id.ClientID).Logger()
	return r.WithContext(logger.WithContext(ctx))
}

// CORS allows browser dashboards on other origins to call the API
func (m *Middleware) CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Last-Event-ID")
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// Logging gives each request an ID and a request-scoped logger, then logs
// the outcome. SSE and WebSocket requests are logged when they end.
func (m *Middleware) Logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		logger := log.With().Str("request_id", requestID).Logger()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r.WithContext(logger.WithContext(r.Context())))

		event := logger.Debug()
		if rec.status >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	}
}

// Recovery turns a handler panic into a 500 response
func (m *Middleware) Recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				zerolog.Ctx(r.Context()).Error().
					Interface("panic", p).
					Str("path", r.URL.Path).
					Msg("HTTP handler panicked")
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// bearerToken reads the token from the Authorization header, falling back to
// the access_token query parameter on stream requests
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			return strings.TrimSpace(header[7:])
		}
		return strings.TrimSpace(header)
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get(tokenQueryParam)
	}
	return ""
}

// statusRecorder captures the response status for logging. It passes
// flushing and hijacking through so SSE and WebSocket handlers keep working.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
