package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/address"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/envelope"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

const (
	// DefaultHistoryLimit is used when a history request omits limit
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps the limit of a history request
	MaxHistoryLimit = 1000

	// publishSource labels messages published over the REST endpoint
	publishSource = "http"
)

// StreamConn is the router connection behind one SSE response
type StreamConn struct {
	*router.Client
	clientID string
}

// NewStreamConn creates an SSE connection for an authenticated client
func NewStreamConn(clientID string, buffer int) *StreamConn {
	return &StreamConn{
		Client:   router.NewClient("sse-"+uuid.NewString(), routingtable.SSEStream, buffer),
		clientID: clientID,
	}
}

// ClientID returns the authenticated client that opened the stream
func (c *StreamConn) ClientID() string {
	return c.clientID
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	router  *router.Router
	tokens  *Tokens
	config  Config
}

// NewHandlers creates a new handlers instance
func NewHandlers(r *router.Router, tokens  *Tokens, config Config) *Handlers {
	return &Handlers{
		router:  r,
		tokens:  tokens,
		config:  config.withDefaults(),
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validateAuthRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	isAdmin, err := h.grantAdmin(&req)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := h.tokens.Issue(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	log.Info().Str("client_id", req.ClientID).Bool("admin", isAdmin).Msg("Client logged in")
	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		IsAdmin:   isAdmin,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// grantAdmin decides whether a login gets an admin token. A configured admin
// secret must match exactly; a wrong non-empty secret is rejected.
func (h *Handlers) grantAdmin(req *AuthRequest) (bool, error) {
	if h.config.AdminSecret == "" {
		return req.ClientID == "admin", nil
	}
	if req.Secret == "" {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.config.AdminSecret)) != 1 {
		return false, errors.New("invalid secret")
	}
	return true, nil
}

// Message endpoints

// PublishMessage handles POST /api/v1/messages
func (h *Handlers) PublishMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req PublishRequest
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	normalized, err := h.validateAddress(req.Address)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if control.IsControl(normalized) {
		writeError(w, fmt.Sprintf("address %s is reserved for control messages", normalized), http.StatusBadRequest)
		return
	}

	args, err := envelope.DecodeArgs(req.Args)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.router.Publish(r.Context(), publishSource, normalized, args)
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to publish message: %v", err), statusFor(err))
		return
	}

	writeJSON(w, PublishResponse{
		Address:   normalized,
		Delivered: result.Delivered,
		Failed:    result.Failed,
		Timestamp: time.Now(),
	}, http.StatusCreated)
}

// StreamMessages handles GET /api/v1/stream. The response is an SSE stream
// of every message published at or below the address. With offset, retained
// history for the exact address is replayed first.
func (h *Handlers) StreamMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	caller, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	normalized, err := h.validateAddress(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	replayFrom := int64(-1)
	if raw := r.URL.Query().Get("offset"); raw != "" {
		replayFrom, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || replayFrom < 0 {
			writeError(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	conn := NewStreamConn(caller.ClientID, h.config.OutboundBuffer)
	ctx := r.Context()
	if err := h.router.Subscribe(ctx, normalized, conn); err != nil {
		writeError(w, fmt.Sprintf("Failed to subscribe: %v", err), statusFor(err))
		return
	}
	defer func() {
		if err := h.router.Disconnect(context.WithoutCancel(ctx), conn); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Str("connection", conn.ID()).Msg("SSE disconnect failed")
		}
	}()

	logger := zerolog.Ctx(ctx).With().Str("connection", conn.ID()).Logger()
	logger.Info().Str("address", normalized).Msg("SSE stream opened")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, ": connected to %s as %s\n\n", normalized, conn.ID()); err != nil {
		return
	}
	flusher.Flush()

	if replayFrom >= 0 {
		if err := h.replayHistory(ctx, w, normalized, replayFrom); err != nil {
			logger.Debug().Err(err).Msg("SSE replay ended early")
			return
		}
		flusher.Flush()
	}

	h.streamWithKeepalive(ctx, w, flusher, conn)
}

// replayHistory writes retained entries at address from offset
func (h *Handlers) replayHistory(ctx context.Context, w http.ResponseWriter, addr string, offset int64) error {
	entries, errs := h.router.History().Replay(ctx, addr, offset)
	for entry := range entries {
		entryOffset := entry.Offset
		if err := h.writeSSEMessage(w, StreamMessage{
			Address:   entry.Address,
			Args:      envelope.EncodeArgs(entry.Args),
			Timestamp: entry.Timestamp,
			Offset:    &entryOffset,
		}); err != nil {
			return err
		}
	}
	return <-errs
}

// streamWithKeepalive forwards deliveries and pings until the client goes
// away or the connection is closed by the router
func (h *Handlers) streamWithKeepalive(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, conn *StreamConn) {
	ticker := time.NewTicker(h.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-conn.Done():
			return

		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case delivery := <-conn.Deliveries():
			if err := h.writeSSEMessage(w, StreamMessage{
				Address:   delivery.Address,
				Args:      envelope.EncodeArgs(delivery.Args),
				Timestamp: delivery.Timestamp,
			}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ReadHistory handles GET /api/v1/history
func (h *Handlers) ReadHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	normalized, err := h.validateAddress(query.Get("address"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	offset := int64(0)
	if raw := query.Get("offset"); raw != "" {
		offset, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || offset < 0 {
			writeError(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}

	limit := DefaultHistoryLimit
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		if limit > MaxHistoryLimit {
			limit = MaxHistoryLimit
		}
	}

	ctx := r.Context()
	entries, err := h.router.History().Read(ctx, normalized, offset, limit)
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to read history: %v", err), http.StatusInternalServerError)
		return
	}
	end, err := h.router.History().EndOffset(ctx, normalized)
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to read history: %v", err), http.StatusInternalServerError)
		return
	}

	records := make([]HistoryRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, HistoryRecord{
			Offset:    entry.Offset,
			Address:   entry.Address,
			Args:      envelope.EncodeArgs(entry.Args),
			Source:    entry.Source,
			Timestamp: entry.Timestamp,
		})
	}

	writeJSON(w, HistoryResponse{
		Address:     normalized,
		StartOffset: offset,
		EndOffset:   end,
		Count:       len(records),
		Messages:    records,
	}, http.StatusOK)
}

// Admin endpoints

// AdminListSubscriptions handles GET /api/v1/admin/subscriptions
func (h *Handlers) AdminListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.router.Subscriptions(r.Context())
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to list subscriptions: %v", err), statusFor(err))
		return
	}
	if subs == nil {
		subs = []router.SubscriptionInfo{}
	}
	writeJSON(w, AdminSubscriptionsResponse{Subscriptions: subs}, http.StatusOK)
}

// AdminClearSubscriptions handles DELETE /api/v1/admin/subscriptions
func (h *Handlers) AdminClearSubscriptions(w http.ResponseWriter, r *http.Request) {
	if err := h.router.ClearAll(r.Context()); err != nil {
		writeError(w, fmt.Sprintf("Failed to clear subscriptions: %v", err), statusFor(err))
		return
	}
	zerolog.Ctx(r.Context()).Info().Msg("Admin cleared all subscriptions")
	w.WriteHeader(http.StatusNoContent)
}

// AdminListConnections handles GET /api/v1/admin/connections
func (h *Handlers) AdminListConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conns := h.router.Connections()
	if conns == nil {
		conns = []router.ConnectionInfo{}
	}
	writeJSON(w, AdminConnectionsResponse{Connections: conns}, http.StatusOK)
}

// AdminDisconnect handles DELETE /api/v1/admin/connections/{id}
func (h *Handlers) AdminDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, "Connection ID required", http.StatusBadRequest)
		return
	}

	if err := h.router.DisconnectByID(r.Context(), id); err != nil {
		writeError(w, fmt.Sprintf("Failed to disconnect %s: %v", id, err), statusFor(err))
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("connection", id).Msg("Admin disconnected connection")
	w.WriteHeader(http.StatusNoContent)
}

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.router.Stats(r.Context())
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to get stats: %v", err), statusFor(err))
		return
	}

	writeJSON(w, AdminStatsResponse{
		NodeID:            stats.NodeID,
		UptimeSeconds:     stats.Uptime.Seconds(),
		Connections:       stats.Connections,
		ConnectionsByKind: stats.ConnectionsByKind,
		Subscriptions:     stats.Subscriptions,
		Addresses:         stats.Addresses,
		Subscribers:       stats.Subscribers,
		BlobPairings:      stats.BlobPairings,
		History:           stats.History,
	}, http.StatusOK)
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.router.Health(r.Context())
	if err != nil {
		writeError(w, "Failed to get health status", http.StatusInternalServerError)
		return
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, HealthResponse{
		Healthy:             health.Healthy,
		RoutingTableHealthy: health.RoutingTableHealthy,
		HistoryHealthy:      health.HistoryHealthy,
		ConnectedClients:    health.ConnectedClients,
		Subscriptions:       health.Subscriptions,
		Message:             health.Message,
	}, statusCode)
}

// Helper methods

// statusFor maps router errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, address.ErrInvalidAddress), errors.Is(err, router.ErrControlAddress):
		return http.StatusBadRequest
	case errors.Is(err, router.ErrUnknownConnection):
		return http.StatusNotFound
	case errors.Is(err, router.ErrClosed), errors.Is(err, router.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// validateJSON validates that the request has valid JSON content-type
func (h *Handlers) validateJSON(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func (h *Handlers) validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return fmt.Errorf("clientId must be at least 2 characters")
	}
	return nil
}

// validateAddress normalizes a required address parameter
func (h *Handlers) validateAddress(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("address is required")
	}
	return address.Normalize(raw)
}

// writeSSEMessage writes a StreamMessage as a properly formatted SSE data message
func (h *Handlers) writeSSEMessage(w http.ResponseWriter, message StreamMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", jsonData)
	return err
}
