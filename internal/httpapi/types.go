package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/rhizome-go/internal/history"
	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret,omitempty"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PublishRequest represents a message publishing request. Args use the
// envelope argument encoding: blobs are {"blob": base64}.
type PublishRequest struct {
	Address string `json:"address"`
	Args    []any  `json:"args"`
}

// PublishResponse reports how many subscribers a message reached
type PublishResponse struct {
	Address   string    `json:"address"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamMessage is the payload of one SSE data frame
type StreamMessage struct {
	Address   string    `json:"address"`
	Args      []any     `json:"args"`
	Timestamp time.Time `json:"timestamp"`
	Offset    *int64    `json:"offset,omitempty"`
}

// HistoryResponse represents recent messages at one address
type HistoryResponse struct {
	Address     string          `json:"address"`
	StartOffset int64           `json:"startOffset"`
	EndOffset   int64           `json:"endOffset"`
	Count       int             `json:"count"`
	Messages    []HistoryRecord `json:"messages"`
}

// HistoryRecord is one history entry with encoded args
type HistoryRecord struct {
	Offset    int64     `json:"offset"`
	Address   string    `json:"address"`
	Args      []any     `json:"args"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// AdminSubscriptionsResponse represents admin view of all subscriptions
type AdminSubscriptionsResponse struct {
	Subscriptions []router.SubscriptionInfo `json:"subscriptions"`
}

// AdminConnectionsResponse represents admin view of tracked connections
type AdminConnectionsResponse struct {
	Connections []router.ConnectionInfo `json:"connections"`
}

// AdminStatsResponse represents system statistics
type AdminStatsResponse struct {
	NodeID            string             `json:"nodeId"`
	UptimeSeconds     float64            `json:"uptimeSeconds"`
	Connections       int                `json:"connections"`
	ConnectionsByKind map[string]int     `json:"connectionsByKind"`
	Subscriptions     int                `json:"subscriptions"`
	Addresses         int                `json:"addresses"`
	Subscribers       int                `json:"subscribers"`
	BlobPairings      int                `json:"blobPairings"`
	History           history.Statistics `json:"history"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy             bool   `json:"healthy"`
	RoutingTableHealthy bool   `json:"routingTableHealthy"`
	HistoryHealthy      bool   `json:"historyHealthy"`
	ConnectedClients    int    `json:"connectedClients"`
	Subscriptions       int    `json:"subscriptions"`
	Message             string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
