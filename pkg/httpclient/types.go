package httpclient

import (
	"fmt"
	"time"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the rhizome HTTP API (e.g., "http://localhost:8080")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Secret is the admin secret; when it matches the server's, the issued
	// token carries admin rights
	Secret string

	// Timeout for HTTP requests. Streams are not subject to it.
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// APIError is returned for any response with status >= 400
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, string(e.Body))
}

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret,omitempty"`
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PublishRequest represents a message publishing request
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

// StreamMessage is one message received on a stream. Args are decoded:
// integral numbers are int32, blobs are []byte.
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

// HistoryRecord is one retained message. Args keep their JSON form.
type HistoryRecord struct {
	Offset    int64     `json:"offset"`
	Address   string    `json:"address"`
	Args      []any     `json:"args"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// SubscriptionInfo describes one (address, connection) pair
type SubscriptionInfo struct {
	Address      string `json:"address"`
	ConnectionID string `json:"connectionId"`
	Kind         string `json:"kind"`
}

// AdminSubscriptionsResponse represents admin view of all subscriptions
type AdminSubscriptionsResponse struct {
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
}

// ConnectionInfo describes a connection tracked by the server
type ConnectionInfo struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ConnectedAt time.Time `json:"connectedAt"`
	Subscribed  bool      `json:"subscribed"`
	BlobPort    int       `json:"blobPort,omitempty"`
}

// AdminConnectionsResponse represents admin view of tracked connections
type AdminConnectionsResponse struct {
	Connections []ConnectionInfo `json:"connections"`
}

// HistoryStatistics counts messages ever published, per address
type HistoryStatistics struct {
	TotalEntries  int64            `json:"totalEntries"`
	AddressCounts map[string]int64 `json:"addressCounts"`
	AddressCount  int              `json:"addressCount"`
}

// AdminStatsResponse represents system statistics
type AdminStatsResponse struct {
	NodeID            string            `json:"nodeId"`
	UptimeSeconds     float64           `json:"uptimeSeconds"`
	Connections       int               `json:"connections"`
	ConnectionsByKind map[string]int    `json:"connectionsByKind"`
	Subscriptions     int               `json:"subscriptions"`
	Addresses         int               `json:"addresses"`
	Subscribers       int               `json:"subscribers"`
	BlobPairings      int               `json:"blobPairings"`
	History           HistoryStatistics `json:"history"`
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
