package router

import (
	"time"

	"github.com/rmacdonaldsmith/rhizome-go/internal/history"
)

// ConnectionInfo describes a tracked connection
type ConnectionInfo struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ConnectedAt time.Time `json:"connectedAt"`
	Subscribed  bool      `json:"subscribed"`
	BlobPort    int       `json:"blobPort,omitempty"`
}

// SubscriptionInfo describes one (address, connection) pair
type SubscriptionInfo struct {
	Address      string `json:"address"`
	ConnectionID string `json:"connectionId"`
	Kind         string `json:"kind"`
}

// Stats aggregates router counters
type Stats struct {
	NodeID            string             `json:"nodeId"`
	Uptime            time.Duration      `json:"uptime"`
	Connections       int                `json:"connections"`
	ConnectionsByKind map[string]int     `json:"connectionsByKind"`
	Subscriptions     int                `json:"subscriptions"`
	Addresses         int                `json:"addresses"`
	Subscribers       int                `json:"subscribers"`
	BlobPairings      int                `json:"blobPairings"`
	History           history.Statistics `json:"history"`
}

// HealthStatus represents the overall health of a router
type HealthStatus struct {
	// Healthy indicates if the router is functioning properly
	Healthy bool

	// RoutingTableHealthy indicates if the routing table is operational
	RoutingTableHealthy bool

	// HistoryHealthy indicates if the history log is operational
	HistoryHealthy bool

	// ConnectedClients is the number of tracked connections
	ConnectedClients int

	// Subscriptions is the number of (address, connection) pairs
	Subscriptions int

	// Message provides additional health information
	Message string
}
