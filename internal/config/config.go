// Package config loads the server configuration from YAML.
package config

import "time"

// Config is the root configuration for a rhizome server.
type Config struct {
	NodeID              string               `yaml:"node_id"`
	OSC                 OSCConfig            `yaml:"osc"`
	HTTP                HTTPConfig           `yaml:"http"`
	GRPC                GRPCConfig           `yaml:"grpc"`
	Routing             RoutingConfig        `yaml:"routing"`
	Logging             LoggingConfig        `yaml:"logging"`
	StaticSubscriptions []StaticSubscription `yaml:"static_subscriptions"`
}

// OSCConfig holds the OSC/UDP transport settings.
type OSCConfig struct {
	Listen          string        `yaml:"listen"`
	UsersLimit      int           `yaml:"users_limit"` // 0 means unlimited
	DefaultBlobPort int           `yaml:"default_blob_port"`
	BlobTransport   string        `yaml:"blob_transport"` // tcp or udp
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// HTTPConfig holds the admin API, SSE and WebSocket endpoint settings.
type HTTPConfig struct {
	Listen            string        `yaml:"listen"`
	SecretKey         string        `yaml:"secret_key"`
	AdminSecret       string        `yaml:"admin_secret"`
	NoAuth            bool          `yaml:"no_auth"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	WebSocketPath     string        `yaml:"websocket_path"`
}

// GRPCConfig holds the gRPC bridge settings.
type GRPCConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Secret  string `yaml:"secret"` // empty disables stream authentication
}

// IsEnabled reports whether the bridge should run. It defaults to true.
func (g GRPCConfig) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// RoutingConfig holds dispatch settings shared by every transport.
type RoutingConfig struct {
	SendTimeout    time.Duration `yaml:"send_timeout"`
	OutboundBuffer int           `yaml:"outbound_buffer"`
	HistorySize    int           `yaml:"history_size"`
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	Verbose bool   `yaml:"verbose"`
	Format  string `yaml:"format"` // console or json
}

// StaticSubscription subscribes an OSC peer at startup, for devices that
// cannot send control messages themselves.
type StaticSubscription struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}
