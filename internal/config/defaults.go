package config

import (
	"os"
	"time"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
)

// Default values for optional configuration fields.
const (
	DefaultOSCListen         = ":9000"
	DefaultBlobTransport     = string(control.BlobTransportTCP)
	DefaultDialTimeout       = 2 * time.Second
	DefaultHTTPListen        = ":8000"
	DefaultKeepaliveInterval = 15 * time.Second
	DefaultWebSocketPath     = "/websocket"
	DefaultGRPCListen        = ":9090"
	DefaultSendTimeout       = 2 * time.Second
	DefaultOutboundBuffer    = 256
	DefaultHistorySize       = 100
	DefaultLogFormat         = "console"
)

func (c *Config) applyDefaults() {
	if c.NodeID == "" {
		c.NodeID = defaultNodeID()
	}

	// OSC defaults
	if c.OSC.Listen == "" {
		c.OSC.Listen = DefaultOSCListen
	}
	if c.OSC.DefaultBlobPort == 0 {
		c.OSC.DefaultBlobPort = control.DefaultBlobPort
	}
	if c.OSC.BlobTransport == "" {
		c.OSC.BlobTransport = DefaultBlobTransport
	}
	if c.OSC.DialTimeout == 0 {
		c.OSC.DialTimeout = DefaultDialTimeout
	}

	// HTTP defaults
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = DefaultHTTPListen
	}
	if c.HTTP.KeepaliveInterval == 0 {
		c.HTTP.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.HTTP.WebSocketPath == "" {
		c.HTTP.WebSocketPath = DefaultWebSocketPath
	}

	// gRPC defaults
	if c.GRPC.Listen == "" {
		c.GRPC.Listen = DefaultGRPCListen
	}

	// Routing defaults
	if c.Routing.SendTimeout == 0 {
		c.Routing.SendTimeout = DefaultSendTimeout
	}
	if c.Routing.OutboundBuffer == 0 {
		c.Routing.OutboundBuffer = DefaultOutboundBuffer
	}
	if c.Routing.HistorySize == 0 {
		c.Routing.HistorySize = DefaultHistorySize
	}

	// Logging defaults
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	for i := range c.StaticSubscriptions {
		if c.StaticSubscriptions[i].Host == "" {
			c.StaticSubscriptions[i].Host = "127.0.0.1"
		}
	}
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "rhizome"
	}
	return "rhizome-" + host
}
