package router

import (
	"errors"
	"time"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
)

var (
	// ErrEmptyNodeID is returned when node ID is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrInvalidSendTimeout is returned when the send timeout is not positive
	ErrInvalidSendTimeout = errors.New("send timeout must be positive")
	// ErrInvalidBlobTransport is returned for an unknown default blob transport
	ErrInvalidBlobTransport = errors.New("default blob transport must be tcp or udp")
)

// Config represents configuration for a Router
type Config struct {
	// NodeID identifies this router in logs, metrics and health reports
	NodeID string

	// SendTimeout bounds each subscriber send and control reply
	SendTimeout time.Duration

	// HistorySize is the number of recent messages kept per address
	HistorySize int

	// DefaultBlobPort is used by configure requests that omit a port
	DefaultBlobPort int

	// DefaultBlobTransport is used by configure requests that omit a transport
	DefaultBlobTransport control.BlobTransport
}

// NewConfig creates a new Router configuration with safe defaults
func NewConfig(nodeID string) *Config {
	return &Config{
		NodeID:               nodeID,
		SendTimeout:          2 * time.Second,
		HistorySize:          100,
		DefaultBlobPort:      control.DefaultBlobPort,
		DefaultBlobTransport: control.BlobTransportTCP,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.SendTimeout <= 0 {
		return ErrInvalidSendTimeout
	}
	if !c.DefaultBlobTransport.Valid() {
		return ErrInvalidBlobTransport
	}
	return nil
}

// WithSendTimeout sets the per-subscriber send timeout
func (c *Config) WithSendTimeout(d time.Duration) *Config {
	c.SendTimeout = d
	return c
}

// WithHistorySize sets the per-address history capacity
func (c *Config) WithHistorySize(n int) *Config {
	c.HistorySize = n
	return c
}

// WithBlobDefaults sets the port and transport used when configure omits them
func (c *Config) WithBlobDefaults(port int, transport control.BlobTransport) *Config {
	c.DefaultBlobPort = port
	c.DefaultBlobTransport = transport
	return c
}
