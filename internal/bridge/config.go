package bridge

import (
	"errors"
	"time"
)

// Config holds configuration for the bridge server
type Config struct {
	ListenAddress string

	// Secret, when set, must be presented by every client in the
	// SecretHeader metadata
	Secret string

	SendQueueSize     int
	KeepaliveInterval time.Duration
	MaxMessageSize    int
	SendTimeout       time.Duration
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.SendQueueSize < 0 {
		return errors.New("send queue size cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4 * 1024 * 1024
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 2 * time.Second
	}
}
