package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/address"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node_id is required")
	}

	if c.OSC.Listen == "" {
		return errors.New("osc.listen is required")
	}
	if c.OSC.UsersLimit < 0 {
		return errors.New("osc.users_limit must be >= 0")
	}
	if err := validatePort("osc.default_blob_port", c.OSC.DefaultBlobPort); err != nil {
		return err
	}
	if !control.BlobTransport(c.OSC.BlobTransport).Valid() {
		return fmt.Errorf("osc.blob_transport must be tcp or udp, got %q", c.OSC.BlobTransport)
	}
	if c.OSC.DialTimeout < 0 {
		return errors.New("osc.dial_timeout must be >= 0")
	}

	if c.HTTP.Listen == "" {
		return errors.New("http.listen is required")
	}
	if !c.HTTP.NoAuth && c.HTTP.SecretKey == "" {
		return errors.New("http.secret_key is required unless http.no_auth is set")
	}
	if !strings.HasPrefix(c.HTTP.WebSocketPath, "/") {
		return fmt.Errorf("http.websocket_path must start with /, got %q", c.HTTP.WebSocketPath)
	}

	if c.GRPC.IsEnabled() && c.GRPC.Listen == "" {
		return errors.New("grpc.listen is required when grpc is enabled")
	}

	if c.Routing.SendTimeout <= 0 {
		return errors.New("routing.send_timeout must be > 0")
	}
	if c.Routing.OutboundBuffer < 1 {
		return errors.New("routing.outbound_buffer must be >= 1")
	}
	if c.Routing.HistorySize < 1 {
		return errors.New("routing.history_size must be >= 1")
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}

	for i, sub := range c.StaticSubscriptions {
		prefix := fmt.Sprintf("static_subscriptions[%d]", i)
		if sub.Host == "" {
			return fmt.Errorf("%s.host is required", prefix)
		}
		if err := validatePort(prefix+".port", sub.Port); err != nil {
			return err
		}
		if !address.IsValid(sub.Address) {
			return fmt.Errorf("%s.address %q is not a valid address", prefix, sub.Address)
		}
	}

	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}
