package controlplane

import "errors"

var (
	// ErrUnknownPort is returned when a client port has no live connection
	ErrUnknownPort = errors.New("unknown client port")
	// ErrMalformed is returned for control messages with missing or mistyped arguments
	ErrMalformed = errors.New("malformed control message")
	// ErrNotConfigured is returned when a blob is requested for a client without a blob pairing
	ErrNotConfigured = errors.New("no blob client configured")
	// ErrBlobUnsupported is returned by transports that cannot reach a blob client
	ErrBlobUnsupported = errors.New("blob client not supported on this transport")
)
