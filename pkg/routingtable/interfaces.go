package routingtable

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNilConnection is returned when a nil connection is given
	ErrNilConnection = errors.New("connection cannot be nil")
	// ErrDeliveryFailure wraps a send error or timeout for a single subscriber
	ErrDeliveryFailure = errors.New("delivery failure")
	// ErrClosed is returned by operations on a closed routing table
	ErrClosed = errors.New("routing table is closed")
)

// ConnectionKind identifies the transport behind a connection
type ConnectionKind int

const (
	// LocalConnection is an in-process sink (tests, embedding)
	LocalConnection ConnectionKind = iota

	// WebSocket is a browser or WebSocket client
	WebSocket

	// OSCUDP is an OSC peer reached over UDP
	OSCUDP

	// BlobTransport is a paired blob client reached over TCP or UDP
	BlobTransport

	// GRPCStream is a gRPC bridge stream
	GRPCStream

	// SSEStream is an HTTP Server-Sent Events stream
	SSEStream
)

func (k ConnectionKind) String() string {
	switch k {
	case LocalConnection:
		return "local"
	case WebSocket:
		return "websocket"
	case OSCUDP:
		return "osc"
	case BlobTransport:
		return "blob"
	case GRPCStream:
		return "grpc"
	case SSEStream:
		return "sse"
	default:
		return "unknown"
	}
}

// Connection is anything able to receive a message. Implementations must be
// comparable (pointer types) so they can be held in subscriber sets, and Send
// must honour ctx so a full outbound queue cannot block the dispatcher.
type Connection interface {
	// ID returns a unique identifier for this connection
	ID() string

	// Kind returns the transport kind
	Kind() ConnectionKind

	// Send delivers a message with the full published address
	Send(ctx context.Context, address string, args []any) error
}

// Subscription is a connection registered at an address
type Subscription struct {
	// Address is the normalized address subscribed to
	Address string

	// Connection receives everything published at Address or below it
	Connection Connection
}

// PublishResult reports the outcome of a single publish
type PublishResult struct {
	// Delivered is the number of subscribers whose Send succeeded
	Delivered int

	// Failed is the number of subscribers whose Send failed or timed out
	Failed int
}

// TargetResolver decides, per subscriber and at dispatch time, which connection
// actually receives a message and with which arguments.
type TargetResolver interface {
	ResolveTarget(conn Connection, address string, args []any) (Connection, []any)
}

// RoutingTable maps addresses to subscribed connections.
type RoutingTable interface {
	io.Closer

	// Publish delivers (address, args) to every subscriber on the path from the
	// root to address. It fails only when address is invalid.
	Publish(ctx context.Context, address string, args []any) (PublishResult, error)

	// Subscribe registers conn at address. Subscribing twice is a no-op.
	Subscribe(ctx context.Context, address string, conn Connection) error

	// UnsubscribeAll removes conn from every address it is subscribed to.
	UnsubscribeAll(ctx context.Context, conn Connection) error

	// ClearAll removes every subscription.
	ClearAll(ctx context.Context) error

	// GetSubscribers returns a snapshot of the connections that a publish at
	// address would reach, root first, in insertion order per address.
	GetSubscribers(ctx context.Context, address string) ([]Connection, error)

	// GetAllSubscriptions returns every (address, connection) pair.
	GetAllSubscriptions(ctx context.Context) ([]Subscription, error)

	// GetAddressCount returns the number of addresses with at least one subscriber.
	GetAddressCount(ctx context.Context) (int, error)

	// GetSubscriberCount returns the number of distinct subscribed connections.
	GetSubscriberCount(ctx context.Context) (int, error)
}
