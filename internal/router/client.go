package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// ErrClientClosed is returned by Send after the client is closed
var ErrClientClosed = errors.New("client is closed")

// Delivery is one message queued for a client
type Delivery struct {
	Address   string
	Args      []any
	Timestamp time.Time
}

// Client is a connection with a bounded outbound queue. Transports that write
// from their own goroutine (WebSocket, SSE, gRPC streams) drain Deliveries.
// Send blocks while the queue is full until ctx is done, so the routing
// table's send timeout applies.
type Client struct {
	id          string
	kind        routingtable.ConnectionKind
	connectedAt time.Time

	deliveries chan Delivery
	done       chan struct{}
	closeOnce  sync.Once
}

// NewClient creates a client with the given outbound buffer size
func NewClient(id string, kind routingtable.ConnectionKind, buffer int) *Client {
	if buffer < 1 {
		buffer = 1
	}
	return &Client{
		id:          id,
		kind:        kind,
		connectedAt: time.Now(),
		deliveries:  make(chan Delivery, buffer),
		done:        make(chan struct{}),
	}
}

// ID returns unique identifier for this client
func (c *Client) ID() string {
	return c.id
}

// Kind returns the transport kind
func (c *Client) Kind() routingtable.ConnectionKind {
	return c.kind
}

// ConnectedAt returns when this client connected
func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

// Send queues a message for the client
func (c *Client) Send(ctx context.Context, address string, args []any) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	d := Delivery{Address: address, Args: args, Timestamp: time.Now()}
	select {
	case c.deliveries <- d:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliveries returns the outbound queue
func (c *Client) Deliveries() <-chan Delivery {
	return c.deliveries
}

// Done is closed when the client is closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops accepting messages. It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// Verify that Client implements the Connection interface at compile time
var _ routingtable.Connection = (*Client)(nil)
