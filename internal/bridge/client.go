package bridge

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
)

// Client is one Connect stream opened from another process
type Client struct {
	conn   *grpc.ClientConn
	stream ConnectClient
	cancel context.CancelFunc

	sendMu sync.Mutex
}

// Dial connects to a bridge at target and opens a stream. secret may be empty.
func Dial(ctx context.Context, target, secret string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStreamInterceptor(StreamClientInterceptor(secret)),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge connection: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := NewConnectStream(streamCtx, conn)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to open bridge stream: %w", err)
	}

	return &Client{conn: conn, stream: stream, cancel: cancel}, nil
}

// Send writes one message to the bridge
func (c *Client) Send(address string, args ...any) error {
	frame, err := ToStruct(address, args)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.Send(frame)
}

// Subscribe asks the bridge to deliver everything published at or below address
func (c *Client) Subscribe(address string) error {
	return c.Send(control.SubscribeAddress, int32(1), address)
}

// Receive blocks for the next message from the bridge
func (c *Client) Receive() (string, []any, error) {
	frame, err := c.stream.Recv()
	if err != nil {
		return "", nil, err
	}
	return FromStruct(frame)
}

// Close ends the stream and the connection
func (c *Client) Close() error {
	c.sendMu.Lock()
	c.stream.CloseSend()
	c.sendMu.Unlock()

	c.cancel()
	return c.conn.Close()
}
