package controlplane

import (
	"context"
	"fmt"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// PortResolver binds the numeric client ports carried in control messages to
// live connections. Each transport supplies its own.
type PortResolver interface {
	// Attach returns the connection for port as seen from sender, creating it
	// when the transport allows. It returns ErrUnknownPort when it cannot.
	Attach(ctx context.Context, sender routingtable.Connection, port int) (routingtable.Connection, error)

	// Lookup returns the existing connection for port. It never creates one.
	Lookup(sender routingtable.Connection, port int) (routingtable.Connection, error)

	// BlobEndpoint builds the connection that delivers blobs for subject to
	// the given port over transport.
	BlobEndpoint(ctx context.Context, subject routingtable.Connection, port int, transport control.BlobTransport) (routingtable.Connection, error)
}

// SelfResolver resolves every port to the sending connection. It serves
// transports where one socket is one client (WebSocket, gRPC, SSE).
type SelfResolver struct{}

func (SelfResolver) Attach(ctx context.Context, sender routingtable.Connection, port int) (routingtable.Connection, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPort, port)
	}
	return sender, nil
}

func (SelfResolver) Lookup(sender routingtable.Connection, port int) (routingtable.Connection, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPort, port)
	}
	return sender, nil
}

func (SelfResolver) BlobEndpoint(ctx context.Context, subject routingtable.Connection, port int, transport control.BlobTransport) (routingtable.Connection, error) {
	return nil, fmt.Errorf("%w: %s", ErrBlobUnsupported, subject.Kind())
}
