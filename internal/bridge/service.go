// Package bridge exposes the router over a bidirectional gRPC stream so
// services in other processes can publish, subscribe and receive messages.
//
// The service is declared by hand: each frame is a google.protobuf.Struct
// holding {"address": string, "args": [...]} in the envelope format.
package bridge

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name
	ServiceName = "rhizome.bridge.v1.Bridge"

	// ConnectMethod is the full method name of the Connect stream
	ConnectMethod = "/" + ServiceName + "/Connect"
)

// BridgeServer is the server API for the bridge service
type BridgeServer interface {
	Connect(ConnectServer) error
}

// ConnectServer is the server side of a Connect stream
type ConnectServer interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ServerStream
}

// ConnectClient is the client side of a Connect stream
type ConnectClient interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

// ServiceDesc describes the bridge service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "rhizome/bridge/v1/bridge.proto",
}

// RegisterBridgeServer registers srv on s
func RegisterBridgeServer(s grpc.ServiceRegistrar, srv BridgeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// NewConnectStream opens a Connect stream on cc
func NewConnectStream(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (ConnectClient, error) {
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], ConnectMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &connectClient{stream}, nil
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(BridgeServer).Connect(&connectServer{stream})
}

type connectServer struct {
	grpc.ServerStream
}

func (s *connectServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func (s *connectServer) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type connectClient struct {
	grpc.ClientStream
}

func (c *connectClient) Send(m *structpb.Struct) error {
	return c.ClientStream.SendMsg(m)
}

func (c *connectClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
