package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/rmacdonaldsmith/rhizome-go/internal/controlplane"
	"github.com/rmacdonaldsmith/rhizome-go/internal/metrics"
	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// ErrServerClosed is returned when starting a closed server
var ErrServerClosed = errors.New("bridge server closed")

// Hub is the part of the router a stream talks to
type Hub interface {
	Dispatch(ctx context.Context, in router.Inbound) error
	Track(conn routingtable.Connection)
	Disconnect(ctx context.Context, conn routingtable.Connection) error
}

// StreamConn is one Connect stream seen as a router connection
type StreamConn struct {
	*router.Client
}

func newStreamConn(buffer int) *StreamConn {
	return &StreamConn{Client: router.NewClient("grpc-"+uuid.NewString(), routingtable.GRPCStream, buffer)}
}

// Server serves the bridge service
type Server struct {
	config *Config
	hub    Hub

	mu         sync.Mutex
	grpcServer *grpc.Server
	listener   net.Listener
	closed     bool
}

// NewServer creates a bridge server with the given configuration
func NewServer(config *Config, hub Hub) (*Server, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	configCopy := *config
	configCopy.SetDefaults()

	s := &Server{config: &configCopy, hub: hub}
	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(configCopy.MaxMessageSize),
		grpc.MaxSendMsgSize(configCopy.MaxMessageSize),
		grpc.StreamInterceptor(StreamServerInterceptor(configCopy.Secret)),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    configCopy.KeepaliveInterval,
			Timeout: 10 * time.Second,
		}),
	)
	RegisterBridgeServer(s.grpcServer, s)
	return s, nil
}

// Start listens on the configured address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	go func() {
		if err := s.Serve(lis); err != nil {
			log.Error().Err(err).Msg("Bridge server stopped with error")
		}
	}()
	return nil
}

// Serve accepts streams on lis until Close
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		lis.Close()
		return ErrServerClosed
	}
	s.listener = lis
	s.mu.Unlock()

	log.Info().Str("address", lis.Addr().String()).Msg("Bridge server listening")
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// GetListeningAddress returns the bound address, or "" before serving
func (s *Server) GetListeningAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Connect runs one stream: frames from the client are dispatched, and
// deliveries queued on the stream's connection are written back.
func (s *Server) Connect(stream ConnectServer) error {
	ctx := stream.Context()
	conn := newStreamConn(s.config.SendQueueSize)
	s.hub.Track(conn)
	log.Info().Str("connection", conn.ID()).Msg("Bridge client connected")

	defer func() {
		if err := s.hub.Disconnect(context.WithoutCancel(ctx), conn); err != nil {
			log.Warn().Err(err).Str("connection", conn.ID()).Msg("Disconnect failed")
		}
		conn.Close()
		log.Info().Str("connection", conn.ID()).Msg("Bridge client disconnected")
	}()

	go s.readLoop(ctx, stream, conn)

	for {
		select {
		case d := <-conn.Deliveries():
			frame, err := ToStruct(d.Address, d.Args)
			if err != nil {
				log.Warn().Err(err).Str("connection", conn.ID()).Msg("Dropping unencodable message")
				continue
			}
			if err := stream.Send(frame); err != nil {
				return err
			}
		case <-conn.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readLoop dispatches inbound frames and closes conn when the client stops
// sending
func (s *Server) readLoop(ctx context.Context, stream ConnectServer, conn *StreamConn) {
	defer conn.Close()

	for {
		frame, err := stream.Recv()
		if err != nil {
			return
		}

		address, args, err := FromStruct(frame)
		if err != nil {
			metrics.InboundPackets.With(routingtable.GRPCStream.String(), metrics.ResultError).Inc()
			s.replyError(ctx, conn, err)
			continue
		}
		metrics.InboundPackets.With(routingtable.GRPCStream.String(), metrics.ResultOK).Inc()

		err = s.hub.Dispatch(ctx, router.Inbound{
			Sender:   conn,
			Resolver: controlplane.SelfResolver{},
			Address:  address,
			Args:     args,
		})
		if err != nil && !router.Answered(address, err) {
			s.replyError(ctx, conn, err)
		}
	}
}

func (s *Server) replyError(ctx context.Context, conn *StreamConn, err error) {
	sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
	defer cancel()
	if sendErr := conn.Send(sendCtx, control.ErrorAddress, []any{err.Error()}); sendErr != nil {
		log.Debug().Err(sendErr).Str("connection", conn.ID()).Msg("Error reply failed")
	}
}

// Close stops the server and ends every open stream. It is idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.grpcServer.Stop()
	return nil
}
