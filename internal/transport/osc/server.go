package osc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/internal/metrics"
	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

const (
	// DefaultListen is the default UDP listen address
	DefaultListen = ":9000"

	maxDatagramSize = 65536
	socketBuffer    = 2 * 1024 * 1024
)

// ErrServerClosed is returned by Serve after Close
var ErrServerClosed = errors.New("osc server closed")

// Dispatcher receives every decoded message
type Dispatcher interface {
	Dispatch(ctx context.Context, in router.Inbound) error
}

// Config holds the OSC server settings
type Config struct {
	// Listen is the UDP address to bind, e.g. ":9000"
	Listen string

	// UsersLimit caps the number of registered client ports; 0 is unlimited
	UsersLimit int

	// DialTimeout bounds dialing a TCP blob client
	DialTimeout time.Duration
}

// Server reads OSC datagrams and hands them to a Dispatcher
type Server struct {
	config     Config
	dispatcher Dispatcher

	mu       sync.RWMutex
	conn     *net.UDPConn
	resolver *Resolver
	closed   bool
}

// NewServer creates a server. Call Listen, then Serve.
func NewServer(config Config, dispatcher Dispatcher) *Server {
	if config.Listen == "" {
		config.Listen = DefaultListen
	}
	return &Server{config: config, dispatcher: dispatcher}
}

// Listen binds the UDP socket
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.conn != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to resolve osc listen address %s: %w", s.config.Listen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	if err := conn.SetReadBuffer(socketBuffer); err != nil {
		log.Warn().Err(err).Int("buffer_size", socketBuffer).Msg("Could not set UDP read buffer size")
	}

	s.conn = conn
	s.resolver = NewResolver(conn, s.config.UsersLimit, s.config.DialTimeout)
	log.Info().Str("address", conn.LocalAddr().String()).Msg("OSC server listening")
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Resolver returns the port resolver, or nil before Listen
func (s *Server) Resolver() *Resolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolver
}

// Serve reads datagrams until ctx is done or the server is closed. Messages
// of one datagram are dispatched in order.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.RLock()
	conn, resolver := s.conn, s.resolver
	s.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("osc server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("osc read failed: %w", err)
		}

		s.handleDatagram(ctx, resolver, src, buf[:n])
	}
}

// ListenAndServe binds and serves
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) handleDatagram(ctx context.Context, resolver *Resolver, src *net.UDPAddr, data []byte) {
	messages, err := Decode(data)
	if err != nil {
		metrics.InboundPackets.With(routingtable.OSCUDP.String(), metrics.ResultError).Inc()
		log.Debug().Err(err).Str("source", src.String()).Int("bytes", len(data)).Msg("Dropping undecodable datagram")
		return
	}
	metrics.InboundPackets.With(routingtable.OSCUDP.String(), metrics.ResultOK).Inc()

	sender := resolver.Sender(src)
	for _, msg := range messages {
		err := s.dispatcher.Dispatch(ctx, router.Inbound{
			Sender:   sender,
			Resolver: resolver,
			Address:  msg.Address,
			Args:     msg.Args,
		})
		if err != nil {
			log.Debug().Err(err).Str("source", src.String()).Str("address", msg.Address).Msg("OSC message not dispatched")
		}
	}
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close closes the socket. It is idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		log.Info().Str("address", s.conn.LocalAddr().String()).Msg("OSC server stopped")
		return s.conn.Close()
	}
	return nil
}
