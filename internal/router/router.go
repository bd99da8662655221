// Package router ties the routing table, the blob coordinator, the control
// plane and the history log together behind one entry point used by every
// transport.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/internal/blob"
	"github.com/rmacdonaldsmith/rhizome-go/internal/controlplane"
	"github.com/rmacdonaldsmith/rhizome-go/internal/history"
	"github.com/rmacdonaldsmith/rhizome-go/internal/metrics"
	internalrt "github.com/rmacdonaldsmith/rhizome-go/internal/routingtable"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/address"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

var (
	// ErrClosed is returned by operations on a closed router
	ErrClosed = errors.New("router is closed")
	// ErrNotStarted is returned when dispatching before Start
	ErrNotStarted = errors.New("router is not started")
	// ErrUnknownConnection is returned when no tracked connection has the given ID
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrControlAddress is returned when publishing data on a reserved address
	ErrControlAddress = errors.New("address is reserved for control messages")
)

// Inbound is one decoded message handed over by a transport
type Inbound struct {
	// Sender is the connection the message arrived on
	Sender routingtable.Connection

	// Resolver maps client ports for the sender's transport; nil means the
	// sender itself
	Resolver controlplane.PortResolver

	Address string
	Args    []any
}

type trackedConn struct {
	conn        routingtable.Connection
	connectedAt time.Time
}

// Router is the message hub. It is safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	config *Config

	table   *internalrt.InMemoryRoutingTable
	blobs   *blob.Coordinator
	handler *controlplane.Handler
	history *history.Log

	connections map[string]trackedConn

	started   bool
	closed    bool
	startedAt time.Time
}

// New creates a router with the given configuration. Call Start before
// dispatching.
func New(config *Config) (*Router, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	blobs := blob.NewCoordinator()
	r := &Router{
		config: config,
		table: internalrt.NewInMemoryRoutingTable(
			internalrt.WithSendTimeout(config.SendTimeout),
			internalrt.WithTargetResolver(blobs),
		),
		blobs:       blobs,
		history:     history.New(config.HistorySize),
		connections: make(map[string]trackedConn),
	}
	r.handler = controlplane.NewHandler(r.table, blobs, r, controlplane.Config{
		DefaultBlobPort:      config.DefaultBlobPort,
		DefaultBlobTransport: config.DefaultBlobTransport,
		ReplyTimeout:         config.SendTimeout,
	})
	return r, nil
}

// Start marks the router ready to dispatch. It is idempotent.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.started {
		return nil
	}

	r.started = true
	r.startedAt = time.Now()
	log.Info().Str("node_id", r.config.NodeID).Msg("Router started")
	return nil
}

// Stop stops dispatching. Subscriptions are kept. It is idempotent.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}
	r.started = false
	log.Info().Str("node_id", r.config.NodeID).Msg("Router stopped")
	return nil
}

// Close disconnects every tracked connection and releases all state.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.started = false

	conns := make([]routingtable.Connection, 0, len(r.connections))
	for _, tc := range r.connections {
		conns = append(conns, tc.conn)
	}
	r.connections = make(map[string]trackedConn)
	r.mu.Unlock()

	for _, conn := range conns {
		r.blobs.Drop(conn)
		metrics.Connections.With(conn.Kind().String()).Dec()
		if closer, ok := conn.(io.Closer); ok {
			closer.Close()
		}
	}

	if err := r.table.Close(); err != nil {
		return fmt.Errorf("failed to close routing table: %w", err)
	}
	if err := r.history.Close(); err != nil {
		return fmt.Errorf("failed to close history: %w", err)
	}
	return nil
}

func (r *Router) checkRunning() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}
	if !r.started {
		return ErrNotStarted
	}
	return nil
}

// Answered reports whether a failed Dispatch of address was already answered
// on the error address by the control plane. Transports reply themselves
// when it was not.
func Answered(address string, err error) bool {
	if errors.Is(err, ErrNotStarted) || errors.Is(err, ErrClosed) {
		return false
	}
	return control.IsControl(address)
}

// Dispatch routes an inbound message: control addresses go to the control
// plane, everything else is published.
func (r *Router) Dispatch(ctx context.Context, in Inbound) error {
	if err := r.checkRunning(); err != nil {
		return err
	}

	if control.IsControl(in.Address) {
		return r.handler.Handle(ctx, controlplane.Request{
			Sender:   in.Sender,
			Resolver: in.Resolver,
			Address:  in.Address,
			Args:     in.Args,
		})
	}

	source := routingtable.LocalConnection.String()
	if in.Sender != nil {
		source = in.Sender.Kind().String()
	}
	_, err := r.Publish(ctx, source, in.Address, in.Args)
	return err
}

// Publish delivers a data message and records it in the history log.
// Reserved control addresses are rejected.
func (r *Router) Publish(ctx context.Context, source, addr string, args []any) (routingtable.PublishResult, error) {
	if err := r.checkRunning(); err != nil {
		return routingtable.PublishResult{}, err
	}
	if control.IsControl(addr) {
		return routingtable.PublishResult{}, fmt.Errorf("%w: %s", ErrControlAddress, addr)
	}

	normalized, err := address.Normalize(addr)
	if err != nil {
		return routingtable.PublishResult{}, err
	}

	if _, err := r.history.Append(ctx, normalized, args, source); err != nil {
		log.Debug().Err(err).Str("address", normalized).Msg("History append failed")
	}

	result, err := r.table.Publish(ctx, normalized, args)
	if err != nil {
		return result, err
	}
	metrics.MessagesPublished.With(source).Inc()
	return result, nil
}

// Subscribe registers conn at addr and tracks it
func (r *Router) Subscribe(ctx context.Context, addr string, conn routingtable.Connection) error {
	if err := r.checkRunning(); err != nil {
		return err
	}
	if conn == nil {
		return routingtable.ErrNilConnection
	}
	if err := r.table.Subscribe(ctx, addr, conn); err != nil {
		return err
	}
	r.Track(conn)
	return nil
}

// UnsubscribeAll removes every subscription held by conn
func (r *Router) UnsubscribeAll(ctx context.Context, conn routingtable.Connection) error {
	return r.table.UnsubscribeAll(ctx, conn)
}

// ClearAll removes every subscription of every connection
func (r *Router) ClearAll(ctx context.Context) error {
	if err := r.table.ClearAll(ctx); err != nil {
		return err
	}
	log.Info().Msg("All subscriptions cleared")
	return nil
}

// Track registers conn in the connection table. Tracking twice is a no-op.
func (r *Router) Track(conn routingtable.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if _, exists := r.connections[conn.ID()]; exists {
		return
	}
	r.connections[conn.ID()] = trackedConn{conn: conn, connectedAt: time.Now()}
	metrics.Connections.With(conn.Kind().String()).Inc()
	log.Debug().Str("connection", conn.ID()).Str("kind", conn.Kind().String()).Msg("Connection tracked")
}

// Release disconnects a connection the control plane no longer references
func (r *Router) Release(ctx context.Context, conn routingtable.Connection) error {
	return r.Disconnect(ctx, conn)
}

// Disconnect removes every trace of conn: its subscriptions, the blob pairings
// where it is the subject or the target, and its connection table entry. A
// tracked connection implementing io.Closer is closed. Calling Disconnect
// twice for the same connection is safe.
func (r *Router) Disconnect(ctx context.Context, conn routingtable.Connection) error {
	if conn == nil {
		return routingtable.ErrNilConnection
	}

	if err := r.table.UnsubscribeAll(ctx, conn); err != nil && !errors.Is(err, routingtable.ErrClosed) {
		return fmt.Errorf("failed to remove subscriptions: %w", err)
	}

	for _, p := range r.blobs.Drop(conn) {
		if p.Subject == conn && !r.blobs.IsTarget(p.Target) {
			r.Disconnect(ctx, p.Target)
		}
	}

	if !r.untrack(conn) {
		return nil
	}
	metrics.Connections.With(conn.Kind().String()).Dec()
	log.Debug().Str("connection", conn.ID()).Str("kind", conn.Kind().String()).Msg("Connection disconnected")

	if closer, ok := conn.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Debug().Err(err).Str("connection", conn.ID()).Msg("Closing connection failed")
		}
	}
	return nil
}

// DisconnectByID disconnects the tracked connection with the given ID
func (r *Router) DisconnectByID(ctx context.Context, id string) error {
	r.mu.RLock()
	tc, ok := r.connections[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return r.Disconnect(ctx, tc.conn)
}

func (r *Router) untrack(conn routingtable.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tc, ok := r.connections[conn.ID()]
	if !ok || tc.conn != conn {
		return false
	}
	delete(r.connections, conn.ID())
	return true
}

// Connections returns every tracked connection
func (r *Router) Connections() []ConnectionInfo {
	r.mu.RLock()
	tracked := make([]trackedConn, 0, len(r.connections))
	for _, tc := range r.connections {
		tracked = append(tracked, tc)
	}
	r.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(tracked))
	for _, tc := range tracked {
		info := ConnectionInfo{
			ID:          tc.conn.ID(),
			Kind:        tc.conn.Kind().String(),
			ConnectedAt: tc.connectedAt,
			Subscribed:  r.table.IsSubscribed(tc.conn),
		}
		if p, ok := r.blobs.Pairing(tc.conn); ok {
			info.BlobPort = p.BlobPort
		}
		infos = append(infos, info)
	}
	return infos
}

// Subscriptions returns every (address, connection) pair
func (r *Router) Subscriptions(ctx context.Context) ([]SubscriptionInfo, error) {
	subs, err := r.table.GetAllSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]SubscriptionInfo, 0, len(subs))
	for _, sub := range subs {
		infos = append(infos, SubscriptionInfo{
			Address:      sub.Address,
			ConnectionID: sub.Connection.ID(),
			Kind:         sub.Connection.Kind().String(),
		})
	}
	return infos, nil
}

// History returns the recent-message log
func (r *Router) History() *history.Log {
	return r.history
}

// NodeID returns this router's identifier
func (r *Router) NodeID() string {
	return r.config.NodeID
}

// Stats returns aggregate counters
func (r *Router) Stats(ctx context.Context) (Stats, error) {
	subs, err := r.table.GetAllSubscriptions(ctx)
	if err != nil {
		return Stats{}, err
	}
	addresses, err := r.table.GetAddressCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	subscribers, err := r.table.GetSubscriberCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	historyStats, err := r.history.Statistics(ctx)
	if err != nil {
		return Stats{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	byKind := make(map[string]int)
	for _, tc := range r.connections {
		byKind[tc.conn.Kind().String()]++
	}

	var uptime time.Duration
	if r.started {
		uptime = time.Since(r.startedAt)
	}

	return Stats{
		NodeID:            r.config.NodeID,
		Uptime:            uptime,
		Connections:       len(r.connections),
		ConnectionsByKind: byKind,
		Subscriptions:     len(subs),
		Addresses:         addresses,
		Subscribers:       subscribers,
		BlobPairings:      r.blobs.Len(),
		History:           historyStats,
	}, nil
}

// Health returns the overall health status of this router
func (r *Router) Health(ctx context.Context) (HealthStatus, error) {
	r.mu.RLock()
	closed, started := r.closed, r.started
	clients := len(r.connections)
	r.mu.RUnlock()

	subs, tableErr := r.table.GetAllSubscriptions(ctx)
	_, historyErr := r.history.Statistics(ctx)

	status := HealthStatus{
		RoutingTableHealthy: tableErr == nil,
		HistoryHealthy:      historyErr == nil,
		ConnectedClients:    clients,
		Subscriptions:       len(subs),
	}
	status.Healthy = !closed && started && status.RoutingTableHealthy && status.HistoryHealthy

	switch {
	case closed:
		status.Message = "router is closed"
	case !started:
		status.Message = "router is not started"
	case !status.Healthy:
		status.Message = "router components degraded"
	default:
		status.Message = "ok"
	}
	return status, nil
}

// Verify that Router satisfies the control plane's tracker at compile time
var _ controlplane.Tracker = (*Router)(nil)
