package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/rhizome-go/internal/controlplane"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/address"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

func newStartedRouter(t *testing.T) *Router {
	t.Helper()
	r, err := New(NewConfig("test-node"))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { r.Close() })
	return r
}

// closingRecorder records Close calls on top of a Recorder
type closingRecorder struct {
	*routingtable.Recorder
	mu     sync.Mutex
	closed int
}

func newClosingRecorder(id string, kind routingtable.ConnectionKind) *closingRecorder {
	return &closingRecorder{Recorder: routingtable.NewRecorder(id, kind)}
}

func (c *closingRecorder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *closingRecorder) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// portMap resolves ports to pre-registered connections and builds blob
// endpoints on demand
type portMap struct {
	mu    sync.Mutex
	peers map[int]*closingRecorder
	blobs map[int]*closingRecorder
}

func newPortMap(ports ...int) *portMap {
	m := &portMap{peers: make(map[int]*closingRecorder), blobs: make(map[int]*closingRecorder)}
	for _, p := range ports {
		m.peers[p] = newClosingRecorder(fmt.Sprintf("peer-%d", p), routingtable.OSCUDP)
	}
	return m
}

func (m *portMap) Attach(ctx context.Context, sender routingtable.Connection, port int) (routingtable.Connection, error) {
	return m.Lookup(sender, port)
}

func (m *portMap) Lookup(sender routingtable.Connection, port int) (routingtable.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[port]; ok {
		return p, nil
	}
	return nil, controlplane.ErrUnknownPort
}

func (m *portMap) BlobEndpoint(ctx context.Context, subject routingtable.Connection, port int, transport control.BlobTransport) (routingtable.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.blobs[port]; ok {
		return b, nil
	}
	b := newClosingRecorder(fmt.Sprintf("blob-%d", port), routingtable.BlobTransport)
	m.blobs[port] = b
	return b, nil
}

func (m *portMap) Peer(ctx context.Context, host string, port int) (routingtable.Connection, error) {
	return m.Lookup(nil, port)
}

func TestDispatch_EndToEnd(t *testing.T) {
	r := newStartedRouter(t)
	ctx := context.Background()

	c1 := routingtable.NewRecorder("c1", routingtable.WebSocket)
	c2 := routingtable.NewRecorder("c2", routingtable.WebSocket)
	require.NoError(t, r.Subscribe(ctx, "/", c1))
	require.NoError(t, r.Subscribe(ctx, "/bla", c2))

	publisher := routingtable.NewRecorder("pub", routingtable.OSCUDP)
	require.NoError(t, r.Dispatch(ctx, Inbound{Sender: publisher, Address: "/bla/sub", Args: []any{int32(1), int32(2)}}))

	expected := []routingtable.Message{{Address: "/bla/sub", Args: []any{int32(1), int32(2)}}}
	assert.Equal(t, expected, c1.Received())
	assert.Equal(t, expected, c2.Received())

	entries, err := r.History().Read(ctx, "/bla/sub", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "osc", entries[0].Source)
}

func TestDispatch_InvalidAddress(t *testing.T) {
	r := newStartedRouter(t)

	err := r.Dispatch(context.Background(), Inbound{Address: "bla"})
	assert.ErrorIs(t, err, address.ErrInvalidAddress)
}

func TestDispatch_ControlMessages(t *testing.T) {
	r := newStartedRouter(t)
	ctx := context.Background()
	ports := newPortMap(9001)
	sender := routingtable.NewRecorder("raw", routingtable.OSCUDP)

	require.NoError(t, r.Dispatch(ctx, Inbound{
		Sender:   sender,
		Resolver: ports,
		Address:  control.SubscribeAddress,
		Args:     []any{int32(9001), "/bla"},
	}))

	peer := ports.peers[9001]
	assert.Equal(t, []routingtable.Message{{Address: control.SubscribedAddress, Args: []any{"/bla"}}}, peer.Received())

	conns := r.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "peer-9001", conns[0].ID)
	assert.True(t, conns[0].Subscribed)

	// Reply addresses sent by clients are malformed
	err := r.Dispatch(ctx, Inbound{Sender: sender, Resolver: ports, Address: control.ErrorAddress, Args: []any{"x"}})
	assert.ErrorIs(t, err, controlplane.ErrMalformed)
}

func TestAnswered(t *testing.T) {
	tests := []struct {
		name    string
		address string
		err     error
		want    bool
	}{
		{"control error", control.SubscribeAddress, controlplane.ErrMalformed, true},
		{"data error", "/bla", address.ErrInvalidAddress, false},
		{"control before start", control.SubscribeAddress, ErrNotStarted, false},
		{"control after close", control.ConfigureAddress, fmt.Errorf("dispatch: %w", ErrClosed), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Answered(tt.address, tt.err))
		})
	}
}

func TestPublish_RejectsControlAddresses(t *testing.T) {
	r := newStartedRouter(t)

	_, err := r.Publish(context.Background(), "http", control.SubscribeAddress, nil)
	assert.ErrorIs(t, err, ErrControlAddress)
}

func TestPublish_ReportsDeliveryCounts(t *testing.T) {
	r := newStartedRouter(t)
	ctx := context.Background()

	ok := routingtable.NewRecorder("ok", routingtable.WebSocket)
	broken := routingtable.NewRecorder("broken", routingtable.WebSocket)
	broken.FailWith(errors.New("gone"))
	r.Subscribe(ctx, "/a", ok)
	r.Subscribe(ctx, "/a", broken)

	result, err := r.Publish(ctx, "http", "/a/b", nil)
	require.NoError(t, err)
	assert.Equal(t, routingtable.PublishResult{Delivered: 1, Failed: 1}, result)
}

func TestDisconnect_RemovesSubscriptionsAndPairings(t *testing.T) {
	r := newStartedRouter(t)
	ctx := context.Background()
	ports := newPortMap(9001, 9002)
	sender := routingtable.NewRecorder("raw", routingtable.OSCUDP)

	dispatch := func(addr string, args ...any) {
		require.NoError(t, r.Dispatch(ctx, Inbound{Sender: sender, Resolver: ports, Address: addr, Args: args}))
	}
	dispatch(control.ConfigureAddress, int32(9001), control.BlobClientKeyword, int32(44444))
	dispatch(control.ConfigureAddress, int32(9002), control.BlobClientKeyword, int32(44445))
	dispatch(control.SubscribeAddress, int32(9001), "/blo")
	dispatch(control.SubscribeAddress, int32(9002), "/blo")

	peer := ports.peers[9001]
	blob := ports.blobs[44444]
	require.Len(t, r.Connections(), 4)

	require.NoError(t, r.Disconnect(ctx, peer))

	assert.False(t, r.table.IsSubscribed(peer))
	_, paired := r.blobs.Pairing(peer)
	assert.False(t, paired)
	assert.Equal(t, 1, peer.closeCount())
	assert.Equal(t, 1, blob.closeCount(), "unreferenced blob endpoint is released")
	assert.Len(t, r.Connections(), 2)

	// Idempotent
	require.NoError(t, r.Disconnect(ctx, peer))
	assert.Equal(t, 1, peer.closeCount())

	// The other client keeps working
	r.Publish(ctx, "osc", "/blo", []any{[]byte("x")})
	assert.Len(t, ports.blobs[44445].Received(), 1)
}

func TestDisconnect_BlobTargetDropsPairing(t *testing.T) {
	r := newStartedRouter(t)
	ctx := context.Background()
	ports := newPortMap(9001)
	sender := routingtable.NewRecorder("raw", routingtable.OSCUDP)

	require.NoError(t, r.Dispatch(ctx, Inbound{Sender: sender, Resolver: ports, Address: control.ConfigureAddress,
		Args: []any{int32(9001), control.BlobClientKeyword}}))
	require.NoError(t, r.Dispatch(ctx, Inbound{Sender: sender, Resolver: ports, Address: control.SubscribeAddress,
		Args: []any{int32(9001), "/blo"}}))

	require.NoError(t, r.Disconnect(ctx, ports.blobs[44444]))

	peer := ports.peers[9001]
	peer.Reset()
	r.Publish(ctx, "osc", "/blo", []any{[]byte("inline")})
	assert.Equal(t, []routingtable.Message{{Address: "/blo", Args: []any{[]byte("inline")}}}, peer.Received())
}

func TestDisconnectByID(t *testing.T) {
	r := newStartedRouter(t)
	ctx := context.Background()

	client := NewClient("ws-1", routingtable.WebSocket, 4)
	require.NoError(t, r.Subscribe(ctx, "/a", client))

	require.NoError(t, r.DisconnectByID(ctx, "ws-1"))
	assert.Empty(t, r.Connections())

	err := r.DisconnectByID(ctx, "ws-1")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestSubscriptionsAndStats(t *testing.T) {
	r := newStartedRouter(t)
	ctx := context.Background()

	ws := routingtable.NewRecorder("ws", routingtable.WebSocket)
	sse := routingtable.NewRecorder("sse", routingtable.SSEStream)
	r.Subscribe(ctx, "/a", ws)
	r.Subscribe(ctx, "/a/b", ws)
	r.Subscribe(ctx, "/c", sse)
	r.Publish(ctx, "http", "/a/b", nil)

	subs, err := r.Subscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 3)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-node", stats.NodeID)
	assert.Equal(t, 2, stats.Connections)
	assert.Equal(t, map[string]int{"websocket": 1, "sse": 1}, stats.ConnectionsByKind)
	assert.Equal(t, 3, stats.Subscriptions)
	assert.Equal(t, 3, stats.Addresses)
	assert.Equal(t, 2, stats.Subscribers)
	assert.Equal(t, int64(1), stats.History.TotalEntries)

	require.NoError(t, r.ClearAll(ctx))
	subs, _ = r.Subscriptions(ctx)
	assert.Empty(t, subs)
}

func TestApplyStaticSubscriptions(t *testing.T) {
	r := newStartedRouter(t)
	ctx := context.Background()
	ports := newPortMap(9001, 9002)

	err := r.ApplyStaticSubscriptions(ctx, ports, []StaticSubscription{
		{Host: "127.0.0.1", Port: 9001, Address: "/blo"},
		{Host: "127.0.0.1", Port: 9003, Address: "/blo"},
		{Host: "127.0.0.1", Port: 9002, Address: "bad"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, controlplane.ErrUnknownPort)
	assert.ErrorIs(t, err, address.ErrInvalidAddress)

	r.Publish(ctx, "osc", "/blo/x", nil)
	assert.Len(t, ports.peers[9001].Received(), 1)
	assert.Empty(t, ports.peers[9002].Received())
}
