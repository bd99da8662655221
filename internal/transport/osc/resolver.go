package osc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/internal/controlplane"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// DefaultDialTimeout bounds dialing a TCP blob client
const DefaultDialTimeout = 2 * time.Second

// Resolver maps (sender host, client port) to a Peer. Peers are created on
// the first subscribe or configure request naming their port.
type Resolver struct {
	socket      *net.UDPConn
	usersLimit  int
	dialTimeout time.Duration

	peers    *xsync.MapOf[string, *Peer]
	createMu sync.Mutex

	// blob peers keyed by ID, shared by every client pairing to the same
	// host, port and transport
	blobs *xsync.MapOf[string, *BlobPeer]
}

// NewResolver creates a resolver writing through socket. A usersLimit of zero
// or less means unlimited.
func NewResolver(socket *net.UDPConn, usersLimit int, dialTimeout time.Duration) *Resolver {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &Resolver{
		socket:      socket,
		usersLimit:  usersLimit,
		dialTimeout: dialTimeout,
		peers:       xsync.NewMapOf[string, *Peer](),
		blobs:       xsync.NewMapOf[string, *BlobPeer](),
	}
}

// Sender returns an unregistered peer for the source of a datagram. It is
// used to answer requests that name no known port.
func (r *Resolver) Sender(addr *net.UDPAddr) *Peer {
	return newPeer(r.socket, addr, nil)
}

// Attach returns the peer at the sender's host and port, creating it unless
// the users limit is reached.
func (r *Resolver) Attach(ctx context.Context, sender routingtable.Connection, port int) (routingtable.Connection, error) {
	host, err := senderHost(sender)
	if err != nil {
		return nil, err
	}
	key := peerKey(host, port)
	if peer, ok := r.peers.Load(key); ok {
		return peer, nil
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	if peer, ok := r.peers.Load(key); ok {
		return peer, nil
	}
	if r.usersLimit > 0 && r.peers.Size() >= r.usersLimit {
		return nil, fmt.Errorf("%w: %d (users limit %d reached)", controlplane.ErrUnknownPort, port, r.usersLimit)
	}
	return r.createLocked(host, port)
}

// Lookup returns the existing peer at the sender's host and port
func (r *Resolver) Lookup(sender routingtable.Connection, port int) (routingtable.Connection, error) {
	host, err := senderHost(sender)
	if err != nil {
		return nil, err
	}
	peer, ok := r.peers.Load(peerKey(host, port))
	if !ok {
		return nil, fmt.Errorf("%w: %d", controlplane.ErrUnknownPort, port)
	}
	return peer, nil
}

// BlobEndpoint returns the blob peer on the subject's host, creating it on
// first use. Clients on one host pairing to the same port share one peer.
func (r *Resolver) BlobEndpoint(ctx context.Context, subject routingtable.Connection, port int, transport control.BlobTransport) (routingtable.Connection, error) {
	host, err := senderHost(subject)
	if err != nil {
		return nil, err
	}

	candidate := NewBlobPeer(host, port, transport, r.dialTimeout)
	candidate.onClose = r.forgetBlob
	peer, _ := r.blobs.Compute(candidate.ID(), func(current *BlobPeer, loaded bool) (*BlobPeer, bool) {
		if loaded && !current.Closed() {
			return current, false
		}
		return candidate, false
	})
	if peer == candidate {
		log.Debug().Str("blob_connection", peer.ID()).Msg("Blob peer registered")
	}
	return peer, nil
}

// BlobLen returns the number of live blob peers
func (r *Resolver) BlobLen() int {
	return r.blobs.Size()
}

// Peer returns the peer at host:port, creating it regardless of the users
// limit. It serves statically configured subscriptions.
func (r *Resolver) Peer(ctx context.Context, host string, port int) (routingtable.Connection, error) {
	ip, err := resolveHost(ctx, host)
	if err != nil {
		return nil, err
	}
	key := peerKey(ip, port)
	if peer, ok := r.peers.Load(key); ok {
		return peer, nil
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	if peer, ok := r.peers.Load(key); ok {
		return peer, nil
	}
	return r.createLocked(ip, port)
}

// Len returns the number of registered peers
func (r *Resolver) Len() int {
	return r.peers.Size()
}

func (r *Resolver) createLocked(host string, port int) (*Peer, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s:%d: %w", host, port, err)
	}
	peer := newPeer(r.socket, addr, r.forget)
	r.peers.Store(peerKey(host, port), peer)
	log.Debug().Str("connection", peer.ID()).Msg("OSC peer registered")
	return peer, nil
}

func (r *Resolver) forget(p *Peer) {
	key := peerKey(p.addr.IP.String(), p.addr.Port)
	r.peers.Compute(key, func(current *Peer, loaded bool) (*Peer, bool) {
		// only drop the entry if it still points at p
		return current, !loaded || current == p
	})
}

func (r *Resolver) forgetBlob(b *BlobPeer) {
	r.blobs.Compute(b.ID(), func(current *BlobPeer, loaded bool) (*BlobPeer, bool) {
		return current, !loaded || current == b
	})
}

func peerKey(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func senderHost(sender routingtable.Connection) (string, error) {
	switch s := sender.(type) {
	case *Peer:
		return s.addr.IP.String(), nil
	case nil:
		return "", fmt.Errorf("%w: no sender", controlplane.ErrUnknownPort)
	default:
		return "", fmt.Errorf("%w: %s is not an osc peer", controlplane.ErrUnknownPort, sender.ID())
	}
}

func resolveHost(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return "", fmt.Errorf("failed to resolve host %s: %w", host, err)
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no address for host %s", host)
	}
	return ips[0].String(), nil
}
