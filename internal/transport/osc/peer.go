package osc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

var (
	// ErrPeerClosed is returned when sending through a closed peer
	ErrPeerClosed = errors.New("osc peer is closed")
	// ErrBlobUnreachable is returned while a blob peer waits out its redial backoff
	ErrBlobUnreachable = errors.New("blob client unreachable")
)

// RedialBackoff is how long a blob peer fails fast after a failed dial
const RedialBackoff = time.Second

// Peer is an OSC client reachable over UDP. Every peer writes through the
// server's socket so replies come from the port clients sent to.
type Peer struct {
	id     string
	addr   *net.UDPAddr
	socket *net.UDPConn

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func(*Peer)
}

func newPeer(socket *net.UDPConn, addr *net.UDPAddr, onClose func(*Peer)) *Peer {
	return &Peer{
		id:      "osc:" + addr.String(),
		addr:    addr,
		socket:  socket,
		closed:  make(chan struct{}),
		onClose: onClose,
	}
}

// ID returns "osc:host:port"
func (p *Peer) ID() string {
	return p.id
}

// Kind returns routingtable.OSCUDP
func (p *Peer) Kind() routingtable.ConnectionKind {
	return routingtable.OSCUDP
}

// Addr returns the peer's UDP address
func (p *Peer) Addr() *net.UDPAddr {
	return p.addr
}

// Send encodes one message and writes it as a single datagram
func (p *Peer) Send(ctx context.Context, address string, args []any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.closed:
		return ErrPeerClosed
	default:
	}

	data, err := Encode(address, args)
	if err != nil {
		return err
	}
	if _, err := p.socket.WriteToUDP(data, p.addr); err != nil {
		return fmt.Errorf("failed to write to %s: %w", p.addr, err)
	}
	return nil
}

// Close stops the peer and forgets it in its resolver. It is idempotent.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		if p.onClose != nil {
			p.onClose(p)
		}
	})
	return nil
}

// BlobPeer delivers messages to a blob client. Over TCP it dials lazily,
// frames each packet with a length prefix and redials after a write failure.
// Over UDP each message is one datagram.
type BlobPeer struct {
	id          string
	address     string
	transport   control.BlobTransport
	dialTimeout time.Duration

	mu         sync.Mutex
	conn       net.Conn
	closed     bool
	dialFailed time.Time
	onClose    func(*BlobPeer)
}

// NewBlobPeer creates a blob peer for host:port. Nothing is dialed until the
// first Send.
func NewBlobPeer(host string, port int, transport control.BlobTransport, dialTimeout time.Duration) *BlobPeer {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	return &BlobPeer{
		id:          fmt.Sprintf("blob:%s:%s", transport, address),
		address:     address,
		transport:   transport,
		dialTimeout: dialTimeout,
	}
}

// ID returns "blob:transport:host:port"
func (b *BlobPeer) ID() string {
	return b.id
}

// Kind returns routingtable.BlobTransport
func (b *BlobPeer) Kind() routingtable.ConnectionKind {
	return routingtable.BlobTransport
}

// Address returns the host:port the peer sends to
func (b *BlobPeer) Address() string {
	return b.address
}

// Send encodes one message and writes it to the blob client
func (b *BlobPeer) Send(ctx context.Context, address string, args []any) error {
	data, err := Encode(address, args)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrPeerClosed
	}
	if err := b.ensureConnLocked(ctx); err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		b.conn.SetWriteDeadline(deadline)
	} else {
		b.conn.SetWriteDeadline(time.Time{})
	}

	if b.transport == control.BlobTransportUDP {
		_, err = b.conn.Write(data)
	} else {
		err = WriteFrame(b.conn, data)
	}
	if err != nil {
		log.Debug().Err(err).Str("blob_connection", b.id).Msg("Blob write failed, dropping connection")
		b.conn.Close()
		b.conn = nil
		return fmt.Errorf("failed to write to blob client %s: %w", b.address, err)
	}
	return nil
}

func (b *BlobPeer) ensureConnLocked(ctx context.Context) error {
	if b.conn != nil {
		return nil
	}
	if !b.dialFailed.IsZero() && time.Since(b.dialFailed) < RedialBackoff {
		return fmt.Errorf("%w: %s", ErrBlobUnreachable, b.address)
	}

	dialer := net.Dialer{Timeout: b.dialTimeout}
	conn, err := dialer.DialContext(ctx, string(b.transport), b.address)
	if err != nil {
		b.dialFailed = time.Now()
		return fmt.Errorf("failed to dial blob client %s: %w", b.address, err)
	}
	b.dialFailed = time.Time{}
	b.conn = conn
	log.Debug().Str("blob_connection", b.id).Msg("Blob client connected")
	return nil
}

// Closed reports whether Close was called
func (b *BlobPeer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close closes the underlying connection and forgets the peer in its
// resolver. It is idempotent.
func (b *BlobPeer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var err error
	if b.conn != nil {
		err = b.conn.Close()
		b.conn = nil
	}
	onClose := b.onClose
	b.mu.Unlock()

	if onClose != nil {
		onClose(b)
	}
	return err
}
