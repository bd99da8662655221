// Package blob pairs client connections with a separate blob-capable
// connection and reroutes binary payloads to it at dispatch time.
package blob

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/internal/metrics"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// Pairing links a client connection to the connection receiving its blobs
type Pairing struct {
	// Subject is the client that asked for blob delivery
	Subject routingtable.Connection

	// ClientPort is the subject's own port, prefixed to redirected args
	ClientPort int

	// Target is the blob transport connection
	Target routingtable.Connection

	// BlobPort is the port Target sends to
	BlobPort int

	// Transport is how Target reaches the blob client
	Transport control.BlobTransport

	ConfiguredAt time.Time
}

// Coordinator tracks at most one pairing per subject connection
type Coordinator struct {
	mu       sync.RWMutex
	pairings map[routingtable.Connection]Pairing
}

// NewCoordinator creates a coordinator with no pairings
func NewCoordinator() *Coordinator {
	return &Coordinator{pairings: make(map[routingtable.Connection]Pairing)}
}

// Configure registers p, replacing any pairing for the same subject. The
// replaced pairing is returned so the caller can release its target.
func (c *Coordinator) Configure(p Pairing) (Pairing, bool) {
	if p.ConfiguredAt.IsZero() {
		p.ConfiguredAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previous, replaced := c.pairings[p.Subject]
	c.pairings[p.Subject] = p
	return previous, replaced
}

// Pairing returns the pairing for subject
func (c *Coordinator) Pairing(subject routingtable.Connection) (Pairing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pairings[subject]
	return p, ok
}

// ResolveTarget returns the blob target and rewritten args when conn is paired
// and args carry at least one blob. Otherwise it returns conn and args unchanged.
func (c *Coordinator) ResolveTarget(conn routingtable.Connection, address string, args []any) (routingtable.Connection, []any) {
	if !ContainsBlob(args) {
		return conn, args
	}

	p, ok := c.Pairing(conn)
	if !ok {
		return conn, args
	}

	rewritten := make([]any, 0, len(args)+1)
	rewritten = append(rewritten, int32(p.ClientPort))
	rewritten = append(rewritten, args...)

	metrics.BlobRedirects.Inc()
	log.Debug().
		Str("address", address).
		Str("connection", conn.ID()).
		Str("blob_connection", p.Target.ID()).
		Int("blob_port", p.BlobPort).
		Msg("Redirecting blob")

	return p.Target, rewritten
}

// Drop removes every pairing where conn is the subject or the target and
// returns them. Dropping an unknown connection is a no-op.
func (c *Coordinator) Drop(conn routingtable.Connection) []Pairing {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dropped []Pairing
	for subject, p := range c.pairings {
		if subject == conn || p.Target == conn {
			dropped = append(dropped, p)
			delete(c.pairings, subject)
		}
	}
	return dropped
}

// IsTarget reports whether any pairing delivers to conn
func (c *Coordinator) IsTarget(conn routingtable.Connection) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.pairings {
		if p.Target == conn {
			return true
		}
	}
	return false
}

// Pairings returns a snapshot of every pairing
func (c *Coordinator) Pairings() []Pairing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Pairing, 0, len(c.pairings))
	for _, p := range c.pairings {
		out = append(out, p)
	}
	return out
}

// Len returns the number of pairings
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pairings)
}

// ContainsBlob reports whether any argument is a binary payload
func ContainsBlob(args []any) bool {
	for _, arg := range args {
		if _, ok := arg.([]byte); ok {
			return true
		}
	}
	return false
}
