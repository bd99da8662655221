package routingtable

import (
	"context"
	"sync"
)

// Message is a single (address, args) pair as seen by a connection
type Message struct {
	Address string
	Args    []any
}

// Recorder is an in-process connection that records every message it is sent.
// It is safe for concurrent use.
type Recorder struct {
	id   string
	kind ConnectionKind

	mu       sync.Mutex
	received []Message
	failWith error
}

// NewRecorder creates a recording connection with the given ID and kind
func NewRecorder(id string, kind ConnectionKind) *Recorder {
	return &Recorder{id: id, kind: kind}
}

// ID returns the unique identifier for this connection
func (r *Recorder) ID() string {
	return r.id
}

// Kind returns the configured connection kind
func (r *Recorder) Kind() ConnectionKind {
	return r.kind
}

// Send records the message, or returns the configured failure
func (r *Recorder) Send(ctx context.Context, address string, args []any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failWith != nil {
		return r.failWith
	}
	copied := make([]any, len(args))
	copy(copied, args)
	r.received = append(r.received, Message{Address: address, Args: copied})
	return nil
}

// FailWith makes every subsequent Send return err. Pass nil to recover.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

// Received returns a copy of the messages recorded so far
func (r *Recorder) Received() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, len(r.received))
	copy(out, r.received)
	return out
}

// Reset discards recorded messages
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = nil
}

// ConnectionFunc adapts a function into a Connection
type ConnectionFunc struct {
	id   string
	kind ConnectionKind
	fn   func(ctx context.Context, address string, args []any) error
}

// NewConnectionFunc creates a Connection whose Send calls fn
func NewConnectionFunc(id string, kind ConnectionKind, fn func(ctx context.Context, address string, args []any) error) *ConnectionFunc {
	return &ConnectionFunc{id: id, kind: kind, fn: fn}
}

// ID returns the unique identifier for this connection
func (c *ConnectionFunc) ID() string {
	return c.id
}

// Kind returns the configured connection kind
func (c *ConnectionFunc) Kind() ConnectionKind {
	return c.kind
}

// Send calls the wrapped function
func (c *ConnectionFunc) Send(ctx context.Context, address string, args []any) error {
	return c.fn(ctx, address, args)
}
