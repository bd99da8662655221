// Package controlplane interprets the reserved control addresses that arrive
// on the data path. It mutates subscriptions and blob pairings and answers the
// requesting client on the matching reply address.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/internal/blob"
	"github.com/rmacdonaldsmith/rhizome-go/internal/metrics"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/address"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// DefaultReplyTimeout bounds a single reply or forwarded blob request
const DefaultReplyTimeout = 2 * time.Second

// Subscriptions is the part of the routing table the handler mutates
type Subscriptions interface {
	Subscribe(ctx context.Context, address string, conn routingtable.Connection) error
	UnsubscribeAll(ctx context.Context, conn routingtable.Connection) error
}

// Tracker is told about connections the handler brings into existence or
// stops using
type Tracker interface {
	Track(conn routingtable.Connection)
	Release(ctx context.Context, conn routingtable.Connection) error
}

// Request is one inbound control message
type Request struct {
	// Sender is the raw connection the message arrived on
	Sender routingtable.Connection

	// Resolver maps client ports for Sender's transport
	Resolver PortResolver

	Address string
	Args    []any
}

// Config holds handler settings
type Config struct {
	DefaultBlobPort      int
	DefaultBlobTransport control.BlobTransport
	ReplyTimeout         time.Duration
}

// Handler executes control requests
type Handler struct {
	subs    Subscriptions
	blobs   *blob.Coordinator
	tracker Tracker
	config  Config
}

// NewHandler creates a handler. tracker may be nil.
func NewHandler(subs Subscriptions, blobs *blob.Coordinator, tracker Tracker, config Config) *Handler {
	if config.DefaultBlobPort == 0 {
		config.DefaultBlobPort = control.DefaultBlobPort
	}
	if config.DefaultBlobTransport == "" {
		config.DefaultBlobTransport = control.BlobTransportTCP
	}
	if config.ReplyTimeout <= 0 {
		config.ReplyTimeout = DefaultReplyTimeout
	}
	return &Handler{subs: subs, blobs: blobs, tracker: tracker, config: config}
}

// Handle executes req. User errors are answered on the error address and
// also returned; a nil error means the request was applied or ignored.
func (h *Handler) Handle(ctx context.Context, req Request) error {
	if req.Resolver == nil {
		req.Resolver = SelfResolver{}
	}

	var err error
	switch req.Address {
	case control.SubscribeAddress:
		err = h.handleSubscribe(ctx, req)
	case control.UnsubscribeAddress:
		err = h.handleUnsubscribe(ctx, req)
	case control.ConfigureAddress:
		err = h.handleConfigure(ctx, req)
	case control.SendBlobAddress:
		err = h.handleSendBlob(ctx, req)
	default:
		err = h.replyError(ctx, req.Sender, fmt.Errorf("%w: %s is reserved for server replies", ErrMalformed, req.Address))
	}

	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
		log.Info().
			Err(err).
			Str("address", req.Address).
			Str("connection", connID(req.Sender)).
			Msg("Control request rejected")
	}
	metrics.ControlMessages.With(req.Address, result).Inc()
	return err
}

// handleSubscribe: [clientPort, address] -> subscribed [address]
func (h *Handler) handleSubscribe(ctx context.Context, req Request) error {
	if len(req.Args) < 2 {
		return h.replyError(ctx, req.Sender, fmt.Errorf("%w: %s expects [port, address]", ErrMalformed, req.Address))
	}
	port, err := portArg(req.Args[0])
	if err != nil {
		return h.replyError(ctx, req.Sender, err)
	}

	conn, ok := h.attach(ctx, req, port)
	if !ok {
		return nil
	}

	raw, err := stringArg(req.Args[1], "address")
	if err != nil {
		return h.replyError(ctx, conn, err)
	}
	normalized, err := address.Normalize(raw)
	if err != nil {
		return h.replyError(ctx, conn, err)
	}

	if err := h.subs.Subscribe(ctx, normalized, conn); err != nil {
		return h.replyError(ctx, conn, err)
	}

	log.Debug().Str("address", normalized).Str("connection", conn.ID()).Int("port", port).Msg("Subscribed")
	h.reply(ctx, conn, control.SubscribedAddress, []any{normalized})
	return nil
}

// handleUnsubscribe: [clientPort] -> unsubscribed []
func (h *Handler) handleUnsubscribe(ctx context.Context, req Request) error {
	if len(req.Args) < 1 {
		return h.replyError(ctx, req.Sender, fmt.Errorf("%w: %s expects [port]", ErrMalformed, req.Address))
	}
	port, err := portArg(req.Args[0])
	if err != nil {
		return h.replyError(ctx, req.Sender, err)
	}

	conn, err := req.Resolver.Lookup(req.Sender, port)
	if err != nil {
		log.Debug().Err(err).Int("port", port).Msg("Unsubscribe for unknown port ignored")
		return nil
	}

	if err := h.subs.UnsubscribeAll(ctx, conn); err != nil {
		return h.replyError(ctx, conn, err)
	}
	h.reply(ctx, conn, control.UnsubscribedAddress, []any{})
	return nil
}

// handleConfigure: [clientPort, "blobClient", blobPort?, transport?] -> configured [blobPort]
func (h *Handler) handleConfigure(ctx context.Context, req Request) error {
	if len(req.Args) < 2 {
		return h.replyError(ctx, req.Sender, fmt.Errorf("%w: %s expects [port, %q, blobPort?]", ErrMalformed, req.Address, control.BlobClientKeyword))
	}
	port, err := portArg(req.Args[0])
	if err != nil {
		return h.replyError(ctx, req.Sender, err)
	}

	conn, ok := h.attach(ctx, req, port)
	if !ok {
		return nil
	}

	keyword, err := stringArg(req.Args[1], "client type")
	if err != nil {
		return h.replyError(ctx, conn, err)
	}
	if keyword != control.BlobClientKeyword {
		return h.replyError(ctx, conn, fmt.Errorf("%w: unknown client type %q", ErrMalformed, keyword))
	}

	blobPort := h.config.DefaultBlobPort
	if len(req.Args) > 2 {
		if blobPort, err = portArg(req.Args[2]); err != nil {
			return h.replyError(ctx, conn, err)
		}
	}

	transport := h.config.DefaultBlobTransport
	if len(req.Args) > 3 {
		name, err := stringArg(req.Args[3], "blob transport")
		if err != nil {
			return h.replyError(ctx, conn, err)
		}
		transport = control.BlobTransport(name)
		if !transport.Valid() {
			return h.replyError(ctx, conn, fmt.Errorf("%w: unknown blob transport %q", ErrMalformed, name))
		}
	}

	target, err := req.Resolver.BlobEndpoint(ctx, conn, blobPort, transport)
	if err != nil {
		return h.replyError(ctx, conn, err)
	}
	if h.tracker != nil {
		h.tracker.Track(target)
	}

	previous, replaced := h.blobs.Configure(blob.Pairing{
		Subject:    conn,
		ClientPort: port,
		Target:     target,
		BlobPort:   blobPort,
		Transport:  transport,
	})
	if replaced && previous.Target != target && !h.blobs.IsTarget(previous.Target) {
		h.release(ctx, previous.Target)
	}

	log.Debug().
		Str("connection", conn.ID()).
		Int("port", port).
		Int("blob_port", blobPort).
		Str("transport", string(transport)).
		Msg("Blob client configured")
	h.reply(ctx, conn, control.ConfiguredAddress, []any{int32(blobPort)})
	return nil
}

// handleSendBlob: [clientPort, targetAddress, filePath, params...] -> forwarded to the blob client
func (h *Handler) handleSendBlob(ctx context.Context, req Request) error {
	if len(req.Args) < 3 {
		return h.replyError(ctx, req.Sender, fmt.Errorf("%w: %s expects [port, address, path, ...]", ErrMalformed, req.Address))
	}
	port, err := portArg(req.Args[0])
	if err != nil {
		return h.replyError(ctx, req.Sender, err)
	}

	conn, err := req.Resolver.Lookup(req.Sender, port)
	if err != nil {
		return h.replyError(ctx, req.Sender, err)
	}

	raw, err := stringArg(req.Args[1], "address")
	if err != nil {
		return h.replyError(ctx, conn, err)
	}
	target, err := address.Normalize(raw)
	if err != nil {
		return h.replyError(ctx, conn, err)
	}
	filePath, err := stringArg(req.Args[2], "file path")
	if err != nil {
		return h.replyError(ctx, conn, err)
	}

	pairing, ok := h.blobs.Pairing(conn)
	if !ok {
		return h.replyError(ctx, conn, fmt.Errorf("%w for port %d", ErrNotConfigured, port))
	}

	forward := make([]any, 0, len(req.Args)-1)
	forward = append(forward, target, filePath)
	forward = append(forward, req.Args[3:]...)

	sendCtx, cancel := context.WithTimeout(ctx, h.config.ReplyTimeout)
	defer cancel()
	if err := pairing.Target.Send(sendCtx, control.SendBlobAddress, forward); err != nil {
		log.Warn().Err(err).Str("blob_connection", pairing.Target.ID()).Msg("Forwarding blob request failed")
		return h.replyError(ctx, conn, fmt.Errorf("blob client unreachable on port %d: %w", pairing.BlobPort, err))
	}
	return nil
}

// attach resolves port, treating an unknown port as a silent no-op
func (h *Handler) attach(ctx context.Context, req Request, port int) (routingtable.Connection, bool) {
	conn, err := req.Resolver.Attach(ctx, req.Sender, port)
	if err != nil {
		if !errors.Is(err, ErrUnknownPort) {
			log.Warn().Err(err).Int("port", port).Msg("Resolving client port failed")
		} else {
			log.Debug().Err(err).Int("port", port).Msg("Control request for unknown port ignored")
		}
		return nil, false
	}
	if h.tracker != nil && conn != req.Sender {
		h.tracker.Track(conn)
	}
	return conn, true
}

// release hands a connection that is no longer referenced back to the tracker
func (h *Handler) release(ctx context.Context, conn routingtable.Connection) {
	if h.tracker != nil {
		if err := h.tracker.Release(ctx, conn); err != nil {
			log.Debug().Err(err).Str("connection", conn.ID()).Msg("Releasing connection failed")
		}
		return
	}
	if closer, ok := conn.(io.Closer); ok {
		closer.Close()
	}
}

// replyError sends err's message on the error address and returns err
func (h *Handler) replyError(ctx context.Context, to routingtable.Connection, err error) error {
	h.reply(ctx, to, control.ErrorAddress, []any{err.Error()})
	return err
}

func (h *Handler) reply(ctx context.Context, to routingtable.Connection, addr string, args []any) {
	if to == nil {
		return
	}
	replyCtx, cancel := context.WithTimeout(ctx, h.config.ReplyTimeout)
	defer cancel()

	if err := to.Send(replyCtx, addr, args); err != nil {
		log.Warn().Err(err).Str("address", addr).Str("connection", to.ID()).Msg("Control reply failed")
	}
}

func connID(conn routingtable.Connection) string {
	if conn == nil {
		return ""
	}
	return conn.ID()
}
