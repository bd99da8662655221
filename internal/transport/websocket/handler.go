// Package websocket serves the router to WebSocket clients. Each socket
// carries JSON frames in both directions; see package envelope.
package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/internal/controlplane"
	"github.com/rmacdonaldsmith/rhizome-go/internal/metrics"
	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/envelope"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// Default socket settings
const (
	DefaultOutboundBuffer = 256
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPingInterval   = 30 * time.Second
	DefaultReadLimit      = 4 << 20
)

// Hub is the part of the router a socket talks to
type Hub interface {
	Dispatch(ctx context.Context, in router.Inbound) error
	Track(conn routingtable.Connection)
	Disconnect(ctx context.Context, conn routingtable.Connection) error
}

// Config holds per-socket settings
type Config struct {
	OutboundBuffer int
	WriteTimeout   time.Duration
	PingInterval   time.Duration

	// PongTimeout is how long a socket may stay silent; defaults to twice
	// the ping interval
	PongTimeout time.Duration

	ReadLimit int64
}

func (c Config) withDefaults() Config {
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = DefaultOutboundBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 2 * c.PingInterval
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	return c
}

// Handler upgrades HTTP requests and runs one Conn per socket
type Handler struct {
	hub      Hub
	config   Config
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket handler bound to hub
func NewHandler(hub Hub, config Config) *Handler {
	return &Handler{
		hub:    hub,
		config: config.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and blocks until the socket closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	conn := newConn("ws-"+uuid.NewString(), ws, h.config)
	h.hub.Track(conn)
	log.Info().Str("connection", conn.ID()).Str("remote_addr", r.RemoteAddr).Msg("WebSocket client connected")

	go conn.writeLoop()

	ctx := r.Context()
	err = conn.readLoop(ctx, func(data []byte) { h.handleFrame(ctx, conn, data) })
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Debug().Err(err).Str("connection", conn.ID()).Msg("WebSocket read ended")
	}

	if err := h.hub.Disconnect(context.WithoutCancel(ctx), conn); err != nil {
		log.Warn().Err(err).Str("connection", conn.ID()).Msg("Disconnect failed")
	}
	conn.Close()
	<-conn.writerDone
	log.Info().Str("connection", conn.ID()).Msg("WebSocket client disconnected")
}

func (h *Handler) handleFrame(ctx context.Context, conn *Conn, data []byte) {
	address, args, err := envelope.Unmarshal(data)
	if err != nil {
		metrics.InboundPackets.With(routingtable.WebSocket.String(), metrics.ResultError).Inc()
		h.replyError(ctx, conn, err)
		return
	}
	metrics.InboundPackets.With(routingtable.WebSocket.String(), metrics.ResultOK).Inc()

	err = h.hub.Dispatch(ctx, router.Inbound{
		Sender:   conn,
		Resolver: controlplane.SelfResolver{},
		Address:  address,
		Args:     args,
	})
	if err != nil && !router.Answered(address, err) {
		h.replyError(ctx, conn, err)
	}
}

func (h *Handler) replyError(ctx context.Context, conn *Conn, err error) {
	sendCtx, cancel := context.WithTimeout(ctx, h.config.WriteTimeout)
	defer cancel()
	if sendErr := conn.Send(sendCtx, control.ErrorAddress, []any{err.Error()}); sendErr != nil {
		log.Debug().Err(sendErr).Str("connection", conn.ID()).Msg("Error reply failed")
	}
}
