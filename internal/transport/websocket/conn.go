package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/envelope"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// Conn is one browser or app socket. Deliveries are queued on the embedded
// client and written by a single writer goroutine.
type Conn struct {
	*router.Client

	ws     *websocket.Conn
	config Config

	closeOnce  sync.Once
	writerDone chan struct{}
}

func newConn(id string, ws *websocket.Conn, config Config) *Conn {
	return &Conn{
		Client:     router.NewClient(id, routingtable.WebSocket, config.OutboundBuffer),
		ws:         ws,
		config:     config,
		writerDone: make(chan struct{}),
	}
}

// RemoteAddr returns the peer address of the socket
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Close stops the writer, which sends a close frame and closes the socket.
// It is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.Client.Close()
	})
	return nil
}

// writeLoop drains the outbound queue and pings the peer until the conn is
// closed or a write fails
func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	defer c.ws.Close()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case d := <-c.Deliveries():
			data, err := envelope.Marshal(d.Address, d.Args)
			if err != nil {
				log.Warn().Err(err).Str("connection", c.ID()).Msg("Dropping unencodable message")
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("connection", c.ID()).Msg("WebSocket write failed")
				c.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Str("connection", c.ID()).Msg("WebSocket ping failed")
				c.Close()
				return
			}

		case <-c.Done():
			deadline := time.Now().Add(c.config.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

// readLoop reads frames until the socket fails. It returns the read error.
func (c *Conn) readLoop(ctx context.Context, handle func(data []byte)) error {
	c.ws.SetReadLimit(c.config.ReadLimit)
	c.ws.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.PongTimeout))

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handle(data)
	}
}
