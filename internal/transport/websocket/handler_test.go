package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/envelope"
)

type fixture struct {
	router *router.Router
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r, err := router.New(router.NewConfig("ws-test"))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	srv := httptest.NewServer(NewHandler(r, Config{OutboundBuffer: 8, PingInterval: time.Second}))
	t.Cleanup(func() {
		r.Close()
		srv.Close()
	})
	return &fixture{router: r, server: srv}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, address string, args ...any) {
	t.Helper()
	data, err := envelope.Marshal(address, args)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func receive(t *testing.T, ws *websocket.Conn) (string, []any) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	address, args, err := envelope.Unmarshal(data)
	require.NoError(t, err)
	return address, args
}

func TestHandler_SubscribeAndPublish(t *testing.T) {
	f := newFixture(t)
	c1, c2, publisher := f.dial(t), f.dial(t), f.dial(t)

	send(t, c1, control.SubscribeAddress, 1, "/")
	addr, args := receive(t, c1)
	assert.Equal(t, control.SubscribedAddress, addr)
	assert.Equal(t, []any{"/"}, args)

	send(t, c2, control.SubscribeAddress, 1, "/bla/")
	addr, args = receive(t, c2)
	assert.Equal(t, control.SubscribedAddress, addr)
	assert.Equal(t, []any{"/bla"}, args)

	send(t, publisher, "/bla/sub", 1, 2)
	for _, ws := range []*websocket.Conn{c1, c2} {
		addr, args := receive(t, ws)
		assert.Equal(t, "/bla/sub", addr)
		assert.Equal(t, []any{int32(1), int32(2)}, args)
	}
}

func TestHandler_BlobsTravelAsBase64(t *testing.T) {
	f := newFixture(t)
	sub, publisher := f.dial(t), f.dial(t)

	send(t, sub, control.SubscribeAddress, 1, "/blo")
	receive(t, sub)

	send(t, publisher, "/blo", []byte("hahaha"), "hihi")
	require.NoError(t, sub.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := sub.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"/blo","args":[{"blob":"aGFoYWhh"},"hihi"]}`, string(data))
}

func TestHandler_ErrorReplies(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	addr, args := receive(t, ws)
	assert.Equal(t, control.ErrorAddress, addr)
	require.Len(t, args, 1)

	send(t, ws, "bla", 1)
	addr, _ = receive(t, ws)
	assert.Equal(t, control.ErrorAddress, addr, "invalid data address")

	send(t, ws, control.ConfigureAddress, 1, control.BlobClientKeyword)
	addr, args = receive(t, ws)
	assert.Equal(t, control.ErrorAddress, addr, "sockets cannot pair a blob client")
	require.Len(t, args, 1)
	assert.Contains(t, args[0], "blob")

	send(t, ws, control.SendBlobAddress, 1, "/bla", "/tmp/x")
	addr, _ = receive(t, ws)
	assert.Equal(t, control.ErrorAddress, addr, "send blob without pairing")
}

func TestHandler_ControlRejectedWhileStopped(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)

	require.Eventually(t, func() bool {
		return len(f.router.Connections()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.router.Stop(context.Background()))

	send(t, ws, control.SubscribeAddress, 1, "/a")
	addr, args := receive(t, ws)
	assert.Equal(t, control.ErrorAddress, addr)
	require.Len(t, args, 1)
	assert.Contains(t, args[0], router.ErrNotStarted.Error())
}

func TestHandler_CloseDisconnects(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)

	send(t, ws, control.SubscribeAddress, 1, "/a")
	receive(t, ws)

	conns := f.router.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "websocket", conns[0].Kind)
	assert.True(t, conns[0].Subscribed)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	ws.Close()

	require.Eventually(t, func() bool {
		return len(f.router.Connections()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	subs, err := f.router.Subscriptions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestHandler_AdminDisconnectClosesSocket(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)

	require.Eventually(t, func() bool {
		return len(f.router.Connections()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	id := f.router.Connections()[0].ID
	require.NoError(t, f.router.DisconnectByID(context.Background(), id))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestEnvelopeFrameShape(t *testing.T) {
	data, err := envelope.Marshal(control.SubscribedAddress, []any{"/a"})
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "/sys/subscribed", frame["address"])
}
