package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
)

const bufSize = 1024 * 1024

type testBridge struct {
	router   *router.Router
	server   *Server
	listener *bufconn.Listener
}

func newTestBridge(t *testing.T, secret string) *testBridge {
	t.Helper()

	r, err := router.New(router.NewConfig("bridge-test"))
	if err != nil {
		t.Fatalf("Failed to create router: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start router: %v", err)
	}

	server, err := NewServer(&Config{ListenAddress: "bufnet", Secret: secret}, r)
	if err != nil {
		t.Fatalf("Failed to create bridge server: %v", err)
	}

	listener := bufconn.Listen(bufSize)
	go server.Serve(listener)

	t.Cleanup(func() {
		server.Close()
		r.Close()
	})
	return &testBridge{router: r, server: server, listener: listener}
}

func (tb *testBridge) dial(t *testing.T, secret string) *Client {
	t.Helper()
	client, err := Dial(context.Background(), "passthrough:///bufnet", secret,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return tb.listener.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("Failed to dial bridge: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func receiveWithin(t *testing.T, c *Client, timeout time.Duration) (string, []any) {
	t.Helper()
	type result struct {
		address string
		args    []any
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		address, args, err := c.Receive()
		ch <- result{address, args, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Receive failed: %v", r.err)
		}
		return r.address, r.args
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for a message")
		return "", nil
	}
}

func TestBridge_SubscribeAndPublish(t *testing.T) {
	tb := newTestBridge(t, "")
	subscriber := tb.dial(t, "")
	publisher := tb.dial(t, "")

	if err := subscriber.Subscribe("/bla/"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	address, args := receiveWithin(t, subscriber, 2*time.Second)
	if address != control.SubscribedAddress || len(args) != 1 || args[0] != "/bla" {
		t.Fatalf("Expected subscribed reply for /bla, got %s %v", address, args)
	}

	if err := publisher.Send("/bla/sub", 1, 2.5, []byte("blob")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	address, args = receiveWithin(t, subscriber, 2*time.Second)
	if address != "/bla/sub" {
		t.Errorf("Expected /bla/sub, got %s", address)
	}
	if len(args) != 3 || args[0] != int32(1) || args[1] != 2.5 || string(args[2].([]byte)) != "blob" {
		t.Errorf("Unexpected args: %#v", args)
	}
}

func TestBridge_ErrorReplies(t *testing.T) {
	tb := newTestBridge(t, "")
	client := tb.dial(t, "")

	if err := client.Send("no-slash", 1); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	address, args := receiveWithin(t, client, 2*time.Second)
	if address != control.ErrorAddress || len(args) != 1 {
		t.Errorf("Expected one error reply, got %s %v", address, args)
	}

	if err := client.Send(control.ConfigureAddress, 1, control.BlobClientKeyword); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	address, _ = receiveWithin(t, client, 2*time.Second)
	if address != control.ErrorAddress {
		t.Errorf("Expected blob pairing to be refused, got %s", address)
	}
}

func TestBridge_ControlRejectedWhileStopped(t *testing.T) {
	tb := newTestBridge(t, "")
	client := tb.dial(t, "")

	if err := tb.router.Stop(context.Background()); err != nil {
		t.Fatalf("Failed to stop router: %v", err)
	}
	if err := client.Send(control.SubscribeAddress, 1, "/a"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	address, args := receiveWithin(t, client, 2*time.Second)
	if address != control.ErrorAddress || len(args) != 1 {
		t.Fatalf("Expected one error reply, got %s %v", address, args)
	}
	if args[0] != router.ErrNotStarted.Error() {
		t.Errorf("Expected %q, got %v", router.ErrNotStarted.Error(), args[0])
	}
}

func TestBridge_ServerDisconnectEndsStream(t *testing.T) {
	tb := newTestBridge(t, "")
	client := tb.dial(t, "")

	if err := client.Subscribe("/a"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	receiveWithin(t, client, 2*time.Second)

	conns := tb.router.Connections()
	if len(conns) != 1 || conns[0].Kind != "grpc" {
		t.Fatalf("Expected one grpc connection, got %+v", conns)
	}
	if err := tb.router.DisconnectByID(context.Background(), conns[0].ID); err != nil {
		t.Fatalf("DisconnectByID failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := client.Receive()
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("Expected io.EOF after server disconnect, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not end after disconnect")
	}
}

func TestBridge_ClientCloseDisconnects(t *testing.T) {
	tb := newTestBridge(t, "")
	client := tb.dial(t, "")

	if err := client.Subscribe("/a"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	receiveWithin(t, client, 2*time.Second)
	client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(tb.router.Connections()) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("Connection still tracked after client close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBridge_Secret(t *testing.T) {
	tb := newTestBridge(t, "s3cret")

	bad := tb.dial(t, "wrong")
	_, _, err := bad.Receive()
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("Expected Unauthenticated, got %v", err)
	}

	good := tb.dial(t, "s3cret")
	if err := good.Subscribe("/a"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	address, _ := receiveWithin(t, good, 2*time.Second)
	if address != control.SubscribedAddress {
		t.Errorf("Expected subscribed reply, got %s", address)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (&Config{}).Validate(); err == nil {
		t.Error("Expected error for empty listen address")
	}

	config := &Config{ListenAddress: ":0"}
	config.SetDefaults()
	if config.SendQueueSize != 256 || config.MaxMessageSize != 4*1024*1024 {
		t.Errorf("Unexpected defaults: %+v", config)
	}
	if _, err := NewServer(nil, nil); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	frame, err := ToStruct("/x", []any{int32(3), "s", nil, true})
	if err != nil {
		t.Fatalf("ToStruct failed: %v", err)
	}
	address, args, err := FromStruct(frame)
	if err != nil {
		t.Fatalf("FromStruct failed: %v", err)
	}
	if address != "/x" || len(args) != 4 || args[0] != int32(3) || args[2] != nil || args[3] != true {
		t.Errorf("Unexpected frame: %s %#v", address, args)
	}

	empty, _ := ToStruct("", nil)
	if _, _, err := FromStruct(empty); err == nil {
		t.Error("Expected error for a frame without address")
	}
}
