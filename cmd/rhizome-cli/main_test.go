package main

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/rhizome-go/internal/httpapi"
	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// runCLI executes the root command with args and returns what it printed
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func liveServer(t *testing.T) (*router.Router, string) {
	t.Helper()

	r, err := router.New(router.NewConfig("cli-test"))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	api := httpapi.NewServer(r, httpapi.Config{
		SecretKey:   "cli-test-secret",
		AdminSecret: "admin-secret",
	})
	server := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		r.Close()
		server.CloseClientConnections()
		server.Close()
	})
	return r, server.URL
}

func TestMainCommandHelp(t *testing.T) {
	output, err := runCLI(t, "--help")
	require.NoError(t, err)

	for _, name := range []string{"auth", "publish", "stream", "history", "subscriptions", "connections", "stats", "health", "osc"} {
		assert.Contains(t, output, name)
	}
}

func TestParseArgsJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []any
		wantErr bool
	}{
		{"empty", "[]", []any{}, false},
		{"typed", `[1, 2.5, "x", {"blob": "AQI="}]`, []any{int32(1), 2.5, "x", []byte{1, 2}}, false},
		{"wide integer", `[3000000000]`, []any{float64(3000000000)}, false},
		{"not json", "invalid-json", nil, true},
		{"not an array", `{"a": 1}`, nil, true},
		{"object argument", `[{"a": 1}]`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgsJSON(tt.input)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid JSON args")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOSCArgs(t *testing.T) {
	got := parseOSCArgs([]string{"9001", "-3", "2.5", "/bla", "12abc"})
	assert.Equal(t, []any{int32(9001), int32(-3), float32(2.5), "/bla", "12abc"}, got)
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, `[1 2.5 "x" blob(3 bytes)]`, formatArgs([]any{int32(1), 2.5, "x", []byte{1, 2, 3}}))
	assert.Equal(t, `[blob(4 base64 chars)]`, formatArgs([]any{map[string]any{"blob": "AQI="}}))
	assert.Equal(t, "[]", formatArgs(nil))
}

func TestEnsureAuthenticated(t *testing.T) {
	t.Run("returns error when client is nil", func(t *testing.T) {
		originalClient := client
		client = nil
		defer func() { client = originalClient }()

		err := ensureAuthenticated(context.Background())
		assert.ErrorContains(t, err, "client not initialized")
	})

	t.Run("keeps an existing token", func(t *testing.T) {
		testClient, err := httpclient.NewClient(httpclient.Config{
			ServerURL: "http://localhost:1",
			ClientID:  "test-client",
			Timeout:   time.Second,
		})
		require.NoError(t, err)
		testClient.SetToken("test-token")

		originalClient := client
		client = testClient
		defer func() { client = originalClient }()

		require.NoError(t, ensureAuthenticated(context.Background()))
		assert.Equal(t, "test-token", client.GetToken())
	})
}

func TestGlobalFlags(t *testing.T) {
	_, err := runCLI(t, "--server", "http://example.com", "--client-id", "ops", "--secret", "s", "--timeout", "10s", "help")
	require.NoError(t, err)

	assert.Equal(t, "http://example.com", serverURL)
	assert.Equal(t, "ops", clientID)
	assert.Equal(t, "s", secret)
	assert.Equal(t, 10*time.Second, timeout)
}

func TestCommands_AgainstServer(t *testing.T) {
	r, url := liveServer(t)
	ctx := context.Background()

	sink := routingtable.NewRecorder("sink", routingtable.OSCUDP)
	require.NoError(t, r.Subscribe(ctx, "/bla", sink))

	t.Run("auth", func(t *testing.T) {
		output, err := runCLI(t, "--server", url, "auth")
		require.NoError(t, err)
		assert.Contains(t, output, "Authentication successful")
		assert.Contains(t, output, "Admin: false")
	})

	t.Run("publish", func(t *testing.T) {
		output, err := runCLI(t, "--server", url, "publish", "--address", "/bla", "--args-json", `[7, "hello"]`)
		require.NoError(t, err)
		assert.Contains(t, output, "Delivered: 1")

		received := sink.Received()
		require.Len(t, received, 1)
		assert.Equal(t, []any{int32(7), "hello"}, received[0].Args)
	})

	t.Run("publish_requires_address", func(t *testing.T) {
		_, err := runCLI(t, "--server", url, "publish")
		assert.Error(t, err)
	})

	t.Run("publish_invalid_args", func(t *testing.T) {
		_, err := runCLI(t, "--server", url, "publish", "--address", "/bla", "--args-json", "invalid-json")
		assert.ErrorContains(t, err, "invalid JSON args")
	})

	t.Run("history", func(t *testing.T) {
		output, err := runCLI(t, "--server", url, "history", "--address", "/bla")
		require.NoError(t, err)
		assert.Contains(t, output, "1 message(s) at /bla")
		assert.Contains(t, output, `[7 "hello"]`)
	})

	t.Run("stream_replay", func(t *testing.T) {
		output, err := runCLI(t, "--server", url, "stream", "--address", "/bla", "--offset", "0", "--max-messages", "1")
		require.NoError(t, err)
		assert.Contains(t, output, "#0")
		assert.Contains(t, output, `/bla [7 "hello"]`)
	})

	t.Run("admin_requires_secret", func(t *testing.T) {
		_, err := runCLI(t, "--server", url, "stats")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
	})

	t.Run("stats", func(t *testing.T) {
		output, err := runCLI(t, "--server", url, "--secret", "admin-secret", "stats")
		require.NoError(t, err)
		assert.Contains(t, output, "rhizome node cli-test")
		assert.Contains(t, output, "Retained Messages: 1")
	})

	t.Run("subscriptions", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			output, err := runCLI(t, "--server", url, "--secret", "admin-secret", "subscriptions")
			return err == nil && strings.Contains(output, "Found 1 subscription(s)")
		}, 2*time.Second, 20*time.Millisecond)

		output, err := runCLI(t, "--server", url, "--secret", "admin-secret", "subscriptions")
		require.NoError(t, err)
		assert.Contains(t, output, "/bla -> sink (osc)")
	})

	t.Run("connections", func(t *testing.T) {
		output, err := runCLI(t, "--server", url, "--secret", "admin-secret", "connections")
		require.NoError(t, err)
		assert.Contains(t, output, "sink (osc)")

		output, err = runCLI(t, "--server", url, "--secret", "admin-secret", "connections", "--disconnect", "sink")
		require.NoError(t, err)
		assert.Contains(t, output, "Disconnected sink")

		_, err = runCLI(t, "--server", url, "--secret", "admin-secret", "connections", "--disconnect", "sink")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("subscriptions_clear", func(t *testing.T) {
		require.NoError(t, r.Subscribe(ctx, "/blo", routingtable.NewRecorder("other", routingtable.WebSocket)))

		output, err := runCLI(t, "--server", url, "--secret", "admin-secret", "subscriptions", "--clear")
		require.NoError(t, err)
		assert.Contains(t, output, "All subscriptions cleared")

		subs, err := r.Subscriptions(ctx)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("health", func(t *testing.T) {
		output, err := runCLI(t, "--server", url, "health")
		require.NoError(t, err)
		assert.Contains(t, output, "Server is healthy")
	})
}

func TestHealth_Unhealthy(t *testing.T) {
	r, url := liveServer(t)
	require.NoError(t, r.Close())

	output, err := runCLI(t, "--server", url, "health")
	require.Error(t, err)
	assert.Contains(t, output, "Server is not healthy")
}

func TestOSCSend(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	to := conn.LocalAddr().String()
	output, err := runCLI(t, "osc", "send", "--to", to, "/sys/subscribe", "9001", "/bla", "0.5")
	require.NoError(t, err)
	assert.Contains(t, output, "Sent /sys/subscribe")

	buf := make([]byte, 65535)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)

	packet, err := goosc.ParsePacket(string(buf[:n]))
	require.NoError(t, err)
	msg, ok := packet.(*goosc.Message)
	require.True(t, ok)
	assert.Equal(t, "/sys/subscribe", msg.Address)
	assert.Equal(t, []any{int32(9001), "/bla", float32(0.5)}, msg.Arguments)
}

func TestOSCSend_InvalidInput(t *testing.T) {
	_, err := runCLI(t, "osc", "send", "--to", "localhost:9000", "bla")
	assert.ErrorContains(t, err, "must start with /")

	_, err = runCLI(t, "osc", "send", "--to", "nowhere", "/bla")
	assert.ErrorContains(t, err, "invalid --to")

	_, err = runCLI(t, "osc", "send")
	assert.Error(t, err)
}
