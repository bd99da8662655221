package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
)

const (
	testSecretKey   = "test-secret-key"
	testAdminSecret = "test-admin-secret"
)

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Router *router.Router
	Server *Server
	Tokens *Tokens
	HTTP   *httptest.Server
}

// NewTestServerSetup creates a started router behind an httptest server
func NewTestServerSetup(t *testing.T) *TestServerSetup {
	t.Helper()
	return NewTestServerSetupWithConfig(t, Config{
		SecretKey:         testSecretKey,
		AdminSecret:       testAdminSecret,
		KeepaliveInterval: 50 * time.Millisecond,
	})
}

// NewTestServerSetupWithConfig is NewTestServerSetup with explicit HTTP settings
func NewTestServerSetupWithConfig(t *testing.T, config Config) *TestServerSetup {
	t.Helper()

	r, err := router.New(router.NewConfig("test-node"))
	if err != nil {
		t.Fatalf("Failed to create router: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start router: %v", err)
	}

	server := NewServer(r, config)
	httpServer := httptest.NewServer(server.Handler())

	setup := &TestServerSetup{
		Router: r,
		Server: server,
		Tokens: server.tokens,
		HTTP:   httpServer,
	}
	t.Cleanup(setup.Close)
	return setup
}

// Close cleans up test resources
func (setup *TestServerSetup) Close() {
	setup.Router.Close()
	setup.HTTP.CloseClientConnections()
	setup.HTTP.Close()
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Tokens.Issue(clientID, isAdmin)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}

// Do sends a request to the test server with an optional bearer token
func (setup *TestServerSetup) Do(t *testing.T, method, path, token string, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, setup.HTTP.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := setup.HTTP.Client().Do(req)
	if err != nil {
		t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// SSEReader yields the lines of an SSE response on a channel
type SSEReader struct {
	Lines chan string
}

// NewSSEReader starts reading resp.Body line by line
func NewSSEReader(resp *http.Response) *SSEReader {
	reader := &SSEReader{Lines: make(chan string, 100)}
	go func() {
		defer close(reader.Lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			reader.Lines <- scanner.Text()
		}
	}()
	return reader
}

// Next returns the next line starting with prefix, skipping others
func (r *SSEReader) Next(t *testing.T, prefix string, timeout time.Duration) string {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-r.Lines:
			if !ok {
				t.Fatalf("SSE stream ended while waiting for %q", prefix)
			}
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for SSE line with prefix %q", prefix)
		}
	}
}

// WaitClosed blocks until the stream ends
func (r *SSEReader) WaitClosed(t *testing.T, timeout time.Duration) {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-r.Lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for SSE stream to close")
		}
	}
}
