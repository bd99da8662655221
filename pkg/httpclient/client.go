// Package httpclient is a Go client for the rhizome HTTP API: login, publish,
// history, the admin endpoints and the SSE message stream.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/envelope"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides HTTP client for the rhizome API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	isAdmin    bool
	baseURL    *url.URL
}

// NewClient creates a new rhizome HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	req := AuthRequest{
		ClientID: c.config.ClientID,
		Secret:   c.config.Secret,
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", req, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	c.isAdmin = authResp.IsAdmin
	return nil
}

// Publish sends a data message. []byte arguments are sent as blobs.
func (c *Client) Publish(ctx context.Context, address string, args ...any) (*PublishResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	req := PublishRequest{
		Address: address,
		Args:    envelope.EncodeArgs(args),
	}

	var resp PublishResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/messages", req, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}
	return &resp, nil
}

// ReadHistory reads retained messages at address from offset. A limit of 0
// uses the server default.
func (c *Client) ReadHistory(ctx context.Context, address string, offset int64, limit int) (*HistoryResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	query := url.Values{}
	query.Set("address", address)
	if offset > 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp HistoryResponse
	if err := c.doRequestWithQuery(ctx, http.MethodGet, "/api/v1/history", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return &resp, nil
}

// GetHealth returns the health status of the server. An unhealthy server
// answers 503 with a body; that is returned without an error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		if jsonErr := json.Unmarshal(apiErr.Body, &resp); jsonErr == nil {
			return &resp, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// Admin Methods (require admin token)

// AdminListSubscriptions returns every subscription
func (c *Client) AdminListSubscriptions(ctx context.Context) (*AdminSubscriptionsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminSubscriptionsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/subscriptions", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return &resp, nil
}

// AdminClearSubscriptions removes every subscription of every connection
func (c *Client) AdminClearSubscriptions(ctx context.Context) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}

	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/admin/subscriptions", nil, nil, true); err != nil {
		return fmt.Errorf("failed to clear subscriptions: %w", err)
	}
	return nil
}

// AdminListConnections returns every tracked connection
func (c *Client) AdminListConnections(ctx context.Context) (*AdminConnectionsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminConnectionsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/connections", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return &resp, nil
}

// AdminDisconnect drops a connection and everything it holds
func (c *Client) AdminDisconnect(ctx context.Context, connectionID string) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}

	path := "/api/v1/admin/connections/" + url.PathEscape(connectionID)
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, nil, true); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", connectionID, err)
	}
	return nil
}

// AdminGetStats returns system statistics
func (c *Client) AdminGetStats(ctx context.Context) (*AdminStatsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminStatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// doRequestWithQuery performs an HTTP request with query parameters and optional authentication
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, queryParams url.Values, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	u := &url.URL{Path: path}
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: bodyBytes}
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err == nil {
			apiErr.Message = errResp.Message
		}
		return apiErr
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody, requireAuth)
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// IsAdmin reports whether the last login was granted admin rights
func (c *Client) IsAdmin() bool {
	return c.isAdmin
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}
