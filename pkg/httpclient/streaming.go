package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/envelope"
)

// maxFrameSize bounds one SSE line; blobs travel base64 encoded inside it
const maxFrameSize = 16 << 20

// StreamClient handles Server-Sent Events streaming
type StreamClient struct {
	client     *Client
	httpClient *http.Client
	messages   chan StreamMessage
	errors     chan error
	done       chan struct{}
	cancel     context.CancelFunc
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// Address to subscribe at; everything published at or below it is
	// streamed. Required.
	Address string

	// ReplayFrom replays retained history for the exact address from this
	// offset before live messages. Nil disables replay. Replay only happens
	// on the first connection, not on reconnects.
	ReplayFrom *int64

	// BufferSize for the event channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// Stream opens an SSE stream subscribed at config.Address. It reconnects
// until the context is cancelled, Close is called, or the attempt limit is hit.
func (c *Client) Stream(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}
	if config.Address == "" {
		return nil, fmt.Errorf("stream address is required")
	}

	config.SetDefaults()

	// Create cancellable context
	streamCtx, cancel := context.WithCancel(ctx)

	streamClient := &StreamClient{
		client: c,
		// Streams outlive the request timeout
		httpClient: &http.Client{Transport: c.httpClient.Transport},
		messages:   make(chan StreamMessage, config.BufferSize),
		errors:     make(chan error, 10),
		done:       make(chan struct{}),
		cancel:     cancel,
	}

	// Start streaming in background
	go streamClient.startStreaming(streamCtx, config)

	return streamClient, nil
}

// Messages returns the channel for receiving messages
func (sc *StreamClient) Messages() <-chan StreamMessage {
	return sc.messages
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the streaming client and cleans up resources
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done

	return nil
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.messages)
	defer close(sc.errors)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := sc.connectAndStream(ctx, config)
		config.ReplayFrom = nil
		if err != nil {
			select {
			case sc.errors <- fmt.Errorf("streaming error: %w", err):
			case <-ctx.Done():
				return
			default:
			}
		}

		// Check if we should reconnect
		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			select {
			case sc.errors <- fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts):
			case <-ctx.Done():
			}
			return
		}

		attempts++

		// Wait before reconnecting
		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndStream establishes SSE connection and processes messages
func (sc *StreamClient) connectAndStream(ctx context.Context, config StreamConfig) error {
	query := url.Values{}
	query.Set("address", config.Address)
	if config.ReplayFrom != nil {
		query.Set("offset", strconv.FormatInt(*config.ReplayFrom, 10))
	}
	streamURL := sc.client.baseURL.ResolveReference(&url.URL{Path: "/api/v1/stream", RawQuery: query.Encode()})

	// Create request
	req, err := http.NewRequestWithContext(ctx, "GET", streamURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}

	// Set SSE headers
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	// Perform request
	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	// Check response status
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("streaming failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	// Process SSE stream
	return sc.processSSEStream(ctx, resp.Body)
}

// processSSEStream reads and parses Server-Sent Events
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// Handle SSE format
		if strings.HasPrefix(line, "data: ") {
			msg, err := parseStreamMessage(strings.TrimPrefix(line, "data: "))
			if err != nil {
				// Send error but continue processing
				select {
				case sc.errors <- fmt.Errorf("failed to parse message: %w", err):
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				continue
			}

			select {
			case sc.messages <- msg:
			case <-ctx.Done():
				return ctx.Err()
			default:
				// Channel full, drop the message
			}
		}
		// Comments (keepalive pings), blank separators and other fields are ignored
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}

	return nil
}

// parseStreamMessage decodes one data frame, turning args back into router
// values
func parseStreamMessage(data string) (StreamMessage, error) {
	decoder := json.NewDecoder(strings.NewReader(data))
	decoder.UseNumber()

	var msg StreamMessage
	if err := decoder.Decode(&msg); err != nil {
		return StreamMessage{}, err
	}
	args, err := envelope.DecodeArgs(msg.Args)
	if err != nil {
		return StreamMessage{}, err
	}
	msg.Args = args
	return msg, nil
}
