// Package source connects to the upstream gateway's event socket and feeds
// raw frames into the pipeline.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"nhooyr.io/websocket"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	readLimit      = 4 << 20 // upstream batches can be large
)

// Handler receives every decoded frame. Implementations must not block for
// long; the read loop is single threaded per connection.
type Handler interface {
	OnBatch(eventType string, payload json.RawMessage)
}

// frame is the upstream wire shape: a type tag plus an opaque payload that
// may be a single document or a batch array.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client maintains a websocket connection to the upstream event socket,
// reconnecting with exponential backoff when the connection drops.
type Client struct {
	url     string
	handler Handler
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient constructs a Client for the given socket URL.
func NewClient(url string, handler Handler, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("socket url is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("frame handler is required")
	}
	c := &Client{url: url, handler: handler, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run connects and reads frames until ctx is cancelled. Connection drops are
// retried with exponential backoff; the backoff resets after any successful
// read.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		read, err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if read > 0 {
			backoff = initialBackoff
		}
		c.logger.Warn("event socket disconnected, reconnecting",
			"url", c.url, "frames_read", read, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// connectAndRead runs one connection lifetime and reports how many frames it
// delivered before the connection failed.
func (c *Client) connectAndRead(ctx context.Context) (int, error) {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(readLimit)
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	c.logger.Info("event socket connected", "url", c.url)

	read := 0
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return read, err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			c.logger.Warn("discarding malformed frame", "error", err, "bytes", len(data))
			continue
		}
		c.handler.OnBatch(f.Event, f.Data)
		read++
	}
}
