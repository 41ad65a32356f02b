package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hybridz/portfolio-whatsapp-bridge/internal/relay"
)

// Client subscribes to the bridge's live update channel — the same WebSocket
// the in-page chat widget uses. The CLI tail command is its main consumer.
type Client struct {
	url  string
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a feed client for ws://host/ws.
func NewClient(url string) *Client {
	return &Client{url: url}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("connect to feed: %w", err)
	}

	c.conn = conn
	return nil
}

// Next blocks until the next relayed event arrives. Frames that do not parse
// as events are skipped.
func (c *Client) Next() (relay.Event, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return relay.Event{}, fmt.Errorf("not connected to feed")
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return relay.Event{}, fmt.Errorf("read frame: %w", err)
		}

		var evt relay.Event
		if err := json.Unmarshal(data, &evt); err != nil || evt.Type == "" {
			continue
		}
		return evt, nil
	}
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
