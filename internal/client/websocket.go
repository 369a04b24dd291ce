// ABOUTME: WebSocket client for a station's now-playing feed
// ABOUTME: Connects to /stream/meta/ws and routes track announcements to a channel
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/harperreed/needle/internal/server"
)

// Config holds client configuration
type Config struct {
	ServerAddr string // host:port
	Path       string // defaults to the station's WebSocket feed
}

// Client follows a station's metadata feed
type Client struct {
	config Config
	conn   *websocket.Conn
	mu     sync.RWMutex

	// Metadata receives track announcements; keep-alives are dropped
	Metadata chan server.MetaMessage

	connected bool
	lastSeen  time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = server.MetaWSPath
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:   config,
		Metadata: make(chan server.MetaMessage, 10),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// URL returns the feed address
func (c *Client) URL() string {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	return u.String()
}

// Connect dials the feed and starts reading
func (c *Client) Connect(ctx context.Context) error {
	log.Debug().Str("url", c.URL()).Msg("connecting")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readMessages()
	return nil
}

// readMessages reads and routes incoming messages until the connection drops
func (c *Client) readMessages() {
	defer c.Close()
	defer close(c.Metadata)

	for {
		var msg server.MetaMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("read error")
			}
			return
		}

		c.mu.Lock()
		c.lastSeen = time.Now()
		c.mu.Unlock()

		switch msg.Type {
		case "keepalive":
			continue
		case "track":
			if msg.Track == nil {
				continue
			}
			select {
			case c.Metadata <- msg:
			case <-c.ctx.Done():
				return
			}
		default:
			log.Debug().Str("type", msg.Type).Msg("unknown message type")
		}
	}
}

// LastSeen returns when the station last sent anything
func (c *Client) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		log.Debug().Msg("connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
