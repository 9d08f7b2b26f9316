/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Seednode/livecontexto/message"
)

type ClientConfig struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SendBuffer:     64,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   54 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Client is a Subscriber on the far side of a websocket.
type Client struct {
	id   string
	conn *websocket.Conn
	cfg  ClientConfig
	log  zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(conn *websocket.Conn, cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = DefaultClientConfig().SendBuffer
	}

	id := uuid.New().String()

	return &Client{
		id:   id,
		conn: conn,
		cfg:  cfg,
		log:  log.With().Str("subscriber", id).Logger(),
		send: make(chan []byte, cfg.SendBuffer),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues data for the write pump without blocking.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

// Close stops the write pump, which then closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.send)
}

// WritePump owns all writes to the connection. It returns when the client
// is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump decodes control commands and hands them to handle until the
// connection drops. Malformed frames are skipped.
func (c *Client) ReadPump(handle func(message.Control)) {
	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		var ctrl message.Control
		if err := json.Unmarshal(data, &ctrl); err != nil || ctrl.Action == "" {
			c.log.Debug().Msg("ignoring malformed control frame")
			continue
		}

		handle(ctrl)
	}
}
