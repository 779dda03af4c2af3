package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/transitlk/tracking/internal/pkg/logger"
)

const (
	// writeWait bounds one write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long we wait for a pong before dropping the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames; the protocol's payloads are
	// tiny subscribe/location messages.
	maxMessageSize = 4096

	// sendBuffer is the per-client outbound queue. A client that cannot
	// drain it gets dropped rather than backing up the hub.
	sendBuffer = 256
)

// Client is one websocket connection. The hub owns the registry entry; the
// client owns the socket and its pumps. The send queue is guarded by mu so
// a broadcast racing teardown cannot write to a closed channel.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	log  *logger.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue queues one outbound frame. Returns (false, false) when the
// client is already torn down and (false, true) when the queue is full.
func (c *Client) enqueue(raw []byte) (queued, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, false
	}
	select {
	case c.send <- raw:
		return true, false
	default:
		return false, true
	}
}

// closeSend marks the client torn down and closes the queue, which makes
// writePump flush a close frame and exit. Idempotent.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump reads inbound frames and hands them to the hub's handler table.
// It exits on any read error and triggers teardown.
func (c *Client) readPump() {
	defer c.hub.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("unexpected close")
			}
			return
		}
		c.hub.handleInbound(c, raw)
	}
}

// writePump drains the send queue to the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
