package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/transitlk/tracking/internal/metrics"
	"github.com/transitlk/tracking/internal/pkg/errors"
	"github.com/transitlk/tracking/internal/pkg/logger"
	"github.com/transitlk/tracking/internal/registry"
)

// Hub owns the live websocket connections. It upgrades HTTP requests,
// registers connections with the registry, routes inbound events through
// the handler table, and implements the dispatcher's Sender.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	reg      *registry.Registry
	handlers *Handlers
	upgrader websocket.Upgrader
	met      *metrics.Metrics
	log      *logger.Logger
}

// NewHub creates a hub. allowedOrigins of "*" disables the origin check.
func NewHub(reg *registry.Registry, handlers *Handlers, allowedOrigins []string, met *metrics.Metrics, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	if met == nil {
		met = metrics.New()
	}
	h := &Hub{
		clients:  make(map[string]*Client),
		reg:      reg,
		handlers: handlers,
		met:      met,
		log:      log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}
	c.log = h.log.WithConn(c.id)

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.reg.Register(c.id)

	h.met.ConnectionsTotal.Inc()
	h.met.ActiveConnections.Inc()
	c.log.Info("client connected")

	go c.writePump()
	c.readPump()
}

// drop tears a connection down: registry entry, client table, socket.
// Safe to call more than once per client.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	_, live := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()

	if !live {
		return
	}

	h.reg.Disconnect(c.id)
	c.closeSend()
	_ = c.conn.Close()

	h.met.ActiveConnections.Dec()
	c.log.Info("client disconnected")
}

// Send queues one event for one connection. A full queue counts as a
// failed send; the slow client is dropped so it cannot back up the hub.
func (h *Hub) Send(connID, event string, payload any) error {
	raw, err := encodeMessage(event, payload)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "encode message", err)
	}

	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return errors.NotFoundError("connection")
	}

	queued, full := c.enqueue(raw)
	if queued {
		return nil
	}
	if full {
		h.log.WithConn(connID).Warn("send queue full, dropping client")
		go h.drop(c)
		return errors.New(errors.CodeUnavailable, "send queue full")
	}
	return errors.NotFoundError("connection")
}

// handleInbound decodes one frame and dispatches it through the handler
// table. Malformed frames get an error reply and change nothing.
func (h *Hub) handleInbound(c *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.replyError(c.id, "invalid message envelope")
		return
	}
	h.handlers.Dispatch(context.Background(), hubSession{hub: h, connID: c.id}, msg)
}

func (h *Hub) replyError(connID, reason string) {
	_ = h.Send(connID, EventError, ErrorPayload{Message: reason})
}

// hubSession adapts a hub connection to the handler table's session.
type hubSession struct {
	hub    *Hub
	connID string
}

func (s hubSession) ID() string { return s.connID }

func (s hubSession) Reply(event string, payload any) {
	_ = s.hub.Send(s.connID, event, payload)
}
