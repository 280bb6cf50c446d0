// Package websocket is the gateway's push channel for operational
// events: every event published on the in-process bus is relayed to
// every connected admin client as a named JSON frame.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/infrastructure/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Admin UI is served from the same origin in production; any origin
	// is accepted here since this is a trusted-network operator tool, not
	// a public API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is the wire shape pushed to every connected client.
type frame struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// eventTypeMap renames internal bus event kinds onto the external channel
// names the dashboards subscribe to. A lifecycle event fans out under
// three names: its own, plus providers:updated and models:updated, since
// a provider load/reload/unload changes both lists a dashboard renders.
var eventTypeMap = map[string][]string{
	eventbus.EventLifecycle:          {"lifecycle:update", "providers:updated", "models:updated"},
	eventbus.EventSettingsChanged:    {"settings:changed"},
	eventbus.EventCredentialsUpdated: {"credentials:updated"},
	eventbus.EventCredentialsInvalid: {"credentials:updated"},
	eventbus.EventSessionSwept:       {"proxy:status"},
}

// Hub fans every bus event out to every currently connected websocket
// client. A client that falls behind (write buffer full) is disconnected
// rather than allowed to block delivery to the others.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	logger  *zap.Logger
}

type client struct {
	conn *websocket.Conn
	send chan frame
}

// NewHub subscribes to every event kind the external channel relays and
// returns the hub ready to accept connections via ServeHTTP.
func NewHub(bus eventbus.Bus, logger *zap.Logger) *Hub {
	h := &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.With(zap.String("component", "ws-hub")),
	}
	for kind := range eventTypeMap {
		bus.Subscribe(kind, h.relay)
	}
	return h
}

func (h *Hub) relay(_ context.Context, event eventbus.Event) {
	names, ok := eventTypeMap[event.Type()]
	if !ok {
		names = []string{event.Type()}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range names {
		f := frame{Type: name, Payload: event.Payload(), Timestamp: event.Timestamp()}
		for c := range h.clients {
			select {
			case c.send <- f:
			default:
				h.logger.Warn("client send buffer full, dropping connection")
				h.removeLocked(c)
			}
		}
	}
}

// ServeHTTP upgrades the request and registers the connection until it
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan frame, 32)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards inbound messages (this channel is push-only) and
// exits on any read error, which is how gorilla/websocket reports the
// client having disconnected.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for f := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		b, err := json.Marshal(f)
		if err != nil {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}
