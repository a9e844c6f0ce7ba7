package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is the JSON frame exchanged with clients in both directions:
// an event name plus an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outEnvelope is the outbound counterpart; Data is encoded in place.
type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// EventHandler receives the connection lifecycle: one call per inbound
// transport occurrence. Implemented by the broker.
type EventHandler interface {
	Connect(connID, rawUsername string)
	Join(connID, rawChannel string)
	Send(connID, rawText string)
	Disconnect(connID string)
}

// Hub manages WebSocket client connections and the per-channel broadcast
// groups, and forwards inbound events to its EventHandler. It implements
// the broker's Transport interface.
type Hub struct {
	log     *slog.Logger
	handler EventHandler

	mu      sync.RWMutex
	clients map[string]*client            // conn id -> client
	groups  map[string]map[string]*client // channel -> conn id -> client
}

// NewHub creates a Hub. SetHandler must be called before serving traffic.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[string]*client),
		groups:  make(map[string]map[string]*client),
	}
}

// SetHandler wires the hub to its event handler. The hub and the broker
// reference each other, so the handler is attached after construction.
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the
// client. The candidate username is taken from the ?username= query
// parameter. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	go c.writePump()

	h.handler.Connect(c.id, r.URL.Query().Get("username"))

	h.readPump(c) // blocks until the connection closes

	h.remove(c)
	h.handler.Disconnect(c.id)
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GroupCount returns the number of connections subscribed to a channel.
func (h *Hub) GroupCount(channelName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[channelName])
}

// --- Transport implementation ------------------------------------------------

// SendTo delivers one event to a single connection. Unknown connection ids
// are ignored.
func (h *Hub) SendTo(connID, event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		h.log.Error("ws: encode failed", "event", event, "err", err)
		return
	}
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c != nil {
		h.deliver(c, data)
	}
}

// BroadcastToGroup delivers one event to every connection subscribed to
// the named channel.
func (h *Hub) BroadcastToGroup(channelName, event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		h.log.Error("ws: encode failed", "event", event, "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.groups[channelName]))
	for _, c := range h.groups[channelName] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
}

// BroadcastToAll delivers one event to every connection.
func (h *Hub) BroadcastToAll(event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		h.log.Error("ws: encode failed", "event", event, "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
}

// Subscribe adds the connection to a channel's broadcast group.
func (h *Hub) Subscribe(connID, channelName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	g := h.groups[channelName]
	if g == nil {
		g = make(map[string]*client)
		h.groups[channelName] = g
	}
	g[connID] = c
}

// Unsubscribe removes the connection from a channel's broadcast group.
func (h *Hub) Unsubscribe(connID, channelName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.groups[channelName], connID)
}

// --- internal ---------------------------------------------------------------

// readPump reads frames from the connection, decodes the envelope and
// dispatches to the handler. Unknown or malformed events are ignored.
// Blocks until the connection closes.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.log.Debug("ws: malformed frame", "conn", c.id, "err", err)
			continue
		}

		switch env.Event {
		case eventJoin:
			var name string
			if err := json.Unmarshal(env.Data, &name); err != nil {
				h.log.Debug("ws: malformed join payload", "conn", c.id, "err", err)
				continue
			}
			h.handler.Join(c.id, name)

		case eventSend:
			var p struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(env.Data, &p); err != nil {
				h.log.Debug("ws: malformed send payload", "conn", c.id, "err", err)
				continue
			}
			h.handler.Send(c.id, p.Text)

		default:
			h.log.Debug("ws: unknown event", "conn", c.id, "event", env.Event)
		}
	}
}

// deliver queues data on the client's send buffer. A full buffer means the
// client cannot keep up — its connection is closed and the read pump runs
// the normal disconnect path.
func (h *Hub) deliver(c *client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// A client absent from the map has had its send channel closed.
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Warn("ws: send buffer full — dropping client", "conn", c.id)
		c.conn.Close()
	}
}

// remove deletes the client from the client map and every broadcast group,
// and closes its send channel. Idempotent.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	for _, g := range h.groups {
		delete(g, c.id)
	}
	close(c.send)
}

// encode builds the outbound JSON frame for one event.
func encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outEnvelope{Event: event, Data: payload})
}
