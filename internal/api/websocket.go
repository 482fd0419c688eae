package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberhaus/emberlink/internal/auth"
	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
)

// Event is one device event fanned out to subscribed connections.
type Event struct {
	Type    string          `json:"type"`
	Area    string          `json:"area"`
	Device  string          `json:"device,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Time    time.Time       `json:"time"`
}

// Envelope is the server-to-client message frame.
type Envelope struct {
	Type   string          `json:"type"`
	Event  *Event          `json:"event,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Areas  []string        `json:"areas,omitempty"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// clientMessage is the client-to-server frame.
type clientMessage struct {
	Type  string   `json:"type"`
	Areas []string `json:"areas,omitempty"`
}

// Hub tracks live WebSocket connections and fans events out to them.
// It implements auth.RevocationNotifier so credential revocation reaches
// connected devices without a poll cycle.
type Hub struct {
	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	logger     *logging.Logger
	sendBuffer int
}

// NewHub creates a connection hub.
func NewHub(sendBuffer int, logger *logging.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		clients:    make(map[*WSClient]struct{}),
		logger:     logger,
		sendBuffer: sendBuffer,
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws connected", "subject_id", c.subjectID, "role", c.role, "connections", n)
}

// Unregister removes a connection. Safe to call more than once.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if present {
		c.close()
		h.logger.Info("ws disconnected", "subject_id", c.subjectID, "connections", n)
	}
}

// IsConnected reports whether a client currently holds a connection.
func (h *Hub) IsConnected(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.role == auth.RoleClient && c.subjectID == clientID {
			return true
		}
	}
	return false
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishArea delivers an event to every connection whose scope covers
// the area and whose subscription filter includes it. Connections whose
// send queue is full are dropped; a consumer that slow would otherwise
// stall event ordering for everyone behind it.
func (h *Hub) PublishArea(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	data, err := json.Marshal(Envelope{Type: "event", Event: &ev})
	if err != nil {
		h.logger.Error("ws event marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wantsArea(ev.Area) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(data) {
			h.logger.Warn("ws send queue full, dropping connection", "subject_id", c.subjectID)
			h.Unregister(c)
		}
	}
}

// OnRevocation terminates every connection held by the revoked client.
// A revoked notice is sent best-effort before the close.
func (h *Hub) OnRevocation(clientID, reason string) {
	notice, _ := json.Marshal(Envelope{Type: "revoked", Reason: reason})

	h.mu.RLock()
	var targets []*WSClient
	for c := range h.clients {
		if c.role == auth.RoleClient && c.subjectID == clientID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.trySend(notice)
		h.Unregister(c)
	}

	if len(targets) > 0 {
		h.logger.Info("ws connections revoked", "client_id", clientID, "count", len(targets))
	}
}

// OnScopeChange rescopes live connections in place. Subscriptions to
// areas no longer covered are dropped silently; the next event simply
// does not arrive.
func (h *Hub) OnScopeChange(clientID string, areas []string) {
	scope := auth.AreaScope{Areas: areas}

	h.mu.RLock()
	var targets []*WSClient
	for c := range h.clients {
		if c.role == auth.RoleClient && c.subjectID == clientID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.setScope(scope)
	}
}

// WSClient is one live WebSocket connection.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subjectID string
	role      auth.Role

	mu         sync.RWMutex
	scope      auth.AreaScope
	subscribed map[string]struct{} // nil means "everything my scope allows"

	closeOnce sync.Once
}

// NewWSClient wraps an upgraded connection for the given identity.
func NewWSClient(hub *Hub, conn *websocket.Conn, identity *auth.Identity) *WSClient {
	return &WSClient{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, hub.sendBuffer),
		subjectID: identity.SubjectID,
		role:      identity.Role,
		scope:     identity.Scope,
	}
}

// close shuts the send channel exactly once, which ends the write pump.
func (c *WSClient) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// trySend queues a frame without blocking. Returns false when the queue
// is full or the client is already closing.
func (c *WSClient) trySend(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) setScope(scope auth.AreaScope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scope = scope
	for area := range c.subscribed {
		if !scope.CanAccess(area) {
			delete(c.subscribed, area)
		}
	}
}

// wantsArea reports whether an event in the area should reach this
// connection: the scope must permit it and, if a subscription filter was
// set, include it.
func (c *WSClient) wantsArea(area string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.scope.CanAccess(area) {
		return false
	}
	if c.subscribed == nil {
		return true
	}
	_, ok := c.subscribed[area]
	return ok
}

// handleSubscribe applies a subscription filter. The request is
// intersected with the connection's scope: areas it is not authorised
// for are silently dropped, and the granted set is returned for the
// acknowledgement.
func (c *WSClient) handleSubscribe(areas []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	granted := make([]string, 0, len(areas))
	filter := make(map[string]struct{}, len(areas))
	for _, area := range areas {
		if !c.scope.CanAccess(area) {
			continue
		}
		if _, dup := filter[area]; dup {
			continue
		}
		filter[area] = struct{}{}
		granted = append(granted, area)
	}
	c.subscribed = filter
	return granted
}

// readPump consumes client frames until the connection dies.
func (c *WSClient) readPump(maxMessageSize int64, pongTimeout time.Duration) {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}

		switch msg.Type {
		case "subscribe":
			granted := c.handleSubscribe(msg.Areas)
			resp, _ := json.Marshal(Envelope{Type: "response", Areas: granted})
			c.trySend(resp)
		case "ping":
			resp, _ := json.Marshal(Envelope{Type: "response"})
			c.trySend(resp)
		default:
			c.sendError("unknown message type")
		}
	}
}

// writePump drains the send queue onto the wire and keeps the
// connection alive with pings.
func (c *WSClient) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) sendError(msg string) {
	data, _ := json.Marshal(Envelope{Type: "error", Error: msg})
	c.trySend(data)
}
