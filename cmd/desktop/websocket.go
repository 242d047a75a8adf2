package main

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/gate"
	"github.com/kimhsiao/gatesync/internal/logging"
	syncpkg "github.com/kimhsiao/gatesync/internal/sync"
	"github.com/kimhsiao/gatesync/internal/uuid"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     isLocalOrigin,
}

// isLocalOrigin only lets pages served from this machine connect. Requests without
// an Origin header do not come from a browser and are allowed.
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// WebSocket event types
const (
	EventScanOK         = "scan.ok"
	EventScanQueued     = "scan.queued"
	EventScanFailed     = "scan.failed"
	EventFlushStarted   = "flush.started"
	EventFlushCompleted = "flush.completed"
	EventFlushFailed    = "flush.failed"
	EventAuthRequired   = "auth.required"
)

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu            sync.Mutex
	subscriptions map[string]bool
	closed        bool
}

// trySend queues payload without blocking. It reports false if the client is
// backed up or already closed.
func (c *WSClient) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close closes send once; writePump then ends the connection.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// wants reports whether the client receives eventType. A client that never
// subscribed receives everything.
func (c *WSClient) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[eventType]
}

// WSHub maintains active client connections and broadcasts messages.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan wsMessage
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
}

type wsMessage struct {
	eventType string
	payload   []byte
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan wsMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
	go hub.run()
	return hub
}

// Close disconnects every client and stops the hub.
func (h *WSHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				client.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("screen connected", map[string]interface{}{"client": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("screen disconnected", map[string]interface{}{"client": client.id, "total": total})

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.wants(msg.eventType) {
					continue
				}
				if !client.trySend(msg.payload) {
					// A screen that stopped reading is dropped.
					client.close()
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to every subscribed client. It never blocks: when the
// hub is backed up the event is dropped.
func (h *WSHub) Broadcast(eventType string, data map[string]interface{}) {
	payload, err := json.Marshal(WSEnvelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		logging.Error("marshal websocket event", err)
		return
	}

	select {
	case h.broadcast <- wsMessage{eventType: eventType, payload: payload}:
	case <-h.done:
	default:
		logging.Warn("websocket hub backed up, event dropped", map[string]interface{}{"type": eventType})
	}
}

// BroadcastScan reports a delivered or queued scan.
func (h *WSHub) BroadcastScan(o *gate.Outcome) {
	data := map[string]interface{}{
		"day_event_id": o.Event.DayEventID,
		"action":       string(o.Event.Action),
		"ts":           o.Event.TS,
	}
	switch o.Status {
	case gate.StatusSent:
		data["response"] = o.Response
		h.Broadcast(EventScanOK, data)
	case gate.StatusQueued:
		data["pending"] = o.Depth
		h.Broadcast(EventScanQueued, data)
	}
}

// BroadcastScanFailed reports a scan the backend rejected or that could not be queued.
func (h *WSHub) BroadcastScanFailed(dayEventID string, err error) {
	data := map[string]interface{}{
		"day_event_id": dayEventID,
		"code":         string(errors.CodeOf(err)),
		"error":        err.Error(),
	}
	if status := errors.StatusOf(err); status != 0 {
		data["status"] = status
	}
	h.Broadcast(EventScanFailed, data)
}

// BroadcastAuthRequired tells the screen to show the login form.
func (h *WSHub) BroadcastAuthRequired(detail string) {
	h.Broadcast(EventAuthRequired, map[string]interface{}{"detail": detail})
}

// OnFlushEvent forwards offline queue flushes to the screens.
func (h *WSHub) OnFlushEvent(ev syncpkg.FlushEvent) {
	switch ev.Type {
	case syncpkg.FlushEventStarted:
		h.Broadcast(EventFlushStarted, map[string]interface{}{"pending": ev.Pending})
	case syncpkg.FlushEventCompleted:
		h.Broadcast(EventFlushCompleted, map[string]interface{}{
			"sent":    ev.Sent,
			"pending": ev.Pending,
		})
	case syncpkg.FlushEventFailed:
		h.Broadcast(EventFlushFailed, map[string]interface{}{
			"pending":   ev.Pending,
			"code":      string(errors.CodeOf(ev.Err)),
			"error":     ev.Err.Error(),
			"retryable": errors.IsTransient(ev.Err),
		})
		if errors.NeedsLogin(ev.Err) {
			h.BroadcastAuthRequired(ev.Err.Error())
		}
	}
}

// readPump pumps messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("websocket read failed", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var msg struct {
			Action string   `json:"action"`
			Events []string `json:"events"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			logging.Debug("invalid websocket message", map[string]interface{}{"error": err.Error()})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subscriptions[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})
		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subscriptions, e)
			}
			c.mu.Unlock()
		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a direct answer to this client. It is dropped if the client is
// backed up or was dropped by the hub.
func (c *WSClient) reply(msg map[string]interface{}) {
	msg["timestamp"] = time.Now().Unix()
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(payload)
}

// HandleWebSocket handles WebSocket connections.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
			return
		}

		client := &WSClient{
			id:            uuid.New(),
			conn:          conn,
			send:          make(chan []byte, 256),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
