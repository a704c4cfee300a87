// Package broadcast pushes snapshots and alerts to websocket clients.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"controlroom/internal/models"
)

const (
	TypeAlert    = "alert"
	TypeSnapshot = "snapshot"

	writeTimeout = 5 * time.Second
	sendBuffer   = 16
)

// Message is the envelope of every websocket frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// LatestFunc returns the snapshot greeting new clients.
type LatestFunc func() (models.AggregateSnapshot, bool)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to connected clients. A client whose buffer is full
// is disconnected rather than slowing the others down.
type Hub struct {
	log    *log.Logger
	latest LatestFunc

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub. latest may be nil.
func NewHub(logger *log.Logger, latest LatestFunc) *Hub {
	return &Hub{
		log:     logger.With("module", "broadcast"),
		latest:  latest,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and streams messages until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	if h.latest != nil {
		if snap, ok := h.latest(); ok {
			if payload, err := encode(TypeSnapshot, snap); err == nil {
				c.send <- payload
			}
		}
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)

	// Inbound frames are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

// remove must be safe to call more than once per client.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Publish sends one message to every client.
func (h *Hub) Publish(typ string, data any) {
	payload, err := encode(typ, data)
	if err != nil {
		h.log.Error("encode broadcast", "type", typ, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("dropping slow websocket client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// HandleAlert forwards an alert event to every client.
func (h *Hub) HandleAlert(_ context.Context, ev models.AlertEvent) error {
	h.Publish(TypeAlert, ev)
	return nil
}

// ObserveCycle forwards the snapshot of a completed cycle.
func (h *Hub) ObserveCycle(snap models.AggregateSnapshot, _ []models.AlertEvent) {
	h.Publish(TypeSnapshot, snap)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func encode(typ string, data any) ([]byte, error) {
	return json.Marshal(Message{Type: typ, Data: data})
}
