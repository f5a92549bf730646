package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dr-kube/dr-kube/internal/remediation"
	"github.com/dr-kube/dr-kube/internal/store"
)

// WebSocket message types
const (
	MessageTypeRemediation = "remediation"
	MessageTypeHeartbeat   = "heartbeat"
)

const (
	sendBuffer        = 64
	writeWait         = 10 * time.Second
	heartbeatInterval = 30 * time.Second
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string           `json:"type"`
	Run       *store.RunRecord `json:"run,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// newUpgrader builds an upgrader that admits the given origins. An empty
// list or "*" admits any origin; requests without an Origin header are
// always admitted.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(o)] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			return allowed[strings.ToLower(origin)]
		},
	}
}

// Hub fans terminal workflow states out to websocket subscribers.
// Slow subscribers drop messages rather than block workflows.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
}

// wsClient represents an active WebSocket connection
type wsClient struct {
	conn      *websocket.Conn
	send      chan WSMessage
	done      chan struct{}
	once      sync.Once
	sessionID string
}

// NewHub creates a hub.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: newUpgrader(allowedOrigins),
		logger:   logger,
		clients:  make(map[*wsClient]struct{}),
	}
}

// Publish broadcasts a terminal state. It never blocks.
func (h *Hub) Publish(s *remediation.WorkflowState) {
	h.broadcast(WSMessage{
		Type:      MessageTypeRemediation,
		Run:       s.Record(),
		Timestamp: time.Now(),
	})
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ServeWS upgrades the connection and streams outcomes until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	c := &wsClient{
		conn:      conn,
		send:      make(chan WSMessage, sendBuffer),
		done:      make(chan struct{}),
		sessionID: "ws-" + uuid.NewString(),
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Debug("websocket connection established", zap.String("session_id", c.sessionID))

	go c.writeLoop()
	c.readLoop()

	h.unregister(c)
	c.close()
	h.logger.Debug("websocket connection closed", zap.String("session_id", c.sessionID))
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) broadcast(msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("websocket subscriber too slow, dropping message",
				zap.String("session_id", c.sessionID))
		}
	}
}

// readLoop discards client frames and returns when the peer goes away.
func (c *wsClient) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop sends queued messages and periodic heartbeats.
func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if c.write(msg) != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if c.write(WSMessage{Type: MessageTypeHeartbeat, Timestamp: time.Now()}) != nil {
				c.close()
				return
			}
		}
	}
}

func (c *wsClient) write(msg WSMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
