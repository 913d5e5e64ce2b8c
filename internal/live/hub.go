// Package live pushes issue notifications to connected browsers.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vilaca/issuehub/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	// DefaultQueueSize is the per-connection outbound buffer.
	DefaultQueueSize = 32
)

// Logger is the logging dependency of the hub.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Publisher delivers an event to every connected viewer. Delivery is best
// effort: there is no acknowledgement, retry or persistence.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Hub is the set of live connections owned by one server process.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*client]struct{}
	queueSize int
	logger    Logger
	upgrader  websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

var _ Publisher = (*Hub)(nil)

// NewHub creates an empty hub. queueSize <= 0 selects DefaultQueueSize.
func NewHub(logger Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		clients:   make(map[*client]struct{}),
		queueSize: queueSize,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Len returns the number of connected viewers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish broadcasts event to every connection.
func (h *Hub) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Broadcast queues a raw frame on every connection without blocking.
// A connection whose queue is full misses this frame.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Printf("[Hub] queue full, dropping message for one client")
		}
	}
}

func (h *Hub) register(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

func (h *Hub) unregister(c *client) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return len(h.clients), false
	}
	delete(h.clients, c)
	close(c.send)
	return len(h.clients), true
}

// ServeHTTP upgrades the request to a websocket and joins it to the hub
// until the viewer disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[Hub] upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.queueSize)}
	total := h.register(c)
	h.logger.Printf("[Hub] client connected (total: %d)", total)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards inbound frames and keeps the read deadline fresh.
// It returns when the connection fails or closes.
func (h *Hub) readPump(c *client) {
	defer func() {
		if total, ok := h.unregister(c); ok {
			h.logger.Printf("[Hub] client disconnected (total: %d)", total)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("[Hub] read error: %v", err)
			}
			return
		}
	}
}

// writePump is the only writer of c.conn.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
