package overlay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one frame sent to overlay clients.
type Event struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type client struct {
	conn      *websocket.Conn
	remote    string
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub fans events out to WebSocket clients. Each client has a bounded
// queue; a client whose queue is full is dropped.
type Hub struct {
	queueSize    int
	writeTimeout time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(queueSize int, writeTimeout time.Duration, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		queueSize:    queueSize,
		writeTimeout: writeTimeout,
		logger:       logger.Named("hub"),
		clients:      make(map[*client]struct{}),
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues ev for every client.
func (h *Hub) Broadcast(ev Event) {
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode overlay event", zap.String("event", ev.Event), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow overlay client", zap.String("remote", c.remote))
			delete(h.clients, c)
			c.close()
		}
	}
}

// Serve registers conn and blocks until it is gone.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &client{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, h.queueSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("overlay client connected", zap.String("remote", c.remote))

	go h.readPump(c)
	h.writePump(c)

	h.remove(c)
	conn.Close()
	h.logger.Debug("overlay client disconnected", zap.String("remote", c.remote))
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) writePump(c *client) {
	for data := range c.send {
		if h.writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("overlay client write failed", zap.Error(err))
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// readPump discards client frames; it exists to notice disconnects.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}
