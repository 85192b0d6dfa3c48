package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
)

// HostConn is an authenticated host websocket connection.
type HostConn struct {
	hostID int64
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newHostConn(hostID int64, ws *websocket.Conn) *HostConn {
	return &HostConn{
		hostID: hostID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

func (c *HostConn) close() {
	c.once.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

func (c *HostConn) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		}
	}
}

// Hub tracks host connections and pushes each host its own booking and
// session events. It implements Sink so the dispatcher can fan out to it.
type Hub struct {
	mu           sync.RWMutex
	connections  map[int64]*HostConn
	pingInterval time.Duration
	logger       *zap.Logger
}

// NewHub builds the hub.
func NewHub(pingInterval time.Duration, logger *zap.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		connections:  make(map[int64]*HostConn),
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// Attach registers a host connection, replacing any previous one, and starts
// its write pump. The read loop is the caller's: the feed is one-way, reads
// only detect the peer going away.
func (h *Hub) Attach(hostID int64, ws *websocket.Conn) *HostConn {
	conn := newHostConn(hostID, ws)

	h.mu.Lock()
	if old, ok := h.connections[hostID]; ok {
		old.close()
	}
	h.connections[hostID] = conn
	h.mu.Unlock()

	go conn.writePump()
	return conn
}

// Detach removes the connection if it is still the registered one.
func (h *Hub) Detach(hostID int64, conn *HostConn) {
	h.mu.Lock()
	if current, ok := h.connections[hostID]; ok && current == conn {
		delete(h.connections, hostID)
	}
	h.mu.Unlock()
	conn.close()
}

// Run keeps connections alive with pings until the context ends.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.mu.RLock()
			for hostID, conn := range h.connections {
				conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					h.logger.Debug("host ping failed", zap.Int64("host_id", hostID))
					conn.close()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Deliver routes the event to the owning host, if connected. Slow consumers
// are dropped rather than letting the queue back up.
func (h *Hub) Deliver(_ context.Context, event Event) error {
	if event.HostID == 0 {
		return nil
	}

	h.mu.RLock()
	conn, ok := h.connections[event.HostID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case conn.send <- payload:
	default:
		h.logger.Warn("host event buffer full, dropping connection", zap.Int64("host_id", event.HostID))
		h.Detach(event.HostID, conn)
	}
	return nil
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for hostID, conn := range h.connections {
		conn.close()
		delete(h.connections, hostID)
	}
}
