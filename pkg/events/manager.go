package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// controlBuffer bounds queued control replies (pong/subscribed) per connection.
const controlBuffer = 16

// ClientMessage is the JSON structure for client → server WebSocket messages.
// Subscribe, unsubscribe and ping are the only accepted types.
type ClientMessage struct {
	Type   string `json:"type"`
	TestID string `json:"testId,omitempty"`
}

// Connection represents a single dashboard WebSocket client. All writes go
// through one writer goroutine so frames for a given testId stay in publish
// order and a stalled socket never blocks the Bus.
type Connection struct {
	ID   string
	conn *websocket.Conn
	sub  *Subscription

	control chan []byte
	done    chan struct{}
	once    sync.Once
}

// ConnectionManager tracks live WebSocket connections and bridges them to
// the Bus. One instance per process.
type ConnectionManager struct {
	bus *Bus

	mu          sync.RWMutex
	connections map[string]*Connection

	writeTimeout time.Duration
}

// NewConnectionManager creates a manager fanning out events from bus.
func NewConnectionManager(bus *Bus, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		bus:          bus,
		connections:  make(map[string]*Connection),
		writeTimeout: writeTimeout,
	}
}

// ActiveConnections returns the count of live WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection manages the lifecycle of one upgraded WebSocket
// connection. Blocks until the connection closes; the caller owns the
// upgrade and the HTTP handler goroutine.
func (m *ConnectionManager) HandleConnection(conn *websocket.Conn) {
	c := &Connection{
		ID:      uuid.New().String(),
		conn:    conn,
		sub:     m.bus.Subscribe(),
		control: make(chan []byte, controlBuffer),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()

	defer m.teardown(c)

	go m.writeLoop(c)

	// Read loop — process client messages until the connection closes.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", c.ID, "error", err)
			continue
		}

		m.handleClientMessage(c, &msg)
	}
}

// handleClientMessage dispatches subscribe/unsubscribe/ping.
func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.TestID == "" {
			m.sendControl(c, map[string]string{"type": "error", "message": "testId is required for subscribe"})
			return
		}
		c.sub.Follow(msg.TestID)
		m.sendControl(c, map[string]string{"type": "subscribed", "testId": msg.TestID})

	case "unsubscribe":
		if msg.TestID == "" {
			m.sendControl(c, map[string]string{"type": "error", "message": "testId is required for unsubscribe"})
			return
		}
		c.sub.Unfollow(msg.TestID)

	case "ping":
		m.sendControl(c, map[string]string{"type": "pong"})
	}
}

// writeLoop is the single writer for a connection. It drains control
// replies and bus frames; a write error tears the connection down.
func (m *ConnectionManager) writeLoop(c *Connection) {
	for {
		select {
		case <-c.done:
			return
		case data, ok := <-c.control:
			if !ok {
				return
			}
			if err := m.write(c, data); err != nil {
				m.closeConn(c)
				return
			}
		case frame, ok := <-c.sub.C:
			if !ok {
				return
			}
			if err := m.write(c, frame); err != nil {
				m.closeConn(c)
				return
			}
		}
	}
}

func (m *ConnectionManager) write(c *Connection, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// sendControl queues a control reply; drops it if the queue is full.
func (m *ConnectionManager) sendControl(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket control message",
			"connection_id", c.ID, "error", err)
		return
	}
	select {
	case c.control <- data:
	default:
		slog.Warn("Control queue full, dropping message", "connection_id", c.ID)
	}
}

// closeConn forces the reader to exit, which triggers teardown.
func (m *ConnectionManager) closeConn(c *Connection) {
	_ = c.conn.Close()
}

// teardown releases the bus subscription and registry entry. Dropped
// connections must not leak handlers.
func (m *ConnectionManager) teardown(c *Connection) {
	c.once.Do(func() {
		close(c.done)
		m.bus.Unsubscribe(c.sub)

		m.mu.Lock()
		delete(m.connections, c.ID)
		m.mu.Unlock()

		_ = c.conn.Close()
	})
}
