package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"autofilter/metrics"
	"autofilter/utils"
)

// Connection represents an admin client subscribed to the event feed
type Connection struct {
	ID      string
	Subject string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub fans bot events out to every connected admin client
type Hub struct {
	connections map[string]*Connection
	register    chan *Connection
	unregister  chan *Connection
	broadcast   chan []byte
	mu          sync.RWMutex
	done        chan struct{}
	closeOnce   sync.Once
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan []byte, 256),
		done:        make(chan struct{}),
	}
}

// Close stops the event loop and disconnects every client
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// RegisterConnection adds a connection to the hub
func (h *Hub) RegisterConnection(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterConnection removes a connection from the hub
func (h *Hub) UnregisterConnection(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish queues an event for all clients. It never blocks: when the hub is
// backed up the event is dropped.
func (h *Hub) Publish(eventType string, chatID int64, content string) {
	data, err := json.Marshal(Event{
		Type:    eventType,
		ChatID:  chatID,
		Content: utils.Truncate(content, 500),
		At:      time.Now().UTC(),
	})
	if err != nil {
		return
	}

	select {
	case <-h.done:
	case h.broadcast <- data:
	default:
		log.Printf("⚠️ Event hub backlog full, dropping %s event", eventType)
	}
}

// Run starts the Hub's main event loop for managing connections and broadcasts
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, conn := range h.connections {
				close(conn.Send)
				delete(h.connections, id)
			}
			h.mu.Unlock()
			metrics.UpdateWebSocketConnections(0)
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			count := len(h.connections)
			h.mu.Unlock()
			metrics.UpdateWebSocketConnections(count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, exists := h.connections[conn.ID]; exists {
				delete(h.connections, conn.ID)
				close(conn.Send)
			}
			count := len(h.connections)
			h.mu.Unlock()
			metrics.UpdateWebSocketConnections(count)

		case data := <-h.broadcast:
			h.fanOut(data)
		}
	}
}

// fanOut delivers data to every connection, dropping clients that cannot keep up
func (h *Hub) fanOut(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conn := range h.connections {
		select {
		case conn.Send <- data:
		default:
			log.Printf("⚠️ Dropping slow event feed client %s", id)
			close(conn.Send)
			delete(h.connections, id)
		}
	}
	metrics.UpdateWebSocketConnections(len(h.connections))
}

// ConnectionCount returns the number of connected clients
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
