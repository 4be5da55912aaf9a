// Package realtime pushes payment-status events to websocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

type subscription struct {
	conn *websocket.Conn
	// chargeID filters delivery; empty subscribes to every charge.
	chargeID string
}

// Hub tracks websocket subscribers and fans payment-status messages out to
// them. It implements the status broadcaster contract.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*websocket.Conn]string

	register   chan subscription
	unregister chan *websocket.Conn
	messages   chan []byte
}

// NewHub constructs an empty Hub. Run must be started for it to deliver.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*websocket.Conn]string),
		register:    make(chan subscription),
		unregister:  make(chan *websocket.Conn),
		messages:    make(chan []byte, 16),
	}
}

// Subscribe attaches a connection, optionally filtered to one charge.
func (h *Hub) Subscribe(conn *websocket.Conn, chargeID string) {
	h.register <- subscription{conn: conn, chargeID: chargeID}
}

// Unsubscribe detaches and closes a connection.
func (h *Hub) Unsubscribe(conn *websocket.Conn) {
	h.unregister <- conn
}

// Broadcast queues a serialized status event for delivery. Never blocks the
// publisher; the oldest queued message is dropped when the buffer is full.
func (h *Hub) Broadcast(msg []byte) {
	for {
		select {
		case h.messages <- msg:
			return
		default:
			select {
			case <-h.messages:
			default:
			}
		}
	}
}

// Subscribers reports the current connection count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Run delivers messages until the context is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub.conn] = sub.chargeID
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			delete(h.subscribers, conn)
			h.mu.Unlock()
			conn.Close()
		case msg := <-h.messages:
			h.deliver(msg)
		}
	}
}

// deliver writes the message to every subscriber whose filter matches.
func (h *Hub) deliver(msg []byte) {
	chargeID := chargeIDOf(msg)

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, filter := range h.subscribers {
		if filter != "" && filter != chargeID {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(h.subscribers, conn)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.subscribers {
		conn.Close()
		delete(h.subscribers, conn)
	}
}

// chargeIDOf extracts the charge id from a serialized status event so
// filtered subscribers only see their charge.
func chargeIDOf(msg []byte) string {
	var probe struct {
		ChargeID string `json:"charge_id"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return ""
	}
	return probe.ChargeID
}
