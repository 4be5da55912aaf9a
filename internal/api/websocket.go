package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"memberflow/internal/realtime"
)

// StatusSocket upgrades subscribers onto the payment-status hub.
type StatusSocket struct {
	hub  *realtime.Hub
	logf func(format string, args ...any)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Serve upgrades the connection and subscribes it, optionally filtered to
// the charge_id query parameter. The read loop only exists to notice
// disconnects; subscribers never send payloads.
func (s *StatusSocket) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("api: websocket upgrade: %v", err)
		return
	}

	s.hub.Subscribe(conn, r.URL.Query().Get("charge_id"))

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.Unsubscribe(conn)
				return
			}
		}
	}()
}
