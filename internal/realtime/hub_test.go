package realtime

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func dialHub(t *testing.T, hub *Hub, chargeID string) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listener not permitted in this environment: %v", err)
	}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Subscribe(conn, r.URL.Query().Get("charge_id"))
	}))
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	if chargeID != "" {
		wsURL += "?charge_id=" + chargeID
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers", want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readOne(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	readCh := make(chan []byte, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read message: %v", err)
			return
		}
		readCh <- data
	}()

	select {
	case got := <-readCh:
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for broadcast")
		return nil
	}
}

func TestHub_BroadcastReachesSubscriber(t *testing.T) {
	t.Parallel()

	hub := startHub(t)
	conn := dialHub(t, hub, "")
	waitForSubscribers(t, hub, 1)

	msg := []byte(`{"charge_id":"pay-1","status":"CONFIRMED"}`)
	hub.Broadcast(msg)

	if got := readOne(t, conn); string(got) != string(msg) {
		t.Fatalf("expected %q, got %q", msg, got)
	}
}

func TestHub_FiltersByCharge(t *testing.T) {
	t.Parallel()

	hub := startHub(t)
	conn := dialHub(t, hub, "pay-2")
	waitForSubscribers(t, hub, 1)

	hub.Broadcast([]byte(`{"charge_id":"pay-1","status":"CONFIRMED"}`))
	mine := []byte(`{"charge_id":"pay-2","status":"CONFIRMED"}`)
	hub.Broadcast(mine)

	// The first message must be filtered out, so the first read sees ours.
	if got := readOne(t, conn); string(got) != string(mine) {
		t.Fatalf("expected %q, got %q", mine, got)
	}
}
