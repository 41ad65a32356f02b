package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForClients polls until the hub registers the expected count.
func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub, url := startHub(t)

	const k = 3
	conns := make([]*websocket.Conn, k)
	for i := range conns {
		conns[i] = dial(t, url)
	}
	waitForClients(t, hub, k)

	hub.BroadcastMessage("237671178991", "hello there", "1700000001")

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("client %d unmarshal: %v", i, err)
		}
		want := Event{Type: "whatsapp_message", Message: "hello there", Timestamp: "1700000001", From: "237671178991"}
		if evt != want {
			t.Errorf("client %d got %+v, want %+v", i, evt, want)
		}
	}
}

func TestBroadcastFrameShape(t *testing.T) {
	hub, url := startHub(t)

	conn := dial(t, url)
	waitForClients(t, hub, 1)

	hub.BroadcastMessage("151", "body", "ts")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"type", "message", "timestamp", "from"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("frame missing field %q: %s", field, data)
		}
	}
	if raw["type"] != "whatsapp_message" {
		t.Errorf("type = %v, want whatsapp_message", raw["type"])
	}
}

func TestBroadcastWithNoClientsIsNoop(t *testing.T) {
	hub, _ := startHub(t)

	// Must not panic or block.
	hub.BroadcastMessage("151", "nobody listening", "ts")

	if hub.ClientCount() != 0 {
		t.Fatalf("client count = %d, want 0", hub.ClientCount())
	}
}

func TestClosedClientIsRemoved(t *testing.T) {
	hub, url := startHub(t)

	stays := dial(t, url)
	leaves := dial(t, url)
	waitForClients(t, hub, 2)

	leaves.Close()
	waitForClients(t, hub, 1)

	hub.BroadcastMessage("151", "still here", "ts")

	stays.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := stays.ReadMessage()
	if err != nil {
		t.Fatalf("surviving client read: %v", err)
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Message != "still here" {
		t.Errorf("message = %q, want %q", evt.Message, "still here")
	}
}

func TestRunShutdownDropsClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	waitForClients(t, hub, 1)

	cancel()
	waitForClients(t, hub, 0)
}

func TestOriginCheck(t *testing.T) {
	hub := NewHub([]string{"https://example.com"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	if hub.checkOrigin(req) {
		t.Error("disallowed origin accepted")
	}

	req.Header.Set("Origin", "https://example.com")
	if !hub.checkOrigin(req) {
		t.Error("allowed origin rejected")
	}

	req.Header.Del("Origin")
	if !hub.checkOrigin(req) {
		t.Error("same-origin request (no Origin header) rejected")
	}
}
