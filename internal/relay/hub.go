package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
)

// Event is the frame pushed to every connected browser when a WhatsApp
// message arrives. Field names are part of the wire contract with the chat
// widget.
type Event struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	From      string `json:"from"`
}

// Hub is the connection registry for the live update channel. It owns the set
// of open browser sockets and fans every broadcast out to all of them. One
// goroutine (Run) serializes all registry mutations; there is no persistence
// and no backfill — a client not connected at broadcast time never sees that
// event.
type Hub struct {
	allowedOrigins []string
	upgrader       websocket.Upgrader

	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan Event
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// NewHub creates a hub. allowedOrigins lists origin prefixes accepted on
// upgrade; empty means same-origin only.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		allowedOrigins: allowedOrigins,
		clients:        make(map[*client]bool),
		broadcast:      make(chan Event, 256),
		register:       make(chan *client),
		unregister:     make(chan *client),
		done:           make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // same-origin requests carry no Origin header
	}
	for _, prefix := range h.allowedOrigins {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	log.Printf("relay: rejected WebSocket from disallowed origin %s", origin)
	return false
}

// Run is the hub's main loop. It must be running before any broadcast is
// delivered. On ctx cancellation every client is closed and dropped.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			close(h.done)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			log.Printf("relay: client %s connected (%d total)", c.id, h.ClientCount())

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			log.Printf("relay: client %s disconnected", c.id)

		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Client too slow, drop it.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastMessage fans a relayed WhatsApp message out to every connected
// client. A broadcast with zero clients is a no-op; a full broadcast queue
// drops the event rather than blocking the webhook handler.
func (h *Hub) BroadcastMessage(from, body, timestamp string) {
	evt := Event{
		Type:      "whatsapp_message",
		Message:   body,
		Timestamp: timestamp,
		From:      from,
	}
	select {
	case h.broadcast <- evt:
	default:
		log.Printf("relay: broadcast queue full, dropping event from %s", from)
	}
}

// ClientCount returns the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and registers the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
