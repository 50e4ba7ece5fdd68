// Package dashboard exposes the scheduler/dispatcher state over HTTP and a
// broadcasting WebSocket hub, adapted from control_plane/ws_hub.go's
// single-broadcaster pattern (one ticker, not one per client) and
// control_plane/api_dashboard.go's handler shape.
package dashboard

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pluginforge/core/scheduler"
)

const maxWSConnections = 200

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub manages WebSocket connections and periodically broadcasts scheduler
// metrics snapshots to every connected client.
type Hub struct {
	sched *scheduler.Scheduler

	mu         sync.RWMutex
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// NewHub constructs a Hub bound to sched. Call Run to start broadcasting.
func NewHub(sched *scheduler.Scheduler) *Hub {
	return &Hub{
		sched:      sched,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run occupies the calling goroutine, broadcasting metrics once a second
// until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("dashboard: websocket connection rejected, max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *Hub) broadcast() {
	metrics := h.sched.GetMetrics()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(metrics); err != nil {
			log.Printf("dashboard: websocket write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register adds a newly upgraded connection to the hub.
func (h *Hub) Register(conn *websocket.Conn) { h.register <- conn }

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *websocket.Conn) { h.unregister <- conn }

// ClientCount reports how many clients are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request to a WebSocket connection and registers it
// with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("dashboard: websocket upgrade failed: %v", err)
		return
	}
	h.Register(conn)
}
