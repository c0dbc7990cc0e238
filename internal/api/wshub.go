package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/curtcox/cideldill/internal/events"
)

// wsHub fans out breakpoint manager events to connected websocket
// clients — a live feed for a browser UI, built on a
// register/unregister/broadcast hub shape for streaming server-side
// state to a page. Each broadcast
// frame is the same CloudEvent the manager's bus and internal/notify's
// sinks already see, so a client connecting here needs no translation
// layer of its own.
type wsHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan *events.CloudEvent

	upgrader websocket.Upgrader
}

func newWSHub() *wsHub {
	hub := &wsHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan *events.CloudEvent, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	go hub.run()
	return hub
}

func (h *wsHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case ce := <-h.broadcast:
			body, err := ce.JSON()
			if err != nil {
				log.Error("failed to encode event for websocket broadcast", "error", err)
				continue
			}
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
					go func(c *websocket.Conn) { h.unregister <- c }(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *wsHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *wsHub) publish(ce *events.CloudEvent) {
	select {
	case h.broadcast <- ce:
	default:
		// Slow/backed-up broadcast channel — drop rather than block the
		// breakpoint manager's observer dispatch.
	}
}

// forwardToHub is a breakpoint.Observer that republishes every manager
// event to connected websocket clients as a CloudEvent.
func (s *Server) forwardToHub(event string, payload map[string]any) {
	s.hub.publish(events.NewCloudEvent(event, "cideldill", events.SubjectOf(payload), payload))
}
