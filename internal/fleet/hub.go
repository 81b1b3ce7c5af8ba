package fleet

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fleetmon/fleet-engine/internal/auth"
	"github.com/fleetmon/fleet-engine/internal/metrics"
)

// Hub maintains the set of connected WebSocket clients and fans out state
// changes to all of them. Each client owns a bounded send queue drained by
// a dedicated goroutine, so one slow or dead client never stalls the
// publisher or its peers; a full queue drops the newest message for that
// client only.
//
// Client lifecycle is connecting → open → closed, and closed is terminal:
// a reconnect is a brand-new client. Eviction is reactive — the hub drops
// a client on transport close or a failed write, never for missing
// keepalives.
type Hub struct {
	verifier *auth.Verifier

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	count atomic.Int64
}

// NewHub creates a hub. The verifier backs the advisory AUTHENTICATE
// message; authentication never gates broadcast delivery.
func NewHub(verifier *auth.Verifier) *Hub {
	return &Hub{
		verifier:   verifier,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's event loop. Must be called in a goroutine. All
// mutation of the client set happens here, serialized.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("ws client connected", "client", client.id, "total", len(h.clients))

			connected := newEvent(EventConnected)
			connected.Message = "WebSocket connection established"
			connected.ClientCount = len(h.clients)
			client.enqueue(connected.encode())

		case client := <-h.unregister:
			if _, ok := h.clients[client]; !ok {
				continue // already gone; pumps race to report failure
			}
			delete(h.clients, client)
			h.count.Store(int64(len(h.clients)))
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			client.close()
			slog.Info("ws client disconnected", "client", client.id, "total", len(h.clients))

			update := newEvent(EventClientCount)
			update.Count = len(h.clients)
			h.fanOut(update.encode())

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// fanOut delivers one serialized message to every open client. Enqueue
// never blocks, so a slow client only affects its own queue.
func (h *Hub) fanOut(msg []byte) {
	for client := range h.clients {
		client.enqueue(msg)
	}
}

// Publish serializes an event once and hands it to the fan-out loop.
// Never blocks the caller: if the hub's own buffer is full the event is
// dropped rather than stalling a mutation path.
func (h *Hub) Publish(event Event) {
	data := event.encode()
	if data == nil {
		return
	}
	select {
	case h.broadcast <- data:
		metrics.BroadcastsTotal.Inc()
	default:
		metrics.DroppedMessages.WithLabelValues("hub_buffer").Inc()
	}
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS upgrades an HTTP request to a WebSocket connection and attaches
// it to the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	client := newClient(uuid.NewString(), h, conn)
	h.register <- client

	go client.writePump()
	go client.readPump()
}
