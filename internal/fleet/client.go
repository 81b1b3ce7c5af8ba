package fleet

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetmon/fleet-engine/internal/metrics"
)

const (
	// sendQueueSize bounds each client's outbound queue. When it fills,
	// the newest message is dropped for that client only.
	sendQueueSize = 32

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// wsConn is the slice of *websocket.Conn the hub actually needs. Tests
// substitute failing transports; the hub only cares that send may fail.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Client is one connected observer. Not persisted; destroyed on
// disconnect or error.
type Client struct {
	id   string
	hub  *Hub
	conn wsConn
	send chan []byte

	mu            sync.Mutex
	closed        bool
	authenticated bool
	email         string
	lastSeen      time.Time
}

func newClient(id string, hub *Hub, conn wsConn) *Client {
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		lastSeen: time.Now(),
	}
}

// enqueue offers a message to the client's send queue without blocking.
// A full queue drops the message; a closed client ignores it.
func (c *Client) enqueue(msg []byte) bool {
	if msg == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		metrics.DroppedMessages.WithLabelValues("client_queue").Inc()
		return false
	}
}

// close marks the client terminal and releases its queue. Safe to call
// more than once; only the hub's event loop calls it.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Authenticated reports whether the client has completed the advisory
// AUTHENTICATE exchange.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// writePump drains the send queue onto the connection. A write failure
// closes this client only; the hub keeps serving everyone else.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.unregister <- c
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister <- c
				return
			}
		}
	}
}

// readPump consumes inbound frames until the transport closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage dispatches one inbound frame. Unknown types are logged,
// never treated as errors.
func (c *Client) handleMessage(data []byte) {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()

	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("ws malformed message", "client", c.id, "err", err)
		return
	}

	switch msg.Type {
	case MessageAuthenticate:
		c.authenticate(msg.Token)
	case MessagePing:
		c.enqueue(newEvent(EventPong).encode())
	default:
		slog.Debug("ws unknown message type", "client", c.id, "type", msg.Type)
	}
}

// authenticate validates an externally-issued token. The result is
// advisory metadata only: an unauthenticated client still receives all
// broadcasts.
func (c *Client) authenticate(token string) {
	claims, err := c.hub.verifier.VerifyCredential(token)
	if err != nil {
		reply := newEvent(EventAuthError)
		reply.Error = "invalid token"
		c.enqueue(reply.encode())
		return
	}

	c.mu.Lock()
	c.authenticated = true
	c.email = claims.Email
	c.mu.Unlock()

	reply := newEvent(EventAuthSuccess)
	reply.Message = "WebSocket authentication successful"
	reply.User = claims.Email
	c.enqueue(reply.encode())
}
