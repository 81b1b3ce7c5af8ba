package fleet

import (
	"encoding/json"
	"time"

	"github.com/fleetmon/fleet-engine/internal/model"
)

// Outbound event types. Every event is serialized once and fanned out to
// all connected clients.
const (
	EventConnected      = "CONNECTED"
	EventPositionUpdate = "POSITION_UPDATE"
	EventRobotCreated   = "ROBOT_CREATED"
	EventClientCount    = "CLIENT_COUNT_UPDATE"
	EventAuthSuccess    = "AUTH_SUCCESS"
	EventAuthError      = "AUTH_ERROR"
	EventPong           = "PONG"
)

// Inbound message types recognized from clients. Anything else is logged
// and ignored.
const (
	MessageAuthenticate = "AUTHENTICATE"
	MessagePing         = "PING"
)

// Event is the wire payload for all hub broadcasts and replies.
type Event struct {
	Type        string       `json:"type"`
	Robot       *model.Robot `json:"robot,omitempty"`
	Count       int          `json:"count,omitempty"`
	ClientCount int          `json:"clientCount,omitempty"`
	Message     string       `json:"message,omitempty"`
	User        string       `json:"user,omitempty"`
	Error       string       `json:"error,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// inboundMessage is a frame received from a client.
type inboundMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

func newEvent(eventType string) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC()}
}

// encode serializes an event; the payloads are plain structs, so this
// cannot realistically fail at runtime.
func (e Event) encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}
