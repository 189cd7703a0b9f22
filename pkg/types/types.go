package types

import (
	"encoding/json"
	"time"
)

// Command actions accepted from remote clients over the websocket.
const (
	ActionJoin   = "join"
	ActionLeave  = "leave"
	ActionTyping = "typing"
	ActionPing   = "ping"
	ActionPong   = "pong"
)

// NotificationRoom is the shared broadcast room that exists in every
// namespace.
const NotificationRoom = "notification"

// Command is an inbound client frame. Room is set for join/leave,
// TicketID for typing probes.
type Command struct {
	Action   string `json:"action"`
	Room     string `json:"room,omitempty"`
	TicketID string `json:"ticket_id,omitempty"`
}

// Envelope is the wire format for every outbound event. Payload holds
// the JSON encoding of one of the typed events in events.go.
type Envelope struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Wrap validates an event and seals it into an envelope. All emission
// paths go through Wrap so malformed payloads are rejected at the
// publish boundary rather than on a client.
func Wrap(ev Event, now time.Time) (*Envelope, error) {
	if ev == nil {
		return nil, ErrNilEvent
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	return &Envelope{
		Event:     ev.Name(),
		Payload:   payload,
		Timestamp: now,
	}, nil
}

// Publisher is the narrow interface business modules hold to push
// realtime events. One process-wide implementation is created at
// startup and injected where needed.
type Publisher interface {
	EmitToNamespace(namespace string, ev Event) error
	EmitToRoom(namespace string, room string, ev Event) error
}

// TicketRoom names the per-ticket room within a namespace.
func TicketRoom(ticketID string) string {
	return "ticket-" + ticketID
}

// StatusRoom names the per-status-queue room within a namespace.
func StatusRoom(status string) string {
	return "status:" + status
}
