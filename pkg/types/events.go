package types

// Event names carried in Envelope.Event.
const (
	EventTicketUpdate  = "ticket:update"
	EventTicketPending = "ticket:pending"
	EventUserTyping    = "user_typing"
	EventNotification  = "notification"
	EventPresence      = "presence"
)

// Event is one outbound realtime event. Each event name maps to exactly
// one payload shape, validated before fan-out.
type Event interface {
	Name() string
	Validate() error
}

// TicketUpdate announces a mutation on a ticket (new message, status
// change, assignment).
type TicketUpdate struct {
	TicketID    string `json:"ticket_id"`
	Status      string `json:"status,omitempty"`
	LastMessage string `json:"last_message,omitempty"`
	UpdatedBy   string `json:"updated_by,omitempty"`
}

func (TicketUpdate) Name() string { return EventTicketUpdate }

func (e TicketUpdate) Validate() error {
	if e.TicketID == "" {
		return ErrMissingTicketID
	}
	return nil
}

// TicketPending alerts agents about the current size of the unassigned
// queue.
type TicketPending struct {
	Count int `json:"count"`
}

func (TicketPending) Name() string { return EventTicketPending }

func (e TicketPending) Validate() error {
	if e.Count < 0 {
		return ErrInvalidPayload
	}
	return nil
}

// UserTyping is the presence indicator for one ticket conversation.
type UserTyping struct {
	TicketID string `json:"ticket_id"`
	UserID   string `json:"user_id"`
	Typing   bool   `json:"typing"`
}

func (UserTyping) Name() string { return EventUserTyping }

func (e UserTyping) Validate() error {
	if e.TicketID == "" {
		return ErrMissingTicketID
	}
	if !IsValidUserID(e.UserID) {
		return ErrInvalidUserID
	}
	return nil
}

// Notification is a free-form alert for the shared notification room.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

func (Notification) Name() string { return EventNotification }

func (e Notification) Validate() error {
	if e.Title == "" {
		return ErrInvalidPayload
	}
	return nil
}

// Presence reports a user going online or offline within a namespace.
type Presence struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

func (Presence) Name() string { return EventPresence }

func (e Presence) Validate() error {
	if !IsValidUserID(e.UserID) {
		return ErrInvalidUserID
	}
	return nil
}
