package types

import "regexp"

var (
	userIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	namespaceRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomRegex      = regexp.MustCompile(`^[a-zA-Z0-9_:.-]+$`)
)

// IsValidUserID checks if a user ID meets format requirements.
// 1-50 characters, alphanumeric plus underscore/hyphen.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidNamespace checks a tenant identifier. Tenants are opaque
// strings (often numeric ids rendered as text) up to 50 characters.
func IsValidNamespace(namespace string) bool {
	if len(namespace) < 1 || len(namespace) > 50 {
		return false
	}
	return namespaceRegex.MatchString(namespace)
}

// IsValidRoom checks a room identifier. Rooms allow ':' and '.' so
// status queues ("status:open") and ticket rooms stay expressible.
func IsValidRoom(room string) bool {
	if len(room) < 1 || len(room) > 100 {
		return false
	}
	return roomRegex.MatchString(room)
}

// IsValidEventName checks that an event name is one of the defined
// tagged variants. Unknown names never enter the fan-out path.
func IsValidEventName(name string) bool {
	switch name {
	case EventTicketUpdate,
		EventTicketPending,
		EventUserTyping,
		EventNotification,
		EventPresence:
		return true
	default:
		return false
	}
}
