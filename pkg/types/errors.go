package types

import "errors"

var (
	ErrNilEvent         = errors.New("event cannot be nil")
	ErrInvalidPayload   = errors.New("invalid event payload")
	ErrMissingTicketID  = errors.New("ticket ID is required")
	ErrInvalidUserID    = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidNamespace = errors.New("namespace must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoom      = errors.New("room must be 1-100 characters, alphanumeric + underscore/hyphen/colon/dot")
)
