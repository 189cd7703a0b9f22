package gateway

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection send buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
)

// Gateway-related errors
var (
	ErrGatewayAlreadyRunning = errors.New("gateway is already running")
	ErrGatewayNotRunning     = errors.New("gateway is not running")
	ErrInvalidNamespace      = errors.New("invalid namespace")
	ErrInvalidRoom           = errors.New("invalid room")
)
