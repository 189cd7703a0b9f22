package client

import "errors"

var (
	ErrAlreadyStarted = errors.New("session is already running")
)
