package bridge

import "errors"

// Domain-specific errors for the host bridge.
var (
	// ErrStoreClosed is returned by Store operations after Close.
	ErrStoreClosed = errors.New("bridge: store closed")

	// ErrInvalidMessage is returned when an MQTT payload cannot be parsed.
	ErrInvalidMessage = errors.New("bridge: invalid message")
)
