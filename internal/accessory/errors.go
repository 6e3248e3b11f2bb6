package accessory

import "errors"

// Domain-specific errors for accessory reconciliation and discovery.
var (
	// ErrDiscovery is returned when no configured device could be read.
	// Callers retry after the fixed discovery delay.
	ErrDiscovery = errors.New("accessory: discovery failed for every device")

	// ErrDeviceUnavailable marks one device that could not be read. It is
	// logged and the device contributes no outlets to the pass.
	ErrDeviceUnavailable = errors.New("accessory: device unavailable")

	// ErrAccessoryNotFound is returned for an identity that is not cached.
	ErrAccessoryNotFound = errors.New("accessory: not found")

	// ErrNotBound is returned when a hook is invoked on a restored
	// accessory before discovery has bound its handlers.
	ErrNotBound = errors.New("accessory: handlers not bound")

	// ErrInvalidIdentity is returned when a string is not a valid identity.
	ErrInvalidIdentity = errors.New("accessory: invalid identity")
)
