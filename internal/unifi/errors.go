package unifi

import "errors"

// Sentinel errors for controller operations. Check with errors.Is().
var (
	// ErrAuthentication is returned when every login endpoint rejected the
	// credentials, or a request was still unauthorised after one re-login.
	ErrAuthentication = errors.New("unifi: authentication failed")

	// ErrOutletNotFound is returned when the device has no outlet with the
	// requested index.
	ErrOutletNotFound = errors.New("unifi: outlet not found")

	// ErrDeviceUnreachable is returned by single-outlet lookups when every
	// device-info endpoint failed.
	ErrDeviceUnreachable = errors.New("unifi: device unreachable")

	// ErrRequestFailed wraps transport failures and unexpected responses.
	ErrRequestFailed = errors.New("unifi: request failed")

	// ErrInvalidOptions is returned by NewClient for unusable options.
	ErrInvalidOptions = errors.New("unifi: invalid client options")
)
