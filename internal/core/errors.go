// services/gateway/internal/core/errors.go
package core

import "errors"

// Gateway errors.
var (
	// Registry / directory errors.
	ErrDeviceNotFound = errors.New("device not found")
	ErrGroupNotFound  = errors.New("device group not found")
	ErrLookupTimeout  = errors.New("device info lookup timed out")

	// Routing errors.
	ErrMalformedPayload = errors.New("payload is not a valid JSON object")

	// Relay errors.
	ErrNoCommandTarget = errors.New("command has neither a device nor a group target")
)
