// Package uuid generates the correlation ids attached to outgoing requests and new devices.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader carries one id per logical call, shared by every retry and replay of it.
const RequestIDHeader = "X-Request-ID"

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewRequestID returns an id for the X-Request-ID header.
func NewRequestID() string {
	return uuid.NewString()
}

// NewDeviceID returns a short station id of the form "gate-xxxxxxxx" for stations
// that were not given one explicitly.
func NewDeviceID() string {
	id := uuid.New()
	return "gate-" + strings.ReplaceAll(id.String(), "-", "")[:8]
}

// IsValid reports whether s is a UUID v4 in canonical dashed form.
func IsValid(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// Validate returns an error if s is not a UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
