// Package uuid generates the identifiers used across slotboard: schedule record ids,
// queued operation ids and per-install device ids.
package uuid

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

const (
	operationPrefix = "op_"
	devicePrefix    = "dev_"
)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewOperationID returns an id for a queued operation.
func NewOperationID() string {
	return operationPrefix + uuid.New().String()
}

// NewDeviceID returns a fresh per-install device id.
// It is generated once and persisted by the sync engine.
func NewDeviceID() string {
	return devicePrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsDeviceID reports whether s looks like an id produced by NewDeviceID.
func IsDeviceID(s string) bool {
	return strings.HasPrefix(s, devicePrefix) && len(s) == len(devicePrefix)+32
}

// Short returns the first 8 characters of an id without its prefix, for log lines.
func Short(id string) string {
	id = strings.TrimPrefix(id, operationPrefix)
	id = strings.TrimPrefix(id, devicePrefix)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
