// Package validation holds id-format checks. The session manager uses
// ValidateSessionID; the process/PTY manager mints its own UUIDs and calls
// nothing here.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ValidateUUID checks if the string is a valid UUID.
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	return nil
}

// ValidateSessionID validates a session ID. Child session IDs (spawned for
// a sub-agent turn) have the form child_<parent>_<counter>; everything
// else must be a UUID.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	if strings.HasPrefix(id, "child_") {
		parts := strings.Split(id, "_")
		if len(parts) < 3 {
			return fmt.Errorf("invalid child session ID format: %s", id)
		}
		return nil
	}

	return ValidateUUID(id)
}

// ValidateProcessID validates a process/PTY id (UUID).
func ValidateProcessID(id string) error {
	return ValidateUUID(id)
}

// ValidateRequestID validates a question/permission request id (UUID).
func ValidateRequestID(id string) error {
	return ValidateUUID(id)
}

// ValidateContainerID validates a container ID (hex string).
func ValidateContainerID(id string) error {
	if id == "" {
		return fmt.Errorf("container ID cannot be empty")
	}
	if len(id) < 12 || len(id) > 64 {
		return fmt.Errorf("invalid container ID length: %s", id)
	}
	for _, c := range id {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return fmt.Errorf("invalid container ID format: %s", id)
		}
	}
	return nil
}
