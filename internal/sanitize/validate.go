// Package sanitize provides shared identifier validation for the admission
// pipeline. User IDs, memory IDs, and source IDs all cross a trust boundary
// (they arrive from tool calls), so every service validates them before any
// state mutation.
package sanitize

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validation errors.
var (
	// ErrEmptyID indicates a required identifier was empty.
	ErrEmptyID = errors.New("identifier cannot be empty")

	// ErrIDTooLong indicates an identifier exceeded the length bound.
	ErrIDTooLong = errors.New("identifier exceeds maximum length")

	// ErrInvalidID indicates an identifier contains disallowed characters.
	ErrInvalidID = errors.New("identifier contains invalid characters")
)

// MaxIDLength is the default byte-length bound for identifiers.
const MaxIDLength = 256

// RequiredID validates an identifier that must be non-empty. Use in
// authorization contexts where an empty ID could bypass access controls.
func RequiredID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s", ErrEmptyID, field)
	}
	return boundedID(field, id, MaxIDLength)
}

// OptionalID validates an identifier that may be empty.
func OptionalID(field, id string) error {
	if id == "" {
		return nil
	}
	return boundedID(field, id, MaxIDLength)
}

// BoundedString validates an arbitrary string field against a byte-length
// bound. Length is measured in UTF-8 bytes, not runes; a byte bound is what
// limits storage and serialization cost.
func BoundedString(field, value string, maxBytes int) error {
	if len(value) > maxBytes {
		return fmt.Errorf("%w: %s is %d bytes (max %d)", ErrIDTooLong, field, len(value), maxBytes)
	}
	return nil
}

func boundedID(field, id string, maxBytes int) error {
	if len(id) > maxBytes {
		return fmt.Errorf("%w: %s is %d bytes (max %d)", ErrIDTooLong, field, len(id), maxBytes)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidID, field)
	}
	// Control characters break log lines and audit records.
	if strings.ContainsFunc(id, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return fmt.Errorf("%w: %s contains control characters", ErrInvalidID, field)
	}
	return nil
}
